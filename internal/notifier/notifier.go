// Package notifier formats and posts chat notifications, masking
// secrets and truncating long bodies, with a bounded retry policy on
// transient network failures (spec §4.9, §7 TransientNetworkError).
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/andywolf/ampa/internal/security"
)

const (
	maxBodyBytes = 1000
	maxAttempts  = 3
	baseDelay    = 500 * time.Millisecond

	// rateLimitPerWindow and rateLimitWindow throttle outbound posts per
	// channel so a storm of escalations (spec §4.7's "escalate" command
	// firing repeatedly on a stuck delegation) can't trip Discord's own
	// webhook rate limit.
	rateLimitPerWindow = 5
	rateLimitWindow    = 10 * time.Second
)

// Severity is the notification's urgency, surfaced as an embed color
// by Discord-shaped implementations.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Field is one embed field.
type Field struct {
	Name   string
	Value  string
	Inline bool
}

// Notification is the value object posted to the chat webhook.
type Notification struct {
	Channel  string
	Title    string
	Fields   []Field
	Body     string
	Severity Severity
}

// Notifier is the capability interface the engine/audit runner/
// scheduler depend on.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// discordPayload mirrors the common Discord webhook schema (spec §6).
type discordPayload struct {
	Content string         `json:"content,omitempty"`
	Embeds  []discordEmbed `json:"embeds,omitempty"`
}

type discordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Fields      []discordField `json:"fields,omitempty"`
	Color       int            `json:"color"`
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

var severityColor = map[Severity]int{
	SeverityInfo:    0x3498db,
	SeverityWarning: 0xf1c40f,
	SeverityError:   0xe74c3c,
}

// Logger is the minimal logging surface the notifier needs; satisfied
// by gcp.LoggerInterface.
type Logger interface {
	LogWarning(message string)
}

// DiscordNotifier posts to a Discord-shaped webhook URL (or, if
// configured with a bot token, a bot-auth endpoint) with masking and a
// bounded retry.
type DiscordNotifier struct {
	client      *http.Client
	webhookURL  string
	botToken    string
	scrubber    *security.Redactor
	rateLimiter *security.RateLimiter
	logger      Logger
}

// NewDiscordNotifier constructs a notifier. Exactly one of webhookURL
// or botToken should normally be set; if both are, the caller (see
// config.ResolveNotifierCredential) has already chosen bot-token
// precedence.
func NewDiscordNotifier(webhookURL, botToken string, logger Logger) *DiscordNotifier {
	return &DiscordNotifier{
		client:      &http.Client{Timeout: 10 * time.Second},
		webhookURL:  webhookURL,
		botToken:    botToken,
		scrubber:    security.NewRedactor(),
		rateLimiter: security.NewRateLimiter(rateLimitPerWindow, rateLimitWindow),
		logger:      logger,
	}
}

// Notify posts n, retrying transient failures up to maxAttempts times
// with a linear backoff. A final failure is logged, never returned as
// fatal to the caller's control flow (spec §7: webhook failures never
// block the rest of the pipeline).
func (d *DiscordNotifier) Notify(ctx context.Context, n Notification) error {
	key := n.Channel
	if key == "" {
		key = "default"
	}
	if !d.rateLimiter.Allow(key) {
		if d.logger != nil {
			d.logger.LogWarning(fmt.Sprintf("notifier: rate limit exceeded for channel %q, dropping notification %q", key, n.Title))
		}
		return nil
	}

	payload := d.buildPayload(n)

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	endpoint := d.endpoint(n.Channel)
	if endpoint == "" {
		if d.logger != nil && d.botToken != "" {
			d.logger.LogWarning(fmt.Sprintf("notifier: bot token configured but notification %q names no channel and no webhook fallback exists; dropping", n.Title))
		}
		return nil
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := d.post(ctx, endpoint, body)
		if err == nil {
			return nil
		}
		if d.logger != nil {
			d.logger.LogWarning(fmt.Sprintf("notifier: attempt %d/%d failed: %v", attempt, maxAttempts, err))
		}
		if attempt < maxAttempts {
			time.Sleep(baseDelay * time.Duration(attempt))
		}
	}
	return nil // final failure is logged only, per spec §7
}

func (d *DiscordNotifier) post(ctx context.Context, endpoint string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create notifier request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if d.botToken != "" {
		req.Header.Set("Authorization", "Bot "+d.botToken)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("notifier endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// endpoint resolves where a notification for the given channel should
// be posted: the bot API's channel-message route when a bot token and
// channel id are available, the webhook URL otherwise. Empty means
// there is nowhere to post.
func (d *DiscordNotifier) endpoint(channel string) string {
	if d.botToken != "" && channel != "" {
		return "https://discord.com/api/v10/channels/" + channel + "/messages"
	}
	return d.webhookURL
}

func (d *DiscordNotifier) buildPayload(n Notification) discordPayload {
	body := d.scrubber.Scrub(n.Body)
	if len(body) > maxBodyBytes {
		body = body[:maxBodyBytes]
	}

	fields := make([]discordField, 0, len(n.Fields))
	for _, f := range n.Fields {
		fields = append(fields, discordField{
			Name:   f.Name,
			Value:  d.scrubber.Scrub(f.Value),
			Inline: f.Inline,
		})
	}

	return discordPayload{
		Embeds: []discordEmbed{{
			Title:       n.Title,
			Description: body,
			Fields:      fields,
			Color:       severityColor[n.Severity],
		}},
	}
}

var _ Notifier = (*DiscordNotifier)(nil)
