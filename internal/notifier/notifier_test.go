package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

type nullLogger struct{}

func (nullLogger) LogWarning(string) {}

func TestNotifyRetriesThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	dn := NewDiscordNotifier(srv.URL, "", nullLogger{})
	dn.client.Timeout = 0

	if err := dn.Notify(context.Background(), Notification{Title: "t", Body: "b"}); err != nil {
		t.Fatalf("Notify returned error: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 attempts, got %d", calls)
	}
}

func TestNotifyScrubsSecretsAndTruncates(t *testing.T) {
	var captured discordPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&captured)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	dn := NewDiscordNotifier(srv.URL, "", nullLogger{})

	longBody := strings.Repeat("x", maxBodyBytes+500)
	secretBody := "api_key=abcdefghijklmnopqrstuvwxyz1234567890 " + longBody

	err := dn.Notify(context.Background(), Notification{
		Title: "report", Body: secretBody, Severity: SeverityInfo,
	})
	if err != nil {
		t.Fatalf("Notify returned error: %v", err)
	}

	desc := captured.Embeds[0].Description
	if len(desc) > maxBodyBytes {
		t.Errorf("expected body truncated to %d bytes, got %d", maxBodyBytes, len(desc))
	}
	if strings.Contains(desc, "abcdefghijklmnopqrstuvwxyz1234567890") {
		t.Error("expected secret to be scrubbed from body")
	}
}

func TestNotifyWithNoCredentialIsNoop(t *testing.T) {
	dn := NewDiscordNotifier("", "", nullLogger{})
	if err := dn.Notify(context.Background(), Notification{Title: "t"}); err != nil {
		t.Fatalf("expected no-op notify to succeed, got %v", err)
	}
}

func TestBotTokenSetsAuthorizationHeader(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	dn := NewDiscordNotifier(srv.URL, "bot-secret", nullLogger{})
	if err := dn.Notify(context.Background(), Notification{Title: "t"}); err != nil {
		t.Fatalf("Notify returned error: %v", err)
	}
	if gotAuth != "Bot bot-secret" {
		t.Errorf("expected Authorization header 'Bot bot-secret', got %q", gotAuth)
	}
}

func TestEndpointPrefersBotChannelRoute(t *testing.T) {
	dn := NewDiscordNotifier("https://hook.example/wh", "bot-tok", nullLogger{})
	if got := dn.endpoint("1234"); got != "https://discord.com/api/v10/channels/1234/messages" {
		t.Errorf("endpoint with channel = %q", got)
	}
	if got := dn.endpoint(""); got != "https://hook.example/wh" {
		t.Errorf("endpoint without channel should fall back to webhook, got %q", got)
	}
}

func TestNotifyRateLimitsPerChannel(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	dn := NewDiscordNotifier(srv.URL, "", nullLogger{})
	for i := 0; i < rateLimitPerWindow+3; i++ {
		if err := dn.Notify(context.Background(), Notification{Channel: "escalations", Title: "t"}); err != nil {
			t.Fatalf("Notify returned error: %v", err)
		}
	}
	if int(calls) != rateLimitPerWindow {
		t.Errorf("expected %d posts to reach the server before rate limiting kicked in, got %d", rateLimitPerWindow, calls)
	}

	if err := dn.Notify(context.Background(), Notification{Channel: "other", Title: "t"}); err != nil {
		t.Fatalf("Notify returned error: %v", err)
	}
	if int(calls) != rateLimitPerWindow+1 {
		t.Errorf("a different channel should not share the rate limit bucket, got %d calls", calls)
	}
}
