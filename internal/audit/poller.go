// Package audit selects the next in_review work item eligible for
// auditing, advances its cooldown timestamp, and hands it off to the
// audit runner.
package audit

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/andywolf/ampa/internal/notifier"
	"github.com/andywolf/ampa/internal/worklog"
)

const defaultCooldown = 6 * time.Hour

// Store is the narrow persistence surface the poller needs.
type Store interface {
	GetLastAudit(itemID string) (time.Time, bool)
	SetLastAudit(itemID string, at time.Time) error
}

// Runner is the narrow audit execution surface the poller hands its
// selected candidate to.
type Runner interface {
	Audit(ctx context.Context, item worklog.Item, invocation []string) error
}

// Logger is the minimal logging surface the poller needs.
type Logger interface {
	LogWarning(string)
}

// Poller implements the audit selection policy (spec §4.5).
type Poller struct {
	Worklog    worklog.Client
	Store      Store
	Runner     Runner
	Notifier   notifier.Notifier
	Logger     Logger
	Cooldown   time.Duration
	Invocation []string // argv template, "{id}" substituted by the runner
}

// New constructs a Poller with the default cooldown.
func New(wl worklog.Client, st Store, runner Runner, notif notifier.Notifier, logger Logger) *Poller {
	return &Poller{
		Worklog: wl, Store: st, Runner: runner, Notifier: notif, Logger: logger,
		Cooldown: defaultCooldown,
	}
}

// Poll runs one tick of the audit poller.
func (p *Poller) Poll(ctx context.Context, now time.Time) error {
	candidates, err := p.Worklog.List(ctx, worklog.ListOptions{Stage: "in_review"})
	if err != nil {
		return fmt.Errorf("audit poller: list in_review items: %w", err)
	}

	cooldown := p.Cooldown
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}

	eligible := make([]worklog.Item, 0, len(candidates))
	for _, item := range candidates {
		last, ok := p.Store.GetLastAudit(item.ID)
		if ok && now.Sub(last) < cooldown {
			continue
		}
		eligible = append(eligible, item)
	}

	if len(eligible) == 0 {
		p.notifyIdle(ctx, "no candidates past cooldown")
		return nil
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		ai, aj := eligible[i].UpdatedAt, eligible[j].UpdatedAt
		if ai.IsZero() != aj.IsZero() {
			return ai.IsZero()
		}
		return ai.Before(aj)
	})

	selected := eligible[0]

	// Persist the cooldown advance before invoking the runner: a crash
	// mid-audit must not cause immediate re-audit on restart.
	if err := p.Store.SetLastAudit(selected.ID, now); err != nil {
		return fmt.Errorf("audit poller: record last audit for %s: %w", selected.ID, err)
	}

	return p.Runner.Audit(ctx, selected, p.Invocation)
}

func (p *Poller) notifyIdle(ctx context.Context, reason string) {
	if p.Notifier == nil {
		return
	}
	_ = p.Notifier.Notify(ctx, notifier.Notification{
		Title:    "Audit poller idle",
		Body:     reason,
		Severity: notifier.SeverityInfo,
	})
}
