package audit

import (
	"context"
	"testing"
	"time"

	"github.com/andywolf/ampa/internal/worklog"
)

type fakeWorklog struct {
	items []worklog.Item
	err   error
}

func (f *fakeWorklog) Show(ctx context.Context, id string) (worklog.Item, error) { return worklog.Item{}, nil }
func (f *fakeWorklog) List(ctx context.Context, opts worklog.ListOptions) ([]worklog.Item, error) {
	return f.items, f.err
}
func (f *fakeWorklog) Next(ctx context.Context, n int) ([]worklog.Item, error) { return nil, nil }
func (f *fakeWorklog) InProgress(ctx context.Context) ([]worklog.Item, error)  { return nil, nil }
func (f *fakeWorklog) AddTags(ctx context.Context, id string, tags []string) error { return nil }
func (f *fakeWorklog) Update(ctx context.Context, id string, fields worklog.UpdateFields) error {
	return nil
}
func (f *fakeWorklog) CommentAdd(ctx context.Context, id, body, author string) error { return nil }
func (f *fakeWorklog) Close(ctx context.Context, ids []string, reason string) error  { return nil }

type fakeStore struct {
	lastAudit map[string]time.Time
	sets      []string
}

func newFakeStore() *fakeStore { return &fakeStore{lastAudit: map[string]time.Time{}} }

func (s *fakeStore) GetLastAudit(itemID string) (time.Time, bool) {
	t, ok := s.lastAudit[itemID]
	return t, ok
}
func (s *fakeStore) SetLastAudit(itemID string, at time.Time) error {
	s.lastAudit[itemID] = at
	s.sets = append(s.sets, itemID)
	return nil
}

type fakeRunner struct {
	audited []string
}

func (r *fakeRunner) Audit(ctx context.Context, item worklog.Item, invocation []string) error {
	r.audited = append(r.audited, item.ID)
	return nil
}

func TestPollSelectsOldestEligibleAndAdvancesCooldownFirst(t *testing.T) {
	now := time.Date(2026, 7, 29, 13, 0, 0, 0, time.UTC)
	wl := &fakeWorklog{items: []worklog.Item{
		{ID: "WL-Y", UpdatedAt: now.Add(-2 * time.Hour)},
		{ID: "WL-Z", UpdatedAt: now.Add(-1 * time.Hour)},
	}}
	st := newFakeStore()
	st.lastAudit["WL-Y"] = now.Add(-3 * time.Hour) // within 6h cooldown, filtered out
	runner := &fakeRunner{}

	p := New(wl, st, runner, nil, nil)
	if err := p.Poll(context.Background(), now); err != nil {
		t.Fatalf("Poll returned error: %v", err)
	}

	if len(runner.audited) != 1 || runner.audited[0] != "WL-Z" {
		t.Fatalf("expected WL-Z selected, got %v", runner.audited)
	}
	if got := st.lastAudit["WL-Z"]; !got.Equal(now) {
		t.Errorf("expected last_audit_at WL-Z = %v, got %v", now, got)
	}
}

func TestPollMissingTimestampsSortFirst(t *testing.T) {
	now := time.Date(2026, 7, 29, 13, 0, 0, 0, time.UTC)
	wl := &fakeWorklog{items: []worklog.Item{
		{ID: "WL-WITH-TS", UpdatedAt: now.Add(-1 * time.Hour)},
		{ID: "WL-NO-TS"},
	}}
	st := newFakeStore()
	runner := &fakeRunner{}

	p := New(wl, st, runner, nil, nil)
	if err := p.Poll(context.Background(), now); err != nil {
		t.Fatalf("Poll returned error: %v", err)
	}
	if len(runner.audited) != 1 || runner.audited[0] != "WL-NO-TS" {
		t.Fatalf("expected item with missing timestamp selected first, got %v", runner.audited)
	}
}

func TestPollNoEligibleCandidatesEmitsIdleAndSkipsRunner(t *testing.T) {
	now := time.Date(2026, 7, 29, 13, 0, 0, 0, time.UTC)
	wl := &fakeWorklog{}
	runner := &fakeRunner{}

	p := New(wl, newFakeStore(), runner, nil, nil)
	if err := p.Poll(context.Background(), now); err != nil {
		t.Fatalf("Poll returned error: %v", err)
	}
	if len(runner.audited) != 0 {
		t.Fatalf("expected no runner invocation, got %v", runner.audited)
	}
}
