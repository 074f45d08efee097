package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/andywolf/ampa/internal/store"
)

type fakeStore struct {
	commands   map[string]store.ScheduledCommand
	lastRun    map[string]time.Time
	inFlight   map[string]bool
	runs       map[string][]store.CommandRun
	claimCalls []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		commands: make(map[string]store.ScheduledCommand),
		lastRun:  make(map[string]time.Time),
		inFlight: make(map[string]bool),
		runs:     make(map[string][]store.CommandRun),
	}
}

func (s *fakeStore) Commands() map[string]store.ScheduledCommand { return s.commands }
func (s *fakeStore) LastRunAt(commandID string) (time.Time, bool) {
	t, ok := s.lastRun[commandID]
	return t, ok
}
func (s *fakeStore) SetLastRunAt(commandID string, at time.Time) error {
	s.lastRun[commandID] = at
	return nil
}
func (s *fakeStore) ClaimInFlight(commandID string, pid int) (bool, error) {
	s.claimCalls = append(s.claimCalls, commandID)
	if s.inFlight[commandID] {
		return false, nil
	}
	s.inFlight[commandID] = true
	return true, nil
}
func (s *fakeStore) ReleaseInFlight(commandID string) error {
	delete(s.inFlight, commandID)
	return nil
}
func (s *fakeStore) InFlightClaims() map[string]store.InFlight {
	out := make(map[string]store.InFlight, len(s.inFlight))
	for id := range s.inFlight {
		out[id] = store.InFlight{}
	}
	return out
}
func (s *fakeStore) RecordRun(commandID string, run store.CommandRun) error {
	s.runs[commandID] = append(s.runs[commandID], run)
	return nil
}

type fakeLogger struct{ errors, warnings []string }

func (f *fakeLogger) LogInfo(string)          {}
func (f *fakeLogger) LogWarning(msg string)   { f.warnings = append(f.warnings, msg) }
func (f *fakeLogger) LogError(msg string)     { f.errors = append(f.errors, msg) }

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time                   { return c.now }
func (c *fakeClock) NewTicker(d time.Duration) Ticker  { return nil }
func (c *fakeClock) Sleep(d time.Duration)             {}

func TestRunTickDispatchesHighestPriorityEligibleCommand(t *testing.T) {
	st := newFakeStore()
	st.commands["audit"] = store.ScheduledCommand{CommandID: "audit", CommandType: store.CommandTriageAudit, Interval: time.Minute}
	st.commands["delegate"] = store.ScheduledCommand{CommandID: "delegate", CommandType: store.CommandDelegation, Interval: time.Minute}

	clock := &fakeClock{now: time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)}
	logger := &fakeLogger{}
	s := New(st, clock, logger)

	var invoked []string
	s.Handlers[store.CommandTriageAudit] = func(ctx context.Context, cmd store.ScheduledCommand) (int, string, string, error) {
		invoked = append(invoked, cmd.CommandID)
		return 0, "ok", "", nil
	}
	s.Handlers[store.CommandDelegation] = func(ctx context.Context, cmd store.ScheduledCommand) (int, string, string, error) {
		invoked = append(invoked, cmd.CommandID)
		return 0, "ok", "", nil
	}

	s.runTick(context.Background())

	if len(invoked) != 1 || invoked[0] != "audit" {
		t.Fatalf("expected only audit dispatched (higher priority), got %v", invoked)
	}
	if len(st.runs["audit"]) != 1 {
		t.Fatalf("expected one recorded run, got %d", len(st.runs["audit"]))
	}
	if _, ok := st.inFlight["audit"]; ok {
		t.Fatal("expected in-flight claim released after handler completes")
	}
}

func TestRunTickSkipsCommandsWithinInterval(t *testing.T) {
	st := newFakeStore()
	now := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)
	st.commands["audit"] = store.ScheduledCommand{CommandID: "audit", CommandType: store.CommandTriageAudit, Interval: time.Hour}
	st.lastRun["audit"] = now.Add(-5 * time.Minute)

	clock := &fakeClock{now: now}
	s := New(st, clock, &fakeLogger{})
	var invoked bool
	s.Handlers[store.CommandTriageAudit] = func(ctx context.Context, cmd store.ScheduledCommand) (int, string, string, error) {
		invoked = true
		return 0, "", "", nil
	}

	s.runTick(context.Background())
	if invoked {
		t.Fatal("expected command within its interval to be skipped")
	}
}

func TestRunTickInFlightCommandDoesNotShadowLowerPriority(t *testing.T) {
	st := newFakeStore()
	st.commands["audit"] = store.ScheduledCommand{CommandID: "audit", CommandType: store.CommandTriageAudit, Interval: time.Minute}
	st.commands["delegate"] = store.ScheduledCommand{CommandID: "delegate", CommandType: store.CommandDelegation, Interval: time.Minute}
	st.inFlight["audit"] = true

	clock := &fakeClock{now: time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)}
	s := New(st, clock, &fakeLogger{})

	var invoked []string
	s.Handlers[store.CommandDelegation] = func(ctx context.Context, cmd store.ScheduledCommand) (int, string, string, error) {
		invoked = append(invoked, cmd.CommandID)
		return 0, "", "", nil
	}

	s.runTick(context.Background())

	if len(invoked) != 1 || invoked[0] != "delegate" {
		t.Fatalf("expected delegate dispatched while audit is in flight, got %v", invoked)
	}
}

func TestRunTickRecoversFromHandlerPanic(t *testing.T) {
	st := newFakeStore()
	now := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)
	st.commands["audit"] = store.ScheduledCommand{CommandID: "audit", CommandType: store.CommandTriageAudit, Interval: time.Minute}

	clock := &fakeClock{now: now}
	logger := &fakeLogger{}
	s := New(st, clock, logger)
	s.Handlers[store.CommandTriageAudit] = func(ctx context.Context, cmd store.ScheduledCommand) (int, string, string, error) {
		panic("boom")
	}

	s.runTick(context.Background())

	if len(st.runs["audit"]) != 1 {
		t.Fatalf("expected run still recorded after panic, got %d", len(st.runs["audit"]))
	}
	if st.runs["audit"][0].ExitCode != 1 {
		t.Errorf("expected exit code 1 after panic, got %d", st.runs["audit"][0].ExitCode)
	}
	if len(logger.errors) == 0 {
		t.Fatal("expected panic logged as error")
	}
}
