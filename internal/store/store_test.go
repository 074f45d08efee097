package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestLoadMissingFileReturnsEmptyStore(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "missing.json"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if len(s.Commands()) != 0 {
		t.Errorf("expected empty commands, got %v", s.Commands())
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scheduler_store.json")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	cmd := ScheduledCommand{
		CommandID:   "delegation",
		CommandType: CommandDelegation,
		Interval:    5 * time.Minute,
		Invocation:  []string{"opencode", "run", "work on {id}"},
	}
	if err := s.UpsertCommand(cmd); err != nil {
		t.Fatalf("UpsertCommand: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	if err := s.SetLastRunAt("delegation", now); err != nil {
		t.Fatalf("SetLastRunAt: %v", err)
	}
	if err := s.SetLastAudit("WL-1", now); err != nil {
		t.Fatalf("SetLastAudit: %v", err)
	}
	if err := s.RecordRun("delegation", CommandRun{
		CommandID: "delegation", StartedAt: now, FinishedAt: now, ExitCode: 0,
	}); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}

	reloaded, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}

	if diff := cmp.Diff(s.Snapshot(), reloaded.Snapshot()); diff != "" {
		t.Errorf("round-trip mismatch (-want +got):\n%s", diff)
	}
}

func TestClaimInFlightSingleFlight(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "store.json"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	ok, err := s.ClaimInFlight("delegation", 123)
	if err != nil || !ok {
		t.Fatalf("expected first claim to succeed, ok=%v err=%v", ok, err)
	}

	ok, err = s.ClaimInFlight("delegation", 456)
	if err != nil {
		t.Fatalf("ClaimInFlight: %v", err)
	}
	if ok {
		t.Fatal("expected second concurrent claim to be rejected (busy)")
	}

	if err := s.ReleaseInFlight("delegation"); err != nil {
		t.Fatalf("ReleaseInFlight: %v", err)
	}

	ok, err = s.ClaimInFlight("delegation", 456)
	if err != nil || !ok {
		t.Fatalf("expected claim after release to succeed, ok=%v err=%v", ok, err)
	}
}

func TestRecordRunTrimsHistory(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "store.json"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	base := time.Now().UTC()
	for i := 0; i < maxHistoryPerCommand+10; i++ {
		run := CommandRun{CommandID: "triage-audit", StartedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := s.RecordRun("triage-audit", run); err != nil {
			t.Fatalf("RecordRun: %v", err)
		}
	}

	history := s.History("triage-audit")
	if len(history) != maxHistoryPerCommand {
		t.Fatalf("expected history trimmed to %d, got %d", maxHistoryPerCommand, len(history))
	}
}
