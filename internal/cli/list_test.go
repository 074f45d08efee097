package cli

import (
	"strings"
	"testing"
	"time"

	"github.com/andywolf/ampa/internal/store"
)

func TestBuildListEntries_SortedAndPopulated(t *testing.T) {
	now := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)
	doc := store.Document{
		Commands: map[string]store.ScheduledCommand{
			"zeta":  {CommandID: "zeta", CommandType: store.CommandCustom, Interval: time.Hour},
			"alpha": {CommandID: "alpha", CommandType: store.CommandDelegation, Interval: 15 * time.Minute},
		},
		State: store.State{
			LastRunAt: map[string]time.Time{"alpha": now},
			InFlight:  map[string]store.InFlight{"zeta": {}},
			History:   map[string][]store.CommandRun{"alpha": {{}, {}}},
		},
	}

	entries := buildListEntries(doc)
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].CommandID != "alpha" || entries[1].CommandID != "zeta" {
		t.Errorf("entries not sorted by command id: %+v", entries)
	}
	if entries[0].LastRunAt == nil || !entries[0].LastRunAt.Equal(now) {
		t.Errorf("alpha.LastRunAt = %v, want %v", entries[0].LastRunAt, now)
	}
	if entries[0].RunCount != 2 {
		t.Errorf("alpha.RunCount = %d, want 2", entries[0].RunCount)
	}
	if !entries[1].InFlight {
		t.Errorf("zeta.InFlight = false, want true")
	}
	if entries[1].LastRunAt != nil {
		t.Errorf("zeta.LastRunAt = %v, want nil", entries[1].LastRunAt)
	}
}

func TestRenderListTable_HeaderAndRows(t *testing.T) {
	entries := []listEntry{
		{CommandID: "triage-audit", CommandType: "triage-audit", Interval: "30m0s", RunCount: 3},
	}
	out := renderListTable(entries)
	if !strings.HasPrefix(out, "COMMAND") {
		t.Errorf("table does not start with header: %q", out)
	}
	if !strings.Contains(out, "triage-audit") || !strings.Contains(out, "never") || !strings.Contains(out, "no") {
		t.Errorf("table missing expected row content: %q", out)
	}
}
