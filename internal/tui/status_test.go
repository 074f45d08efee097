package tui

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/andywolf/ampa/internal/daemon"
	"github.com/andywolf/ampa/internal/store"
)

type fakeStatusSource struct {
	doc store.Document
}

func (f fakeStatusSource) Snapshot() store.Document { return f.doc }

func TestNewModel_DefaultsInterval(t *testing.T) {
	m := NewModel("default", fakeStatusSource{}, nil, 0)
	if m.Interval != time.Second {
		t.Errorf("Interval = %v, want %v", m.Interval, time.Second)
	}
}

func TestModel_Update_QuitKeyStopsProgram(t *testing.T) {
	m := NewModel("default", fakeStatusSource{}, nil, time.Second)
	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	if !updated.(Model).quitting {
		t.Errorf("expected quitting to be true after ctrl+c")
	}
	if cmd == nil {
		t.Errorf("expected a tea.Quit cmd, got nil")
	}
}

func TestModel_Update_RefreshedMsgPopulatesState(t *testing.T) {
	m := NewModel("default", fakeStatusSource{}, nil, time.Second)
	doc := store.Document{Commands: map[string]store.ScheduledCommand{
		"triage-audit": {CommandID: "triage-audit", CommandType: store.CommandTriageAudit, Interval: time.Minute},
	}}
	status := daemon.Status{Running: true, Pid: 42}

	updated, _ := m.Update(refreshedMsg{status: status, doc: doc})
	got := updated.(Model)
	if !got.daemonStatus.Running || got.daemonStatus.Pid != 42 {
		t.Errorf("daemonStatus = %+v, want Running=true Pid=42", got.daemonStatus)
	}
	if len(got.doc.Commands) != 1 {
		t.Errorf("doc.Commands not copied: %+v", got.doc)
	}
}

func TestModel_View_QuittingRendersEmpty(t *testing.T) {
	m := NewModel("default", fakeStatusSource{}, nil, time.Second)
	m.quitting = true
	if got := m.View(); got != "" {
		t.Errorf("View() = %q, want empty string when quitting", got)
	}
}

func TestModel_View_RendersCommandRowAndStatus(t *testing.T) {
	m := NewModel("default", fakeStatusSource{}, nil, time.Second)
	m.daemonStatus = daemon.Status{Running: true, Pid: 7}
	m.doc = store.Document{
		Commands: map[string]store.ScheduledCommand{
			"delegation": {CommandID: "delegation", CommandType: store.CommandDelegation, Interval: time.Minute},
		},
	}

	out := m.View()
	if !strings.Contains(out, "ampa default") {
		t.Errorf("View() missing title: %q", out)
	}
	if !strings.Contains(out, "running") {
		t.Errorf("View() missing running status: %q", out)
	}
	if !strings.Contains(out, "delegation") {
		t.Errorf("View() missing command row: %q", out)
	}
	if !strings.Contains(out, "q to quit") {
		t.Errorf("View() missing footer hint: %q", out)
	}
}

func TestModel_View_ErrorIsSurfaced(t *testing.T) {
	m := NewModel("default", fakeStatusSource{}, nil, time.Second)
	m.err = errTest{}
	out := m.View()
	if !strings.Contains(out, "error: boom") {
		t.Errorf("View() missing error text: %q", out)
	}
}

type errTest struct{}

func (errTest) Error() string { return "boom" }
