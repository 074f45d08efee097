// Package tui implements the live view behind `ampa status --watch`: a
// bubbletea program that re-renders the scheduler store's current
// state once a second instead of the teacher's plain re-print-and-sleep
// polling loop (see internal/cli's andymwolf-agentium ancestor,
// `internal/cli/status.go`).
package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/andywolf/ampa/internal/daemon"
	"github.com/andywolf/ampa/internal/store"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	headerStyle  = lipgloss.NewStyle().Bold(true).Underline(true)
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// StatusSource is the narrow read surface the live view needs.
type StatusSource interface {
	Snapshot() store.Document
}

// Model is the bubbletea model backing `ampa status --watch`.
type Model struct {
	Name       string
	Store      StatusSource
	Supervisor *daemon.Supervisor
	Interval   time.Duration

	daemonStatus daemon.Status
	doc          store.Document
	err          error
	quitting     bool
}

// NewModel constructs a watch-mode status Model.
func NewModel(name string, st StatusSource, supervisor *daemon.Supervisor, interval time.Duration) Model {
	if interval <= 0 {
		interval = time.Second
	}
	return Model{Name: name, Store: st, Supervisor: supervisor, Interval: interval}
}

type tickMsg time.Time

func (m Model) tickCmd() tea.Cmd {
	return tea.Tick(m.Interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.refresh(), m.tickCmd())
}

func (m Model) refresh() tea.Cmd {
	return func() tea.Msg {
		status, err := m.Supervisor.Status()
		if err != nil {
			return refreshedMsg{err: err}
		}
		return refreshedMsg{status: status, doc: m.Store.Snapshot()}
	}
}

type refreshedMsg struct {
	status daemon.Status
	doc    store.Document
	err    error
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		}
	case tickMsg:
		return m, tea.Batch(m.refresh(), m.tickCmd())
	case refreshedMsg:
		m.daemonStatus = msg.status
		m.doc = msg.doc
		m.err = msg.err
	}
	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", titleStyle.Render(fmt.Sprintf("ampa %s", m.Name)))

	if m.err != nil {
		fmt.Fprintf(&b, "%s\n", errStyle.Render("error: "+m.err.Error()))
	}

	if m.daemonStatus.Running {
		fmt.Fprintf(&b, "daemon: %s (pid %d)\n\n", okStyle.Render("running"), m.daemonStatus.Pid)
	} else {
		fmt.Fprintf(&b, "daemon: %s\n\n", warnStyle.Render("stopped"))
	}

	b.WriteString(headerStyle.Render(fmt.Sprintf("%-16s %-12s %-10s %-22s %s", "COMMAND", "TYPE", "STATUS", "LAST RUN", "NEXT DUE")))
	b.WriteString("\n")

	ids := make([]string, 0, len(m.doc.Commands))
	for id := range m.doc.Commands {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	now := time.Now()
	for _, id := range ids {
		cmd := m.doc.Commands[id]
		state := "idle"
		stateStyle := dimStyle
		if _, inFlight := m.doc.State.InFlight[id]; inFlight {
			state = "running"
			stateStyle = okStyle
		}

		lastRun := "never"
		nextDue := "now"
		if t, ok := m.doc.State.LastRunAt[id]; ok {
			lastRun = t.Format(time.RFC3339)
			due := t.Add(cmd.Interval)
			if due.After(now) {
				nextDue = due.Sub(now).Round(time.Second).String()
			}
		}

		if runs := m.doc.State.History[id]; len(runs) > 0 {
			last := runs[len(runs)-1]
			if last.ExitCode != 0 {
				stateStyle = errStyle
				state = fmt.Sprintf("last exit %d", last.ExitCode)
			}
		}

		fmt.Fprintf(&b, "%-16s %-12s %-10s %-22s %s\n",
			id, cmd.CommandType, stateStyle.Render(state), lastRun, nextDue)
	}

	b.WriteString("\n" + dimStyle.Render("q to quit") + "\n")
	return b.String()
}

// Run starts the bubbletea program and blocks until the user quits.
func Run(m Model) error {
	_, err := tea.NewProgram(m).Run()
	return err
}
