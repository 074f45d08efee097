// Package store persists the scheduler's document of record: per-command
// last-run timestamps, per-item last-audit timestamps, in-flight claims,
// and bounded run history.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

const maxHistoryPerCommand = 50

// CommandType is the closed set of built-in scheduled command kinds.
type CommandType string

const (
	CommandTriageAudit CommandType = "triage-audit"
	CommandDelegation  CommandType = "delegation"
	CommandCustom      CommandType = "custom"
)

// ScheduledCommand is the persistent config for a recurring job.
type ScheduledCommand struct {
	CommandID  string            `json:"command_id"`
	CommandType CommandType      `json:"command_type"`
	Interval   time.Duration     `json:"interval"`
	Invocation []string          `json:"invocation"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// CommandRun is an immutable record of one execution of a command.
type CommandRun struct {
	CommandID     string    `json:"command_id"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
	ExitCode      int       `json:"exit_code"`
	StdoutExcerpt string    `json:"stdout_excerpt,omitempty"`
	StderrExcerpt string    `json:"stderr_excerpt,omitempty"`
	Note          string    `json:"note,omitempty"`
}

// InFlight records a running claim on a command_id.
type InFlight struct {
	Pid       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
	Token     string    `json:"token"`
}

// State is the mutable half of the document.
type State struct {
	LastRunAt        map[string]time.Time    `json:"last_run_at"`
	LastAuditAtByItem map[string]time.Time   `json:"last_audit_at_by_item"`
	InFlight         map[string]InFlight      `json:"in_flight"`
	History          map[string][]CommandRun  `json:"history"`
}

// Document is the full SchedulerStore shape (spec §3).
type Document struct {
	Commands         map[string]ScheduledCommand `json:"commands"`
	State            State                       `json:"state"`
	LastGlobalStartTS *time.Time                 `json:"last_global_start_ts"`

	// Unknown preserves any keys this version of the code doesn't
	// recognize, so round-tripping through Load/Save never drops
	// forward-compatible extensions.
	Unknown map[string]json.RawMessage `json:"-"`
}

func newDocument() Document {
	return Document{
		Commands: make(map[string]ScheduledCommand),
		State: State{
			LastRunAt:         make(map[string]time.Time),
			LastAuditAtByItem: make(map[string]time.Time),
			InFlight:          make(map[string]InFlight),
			History:           make(map[string][]CommandRun),
		},
	}
}

// Store is the mutex-guarded, file-backed SchedulerStore.
type Store struct {
	mu   sync.Mutex
	path string
	doc  Document
}

// Open loads the store at path, creating an empty document in memory if
// the file does not yet exist. Malformed JSON is a fatal error — the
// file is never deleted on our behalf.
func Open(path string) (*Store, error) {
	s := &Store{path: path, doc: newDocument()}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read store %s: %w", s.path, err)
	}

	var onDisk map[string]json.RawMessage
	if err := json.Unmarshal(raw, &onDisk); err != nil {
		return fmt.Errorf("parse store %s: %w", s.path, err)
	}

	doc := newDocument()
	for key, val := range onDisk {
		switch key {
		case "commands":
			if err := json.Unmarshal(val, &doc.Commands); err != nil {
				return fmt.Errorf("parse store %s: commands: %w", s.path, err)
			}
		case "state":
			if err := json.Unmarshal(val, &doc.State); err != nil {
				return fmt.Errorf("parse store %s: state: %w", s.path, err)
			}
		case "last_global_start_ts":
			if err := json.Unmarshal(val, &doc.LastGlobalStartTS); err != nil {
				return fmt.Errorf("parse store %s: last_global_start_ts: %w", s.path, err)
			}
		default:
			if doc.Unknown == nil {
				doc.Unknown = make(map[string]json.RawMessage)
			}
			doc.Unknown[key] = val
		}
	}
	if doc.Commands == nil {
		doc.Commands = make(map[string]ScheduledCommand)
	}
	if doc.State.LastRunAt == nil {
		doc.State.LastRunAt = make(map[string]time.Time)
	}
	if doc.State.LastAuditAtByItem == nil {
		doc.State.LastAuditAtByItem = make(map[string]time.Time)
	}
	if doc.State.InFlight == nil {
		doc.State.InFlight = make(map[string]InFlight)
	}
	if doc.State.History == nil {
		doc.State.History = make(map[string][]CommandRun)
	}
	s.doc = doc
	return nil
}

// Save writes the document to a sibling temp file, fsyncs it, and
// renames it into place. Concurrent callers are serialized by mu.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}

	out := make(map[string]json.RawMessage, len(s.doc.Unknown)+3)
	for k, v := range s.doc.Unknown {
		out[k] = v
	}

	commandsRaw, err := json.Marshal(s.doc.Commands)
	if err != nil {
		return fmt.Errorf("marshal commands: %w", err)
	}
	out["commands"] = commandsRaw

	stateRaw, err := json.Marshal(s.doc.State)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	out["state"] = stateRaw

	tsRaw, err := json.Marshal(s.doc.LastGlobalStartTS)
	if err != nil {
		return fmt.Errorf("marshal last_global_start_ts: %w", err)
	}
	out["last_global_start_ts"] = tsRaw

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal store: %w", err)
	}

	tmpPath := s.path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open temp store file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write temp store file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("fsync temp store file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close temp store file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("rename store file: %w", err)
	}
	return nil
}

// Snapshot is a deep-enough copy of the document for read-only callers
// (e.g. the status CLI / TUI) that must not race with Save.
func (s *Store) Snapshot() Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneDocument(s.doc)
}

func cloneDocument(d Document) Document {
	out := newDocument()
	for k, v := range d.Commands {
		out.Commands[k] = v
	}
	for k, v := range d.State.LastRunAt {
		out.State.LastRunAt[k] = v
	}
	for k, v := range d.State.LastAuditAtByItem {
		out.State.LastAuditAtByItem[k] = v
	}
	for k, v := range d.State.InFlight {
		out.State.InFlight[k] = v
	}
	for k, v := range d.State.History {
		runs := make([]CommandRun, len(v))
		copy(runs, v)
		out.State.History[k] = runs
	}
	if d.LastGlobalStartTS != nil {
		t := *d.LastGlobalStartTS
		out.LastGlobalStartTS = &t
	}
	return out
}

// UpsertCommand creates or replaces a ScheduledCommand definition.
func (s *Store) UpsertCommand(cmd ScheduledCommand) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Commands[cmd.CommandID] = cmd
	return s.saveLocked()
}

// Commands returns a copy of all ScheduledCommands, keyed by command_id.
func (s *Store) Commands() map[string]ScheduledCommand {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]ScheduledCommand, len(s.doc.Commands))
	for k, v := range s.doc.Commands {
		out[k] = v
	}
	return out
}

// LastRunAt returns the last recorded run time for a command, and
// whether one is recorded at all.
func (s *Store) LastRunAt(commandID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.doc.State.LastRunAt[commandID]
	return t, ok
}

// SetLastRunAt records the last-run timestamp and persists it. Per
// spec §4.2, this is written before the handler executes so that a
// crash mid-handler still advances the cooldown.
func (s *Store) SetLastRunAt(commandID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.State.LastRunAt[commandID] = at
	return s.saveLocked()
}

// GetLastAudit returns the last audit time recorded for a work item.
func (s *Store) GetLastAudit(itemID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.doc.State.LastAuditAtByItem[itemID]
	return t, ok
}

// SetLastAudit records a monotonically non-decreasing last-audit
// timestamp for a work item and persists it.
func (s *Store) SetLastAudit(itemID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.doc.State.LastAuditAtByItem[itemID]; ok && at.Before(prev) {
		at = prev
	}
	s.doc.State.LastAuditAtByItem[itemID] = at
	return s.saveLocked()
}

// ClaimInFlight attempts to claim command_id for the calling process.
// Returns ok=false ("busy") if another claim is already present.
func (s *Store) ClaimInFlight(commandID string, pid int) (ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.doc.State.InFlight[commandID]; busy {
		return false, nil
	}
	s.doc.State.InFlight[commandID] = InFlight{
		Pid:       pid,
		StartedAt: time.Now().UTC(),
		Token:     uuid.NewString(),
	}
	if err := s.saveLocked(); err != nil {
		delete(s.doc.State.InFlight, commandID)
		return false, err
	}
	return true, nil
}

// ReleaseInFlight clears a command_id's in-flight claim.
func (s *Store) ReleaseInFlight(commandID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.doc.State.InFlight, commandID)
	return s.saveLocked()
}

// InFlightClaims returns a copy of all current in-flight claims.
func (s *Store) InFlightClaims() map[string]InFlight {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]InFlight, len(s.doc.State.InFlight))
	for k, v := range s.doc.State.InFlight {
		out[k] = v
	}
	return out
}

// ClearStaleInFlight force-clears an in-flight claim without requiring
// a matching handler return. Used on restart once the scheduler has
// determined the recorded pid is dead or not ours (spec §4.2).
func (s *Store) ClearStaleInFlight(commandID string) error {
	return s.ReleaseInFlight(commandID)
}

// RecordRun appends a CommandRun to a command's history, trimmed to the
// most recent maxHistoryPerCommand entries, and persists it.
func (s *Store) RecordRun(commandID string, run CommandRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	runs := append(s.doc.State.History[commandID], run)
	if len(runs) > maxHistoryPerCommand {
		runs = runs[len(runs)-maxHistoryPerCommand:]
	}
	s.doc.State.History[commandID] = runs
	return s.saveLocked()
}

// History returns the recorded runs for a command_id, most recent last.
func (s *Store) History(commandID string) []CommandRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	runs := s.doc.State.History[commandID]
	out := make([]CommandRun, len(runs))
	copy(out, runs)
	return out
}
