// Package scheduler implements the single-threaded cooperative tick
// loop that dispatches at most one eligible ScheduledCommand per tick
// (spec §4.2, §5).
package scheduler

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/andywolf/ampa/internal/security"
	"github.com/andywolf/ampa/internal/store"
)

// redactor masks credential-shaped content out of captured handler
// output before it lands in the store's run history.
var redactor = security.NewRedactor()

// priority orders command types for dispatch within a single tick:
// triage-audit first, then delegation, then custom commands.
var priority = map[store.CommandType]int{
	store.CommandTriageAudit: 0,
	store.CommandDelegation:  1,
	store.CommandCustom:      2,
}

// Handler executes one ScheduledCommand and returns its outcome as an
// exit code plus captured output excerpts.
type Handler func(ctx context.Context, cmd store.ScheduledCommand) (exitCode int, stdout, stderr string, err error)

// Store is the persistence surface the scheduler needs.
type Store interface {
	Commands() map[string]store.ScheduledCommand
	LastRunAt(commandID string) (time.Time, bool)
	SetLastRunAt(commandID string, at time.Time) error
	ClaimInFlight(commandID string, pid int) (bool, error)
	ReleaseInFlight(commandID string) error
	InFlightClaims() map[string]store.InFlight
	RecordRun(commandID string, run store.CommandRun) error
}

// Logger is the minimal logging surface the scheduler needs.
type Logger interface {
	LogInfo(string)
	LogWarning(string)
	LogError(string)
}

// Scheduler runs the tick loop.
type Scheduler struct {
	Store        Store
	Clock        Clock
	TickInterval time.Duration
	GraceWindow  time.Duration
	Logger       Logger
	Handlers     map[store.CommandType]Handler
	RunOnStart   bool

	wg       sync.WaitGroup
	tickBusy atomic.Bool
	sems     sync.Map // command_id -> *semaphore.Weighted, in-process single-flight guard
}

// commandSem returns the per-command_id semaphore, creating it on first
// use. This is a defense-in-depth guard alongside the store's
// ClaimInFlight claim: it protects against two goroutines in the same
// process (e.g. the tick loop and a concurrent `ampa run`) invoking the
// same command_id's handler at once, which ClaimInFlight alone would
// also catch but only after a store round-trip.
func (s *Scheduler) commandSem(commandID string) *semaphore.Weighted {
	v, _ := s.sems.LoadOrStore(commandID, semaphore.NewWeighted(1))
	return v.(*semaphore.Weighted)
}

// New constructs a Scheduler with sane defaults for unset durations.
func New(st Store, clock Clock, logger Logger) *Scheduler {
	return &Scheduler{
		Store:        st,
		Clock:        clock,
		TickInterval: 15 * time.Second,
		GraceWindow:  30 * time.Second,
		Logger:       logger,
		Handlers:     make(map[store.CommandType]Handler),
	}
}

// Run drives the tick loop until ctx is cancelled, then waits up to
// GraceWindow for the in-flight tick (if any) to finish before
// returning. Ticks run off the loop goroutine, gated so at most one is
// active at a time: dispatch stays serial, but cancellation reaches a
// long handler without waiting for it to return first.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.RunOnStart {
		s.dispatchTick(ctx)
	}

	ticker := s.Clock.NewTicker(s.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return s.shutdown()
		case <-ticker.C():
			s.dispatchTick(ctx)
		}
	}
}

// dispatchTick starts one tick unless the previous one is still
// running, in which case this tick is skipped.
func (s *Scheduler) dispatchTick(ctx context.Context) {
	if !s.tickBusy.CompareAndSwap(false, true) {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.tickBusy.Store(false)
		s.runTick(ctx)
	}()
}

func (s *Scheduler) shutdown() error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(s.GraceWindow):
		return fmt.Errorf("scheduler: grace window of %s elapsed before shutdown completed", s.GraceWindow)
	}
}

// runTick picks at most one eligible command in priority order and
// dispatches it. Panics inside a handler are recovered and recorded as
// a failed run rather than crashing the daemon.
func (s *Scheduler) runTick(ctx context.Context) {
	cmd, ok := s.selectEligible()
	if !ok {
		return
	}

	sem := s.commandSem(cmd.CommandID)
	if !sem.TryAcquire(1) {
		return // another goroutine in this process already holds cmd.CommandID
	}
	defer sem.Release(1)

	claimed, err := s.Store.ClaimInFlight(cmd.CommandID, os.Getpid())
	if err != nil {
		s.Logger.LogError(fmt.Sprintf("scheduler: claim %s: %v", cmd.CommandID, err))
		return
	}
	if !claimed {
		return // another process owns this command_id right now
	}
	defer func() {
		if err := s.Store.ReleaseInFlight(cmd.CommandID); err != nil {
			s.Logger.LogWarning(fmt.Sprintf("scheduler: release %s: %v", cmd.CommandID, err))
		}
	}()

	now := s.Clock.Now()
	// Mark last-run before the handler executes: a crash mid-handler
	// must still advance the cooldown (spec §4.2, §5 at-least-once).
	if err := s.Store.SetLastRunAt(cmd.CommandID, now); err != nil {
		s.Logger.LogError(fmt.Sprintf("scheduler: mark last-run %s: %v", cmd.CommandID, err))
		return
	}

	exitCode, stdout, stderr := s.invoke(ctx, cmd)

	run := store.CommandRun{
		CommandID:     cmd.CommandID,
		StartedAt:     now,
		FinishedAt:    s.Clock.Now(),
		ExitCode:      exitCode,
		StdoutExcerpt: redactor.Scrub(excerpt(stdout)),
		StderrExcerpt: redactor.Scrub(excerpt(stderr)),
	}
	if err := s.Store.RecordRun(cmd.CommandID, run); err != nil {
		s.Logger.LogWarning(fmt.Sprintf("scheduler: record run %s: %v", cmd.CommandID, err))
	}
}

// RunCommand dispatches cmd through its registered handler a single
// time, independent of cooldown/eligibility state. It still takes the
// in-process command semaphore (but not ClaimInFlight/SetLastRunAt —
// the caller, e.g. the `ampa run` CLI subcommand, owns those per spec
// §4.2's "CLI run bypasses the cooldown... does not advance
// last_run_at" rule).
func (s *Scheduler) RunCommand(ctx context.Context, cmd store.ScheduledCommand) (exitCode int, stdout, stderr string) {
	sem := s.commandSem(cmd.CommandID)
	_ = sem.Acquire(ctx, 1)
	defer sem.Release(1)
	return s.invoke(ctx, cmd)
}

func (s *Scheduler) invoke(ctx context.Context, cmd store.ScheduledCommand) (exitCode int, stdout, stderr string) {
	handler, ok := s.Handlers[cmd.CommandType]
	if !ok {
		s.Logger.LogWarning(fmt.Sprintf("scheduler: no handler registered for command type %q", cmd.CommandType))
		return 1, "", fmt.Sprintf("no handler for %s", cmd.CommandType)
	}

	defer func() {
		if r := recover(); r != nil {
			s.Logger.LogError(fmt.Sprintf("scheduler: handler for %s panicked: %v", cmd.CommandID, r))
			exitCode = 1
			stderr = fmt.Sprintf("panic: %v", r)
		}
	}()

	code, out, errOut, err := handler(ctx, cmd)
	if err != nil {
		s.Logger.LogWarning(fmt.Sprintf("scheduler: handler for %s returned error: %v", cmd.CommandID, err))
		if errOut == "" {
			errOut = err.Error()
		}
	}
	return code, out, errOut
}

// selectEligible returns the highest-priority command whose interval
// has elapsed since its last run and which has no in-flight claim. The
// in-flight filter here keeps a busy command from shadowing a
// lower-priority eligible one; ClaimInFlight remains the authoritative
// single-flight gate against races.
func (s *Scheduler) selectEligible() (store.ScheduledCommand, bool) {
	cmds := s.Store.Commands()
	claims := s.Store.InFlightClaims()
	eligible := make([]store.ScheduledCommand, 0, len(cmds))

	now := s.Clock.Now()
	for _, cmd := range cmds {
		if _, busy := claims[cmd.CommandID]; busy {
			continue
		}
		last, ok := s.Store.LastRunAt(cmd.CommandID)
		if ok && now.Sub(last) < cmd.Interval {
			continue
		}
		eligible = append(eligible, cmd)
	}
	if len(eligible) == 0 {
		return store.ScheduledCommand{}, false
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		return priority[eligible[i].CommandType] < priority[eligible[j].CommandType]
	})
	return eligible[0], true
}

const maxExcerptBytes = 4096

func excerpt(s string) string {
	if len(s) <= maxExcerptBytes {
		return s
	}
	return s[:maxExcerptBytes]
}
