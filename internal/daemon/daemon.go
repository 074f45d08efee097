// Package daemon implements the pid-file-backed lifecycle supervisor
// for the scheduler process (spec §4.8): start, stop, and status, with
// stale-pid-file detection guarding against PID reuse.
package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/andywolf/ampa/internal/store"
)

// Logger is the minimal logging surface this package needs.
type Logger interface {
	LogInfo(string)
	LogWarning(string)
	LogError(string)
}

// Supervisor owns the pid file and the start/stop/status lifecycle for
// one named daemon instance.
type Supervisor struct {
	PidFile     *PidFile
	ProjectRoot string
	Logger      Logger
	StopTimeout time.Duration // defaults to 10s per spec §4.8
}

// NewSupervisor constructs a Supervisor for the given run directory and
// instance name.
func NewSupervisor(runDir, name, projectRoot string, logger Logger) *Supervisor {
	return &Supervisor{
		PidFile:     NewPidFile(runDir, name),
		ProjectRoot: projectRoot,
		Logger:      logger,
		StopTimeout: 10 * time.Second,
	}
}

// CheckExistingOwner inspects any existing pid file. If it names a live
// process that is not ours (by cmdline inspection), it is an active
// owner and Start must refuse. If it names a dead or foreign process,
// the stale file is removed and Start may proceed.
func (s *Supervisor) CheckExistingOwner() (liveOwner bool, err error) {
	pid, ok, err := s.PidFile.Read()
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	if processAlive(pid) && IsOwnedByUs(pid, s.ProjectRoot) {
		return true, nil
	}

	s.Logger.LogWarning(fmt.Sprintf("daemon: pid file names pid %d which is not a live owned process; removing stale pid file", pid))
	if err := s.PidFile.Remove(); err != nil {
		return false, err
	}
	return false, nil
}

// WritePid records the current process's pid as the owner.
func (s *Supervisor) WritePid() error {
	return s.PidFile.Write(os.Getpid())
}

// InFlightStore is the narrow store surface the restart reconciliation
// pass needs.
type InFlightStore interface {
	InFlightClaims() map[string]store.InFlight
	ClearStaleInFlight(commandID string) error
}

// ReconcileInFlightClaims clears every in-flight claim whose recorded
// pid is no longer alive or no longer ours, per spec §4.2 ("the
// restart path clears stale in_flight entries whose pid is no longer
// alive and whose project-ownership check fails") and §9's pid-reuse
// safety note — the same liveness+ownership check CheckExistingOwner
// applies to the daemon's own pid file, applied here to every
// per-command claim recorded before a crash.
func (s *Supervisor) ReconcileInFlightClaims(st InFlightStore) {
	for commandID, claim := range st.InFlightClaims() {
		if processAlive(claim.Pid) && IsOwnedByUs(claim.Pid, s.ProjectRoot) {
			continue
		}
		s.Logger.LogWarning(fmt.Sprintf(
			"daemon: clearing stale in_flight claim for %q (pid %d not alive/owned)",
			commandID, claim.Pid))
		if err := st.ClearStaleInFlight(commandID); err != nil {
			s.Logger.LogWarning(fmt.Sprintf("daemon: failed to clear stale in_flight claim for %q: %v", commandID, err))
		}
	}
}

// Status reports whether the daemon is currently running under this
// pid file, per spec §4.8 exit codes (0 running, 3 stopped).
type Status struct {
	Running bool
	Pid     int
}

// Status reads the pid file and reports liveness.
func (s *Supervisor) Status() (Status, error) {
	pid, ok, err := s.PidFile.Read()
	if err != nil {
		return Status{}, err
	}
	if !ok {
		return Status{Running: false}, nil
	}
	if processAlive(pid) && IsOwnedByUs(pid, s.ProjectRoot) {
		return Status{Running: true, Pid: pid}, nil
	}
	return Status{Running: false}, nil
}

// Stop sends SIGTERM to the recorded pid, waits up to StopTimeout for
// it to exit, escalates to SIGKILL, then removes the pid file.
func (s *Supervisor) Stop() error {
	pid, ok, err := s.PidFile.Read()
	if err != nil {
		return err
	}
	if !ok {
		return nil // already stopped
	}
	if !processAlive(pid) {
		return s.PidFile.Remove()
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return s.PidFile.Remove()
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		s.Logger.LogWarning(fmt.Sprintf("daemon: SIGTERM to pid %d failed: %v", pid, err))
	}

	deadline := time.Now().Add(s.StopTimeout)
	for time.Now().Before(deadline) {
		if !processAlive(pid) {
			return s.PidFile.Remove()
		}
		time.Sleep(200 * time.Millisecond)
	}

	s.Logger.LogWarning(fmt.Sprintf("daemon: pid %d did not exit within %s, force-killing", pid, s.StopTimeout))
	if err := proc.Signal(syscall.SIGKILL); err != nil {
		return fmt.Errorf("force-kill pid %d: %w", pid, err)
	}
	return s.PidFile.Remove()
}

// SignalContext returns a context cancelled on SIGTERM/SIGINT, for the
// foreground scheduler loop to observe.
func SignalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()

	return ctx, cancel
}
