package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// ownershipTokens are searched for in a candidate pid's cmdline as an
// alternative to the project root path, so a pid file written from a
// different checkout of the same daemon is still recognized as ours.
var ownershipTokens = []string{"ampa.daemon", "ampa.scheduler"}

// PidFile manages the lifecycle of a single pid file.
type PidFile struct {
	Path string
}

// NewPidFile returns a PidFile at runDir/name.pid.
func NewPidFile(runDir, name string) *PidFile {
	return &PidFile{Path: filepath.Join(runDir, name+".pid")}
}

// Read returns the pid recorded in the file, if any.
func (p *PidFile) Read() (pid int, ok bool, err error) {
	raw, err := os.ReadFile(p.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("read pid file %s: %w", p.Path, err)
	}
	pid, err = strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0, false, fmt.Errorf("parse pid file %s: %w", p.Path, err)
	}
	return pid, true, nil
}

// Write records pid, creating the run directory if needed.
func (p *PidFile) Write(pid int) error {
	if err := os.MkdirAll(filepath.Dir(p.Path), 0o755); err != nil {
		return fmt.Errorf("create run dir for pid file: %w", err)
	}
	return os.WriteFile(p.Path, []byte(strconv.Itoa(pid)+"\n"), 0o644)
}

// Remove deletes the pid file if present.
func (p *PidFile) Remove() error {
	err := os.Remove(p.Path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove pid file %s: %w", p.Path, err)
	}
	return nil
}

// processAlive reports whether pid refers to a live process. On POSIX,
// sending signal 0 checks existence without affecting the process.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// IsOwnedByUs inspects /proc/<pid>/cmdline (Linux) and reports whether
// it contains projectRoot or one of ownershipTokens. This is the
// defense against PID reuse after a crash: a stale pid file pointing at
// an unrelated process must never be treated as a live daemon owner.
func IsOwnedByUs(pid int, projectRoot string) bool {
	cmdline, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "cmdline"))
	if err != nil {
		return false
	}
	text := strings.ReplaceAll(string(cmdline), "\x00", " ")
	if projectRoot != "" && strings.Contains(text, projectRoot) {
		return true
	}
	for _, tok := range ownershipTokens {
		if strings.Contains(text, tok) {
			return true
		}
	}
	return false
}
