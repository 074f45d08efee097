// Package agentrunner wraps spawning the external AI-agent CLI process
// (spec §6). The core treats the child process as a black box: it
// supplies the placeholder value, captures stdout+stderr, and reads the
// exit code.
package agentrunner

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Result is what the engine/audit runner need from a completed run.
type Result struct {
	ExitCode int
	Output   string // combined stdout+stderr
}

// Runner is the capability interface agents are dispatched through.
// Dispatch is fire-and-forget from the scheduler's perspective for
// delegation (spec §4.7); the audit runner waits for completion.
type Runner interface {
	Run(ctx context.Context, invocation []string, id string) (Result, error)
	Spawn(invocation []string, id string)
}

// ProcessRunner shells out to the argv template configured per
// ScheduledCommand, substituting "{id}" for the work item id.
type ProcessRunner struct{}

// NewProcessRunner constructs a ProcessRunner.
func NewProcessRunner() *ProcessRunner {
	return &ProcessRunner{}
}

// Run substitutes the placeholder, runs the command to completion, and
// returns its combined output and exit code.
func (r *ProcessRunner) Run(ctx context.Context, invocation []string, id string) (Result, error) {
	if len(invocation) == 0 {
		return Result{}, fmt.Errorf("empty agent invocation")
	}
	args := substitutePlaceholder(invocation, id)

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	var combined bytes.Buffer
	cmd.Stdout = &combined
	cmd.Stderr = &combined

	runErr := cmd.Run()
	exitCode := 0
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return Result{Output: combined.String()}, fmt.Errorf("run agent %v: %w", args, runErr)
		}
	}

	return Result{ExitCode: exitCode, Output: combined.String()}, nil
}

// Spawn starts the invocation and does not wait for it — used by the
// delegation engine, which must not block the scheduler tick on agent
// completion (spec §4.7).
func (r *ProcessRunner) Spawn(invocation []string, id string) {
	if len(invocation) == 0 {
		return
	}
	args := substitutePlaceholder(invocation, id)
	cmd := exec.Command(args[0], args[1:]...)
	if err := cmd.Start(); err != nil {
		return
	}
	// The work item itself, not the store, tracks progress once
	// dispatched; Wait only reaps the child when it eventually exits.
	go func() { _ = cmd.Wait() }()
}

func substitutePlaceholder(invocation []string, id string) []string {
	out := make([]string, len(invocation))
	for i, arg := range invocation {
		out[i] = strings.ReplaceAll(arg, "{id}", id)
	}
	return out
}

var _ Runner = (*ProcessRunner)(nil)
