// Package delegation selects the next backlog candidate for agent
// dispatch, admits it against the declared preconditions, and records
// the dispatch on the work item itself (spec §4.7).
package delegation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/andywolf/ampa/internal/agentrunner"
	"github.com/andywolf/ampa/internal/invariant"
	"github.com/andywolf/ampa/internal/notifier"
	"github.com/andywolf/ampa/internal/worklog"
)

// stageActions maps a candidate's current stage to the agent action
// invoked for it (spec §4.7 step 4).
var stageActions = map[string]string{
	"idea":            "intake",
	"intake_complete": "plan",
	"plan_complete":   "implement",
}

// delegatedTag is the tag the engine attaches to a work item on
// dispatch, alongside the status/stage/assignee update (spec §4.7
// step 5).
const delegatedTag = "delegated"

// Logger is the minimal logging surface the engine needs.
type Logger interface {
	LogInfo(string)
	LogWarning(string)
}

// Invocations supplies the argv template for a given action name.
type Invocations interface {
	For(action string) []string
}

// Engine implements the delegation admission and dispatch pipeline.
type Engine struct {
	Worklog     worklog.Client
	Agent       agentrunner.Runner
	Notifier    notifier.Notifier
	Logger      Logger
	Invocations Invocations
	PreNames    []string // the delegate command's pre[] invariant names
	Assignee    string
}

// New constructs an Engine. assignee defaults to "Patch" if empty.
func New(wl worklog.Client, agent agentrunner.Runner, notif notifier.Notifier, logger Logger, invocations Invocations, preNames []string) *Engine {
	assignee := "Patch"
	return &Engine{
		Worklog: wl, Agent: agent, Notifier: notif, Logger: logger,
		Invocations: invocations, PreNames: preNames, Assignee: assignee,
	}
}

type rejection struct {
	id, title, reason string
}

// rejectionReason joins every failing invariant's name into one reason
// string so a candidate's idle notification surfaces all of them, not
// just the first (spec §4.7 step 3, §8 scenario S6).
func rejectionReason(failures []invariant.Result) string {
	names := make([]string, len(failures))
	for i, f := range failures {
		names[i] = fmt.Sprintf("%s (%s)", f.Name, f.Detail)
	}
	return strings.Join(names, "; ")
}

// Run executes one tick of the delegation engine.
func (e *Engine) Run(ctx context.Context) error {
	inProgress, err := e.Worklog.InProgress(ctx)
	if err != nil {
		return fmt.Errorf("delegation: query in_progress items: %w", err)
	}
	if len(inProgress) > 0 {
		e.notify(ctx, fmt.Sprintf("idle: %d item(s) already in progress", len(inProgress)), notifier.SeverityInfo)
		return nil
	}

	candidates, err := e.Worklog.Next(ctx, 3)
	if err != nil {
		return fmt.Errorf("delegation: fetch candidates: %w", err)
	}
	if len(candidates) == 0 {
		e.notify(ctx, "idle, no candidates", notifier.SeverityInfo)
		return nil
	}

	backlogCtx := invariant.Context{Backlog: candidates}

	var rejections []rejection
	for _, candidate := range candidates {
		itemCtx := backlogCtx
		itemCtx.Item = candidate
		results := invariant.EvaluateAll(e.PreNames, itemCtx)
		failures := invariant.Failures(results)
		if len(failures) == 0 {
			e.dispatch(ctx, candidate)
			return nil
		}
		rejections = append(rejections, rejection{id: candidate.ID, title: candidate.Title, reason: rejectionReason(failures)})
	}

	e.notifyRejections(ctx, rejections)
	return nil
}

func (e *Engine) dispatch(ctx context.Context, item worklog.Item) {
	action, ok := stageActions[item.Stage]
	if !ok {
		e.Logger.LogWarning(fmt.Sprintf("delegation: candidate %s has unmapped stage %q; skipping", item.ID, item.Stage))
		return
	}

	invocation := e.Invocations.For(action)
	e.Agent.Spawn(invocation, item.ID)

	e.notify(ctx, fmt.Sprintf("Delegating '%s' for '%s' (%s)", action, item.Title, item.ID), notifier.SeverityInfo)

	if err := e.Worklog.Update(ctx, item.ID, worklog.UpdateFields{
		Status:   "in_progress",
		Stage:    "delegated",
		Assignee: e.Assignee,
	}); err != nil {
		e.Logger.LogWarning(fmt.Sprintf("delegation: failed to update %s after dispatch: %v", item.ID, err))
	}

	if err := e.Worklog.AddTags(ctx, item.ID, []string{delegatedTag}); err != nil {
		e.Logger.LogWarning(fmt.Sprintf("delegation: failed to tag %s after dispatch: %v", item.ID, err))
	}

	comment := fmt.Sprintf("Delegated action %q at %s by %s (dispatch %s, prompt: %s).",
		action, time.Now().UTC().Format(time.RFC3339), e.Assignee, uuid.NewString(), strings.Join(invocation, " "))
	if err := e.Worklog.CommentAdd(ctx, item.ID, comment, "AMPA"); err != nil {
		e.Logger.LogWarning(fmt.Sprintf("delegation: failed to comment on %s after dispatch: %v", item.ID, err))
	}
}

func (e *Engine) notify(ctx context.Context, body string, severity notifier.Severity) {
	if e.Notifier == nil {
		return
	}
	_ = e.Notifier.Notify(ctx, notifier.Notification{Title: "Delegation engine", Body: body, Severity: severity})
}

func (e *Engine) notifyRejections(ctx context.Context, rejections []rejection) {
	if e.Notifier == nil {
		return
	}
	var b strings.Builder
	for _, r := range rejections {
		fmt.Fprintf(&b, "%s (%s): %s\n", r.id, r.title, r.reason)
	}
	_ = e.Notifier.Notify(ctx, notifier.Notification{
		Title:    "Delegation engine",
		Body:     "no candidate admitted:\n" + b.String(),
		Severity: notifier.SeverityInfo,
	})
}
