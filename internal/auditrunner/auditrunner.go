package auditrunner

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/andywolf/ampa/internal/agentrunner"
	"github.com/andywolf/ampa/internal/notifier"
	"github.com/andywolf/ampa/internal/security"
	"github.com/andywolf/ampa/internal/worklog"
)

const defaultTruncateChars = 65536

// GHClient checks PR merge status via the `gh` CLI. Absence of the
// binary (or any error invoking it) is treated as a hard NO for
// verification purposes (spec §9 Open Question, resolved in DESIGN.md):
// a configured verify_pr_with_gh never progresses on the raw text
// token alone if gh itself is unavailable.
type GHClient interface {
	IsPRMerged(ctx context.Context, prURL string) (merged bool, err error)
}

// Logger is the minimal logging surface this package needs.
type Logger interface {
	LogInfo(string)
	LogWarning(string)
}

// Runner implements spec §4.6: spawn, extract, parse, notify, comment,
// and auto-complete.
type Runner struct {
	Agent         agentrunner.Runner
	Worklog       worklog.Client
	Notifier      notifier.Notifier
	GH            GHClient
	Logger        Logger
	GitHubRepo    string
	TruncateChars int
	VerifyWithGH  bool
	scrubber      *security.Redactor
}

// New constructs a Runner. truncateChars <= 0 uses the spec default.
// PR merge verification is on by default — callers opt out via config
// or per-command metadata, never the other way around.
func New(agent agentrunner.Runner, wl worklog.Client, notif notifier.Notifier, gh GHClient, logger Logger) *Runner {
	return &Runner{
		Agent: agent, Worklog: wl, Notifier: notif, GH: gh, Logger: logger,
		TruncateChars: defaultTruncateChars,
		VerifyWithGH:  true,
		scrubber:      security.NewRedactor(),
	}
}

// terminalStatuses names the child item statuses considered terminal
// for the "no open children" auto-completion check (spec §4.6 step 5b).
var terminalStatuses = map[string]bool{"completed": true, "closed": true}

// Audit runs the full pipeline for one selected item, given the argv
// template (with "{id}" already meant for substitution by the agent
// runner).
func (r *Runner) Audit(ctx context.Context, item worklog.Item, invocation []string) error {
	result, err := r.Agent.Run(ctx, invocation, item.ID)
	if err != nil {
		return fmt.Errorf("audit agent run for %s: %w", item.ID, err)
	}

	body, delimitersFound := ExtractReportBody(result.Output)
	if !delimitersFound {
		r.Logger.LogWarning(fmt.Sprintf("audit %s: no AUDIT REPORT delimiters found, using raw output", item.ID))
	}
	report := Parse(body, delimitersFound, result.Output)

	r.notify(ctx, item, report, result.ExitCode)

	if err := r.postComment(ctx, item, report); err != nil {
		r.Logger.LogWarning(fmt.Sprintf("audit %s: failed to post comment: %v", item.ID, err))
	}

	r.maybeAutoComplete(ctx, item, report)

	return nil
}

func (r *Runner) notify(ctx context.Context, item worklog.Item, report Report, exitCode int) {
	if r.Notifier == nil {
		return
	}

	summary := report.Summary
	if summary == "" {
		summary = firstNonEmptyParagraph(report.RawText)
	}
	if summary == "" {
		summary = fmt.Sprintf("audit exited with code %d", exitCode)
	}

	fields := []notifier.Field{{Name: "Work Item", Value: item.ID, Inline: true}}
	if report.PRURL != "" {
		fields = append(fields, notifier.Field{Name: "PR", Value: report.PRURL, Inline: true})
	}
	if r.GitHubRepo != "" && item.GitHubIssueNumber != 0 {
		fields = append(fields, notifier.Field{
			Name:   "GitHub Issue",
			Value:  fmt.Sprintf("https://github.com/%s/issues/%d", r.GitHubRepo, item.GitHubIssueNumber),
			Inline: true,
		})
	}

	_ = r.Notifier.Notify(ctx, notifier.Notification{
		Title:    fmt.Sprintf("Audit result for %s", item.ID),
		Body:     summary,
		Fields:   fields,
		Severity: notifier.SeverityInfo,
	})
}

func (r *Runner) postComment(ctx context.Context, item worklog.Item, report Report) error {
	limit := r.TruncateChars
	if limit <= 0 {
		limit = defaultTruncateChars
	}

	body := "# AMPA Audit Result\n\n" + r.scrubber.Scrub(report.RawText)

	if len(body) <= limit {
		return r.Worklog.CommentAdd(ctx, item.ID, body, "AMPA")
	}

	tmp, err := os.CreateTemp("", "ampa-audit-report-*.md")
	if err != nil {
		return fmt.Errorf("create temp file for oversized audit report: %w", err)
	}
	path := tmp.Name()

	if _, err := tmp.WriteString(body); err != nil {
		tmp.Close()
		os.Remove(path)
		return fmt.Errorf("write temp file for oversized audit report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(path)
		return fmt.Errorf("close temp file for oversized audit report: %w", err)
	}

	refComment := fmt.Sprintf("# AMPA Audit Result\n\nReport exceeded %d characters; full text at %s", limit, path)
	if err := r.Worklog.CommentAdd(ctx, item.ID, refComment, "AMPA"); err != nil {
		// The file stays put on a failed post so the path in the retry
		// (or the operator's hands) still resolves.
		return err
	}
	if err := os.Remove(path); err != nil {
		r.Logger.LogWarning(fmt.Sprintf("audit %s: failed to remove posted report temp file %s: %v", item.ID, path, err))
	}
	return nil
}

func (r *Runner) maybeAutoComplete(ctx context.Context, item worklog.Item, report Report) {
	if !report.ClosesItem && !report.RawMentionsPRMerged {
		return
	}
	if report.HasOpenChildren(terminalStatuses) {
		return
	}

	if report.PRURL != "" && r.VerifyWithGH {
		if r.GH == nil {
			r.Logger.LogWarning(fmt.Sprintf("audit %s: verify_pr_with_gh is set but no gh client is available; skipping auto-completion", item.ID))
			return
		}
		merged, err := r.GH.IsPRMerged(ctx, report.PRURL)
		if err != nil || !merged {
			r.Logger.LogWarning(fmt.Sprintf("audit %s: gh reports PR not merged (or check failed: %v); skipping auto-completion", item.ID, err))
			return
		}
	}

	needsReview := true
	err := r.Worklog.Update(ctx, item.ID, worklog.UpdateFields{
		Status:              "completed",
		Stage:               "in_review",
		NeedsProducerReview: &needsReview,
	})
	if err != nil {
		r.Logger.LogWarning(fmt.Sprintf("audit %s: auto-completion update failed: %v", item.ID, err))
		return
	}
	_ = r.Worklog.CommentAdd(ctx, item.ID, "# AMPA Audit Result\n\nAuto-completed: audit recommended closure and all acceptance criteria are satisfied.", "AMPA")
}

func firstNonEmptyParagraph(text string) string {
	for _, para := range strings.Split(text, "\n\n") {
		trimmed := strings.TrimSpace(para)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

// GHCLIClient shells out to the `gh` CLI to check PR merge state.
type GHCLIClient struct{}

// IsPRMerged implements GHClient by running `gh pr view <url> --json state`.
func (GHCLIClient) IsPRMerged(ctx context.Context, prURL string) (bool, error) {
	if _, err := exec.LookPath("gh"); err != nil {
		return false, fmt.Errorf("gh CLI not found: %w", err)
	}
	cmd := exec.CommandContext(ctx, "gh", "pr", "view", prURL, "--json", "state")
	out, err := cmd.Output()
	if err != nil {
		return false, fmt.Errorf("gh pr view %s: %w", prURL, err)
	}
	return strings.Contains(strings.ToUpper(string(out)), "MERGED"), nil
}

var _ GHClient = GHCLIClient{}
