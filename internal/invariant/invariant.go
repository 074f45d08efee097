// Package invariant evaluates the canonical named predicates (spec
// §4.4) against a work item and backlog context.
package invariant

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/andywolf/ampa/internal/worklog"
)

// Result is the outcome of evaluating one invariant.
type Result struct {
	Name   string
	OK     bool
	Detail string
}

// Context bundles the inputs an invariant predicate may need.
type Context struct {
	Item    worklog.Item
	Backlog []worklog.Item
}

// Predicate is a pure function over a Context.
type Predicate func(ctx Context) Result

var acceptanceCriteriaPattern = regexp.MustCompile(`(?i)acceptance criteria|- \[[ xX]\]`)
var approvalPattern = regexp.MustCompile(`(?im)^Approved by \w+`)
var testPlanPattern = regexp.MustCompile(`(?i)https?://\S+test.plan\S*|## Testing|## Tests`)

const (
	closureYesToken = "can this item be closed? yes"
	closureNoToken  = "can this item be closed? no"
	auditHeading    = "# AMPA Audit Result"
)

var delegationStages = map[string]bool{"idea": true, "intake_complete": true, "plan_complete": true}
var doNotDelegateTags = map[string]bool{"do-not-delegate": true, "do_not_delegate": true}

// Registry is the canonical, closed set of evaluable invariant names.
// Unlike the teacher's open agent registry, this is deliberately a
// fixed map — the spec's invariant set is not meant to be
// user-extensible at runtime (spec §9 re-architecture note).
var Registry = map[string]Predicate{
	"requires_work_item_context":      requiresWorkItemContext,
	"requires_acceptance_criteria":    requiresAcceptanceCriteria,
	"requires_stage_for_delegation":   requiresStageForDelegation,
	"not_do_not_delegate":             notDoNotDelegate,
	"no_in_progress_items":            noInProgressItems,
	"requires_audit_result":           requiresAuditResult,
	"audit_recommends_closure":        auditRecommendsClosure,
	"audit_does_not_recommend_closure": auditDoesNotRecommendClosure,
	"requires_approvals":              requiresApprovals,
	"requires_tests":                  requiresTests,
}

// Evaluate looks up name in Registry and runs it. An unknown name is
// itself a failing result rather than a panic — the workflow validator
// is responsible for catching unknown references before this ever runs.
func Evaluate(name string, ctx Context) Result {
	pred, ok := Registry[name]
	if !ok {
		return Result{Name: name, OK: false, Detail: fmt.Sprintf("unknown invariant %q", name)}
	}
	return pred(ctx)
}

// EvaluateAll evaluates every name in names and collects every result —
// it never stops at the first failure, so callers can surface every
// failed precondition in one report (spec §4.4, tested by T-IE-06).
func EvaluateAll(names []string, ctx Context) []Result {
	results := make([]Result, 0, len(names))
	for _, name := range names {
		results = append(results, Evaluate(name, ctx))
	}
	return results
}

// Failures filters a result set down to the failing ones.
func Failures(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.OK {
			out = append(out, r)
		}
	}
	return out
}

func requiresWorkItemContext(ctx Context) Result {
	ok := len(ctx.Item.Description) > 100
	return Result{Name: "requires_work_item_context", OK: ok,
		Detail: fmt.Sprintf("description length %d (need > 100)", len(ctx.Item.Description))}
}

func requiresAcceptanceCriteria(ctx Context) Result {
	ok := acceptanceCriteriaPattern.MatchString(ctx.Item.Description)
	detail := "acceptance criteria section or checkbox found"
	if !ok {
		detail = "no 'acceptance criteria' mention or checkbox (- [ ] / - [x]) found in description"
	}
	return Result{Name: "requires_acceptance_criteria", OK: ok, Detail: detail}
}

func requiresStageForDelegation(ctx Context) Result {
	ok := delegationStages[ctx.Item.Stage]
	return Result{Name: "requires_stage_for_delegation", OK: ok,
		Detail: fmt.Sprintf("stage %q (need idea, intake_complete, or plan_complete)", ctx.Item.Stage)}
}

func notDoNotDelegate(ctx Context) Result {
	for _, tag := range ctx.Item.Tags {
		if doNotDelegateTags[strings.ToLower(tag)] {
			return Result{Name: "not_do_not_delegate", OK: false, Detail: fmt.Sprintf("tag %q blocks delegation", tag)}
		}
	}
	if truthy(ctx.Item.Metadata["do_not_delegate"]) || truthy(ctx.Item.Metadata["no_delegation"]) {
		return Result{Name: "not_do_not_delegate", OK: false, Detail: "metadata flag do_not_delegate/no_delegation is set"}
	}
	return Result{Name: "not_do_not_delegate", OK: true, Detail: "no do-not-delegate marker found"}
}

func noInProgressItems(ctx Context) Result {
	for _, w := range ctx.Backlog {
		if w.ID == ctx.Item.ID {
			continue
		}
		if w.Status == "in_progress" {
			return Result{Name: "no_in_progress_items", OK: false, Detail: fmt.Sprintf("%s is already in_progress", w.ID)}
		}
	}
	return Result{Name: "no_in_progress_items", OK: true, Detail: "no other item is in_progress"}
}

func requiresAuditResult(ctx Context) Result {
	comment, ok := ctx.Item.LatestComment()
	if !ok || !strings.Contains(comment.Body, auditHeading) {
		return Result{Name: "requires_audit_result", OK: false, Detail: "latest comment does not contain '# AMPA Audit Result'"}
	}
	return Result{Name: "requires_audit_result", OK: true, Detail: "latest comment carries an audit result"}
}

func auditRecommendsClosure(ctx Context) Result {
	ok := latestAuditCommentContains(ctx.Item, closureYesToken)
	return Result{Name: "audit_recommends_closure", OK: ok, Detail: closureDetail(ok, "Yes")}
}

func auditDoesNotRecommendClosure(ctx Context) Result {
	ok := latestAuditCommentContains(ctx.Item, closureNoToken)
	return Result{Name: "audit_does_not_recommend_closure", OK: ok, Detail: closureDetail(ok, "No")}
}

func closureDetail(ok bool, want string) string {
	if ok {
		return fmt.Sprintf("latest AMPA audit comment says 'Can this item be closed? %s'", want)
	}
	return fmt.Sprintf("latest AMPA audit comment does not say 'Can this item be closed? %s'", want)
}

func latestAuditCommentContains(item worklog.Item, token string) bool {
	for i := len(item.Comments) - 1; i >= 0; i-- {
		c := item.Comments[i]
		if !strings.Contains(c.Body, auditHeading) {
			continue
		}
		return strings.Contains(strings.ToLower(c.Body), token)
	}
	return false
}

func requiresApprovals(ctx Context) Result {
	for _, c := range ctx.Item.Comments {
		if approvalPattern.MatchString(c.Body) {
			return Result{Name: "requires_approvals", OK: true, Detail: "found an 'Approved by <Role>' comment"}
		}
	}
	return Result{Name: "requires_approvals", OK: false, Detail: "no 'Approved by <Role>' comment found"}
}

func requiresTests(ctx Context) Result {
	ok := testPlanPattern.MatchString(ctx.Item.Description)
	detail := "description references a test plan or Testing/Tests section"
	if !ok {
		detail = "description has no test plan link or ## Testing / ## Tests section"
	}
	return Result{Name: "requires_tests", OK: ok, Detail: detail}
}

func truthy(v interface{}) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		lower := strings.ToLower(t)
		return lower == "true" || lower == "1" || lower == "yes"
	default:
		return false
	}
}
