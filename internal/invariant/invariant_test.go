package invariant

import (
	"testing"

	"github.com/andywolf/ampa/internal/worklog"
)

func TestRequiresWorkItemContext(t *testing.T) {
	short := worklog.Item{Description: "too short"}
	long := worklog.Item{Description: string(make([]byte, 150))}

	if Evaluate("requires_work_item_context", Context{Item: short}).OK {
		t.Error("expected short description to fail")
	}
	if !Evaluate("requires_work_item_context", Context{Item: long}).OK {
		t.Error("expected long description to pass")
	}
}

func TestRequiresAcceptanceCriteria(t *testing.T) {
	withAC := worklog.Item{Description: "Acceptance Criteria: must work"}
	withCheckbox := worklog.Item{Description: "- [ ] ship it"}
	without := worklog.Item{Description: "nothing relevant here"}

	if !Evaluate("requires_acceptance_criteria", Context{Item: withAC}).OK {
		t.Error("expected AC text to pass")
	}
	if !Evaluate("requires_acceptance_criteria", Context{Item: withCheckbox}).OK {
		t.Error("expected checkbox to pass")
	}
	if Evaluate("requires_acceptance_criteria", Context{Item: without}).OK {
		t.Error("expected no AC marker to fail")
	}
}

func TestNotDoNotDelegate(t *testing.T) {
	tagged := worklog.Item{Tags: []string{"Do-Not-Delegate"}}
	flagged := worklog.Item{Metadata: map[string]interface{}{"do_not_delegate": true}}
	clean := worklog.Item{Tags: []string{"backend"}}

	if Evaluate("not_do_not_delegate", Context{Item: tagged}).OK {
		t.Error("expected tag to block delegation")
	}
	if Evaluate("not_do_not_delegate", Context{Item: flagged}).OK {
		t.Error("expected metadata flag to block delegation")
	}
	if !Evaluate("not_do_not_delegate", Context{Item: clean}).OK {
		t.Error("expected clean item to pass")
	}
}

func TestNoInProgressItems(t *testing.T) {
	item := worklog.Item{ID: "WL-1"}
	backlogClear := []worklog.Item{{ID: "WL-1", Status: "open"}, {ID: "WL-2", Status: "open"}}
	backlogBusy := []worklog.Item{{ID: "WL-1", Status: "open"}, {ID: "WL-2", Status: "in_progress"}}

	if !Evaluate("no_in_progress_items", Context{Item: item, Backlog: backlogClear}).OK {
		t.Error("expected clear backlog to pass")
	}
	if Evaluate("no_in_progress_items", Context{Item: item, Backlog: backlogBusy}).OK {
		t.Error("expected busy backlog to fail")
	}
}

func TestAuditClosureRecommendation(t *testing.T) {
	item := worklog.Item{Comments: []worklog.Comment{
		{Body: "# AMPA Audit Result\nCan this item be closed? Yes"},
	}}
	if !Evaluate("audit_recommends_closure", Context{Item: item}).OK {
		t.Error("expected closure recommendation to pass")
	}
	if Evaluate("audit_does_not_recommend_closure", Context{Item: item}).OK {
		t.Error("expected does-not-recommend to fail when recommendation is Yes")
	}
}

func TestEvaluateAllCollectsAllFailures(t *testing.T) {
	item := worklog.Item{
		Description: "",
		Tags:        []string{"do-not-delegate"},
	}
	results := EvaluateAll([]string{
		"requires_work_item_context",
		"requires_acceptance_criteria",
		"not_do_not_delegate",
	}, Context{Item: item})

	failures := Failures(results)
	if len(failures) != 3 {
		t.Fatalf("expected all 3 invariants to fail, got %d: %v", len(failures), failures)
	}
}
