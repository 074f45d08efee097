package auditrunner

import "testing"

func TestExtractReportBodyWithDelimiters(t *testing.T) {
	captured := "some agent chatter\n--- AUDIT REPORT START ---\n## Summary\nlooks good\n--- AUDIT REPORT END ---\nmore chatter"
	body, found := ExtractReportBody(captured)
	if !found {
		t.Fatal("expected delimiters to be found")
	}
	if body != "## Summary\nlooks good" {
		t.Errorf("unexpected body: %q", body)
	}
}

func TestExtractReportBodyWithoutDelimiters(t *testing.T) {
	captured := "## Summary\nno delimiters here"
	body, found := ExtractReportBody(captured)
	if found {
		t.Fatal("expected delimiters not found")
	}
	if body != captured {
		t.Errorf("expected fallback to full captured text, got %q", body)
	}
}

func TestParseExtractsSectionsAndClosure(t *testing.T) {
	body := `## Summary
Everything passes review.

## Acceptance Criteria Status
| 1 | Handles empty input | met | verified in test suite |
| 2 | Returns error on timeout | unmet | no test found |

## Recommendation
Can this item be closed? Yes

See https://github.com/org/repo/pull/42 for the change.`

	report := Parse(body, true, body)

	if report.Summary != "Everything passes review." {
		t.Errorf("unexpected summary: %q", report.Summary)
	}
	if len(report.AcceptanceCriteria) != 2 {
		t.Fatalf("expected 2 acceptance criteria rows, got %d", len(report.AcceptanceCriteria))
	}
	if report.AcceptanceCriteria[0].Verdict != "met" {
		t.Errorf("expected first row verdict met, got %q", report.AcceptanceCriteria[0].Verdict)
	}
	if !report.ClosesItem {
		t.Error("expected ClosesItem true")
	}
	if report.PRURL != "https://github.com/org/repo/pull/42" {
		t.Errorf("unexpected PR URL: %q", report.PRURL)
	}
}

func TestParseDoesNotRecommendClosure(t *testing.T) {
	body := "## Recommendation\nCan this item be closed? No, needs more work."
	report := Parse(body, true, body)
	if report.ClosesItem {
		t.Error("expected ClosesItem false")
	}
}

// TestParsePRMergedTokenOutsideDelimitedBody is spec §4.6 step 5(a):
// the "PR merged" token gates auto-completion when it appears anywhere
// in the raw captured output, not only within the delimited report
// body — an agent often prints it in chatter before or after the
// `--- AUDIT REPORT START/END ---` markers. It does not flip
// ClosesItem, which tracks the report's own closure token.
func TestParsePRMergedTokenOutsideDelimitedBody(t *testing.T) {
	raw := "Opening PR... PR merged successfully.\n" +
		"--- AUDIT REPORT START ---\n## Summary\nAll good.\n--- AUDIT REPORT END ---\ndone"
	body, found := ExtractReportBody(raw)
	if !found {
		t.Fatal("expected delimiters to be found")
	}

	report := Parse(body, found, raw)
	if !report.RawMentionsPRMerged {
		t.Error("expected RawMentionsPRMerged true from a token outside the delimited body")
	}
	if report.ClosesItem {
		t.Error("expected ClosesItem false without a closure token in the report body")
	}
}

func TestParseChildrenStatusSubsections(t *testing.T) {
	body := `## Children Status

### WL-abc1 — Wire the widget
Status: completed
Stage: done
| 1 | Widget wired | met | pr linked |

### WL-def2 — Polish the widget
Status: open
Stage: plan_complete
`
	report := Parse(body, true, body)
	if len(report.Children) != 2 {
		t.Fatalf("expected 2 children, got %d: %+v", len(report.Children), report.Children)
	}
	first := report.Children[0]
	if first.ID != "WL-abc1" || first.Title != "Wire the widget" {
		t.Errorf("unexpected first child header parse: %+v", first)
	}
	if first.Status != "completed" || first.Stage != "done" {
		t.Errorf("unexpected first child status/stage: %+v", first)
	}
	if len(first.Criteria) != 1 || first.Criteria[0].Verdict != "met" {
		t.Errorf("unexpected first child criteria: %+v", first.Criteria)
	}
	if report.Children[1].Status != "open" {
		t.Errorf("unexpected second child status: %+v", report.Children[1])
	}

	terminal := map[string]bool{"completed": true, "closed": true}
	if !report.HasOpenChildren(terminal) {
		t.Error("expected the open child to block auto-completion")
	}
}

func TestHasOpenChildren(t *testing.T) {
	terminal := map[string]bool{"completed": true}
	noChildren := Report{}
	allDone := Report{Children: []ChildStatus{{Status: "completed"}}}
	oneOpen := Report{Children: []ChildStatus{{Status: "completed"}, {Status: "open"}}}

	if noChildren.HasOpenChildren(terminal) {
		t.Error("expected no open children for empty list")
	}
	if allDone.HasOpenChildren(terminal) {
		t.Error("expected no open children when all terminal")
	}
	if !oneOpen.HasOpenChildren(terminal) {
		t.Error("expected open children detected")
	}
}
