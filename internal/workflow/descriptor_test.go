package workflow

import "testing"

// TestCanonicalWorkflowYAMLValidates loads the repo's shipped workflow.yaml
// and confirms it passes every validator family with zero errors. It is the
// executable counterpart to the in-code canonicalDescriptor fixture above:
// that fixture pins the validator's behavior, this one pins the file
// operators actually run the daemon against.
func TestCanonicalWorkflowYAMLValidates(t *testing.T) {
	d, err := Load("../../workflow.yaml")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(d.UnknownKeys) != 0 {
		t.Errorf("workflow.yaml carries unknown top-level keys: %v", d.UnknownKeys)
	}

	findings := NewValidator().Validate(d)
	for _, f := range findings {
		if f.Severity == SeverityError {
			t.Errorf("unexpected error finding: %s", f)
		}
	}

	for _, name := range []string{
		"requires_work_item_context",
		"requires_acceptance_criteria",
		"requires_stage_for_delegation",
		"not_do_not_delegate",
		"no_in_progress_items",
		"requires_audit_result",
		"audit_recommends_closure",
		"audit_does_not_recommend_closure",
		"requires_approvals",
		"requires_tests",
	} {
		if _, ok := d.InvariantNamed(name); !ok {
			t.Errorf("workflow.yaml does not declare invariant %q", name)
		}
	}
}
