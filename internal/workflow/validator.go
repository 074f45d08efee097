package workflow

import (
	"fmt"
	"regexp"
)

// Severity distinguishes a fatal check from an advisory one.
type Severity string

const (
	SeverityError   Severity = "ERROR"
	SeverityWarning Severity = "WARNING"
)

// Finding is one validator violation, tagged with a stable code so
// callers and tests can assert on specific checks rather than message
// text.
type Finding struct {
	Code     string
	Severity Severity
	Message  string
}

func (f Finding) String() string {
	return fmt.Sprintf("[%s] %s: %s", f.Severity, f.Code, f.Message)
}

// Findings collects validator output across all five check families.
type Findings []Finding

// HasErrors reports whether any finding is SeverityError.
func (fs Findings) HasErrors() bool {
	for _, f := range fs {
		if f.Severity == SeverityError {
			return true
		}
	}
	return false
}

// ExitCode maps findings to the spec §4.3 process exit code: 0 if all
// checks pass (warnings allowed), 1 if any ERROR.
func (fs Findings) ExitCode() int {
	if fs.HasErrors() {
		return 1
	}
	return 0
}

var versionPattern = regexp.MustCompile(`^\d+\.\d+\.\d+$`)

// Validator runs the five check families (V-S, V-SM, V-I, V-R, V-D)
// against a loaded Descriptor.
type Validator struct{}

// NewValidator constructs a Validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate runs every check family and returns the combined findings.
// It never stops early — every violation in every family is reported
// in one pass, mirroring the invariant evaluator's "collect everything"
// contract.
func (v *Validator) Validate(d *Descriptor) Findings {
	var out Findings
	out = append(out, v.checkSchema(d)...)
	out = append(out, v.checkStateMachine(d)...)
	out = append(out, v.checkInvariants(d)...)
	out = append(out, v.checkRoles(d)...)
	out = append(out, v.checkDelegation(d)...)
	return out
}

func errf(code, format string, args ...interface{}) Finding {
	return Finding{Code: code, Severity: SeverityError, Message: fmt.Sprintf(format, args...)}
}

func warnf(code, format string, args ...interface{}) Finding {
	return Finding{Code: code, Severity: SeverityWarning, Message: fmt.Sprintf(format, args...)}
}

// checkSchema implements V-S.
func (v *Validator) checkSchema(d *Descriptor) Findings {
	var out Findings

	if d.Version == "" {
		out = append(out, errf("V-S-1", "version is required"))
	} else if !versionPattern.MatchString(d.Version) {
		out = append(out, errf("V-S-2", "version %q does not match ^\\d+\\.\\d+\\.\\d+$", d.Version))
	}

	if len(d.Status) == 0 {
		out = append(out, errf("V-S-3", "status[] must be non-empty"))
	} else if dup := firstDuplicate(d.Status); dup != "" {
		out = append(out, errf("V-S-4", "status[] contains duplicate %q", dup))
	}

	if len(d.Stage) == 0 {
		out = append(out, errf("V-S-5", "stage[] must be non-empty"))
	} else if dup := firstDuplicate(d.Stage); dup != "" {
		out = append(out, errf("V-S-6", "stage[] contains duplicate %q", dup))
	}

	if len(d.Commands) == 0 {
		out = append(out, errf("V-S-7", "commands must have at least one entry"))
	}

	allowedInputTypes := map[InputType]bool{
		InputString: true, InputNumber: true, InputBoolean: true, InputArray: true, InputObject: true,
	}
	allowedWhen := map[When]bool{WhenPre: true, WhenPost: true, WhenBoth: true}

	for name, cmd := range d.Commands {
		if len(cmd.From) == 0 {
			out = append(out, errf("V-S-8", "command %q: from[] is required", name))
		}
		if cmd.To == "" {
			out = append(out, errf("V-S-9", "command %q: to is required", name))
		}
		if cmd.Actor == "" {
			out = append(out, errf("V-S-10", "command %q: actor is required", name))
		}
		if cmd.Description == "" {
			out = append(out, errf("V-S-11", "command %q: description is required", name))
		}
		for field, spec := range cmd.Inputs {
			if !allowedInputTypes[spec.Type] {
				out = append(out, errf("V-S-12", "command %q: input %q has invalid type %q", name, field, spec.Type))
			}
		}
	}

	for _, inv := range d.Invariants {
		if !allowedWhen[inv.When] {
			out = append(out, errf("V-S-13", "invariant %q: when must be pre, post, or both, got %q", inv.Name, inv.When))
		}
	}

	for _, key := range d.UnknownKeys {
		out = append(out, errf("V-S-14", "unknown top-level key %q", key))
	}

	return out
}

// checkStateMachine implements V-SM.
func (v *Validator) checkStateMachine(d *Descriptor) Findings {
	var out Findings

	statusSet := toSet(d.Status)
	stageSet := toSet(d.Stage)

	for alias, st := range d.States {
		if !statusSet[st.Status] {
			out = append(out, errf("V-SM-1", "state %q: status %q is not declared", alias, st.Status))
		}
		if !stageSet[st.Stage] {
			out = append(out, errf("V-SM-1", "state %q: stage %q is not declared", alias, st.Stage))
		}
	}

	reachable := make(map[string]bool)
	for name, cmd := range d.Commands {
		for _, from := range cmd.From {
			if _, ok := d.States[from]; !ok {
				out = append(out, errf("V-SM-2", "command %q: from alias %q does not resolve", name, from))
			}
		}
		if cmd.To != "" {
			if _, ok := d.States[cmd.To]; !ok {
				out = append(out, errf("V-SM-2", "command %q: to alias %q does not resolve", name, cmd.To))
			} else {
				reachable[cmd.To] = true
			}
		}
	}

	// A state with no inbound command (never a `to`) is allowed to be an
	// initial state; it's only suspect if it's also never used as a
	// `from`, meaning no command touches it at all.
	for alias := range d.States {
		if !reachable[alias] && !isReferencedAsFrom(d, alias) {
			out = append(out, warnf("V-SM-3", "state %q is never reachable via any command's to and never used as a from", alias))
		}
	}

	for alias := range d.States {
		if d.IsTerminal(alias) {
			continue
		}
		hasOutbound := false
		for _, cmd := range d.Commands {
			for _, from := range cmd.From {
				if from == alias {
					hasOutbound = true
				}
			}
		}
		if !hasOutbound {
			out = append(out, errf("V-SM-4", "non-terminal state %q has no outbound command", alias))
		}
	}

	for _, t := range d.TerminalStates {
		if _, ok := d.States[t]; !ok {
			out = append(out, errf("V-SM-5", "terminal_states entry %q is not a declared state", t))
		}
	}

	seen := make(map[string]string)
	for alias, st := range d.States {
		key := st.Status + "|" + st.Stage
		if other, ok := seen[key]; ok {
			out = append(out, errf("V-SM-6", "states %q and %q resolve to the same (status, stage) tuple", other, alias))
		} else {
			seen[key] = alias
		}
	}

	return out
}

func isReferencedAsFrom(d *Descriptor, alias string) bool {
	for _, cmd := range d.Commands {
		for _, from := range cmd.From {
			if from == alias {
				return true
			}
		}
	}
	return false
}

// checkInvariants implements V-I.
func (v *Validator) checkInvariants(d *Descriptor) Findings {
	var out Findings

	declared := make(map[string]Invariant)
	for _, inv := range d.Invariants {
		if _, dup := declared[inv.Name]; dup {
			out = append(out, errf("V-I-2", "invariant name %q is duplicated", inv.Name))
		}
		declared[inv.Name] = inv
	}

	for name, cmd := range d.Commands {
		for _, ref := range cmd.Pre {
			inv, ok := declared[ref]
			if !ok {
				out = append(out, errf("V-I-1", "command %q: pre references undeclared invariant %q", name, ref))
				continue
			}
			if inv.When == WhenPost {
				out = append(out, warnf("V-I-3", "invariant %q declared when=post is used in pre[] of command %q", ref, name))
			}
		}
		for _, ref := range cmd.Post {
			inv, ok := declared[ref]
			if !ok {
				out = append(out, errf("V-I-1", "command %q: post references undeclared invariant %q", name, ref))
				continue
			}
			if inv.When == WhenPre {
				out = append(out, warnf("V-I-3", "invariant %q declared when=pre is used in post[] of command %q", ref, name))
			}
		}
	}

	return out
}

// checkRoles implements V-R.
func (v *Validator) checkRoles(d *Descriptor) Findings {
	var out Findings

	roles := toSet(d.Metadata.Roles)
	if dup := firstDuplicate(d.Metadata.Roles); dup != "" {
		out = append(out, errf("V-R-2", "role %q is declared more than once", dup))
	}

	for name, cmd := range d.Commands {
		if cmd.Actor == "" {
			continue // already reported by V-S-10
		}
		if !roles[cmd.Actor] {
			out = append(out, errf("V-R-1", "command %q: actor %q is not a declared role", name, cmd.Actor))
		}
	}

	return out
}

// checkDelegation implements V-D.
func (v *Validator) checkDelegation(d *Descriptor) Findings {
	var out Findings

	if cmd, ok := d.Commands["delegate"]; ok {
		for _, required := range []string{"requires_work_item_context", "requires_acceptance_criteria", "no_in_progress_items"} {
			if !containsString(cmd.Pre, required) {
				out = append(out, errf("V-D-1", "command \"delegate\": pre[] must include %q", required))
			}
		}
		if cmd.Actor != "PM" {
			out = append(out, errf("V-D-5", "command \"delegate\": actor must be PM, got %q", cmd.Actor))
		}
	} else {
		out = append(out, errf("V-D-1", "command \"delegate\" is not declared"))
	}

	if cmd, ok := d.Commands["close_with_audit"]; ok {
		if !containsString(cmd.Pre, "audit_recommends_closure") {
			out = append(out, errf("V-D-2", "command \"close_with_audit\": pre[] must include \"audit_recommends_closure\""))
		}
	} else {
		out = append(out, errf("V-D-2", "command \"close_with_audit\" is not declared"))
	}

	if cmd, ok := d.Commands["audit_fail"]; ok {
		if !containsString(cmd.Pre, "audit_does_not_recommend_closure") {
			out = append(out, errf("V-D-3", "command \"audit_fail\": pre[] must include \"audit_does_not_recommend_closure\""))
		}
	} else {
		out = append(out, errf("V-D-3", "command \"audit_fail\" is not declared"))
	}

	if cmd, ok := d.Commands["escalate"]; ok {
		spec, ok := cmd.Inputs["reason"]
		if !ok || !spec.Required {
			out = append(out, errf("V-D-4", "command \"escalate\": inputs.reason must be declared with required:true"))
		}
	} else {
		out = append(out, errf("V-D-4", "command \"escalate\" is not declared"))
	}

	return out
}

func firstDuplicate(items []string) string {
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		if seen[item] {
			return item
		}
		seen[item] = true
	}
	return ""
}

func toSet(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, item := range items {
		out[item] = true
	}
	return out
}

func containsString(items []string, target string) bool {
	for _, item := range items {
		if item == target {
			return true
		}
	}
	return false
}
