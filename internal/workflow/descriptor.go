// Package workflow loads and validates the declarative work-item state
// machine that gates delegation and audit behavior.
package workflow

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// When is the invariant attachment point on a command.
type When string

const (
	WhenPre  When = "pre"
	WhenPost When = "post"
	WhenBoth When = "both"
)

// InputType is the allowed set of command input field types.
type InputType string

const (
	InputString  InputType = "string"
	InputNumber  InputType = "number"
	InputBoolean InputType = "boolean"
	InputArray   InputType = "array"
	InputObject  InputType = "object"
)

// State names a declared (status, stage) pair.
type State struct {
	Status string `yaml:"status"`
	Stage  string `yaml:"stage"`
}

// Invariant is a named predicate reference attached to commands.
type Invariant struct {
	Name       string `yaml:"name"`
	When       When   `yaml:"when"`
	Expression string `yaml:"expression"`
}

// InputSpec declares a single command input field.
type InputSpec struct {
	Type     InputType `yaml:"type"`
	Required bool      `yaml:"required"`
}

// Effects lists the side effects a command may apply on success.
type Effects struct {
	SetAssignee            string   `yaml:"set_assignee,omitempty"`
	AddTags                []string `yaml:"add_tags,omitempty"`
	RemoveTags             []string `yaml:"remove_tags,omitempty"`
	SetNeedsProducerReview *bool    `yaml:"set_needs_producer_review,omitempty"`
	Notifications          []string `yaml:"notifications,omitempty"`
}

// Command is a transition in the state machine.
type Command struct {
	Name        string               `yaml:"-"`
	From        []string             `yaml:"from"`
	To          string               `yaml:"to"`
	Actor       string               `yaml:"actor"`
	Description string               `yaml:"description"`
	Pre         []string             `yaml:"pre"`
	Post        []string             `yaml:"post"`
	Inputs      map[string]InputSpec `yaml:"inputs"`
	Effects     Effects              `yaml:"effects"`
}

// Metadata holds descriptor-wide metadata.
type Metadata struct {
	Roles []string `yaml:"roles"`
}

// Descriptor is the authoritative state machine document (spec §3).
type Descriptor struct {
	Version        string             `yaml:"version"`
	Status         []string           `yaml:"status"`
	Stage          []string           `yaml:"stage"`
	States         map[string]State   `yaml:"states"`
	TerminalStates []string           `yaml:"terminal_states"`
	Invariants     []Invariant        `yaml:"invariants"`
	Commands       map[string]Command `yaml:"commands"`
	Metadata       Metadata           `yaml:"metadata"`

	// UnknownKeys records top-level document keys that are not part of
	// the descriptor schema, collected at load time for the validator.
	UnknownKeys []string `yaml:"-"`
}

var knownTopLevelKeys = map[string]bool{
	"version": true, "status": true, "stage": true, "states": true,
	"terminal_states": true, "invariants": true, "commands": true,
	"metadata": true,
}

// Load reads and parses a workflow descriptor from path. It does not
// validate — callers run Validate (or ValidateAll) separately so a
// caller can choose to surface warnings without refusing to start.
func Load(path string) (*Descriptor, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow descriptor %s: %w", path, err)
	}

	var d Descriptor
	if err := yaml.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("parse workflow descriptor %s: %w", path, err)
	}
	for name, cmd := range d.Commands {
		cmd.Name = name
		d.Commands[name] = cmd
	}

	var top map[string]yaml.Node
	if err := yaml.Unmarshal(raw, &top); err == nil {
		for key := range top {
			if !knownTopLevelKeys[key] {
				d.UnknownKeys = append(d.UnknownKeys, key)
			}
		}
		sort.Strings(d.UnknownKeys)
	}
	return &d, nil
}

// StateAlias returns the alias whose (status, stage) matches, if any.
func (d *Descriptor) StateAlias(status, stage string) (string, bool) {
	for alias, st := range d.States {
		if st.Status == status && st.Stage == stage {
			return alias, true
		}
	}
	return "", false
}

// IsTerminal reports whether alias is declared as a terminal state.
func (d *Descriptor) IsTerminal(alias string) bool {
	for _, t := range d.TerminalStates {
		if t == alias {
			return true
		}
	}
	return false
}

// InvariantNamed returns the invariant with the given name, if declared.
func (d *Descriptor) InvariantNamed(name string) (Invariant, bool) {
	for _, inv := range d.Invariants {
		if inv.Name == name {
			return inv, true
		}
	}
	return Invariant{}, false
}
