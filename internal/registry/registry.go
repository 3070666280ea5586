// Package registry declares the workflow phases: which agent runs each one,
// which artifacts it reads and where it writes.
//
// The table is static. Cross-checks against the YAML workflow descriptions
// kept elsewhere in a workspace live in workflow.go and commandmap.go.
package registry

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownPhase is returned when a phase name is not in the registry.
var ErrUnknownPhase = errors.New("unknown phase")

// Phase names one stage of the workflow.
type Phase string

const (
	PhaseSpecify   Phase = "specify"
	PhasePlan      Phase = "plan"
	PhaseTasks     Phase = "tasks"
	PhaseImplement Phase = "implement"
	PhaseVerify    Phase = "verify"
)

// FeaturePlaceholder is substituted with the feature name in output templates.
const FeaturePlaceholder = "{feature}"

// Entry describes a single phase.
type Entry struct {
	Phase  Phase    `json:"phase"`
	Agent  string   `json:"agent"`
	Inputs []string `json:"inputs,omitempty"`
	Output string   `json:"output"`
}

var entries = []Entry{
	{Phase: PhaseSpecify, Agent: "bmad-analyst", Output: "specs/{feature}/spec.md"},
	{Phase: PhasePlan, Agent: "bmad-architect", Inputs: []string{"spec.md"}, Output: "specs/{feature}/plan.md"},
	{Phase: PhaseTasks, Agent: "bmad-pm", Inputs: []string{"spec.md", "plan.md"}, Output: "specs/{feature}/tasks.md"},
	{Phase: PhaseImplement, Agent: "bmad-developer", Inputs: []string{"plan.md", "tasks.md"}, Output: "specs/{feature}/implementation"},
	{Phase: PhaseVerify, Agent: "bmad-qa", Inputs: []string{"spec.md", "plan.md", "tasks.md", "implementation"}, Output: "specs/{feature}/qa-report.md"},
}

// Entries returns a copy of the table in declaration order.
func Entries() []Entry {
	out := make([]Entry, len(entries))
	for i, e := range entries {
		e.Inputs = append([]string(nil), e.Inputs...)
		out[i] = e
	}
	return out
}

// Phases returns every phase in declaration order.
func Phases() []Phase {
	out := make([]Phase, len(entries))
	for i, e := range entries {
		out[i] = e.Phase
	}
	return out
}

// DefaultOrder is the phase order of a full run. Verify is opt-in.
func DefaultOrder(includeVerify bool) []Phase {
	order := []Phase{PhaseSpecify, PhasePlan, PhaseTasks, PhaseImplement}
	if includeVerify {
		order = append(order, PhaseVerify)
	}
	return order
}

// Lookup returns the entry for phase.
func Lookup(phase Phase) (Entry, bool) {
	for _, e := range entries {
		if e.Phase == phase {
			e.Inputs = append([]string(nil), e.Inputs...)
			return e, true
		}
	}
	return Entry{}, false
}

// Index returns the declaration index of phase, or -1.
func Index(phase Phase) int {
	for i, e := range entries {
		if e.Phase == phase {
			return i
		}
	}
	return -1
}

// ParsePhase converts a user-supplied name to a Phase.
func ParsePhase(name string) (Phase, error) {
	p := Phase(strings.TrimSpace(strings.ToLower(name)))
	if Index(p) < 0 {
		return "", fmt.Errorf("%w: %q", ErrUnknownPhase, name)
	}
	return p, nil
}

// OutputFor returns the output path with the feature substituted.
func (e Entry) OutputFor(feature string) string {
	return strings.ReplaceAll(e.Output, FeaturePlaceholder, feature)
}

// NormalizedInputs returns the inputs as workspace-relative templates.
// Bare artifact names are placed under specs/{feature}/.
func (e Entry) NormalizedInputs() []string {
	return normalizeInputs(e.Inputs)
}

func normalizeInputs(inputs []string) []string {
	out := make([]string, 0, len(inputs))
	for _, in := range inputs {
		if strings.Contains(in, "/") {
			out = append(out, in)
			continue
		}
		out = append(out, "specs/"+FeaturePlaceholder+"/"+in)
	}
	return out
}
