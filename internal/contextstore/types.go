// Package contextstore persists the structured context derived from each
// phase's Markdown artifact and parses that context back out of Markdown.
//
// Snapshots live at <root>/specs/<feature>/context/<phase>.json as a
// versioned Envelope. Reads are permissive: a missing or malformed file is
// reported as absent so the workflow can fall back to rebuilding from the
// artifact.
package contextstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/epieczko/claude-code-riskexec/internal/registry"
)

// SchemaVersion is the envelope version written by this package.
const SchemaVersion = 1

// ErrUnknownPhase is returned for phases that carry no derived context.
var ErrUnknownPhase = errors.New("phase has no context")

// Phases lists the phases that produce a context, in workflow order.
var Phases = []registry.Phase{registry.PhaseSpecify, registry.PhasePlan, registry.PhaseTasks}

// HasContext reports whether phase produces a context envelope.
func HasContext(phase registry.Phase) bool {
	_, ok := decoders[phase]
	return ok
}

// Envelope is the persisted unit for one phase.
type Envelope struct {
	Feature       string          `json:"feature"`
	Phase         registry.Phase  `json:"phase"`
	SavedAt       string          `json:"savedAt"`
	SchemaVersion int             `json:"schemaVersion"`
	Data          json.RawMessage `json:"data"`
}

// Decode returns the typed payload selected by the envelope's phase.
func (e *Envelope) Decode() (PhaseContext, error) {
	decode, ok := decoders[e.Phase]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPhase, e.Phase)
	}
	return decode(e.Data)
}

// Time parses SavedAt.
func (e *Envelope) Time() (time.Time, error) {
	return time.Parse(time.RFC3339Nano, e.SavedAt)
}

// PhaseContext is one of *SpecContext, *PlanContext or *TaskContext.
type PhaseContext interface {
	Phase() registry.Phase
}

// Requirement is a checklist item under "Functional Requirements".
type Requirement struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Completed bool   `json:"completed"`
}

// SpecContext is derived from spec.md.
type SpecContext struct {
	Requirements  []Requirement `json:"requirements"`
	OpenQuestions []string      `json:"openQuestions"`
}

func (*SpecContext) Phase() registry.Phase { return registry.PhaseSpecify }

// Completed returns the number of checked requirements.
func (c *SpecContext) Completed() int {
	n := 0
	for _, r := range c.Requirements {
		if r.Completed {
			n++
		}
	}
	return n
}

// PlanContext is derived from plan.md.
type PlanContext struct {
	Architecture []string `json:"architecture"`
	Risks        []string `json:"risks"`
}

func (*PlanContext) Phase() registry.Phase { return registry.PhasePlan }

// TaskItem is one checklist task with the lines that follow it.
type TaskItem struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Completed  bool     `json:"completed"`
	References []string `json:"references"`
	Notes      []string `json:"notes"`
	Raw        string   `json:"raw"`
}

// TaskContext is derived from tasks.md.
type TaskContext struct {
	Tasks    []TaskItem `json:"tasks"`
	Progress string     `json:"progress"`
}

func (*TaskContext) Phase() registry.Phase { return registry.PhaseTasks }

// Completed returns the number of checked tasks.
func (c *TaskContext) Completed() int {
	n := 0
	for _, t := range c.Tasks {
		if t.Completed {
			n++
		}
	}
	return n
}

var decoders = map[registry.Phase]func(json.RawMessage) (PhaseContext, error){
	registry.PhaseSpecify: decodeInto[SpecContext],
	registry.PhasePlan:    decodeInto[PlanContext],
	registry.PhaseTasks:   decodeInto[TaskContext],
}

func decodeInto[T any, P interface {
	*T
	PhaseContext
}](data json.RawMessage) (PhaseContext, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("failed to decode context data: %w", err)
	}
	return P(&v), nil
}

// formatSavedAt renders t in UTC with millisecond precision.
func formatSavedAt(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}
