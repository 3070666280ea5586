package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/epieczko/claude-code-riskexec/internal/analytics"
	"github.com/epieczko/claude-code-riskexec/internal/phases"
	"github.com/epieczko/claude-code-riskexec/internal/registry"
)

// DefaultFeature is used when a run names no feature.
const DefaultFeature = "Feature-A"

// Precedence decides between an explicit phase list and ResumeFrom.
type Precedence string

const (
	// PrecedenceExplicit lets Options.Phases win over ResumeFrom.
	PrecedenceExplicit Precedence = "explicit"
	// PrecedenceResume lets ResumeFrom win over Options.Phases.
	PrecedenceResume Precedence = "resume"
)

// ParsePrecedence accepts "" (explicit), "explicit" or "resume".
func ParsePrecedence(s string) (Precedence, error) {
	switch Precedence(strings.ToLower(strings.TrimSpace(s))) {
	case "", PrecedenceExplicit:
		return PrecedenceExplicit, nil
	case PrecedenceResume:
		return PrecedenceResume, nil
	default:
		return "", fmt.Errorf("unknown phase precedence %q", s)
	}
}

// Options configure one run.
type Options struct {
	Feature        string
	Brief          string
	Phases         []string
	ResumeFrom     string
	ResumeTask     string
	DryRun         bool
	RebuildContext bool
	WorkspaceRoot  string
}

// PhaseStatus is a progress state of a phase within a run.
type PhaseStatus string

const (
	StatusPending   PhaseStatus = "pending"
	StatusRunning   PhaseStatus = "running"
	StatusCompleted PhaseStatus = "completed"
	StatusFailed    PhaseStatus = "failed"
	StatusSkipped   PhaseStatus = "skipped"
)

// PhaseProgress reports a phase transition.
type PhaseProgress struct {
	RunID      string         `json:"runId"`
	Phase      registry.Phase `json:"phase"`
	Status     PhaseStatus    `json:"status"`
	Message    string         `json:"message"`
	Percentage int            `json:"percentage"`
}

// ProgressCallback receives progress updates during a run.
type ProgressCallback func(progress PhaseProgress)

// ConfigurationError is raised before any phase runs when the requested
// order cannot be executed.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string { return e.Reason }

// Severity of a gate violation.
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Violation is one finding of a gate.
type Violation struct {
	Gate        string         `json:"gate"`
	Phase       registry.Phase `json:"phase"`
	Description string         `json:"description"`
	Severity    Severity       `json:"severity"`
}

// GateError fails a run whose gate reported error-severity violations.
type GateError struct {
	Phase      registry.Phase
	Violations []Violation
}

func (e *GateError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, fmt.Sprintf("[%s] %s", v.Gate, v.Description))
	}
	return fmt.Sprintf("gate violation for phase %s: %s", e.Phase, strings.Join(parts, "; "))
}

// GateState is what a gate sees after a phase succeeded.
type GateState struct {
	Feature       string
	FeatureDir    string
	WorkspaceRoot string
	Phase         registry.Phase
	Result        *phases.Result
}

// Gate checks a phase's outcome.
type Gate interface {
	Name() string
	Check(ctx context.Context, state GateState) ([]Violation, error)
}

// MetricsRecorder receives aggregate run metrics.
type MetricsRecorder interface {
	Record(ctx context.Context, m analytics.Metrics, feature, phase string) analytics.Payload
}
