package orchestrator

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/epieczko/claude-code-riskexec/internal/registry"
	"github.com/epieczko/claude-code-riskexec/internal/secrets"
	"github.com/epieczko/claude-code-riskexec/internal/validate"
)

// ValidationGate runs the artifact validators after specify, plan and tasks.
type ValidationGate struct {
	// Strict turns validator errors into blocking violations. Otherwise
	// everything is reported as a warning.
	Strict bool
}

// NewValidationGate returns a ValidationGate.
func NewValidationGate(strict bool) *ValidationGate {
	return &ValidationGate{Strict: strict}
}

// Name returns the gate identifier.
func (g *ValidationGate) Name() string { return "artifact-validation" }

// Check validates the artifact the phase wrote.
func (g *ValidationGate) Check(_ context.Context, state GateState) ([]Violation, error) {
	res, err := validate.ForPhase(state.Phase, state.FeatureDir)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, nil
	}

	errSeverity := SeverityWarning
	if g.Strict {
		errSeverity = SeverityError
	}
	violations := make([]Violation, 0, len(res.Errors)+len(res.Warnings))
	for _, msg := range res.Errors {
		violations = append(violations, Violation{Gate: g.Name(), Phase: state.Phase, Description: msg, Severity: errSeverity})
	}
	for _, msg := range res.Warnings {
		violations = append(violations, Violation{Gate: g.Name(), Phase: state.Phase, Description: msg, Severity: SeverityWarning})
	}
	return violations, nil
}

// SecretsGate scans a phase's output file for credentials.
type SecretsGate struct {
	scrubber secrets.Scrubber
}

// NewSecretsGate returns a gate backed by s.
func NewSecretsGate(s secrets.Scrubber) *SecretsGate {
	return &SecretsGate{scrubber: s}
}

// Name returns the gate identifier.
func (g *SecretsGate) Name() string { return "secret-scan" }

// Check blocks when the phase output contains a detectable secret.
func (g *SecretsGate) Check(_ context.Context, state GateState) ([]Violation, error) {
	if g.scrubber == nil || !g.scrubber.IsEnabled() || state.Result == nil {
		return nil, nil
	}
	info, err := os.Stat(state.Result.OutputPath)
	if err != nil || info.IsDir() {
		return nil, nil
	}
	content, err := os.ReadFile(state.Result.OutputPath)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", state.Result.OutputPath, err)
	}

	var violations []Violation
	for _, f := range g.scrubber.Scrub(string(content)).Findings {
		violations = append(violations, Violation{
			Gate:        g.Name(),
			Phase:       state.Phase,
			Description: fmt.Sprintf("%s on line %d of %s", f.RuleID, f.Line, info.Name()),
			Severity:    SeverityError,
		})
	}
	return violations, nil
}

// QAReportGate flags a verify report that only echoes CLI help text.
type QAReportGate struct{}

// Name returns the gate identifier.
func (QAReportGate) Name() string { return "qa-report" }

// Check inspects qa-report.md after verify.
func (g QAReportGate) Check(_ context.Context, state GateState) ([]Violation, error) {
	if state.Phase != registry.PhaseVerify || state.Result == nil {
		return nil, nil
	}
	content, err := os.ReadFile(state.Result.OutputPath)
	if err != nil {
		return nil, fmt.Errorf("read qa report: %w", err)
	}
	if strings.TrimSpace(string(content)) == "" {
		return []Violation{{Gate: g.Name(), Phase: state.Phase, Description: "qa report is empty", Severity: SeverityError}}, nil
	}
	if isHelpOutput(string(content)) {
		return []Violation{{
			Gate:        g.Name(),
			Phase:       state.Phase,
			Description: "qa report contains --help output instead of test results",
			Severity:    SeverityWarning,
		}}, nil
	}
	return nil, nil
}

var (
	helpPatterns = []string{"usage:", "-h, --help", "show this help", "options:"}
	testPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(pass|fail|error).*\d+`),
		regexp.MustCompile(`(?i)test.*\([\d.]+s\)`),
		regexp.MustCompile(`✓|✗`),
		regexp.MustCompile(`(?i)ok\s+\S+\s+[\d.]+s`),
		regexp.MustCompile(`(?i)test suites?:\s*\d+`),
	}
)

// isHelpOutput reports whether output looks like help text with no test
// results in it.
func isHelpOutput(output string) bool {
	lower := strings.ToLower(output)
	help := false
	for _, p := range helpPatterns {
		if strings.Contains(lower, p) {
			help = true
			break
		}
	}
	if !help {
		return false
	}
	for _, re := range testPatterns {
		if re.MatchString(output) {
			return false
		}
	}
	return true
}

// DefaultGates registers the standard gates on o.
func DefaultGates(o *Orchestrator, strict bool, scrubber secrets.Scrubber) {
	v := NewValidationGate(strict)
	for _, p := range []registry.Phase{registry.PhaseSpecify, registry.PhasePlan, registry.PhaseTasks} {
		o.RegisterGate(p, v)
	}
	if scrubber != nil {
		s := NewSecretsGate(scrubber)
		for _, e := range registry.Entries() {
			o.RegisterGate(e.Phase, s)
		}
	}
	o.RegisterGate(registry.PhaseVerify, QAReportGate{})
}
