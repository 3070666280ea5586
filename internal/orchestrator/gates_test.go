package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/epieczko/claude-code-riskexec/internal/phases"
	"github.com/epieczko/claude-code-riskexec/internal/registry"
	"github.com/epieczko/claude-code-riskexec/internal/secrets"
)

func writeArtifact(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestValidationGate(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, "spec.md", "# Thin\n\nNothing here.\n")
	state := GateState{FeatureDir: dir, Phase: registry.PhaseSpecify}

	lenient, err := NewValidationGate(false).Check(context.Background(), state)
	require.NoError(t, err)
	require.NotEmpty(t, lenient)
	for _, v := range lenient {
		assert.Equal(t, SeverityWarning, v.Severity)
		assert.Equal(t, "artifact-validation", v.Gate)
	}

	strict, err := NewValidationGate(true).Check(context.Background(), state)
	require.NoError(t, err)
	assert.Contains(t, strict, Violation{
		Gate:        "artifact-validation",
		Phase:       registry.PhaseSpecify,
		Description: "At least one acceptance criteria block is required.",
		Severity:    SeverityError,
	})
}

func TestValidationGate_SkipsImplement(t *testing.T) {
	v, err := NewValidationGate(true).Check(context.Background(), GateState{FeatureDir: t.TempDir(), Phase: registry.PhaseImplement})
	require.NoError(t, err)
	assert.Empty(t, v)
}

type fakeScrubber struct{ findings []secrets.Finding }

func (f fakeScrubber) Scrub(content string) *secrets.Result {
	return &secrets.Result{Scrubbed: content, Findings: f.findings}
}

func (fakeScrubber) IsEnabled() bool { return true }

func TestSecretsGate(t *testing.T) {
	path := writeArtifact(t, t.TempDir(), "plan.md", "# Plan\n")
	state := GateState{Phase: registry.PhasePlan, Result: &phases.Result{OutputPath: path}}

	v, err := NewSecretsGate(fakeScrubber{findings: []secrets.Finding{{RuleID: "aws-access-token", Line: 3}}}).Check(context.Background(), state)
	require.NoError(t, err)
	require.Len(t, v, 1)
	assert.Equal(t, SeverityError, v[0].Severity)
	assert.Equal(t, "aws-access-token on line 3 of plan.md", v[0].Description)

	v, err = NewSecretsGate(secrets.Noop{}).Check(context.Background(), state)
	require.NoError(t, err)
	assert.Empty(t, v)
}

func TestSecretsGate_IgnoresDirectories(t *testing.T) {
	state := GateState{Phase: registry.PhaseImplement, Result: &phases.Result{OutputPath: t.TempDir()}}
	v, err := NewSecretsGate(fakeScrubber{findings: []secrets.Finding{{RuleID: "x"}}}).Check(context.Background(), state)
	require.NoError(t, err)
	assert.Empty(t, v)
}

func TestQAReportGate(t *testing.T) {
	dir := t.TempDir()
	check := func(content string) []Violation {
		path := writeArtifact(t, dir, "qa-report.md", content)
		v, err := QAReportGate{}.Check(context.Background(), GateState{
			Phase:  registry.PhaseVerify,
			Result: &phases.Result{OutputPath: path},
		})
		require.NoError(t, err)
		return v
	}

	assert.Empty(t, check("# QA\n\nok  example.com/pkg 0.012s\n"))
	assert.Len(t, check("Usage: speckit [flags]\n\nOptions:\n  -h, --help\n"), 1)
	empty := check("  \n")
	require.Len(t, empty, 1)
	assert.Equal(t, SeverityError, empty[0].Severity)
}

func TestIsHelpOutput(t *testing.T) {
	assert.False(t, isHelpOutput(""))
	assert.True(t, isHelpOutput("usage: go test [flags]"))
	assert.False(t, isHelpOutput("usage: see below\nPASS: 12 tests"))
}
