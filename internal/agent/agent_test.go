package agent

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/epieczko/claude-code-riskexec/internal/logging"
	"github.com/epieczko/claude-code-riskexec/internal/secrets"
)

func TestBuildPrompt(t *testing.T) {
	got := BuildPrompt("checkout",
		map[string]string{"phase": "plan", "brief": "", "featureDirectory": "specs/checkout"},
		"## spec.md\n```markdown\n# Spec\n```\n",
		"  Write the plan.  ")

	want := "# Feature: checkout\n" +
		"## Metadata\n" +
		"- featureDirectory: specs/checkout\n" +
		"- phase: plan\n" +
		"\n" +
		"## spec.md\n```markdown\n# Spec\n```\n\n" +
		"## Task\n" +
		"Write the plan.\n"
	assert.Equal(t, want, got)
}

func TestBuildPrompt_NoMetadata(t *testing.T) {
	assert.Equal(t, "# Feature: f\n\n## Task\ndo it\n", BuildPrompt("f", nil, "", "do it"))
}

func TestReadContextFiles(t *testing.T) {
	dir := t.TempDir()
	spec := filepath.Join(dir, "spec.md")
	plan := filepath.Join(dir, "plan.md")
	require.NoError(t, os.WriteFile(spec, []byte("\n# Spec\n\n"), 0o644))
	require.NoError(t, os.WriteFile(plan, []byte("# Plan"), 0o644))

	out, err := ReadContextFiles(context.Background(), []ContextFile{
		{Path: spec, Label: "Specification"},
		{Path: filepath.Join(dir, "missing.md"), Optional: true},
		{Path: plan},
	})
	require.NoError(t, err)
	assert.Equal(t,
		"## Specification\n```markdown\n# Spec\n```\n\n## plan.md\n```markdown\n# Plan\n```\n", out)

	_, err = ReadContextFiles(context.Background(), []ContextFile{{Path: filepath.Join(dir, "missing.md")}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing.md")
}

func TestNew_UnknownExecutor(t *testing.T) {
	_, err := New(Config{Executor: "carrier"})
	assert.ErrorIs(t, err, ErrUnknownExecutor)
}

func TestInvoke_NoopAndMock(t *testing.T) {
	ctx := context.Background()
	req := Request{Agent: "bmad-analyst", Feature: "checkout", Prompt: "Draft the spec."}

	noop, err := New(Config{Executor: ExecutorNoop})
	require.NoError(t, err)
	res, err := noop.Invoke(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "noop", res.Command)
	assert.Equal(t, BuildPrompt("checkout", nil, "", "Draft the spec."), res.Output)

	mock, err := New(Config{Executor: "MOCK"})
	require.NoError(t, err)
	res, err = mock.Invoke(ctx, req)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.Output, "# Mock response from bmad-analyst\n\n# Feature: checkout"))
}

func TestInvoke_ScrubsPrompt(t *testing.T) {
	tl := logging.NewTestLogger()
	scrub := scrubberFunc(func(s string) *secrets.Result {
		if !strings.Contains(s, "hunter2") {
			return &secrets.Result{Scrubbed: s}
		}
		return &secrets.Result{
			Scrubbed: strings.ReplaceAll(s, "hunter2", "[REDACTED:test:hunt]"),
			Findings: []secrets.Finding{{RuleID: "test"}},
			ByRule:   map[string]int{"test": 1},
		}
	})
	c, err := New(Config{Executor: ExecutorNoop, Scrubber: scrub, Logger: tl.Logger})
	require.NoError(t, err)

	res, err := c.Invoke(context.Background(), Request{Agent: "bmad-pm", Feature: "f", Prompt: "password is hunter2"})
	require.NoError(t, err)
	assert.NotContains(t, res.Output, "hunter2")
	assert.Contains(t, res.Output, "[REDACTED:test:hunt]")
	tl.AssertLogged(t, zapcore.WarnLevel, "redacted secrets from agent prompt")
}

type scrubberFunc func(string) *secrets.Result

func (f scrubberFunc) Scrub(s string) *secrets.Result { return f(s) }
func (f scrubberFunc) IsEnabled() bool                { return true }

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-agent")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func TestInvoke_CLI(t *testing.T) {
	// Echo the agent name and the prompt file back.
	bin := writeScript(t, `echo "agent=$2 quiet=$5"; cat "$4"`)
	c, err := New(Config{Executor: ExecutorCLI, Binary: bin, Timeout: 10 * time.Second, RateLimit: 100, Burst: 2})
	require.NoError(t, err)

	res, err := c.Invoke(context.Background(), Request{Agent: "bmad-architect", Feature: "checkout", Prompt: "Plan it."})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.Output, "agent=bmad-architect quiet=--quiet\n# Feature: checkout"))
	assert.True(t, strings.HasSuffix(res.Output, "## Task\nPlan it."))
	assert.Contains(t, res.Command, bin+" --agent bmad-architect --input-file ")
	assert.True(t, strings.HasSuffix(res.Command, " --quiet"))
}

func TestInvoke_CLIRemovesPromptFile(t *testing.T) {
	bin := writeScript(t, `echo "$4"`)
	c, err := New(Config{Binary: bin})
	require.NoError(t, err)

	res, err := c.Invoke(context.Background(), Request{Agent: "bmad-pm", Feature: "f", Prompt: "p"})
	require.NoError(t, err)
	_, statErr := os.Stat(res.Output)
	assert.True(t, os.IsNotExist(statErr), "prompt file %s should be removed", res.Output)
}

func TestInvoke_CLIFailure(t *testing.T) {
	bin := writeScript(t, `echo "model overloaded" >&2; exit 3`)
	c, err := New(Config{Binary: bin})
	require.NoError(t, err)

	_, err = c.Invoke(context.Background(), Request{Agent: "bmad-developer", Feature: "f", Prompt: "p"})
	var invErr *InvocationError
	require.True(t, errors.As(err, &invErr))
	assert.Equal(t, 3, invErr.Status)
	assert.Equal(t, "Agent invocation failed (3): model overloaded", err.Error())
}

func TestInvoke_CLITimeout(t *testing.T) {
	bin := writeScript(t, `exec sleep 5`)
	c, err := New(Config{Binary: bin, Timeout: 50 * time.Millisecond})
	require.NoError(t, err)

	_, err = c.Invoke(context.Background(), Request{Agent: "bmad-qa", Feature: "f", Prompt: "p"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestInvoke_MissingRequiredContext(t *testing.T) {
	c, err := New(Config{Executor: ExecutorNoop})
	require.NoError(t, err)
	_, err = c.Invoke(context.Background(), Request{
		Agent: "bmad-pm", Feature: "f", Prompt: "p",
		ContextFiles: []ContextFile{{Path: filepath.Join(t.TempDir(), "spec.md")}},
	})
	assert.Error(t, err)
}

func TestRecorder(t *testing.T) {
	r := &Recorder{}
	_, err := r.Invoke(context.Background(), Request{Agent: "a"})
	require.NoError(t, err)
	_, err = r.Invoke(context.Background(), Request{Agent: "b"})
	require.NoError(t, err)
	assert.Len(t, r.Requests(), 2)
	assert.Len(t, r.CallsFor("b"), 1)
}
