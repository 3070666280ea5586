package phases

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/epieczko/claude-code-riskexec/internal/agent"
	"github.com/epieczko/claude-code-riskexec/internal/contextstore"
	"github.com/epieczko/claude-code-riskexec/internal/registry"
)

func TestHandlers_CoverRegistry(t *testing.T) {
	hs := Handlers(&Deps{})
	var got []registry.Phase
	for _, h := range hs {
		got = append(got, h.Phase())
	}
	assert.Equal(t, registry.Phases(), got)
}

func TestSpecify_WritesSpecAndContext(t *testing.T) {
	f := newFixture(t)
	f.opts.Brief = "Let shoppers pay"

	res, err := (&Specify{deps: f.deps}).Execute(context.Background(), f.opts)
	require.NoError(t, err)

	assert.Equal(t, registry.PhaseSpecify, res.Phase)
	assert.Equal(t, filepath.Join(f.opts.FeatureDir, "spec.md"), res.OutputPath)
	assert.Equal(t, strings.TrimSpace(specMarkdown)+"\n", f.read(t, "spec.md"))
	assert.Equal(t, "cli", res.Details["briefSource"])
	assert.Equal(t, "recorder", res.Details["agentCommand"])
	assert.Equal(t, f.store.Path("checkout", registry.PhaseSpecify), res.Details["contextPath"])
	assert.Equal(t, 2, res.Details["requirementCount"])
	assert.FileExists(t, f.product("spec.md"))

	calls := f.recorder.CallsFor("bmad-analyst")
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].Prompt, "Feature brief:\nLet shoppers pay")
	assert.Equal(t, "Let shoppers pay", calls[0].Metadata["brief"])
	for _, cf := range calls[0].ContextFiles {
		assert.True(t, cf.Optional, cf.Label)
	}

	pc, err := f.store.Load(context.Background(), "checkout", registry.PhaseSpecify)
	require.NoError(t, err)
	spec := pc.(*contextstore.SpecContext)
	assert.Equal(t, 1, spec.Completed())
	assert.Equal(t, []string{"Which PSP?"}, spec.OpenQuestions)
}

func TestSpecify_BriefSource(t *testing.T) {
	f := newFixture(t)
	res, err := (&Specify{deps: f.deps}).Execute(context.Background(), f.opts)
	require.NoError(t, err)
	assert.Equal(t, "none", res.Details["briefSource"])
	assert.NotContains(t, f.recorder.Requests()[0].Prompt, "Feature brief")

	f.write(t, "idea.md", "From the idea file")
	res, err = (&Specify{deps: f.deps}).Execute(context.Background(), f.opts)
	require.NoError(t, err)
	assert.Equal(t, "idea.md", res.Details["briefSource"])
	assert.Contains(t, f.recorder.Requests()[1].Prompt, "From the idea file")
}

func TestSpecify_TruncatesBriefMetadata(t *testing.T) {
	f := newFixture(t)
	f.opts.Brief = strings.Repeat("é", 300)
	_, err := (&Specify{deps: f.deps}).Execute(context.Background(), f.opts)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("é", 240), f.recorder.Requests()[0].Metadata["brief"])
}

func TestPlan_RequiresSpec(t *testing.T) {
	f := newFixture(t)
	_, err := (&Plan{deps: f.deps}).Execute(context.Background(), f.opts)

	var pre *PrerequisiteMissingError
	require.ErrorAs(t, err, &pre)
	assert.Equal(t, registry.PhasePlan, pre.Phase)
	require.Len(t, pre.Missing, 1)
	assert.Contains(t, pre.Missing[0], "spec.md")
	assert.Contains(t, err.Error(), "missing required inputs for plan phase:\n - ")
	assert.Empty(t, f.recorder.Requests())
}

func TestPlan_UsesSuppliedSpecContext(t *testing.T) {
	f := newFixture(t)
	f.write(t, "spec.md", specMarkdown)
	f.write(t, "architecture/diagram.md", "graph")
	f.opts.Spec = contextstore.ExtractSpecContext(specMarkdown)

	res, err := (&Plan{deps: f.deps}).Execute(context.Background(), f.opts)
	require.NoError(t, err)

	assert.Equal(t, true, res.Details["specContextLoaded"])
	calls := f.recorder.CallsFor("bmad-architect")
	require.Len(t, calls, 1)
	assert.Equal(t, "2", calls[0].Metadata["specRequirements"])
	assert.Equal(t, "1", calls[0].Metadata["openQuestions"])
	assert.False(t, calls[0].ContextFiles[0].Optional)
	assert.NotContains(t, calls[0].Prompt, "Review the current tasks.md")

	assert.FileExists(t, f.product("plan.md"))
	assert.FileExists(t, f.product("architecture/diagram.md"))
	assert.FileExists(t, f.store.Path("checkout", registry.PhasePlan))
}

func TestPlan_WithoutContext(t *testing.T) {
	f := newFixture(t)
	f.write(t, "spec.md", specMarkdown)
	f.write(t, "tasks.md", tasksMarkdown)

	res, err := (&Plan{deps: f.deps}).Execute(context.Background(), f.opts)
	require.NoError(t, err)
	assert.Equal(t, false, res.Details["specContextLoaded"])
	assert.Contains(t, f.recorder.Requests()[0].Prompt, "Review the current tasks.md draft")
}

func TestTasks_RequiresSpecAndPlan(t *testing.T) {
	f := newFixture(t)
	_, err := (&Tasks{deps: f.deps}).Execute(context.Background(), f.opts)

	var pre *PrerequisiteMissingError
	require.ErrorAs(t, err, &pre)
	assert.Len(t, pre.Missing, 2)
}

func TestTasks_SavesProgress(t *testing.T) {
	f := newFixture(t)
	f.write(t, "spec.md", specMarkdown)
	f.write(t, "plan.md", planMarkdown)

	res, err := (&Tasks{deps: f.deps}).Execute(context.Background(), f.opts)
	require.NoError(t, err)
	assert.Equal(t, "1/3 completed (33%)", res.Details["progress"])
	assert.Equal(t, 3, res.Details["taskCount"])
	assert.FileExists(t, f.product("tasks.md"))

	pc, err := f.store.Load(context.Background(), "checkout", registry.PhaseTasks)
	require.NoError(t, err)
	assert.Len(t, pc.(*contextstore.TaskContext).Tasks, 3)
}

func implementFixture(t *testing.T) *fixture {
	t.Helper()
	f := newFixture(t)
	f.write(t, "spec.md", specMarkdown)
	f.write(t, "plan.md", planMarkdown)
	f.write(t, "tasks.md", tasksMarkdown)
	return f
}

func TestImplement_OneCallPerTask(t *testing.T) {
	f := implementFixture(t)

	res, err := (&Implement{deps: f.deps}).Execute(context.Background(), f.opts)
	require.NoError(t, err)

	calls := f.recorder.CallsFor("bmad-developer")
	require.Len(t, calls, 3)
	assert.Equal(t, "1", calls[0].Metadata["taskIndex"])
	assert.Equal(t, "3", calls[0].Metadata["taskTotal"])
	assert.Equal(t, "task-1", calls[0].Metadata["taskId"])
	assert.Equal(t, "Build payment form", calls[0].Metadata["taskLabel"])
	assert.Contains(t, calls[1].Prompt, "task 2: Write docs.")

	impl := filepath.Join(f.opts.FeatureDir, "implementation")
	assert.Equal(t, impl, res.OutputPath)
	assert.Equal(t, []string{
		filepath.Join(impl, "task-1-build-payment-form.md"),
		filepath.Join(impl, "task-2-write-docs.md"),
		filepath.Join(impl, "task-3-wire-receipts.md"),
	}, res.LogPaths)
	assert.Equal(t, "# bmad-developer output for Write docs\n", f.read(t, "implementation/task-2-write-docs.md"))
	assert.Equal(t, 3, res.Details["tasksExecuted"])
	assert.FileExists(t, f.product("implementation/task-3-wire-receipts.md"))
}

func TestImplement_ResumeTask(t *testing.T) {
	f := implementFixture(t)
	f.opts.ResumeTask = "Write docs"

	res, err := (&Implement{deps: f.deps}).Execute(context.Background(), f.opts)
	require.NoError(t, err)

	calls := f.recorder.CallsFor("bmad-developer")
	require.Len(t, calls, 2)
	assert.Equal(t, "Write docs", calls[0].Metadata["taskLabel"])
	assert.Equal(t, "Wire receipts", calls[1].Metadata["taskLabel"])
	assert.Len(t, res.LogPaths, 2)
	assert.Equal(t, 2, res.Details["startIndex"])
}

func TestImplement_ResumeTaskNotFound(t *testing.T) {
	f := implementFixture(t)
	f.opts.ResumeTask = "Deploy"

	_, err := (&Implement{deps: f.deps}).Execute(context.Background(), f.opts)
	var nf *TaskNotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "Deploy", nf.Token)
	assert.Empty(t, f.recorder.Requests())
}

func TestImplement_PrefersTaskContext(t *testing.T) {
	f := implementFixture(t)
	f.opts.Tasks = &contextstore.TaskContext{Tasks: []contextstore.TaskItem{{ID: "task-1", Title: "Only task"}}}

	res, err := (&Implement{deps: f.deps}).Execute(context.Background(), f.opts)
	require.NoError(t, err)
	require.Len(t, res.LogPaths, 1)
	assert.Equal(t, "1", f.recorder.Requests()[0].Metadata["taskTotal"])
}

func TestImplement_NoTasks(t *testing.T) {
	f := newFixture(t)
	f.write(t, "plan.md", planMarkdown)
	f.write(t, "tasks.md", "# Tasks\n\nNothing yet.\n")

	_, err := (&Implement{deps: f.deps}).Execute(context.Background(), f.opts)
	assert.ErrorIs(t, err, ErrNoTasks)
}

func TestImplement_AgentFailureAborts(t *testing.T) {
	f := implementFixture(t)
	boom := &agent.InvocationError{Agent: "bmad-developer", Status: 2, Stderr: "crashed"}
	f.recorder.Respond = func(req agent.Request) (string, error) {
		if req.Metadata["taskIndex"] == "2" {
			return "", boom
		}
		return "ok", nil
	}

	_, err := (&Implement{deps: f.deps}).Execute(context.Background(), f.opts)
	require.ErrorIs(t, err, boom)
	assert.Len(t, f.recorder.Requests(), 2)
	assert.NoFileExists(t, filepath.Join(f.opts.FeatureDir, "implementation", "task-3-wire-receipts.md"))
}

func TestImplement_TestCommand(t *testing.T) {
	f := implementFixture(t)
	var ran []string
	f.deps.TestCommand = "make test"
	f.deps.RunTests = func(_ context.Context, dir, command string) error {
		assert.Equal(t, f.root, dir)
		ran = append(ran, command)
		if len(ran) == 2 {
			return &TestCommandError{Command: command, ExitCode: 1}
		}
		return nil
	}

	_, err := (&Implement{deps: f.deps}).Execute(context.Background(), f.opts)
	var tce *TestCommandError
	require.ErrorAs(t, err, &tce)
	assert.Equal(t, []string{"make test", "make test"}, ran)
	assert.Len(t, f.recorder.Requests(), 2)
	f.logger.AssertLogged(t, zapcore.InfoLevel, "running tests")
}

func TestImplement_CanceledContext(t *testing.T) {
	f := implementFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := (&Implement{deps: f.deps}).Execute(ctx, f.opts)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Empty(t, f.recorder.Requests())
}

func TestShellTestRunner(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, ShellTestRunner(context.Background(), dir, "true"))

	err := ShellTestRunner(context.Background(), dir, "echo failing >&2; exit 4")
	var tce *TestCommandError
	require.ErrorAs(t, err, &tce)
	assert.Equal(t, 4, tce.ExitCode)
	assert.Equal(t, "failing", tce.Output)
}

func TestVerify(t *testing.T) {
	f := implementFixture(t)
	_, err := (&Verify{deps: f.deps}).Execute(context.Background(), f.opts)
	var pre *PrerequisiteMissingError
	require.ErrorAs(t, err, &pre)
	assert.Contains(t, pre.Missing[0], "Implementation logs")

	f.write(t, "implementation/task-1-build-payment-form.md", "done")
	f.opts.Tasks = contextstore.ExtractTaskContext(tasksMarkdown)

	res, err := (&Verify{deps: f.deps}).Execute(context.Background(), f.opts)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(f.opts.FeatureDir, "qa-report.md"), res.OutputPath)
	assert.Equal(t, 1, res.Details["logsReviewed"])
	assert.Equal(t, "1/3 completed (33%)", res.Details["progress"])
	assert.FileExists(t, f.product("qa-report.md"))

	calls := f.recorder.CallsFor("bmad-qa")
	require.Len(t, calls, 1)
	assert.Len(t, calls[0].ContextFiles, 4)
	assert.Equal(t, "Implementation Log: task-1-build-payment-form.md", calls[0].ContextFiles[3].Label)
}

func TestMirrorFailureIsWarning(t *testing.T) {
	f := newFixture(t)
	// A file where the product directory should be makes every mirror write fail.
	require.NoError(t, os.MkdirAll(filepath.Join(f.root, ".agent-os"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(f.root, ".agent-os", "product"), []byte("x"), 0o644))

	_, err := (&Specify{deps: f.deps}).Execute(context.Background(), f.opts)
	require.NoError(t, err)
	f.logger.AssertLogged(t, zapcore.WarnLevel, "failed to mirror artifact")
}
