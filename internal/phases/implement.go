package phases

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/epieczko/claude-code-riskexec/internal/agent"
	"github.com/epieczko/claude-code-riskexec/internal/registry"
)

// Implement runs one developer agent call per remaining task and writes a
// log per task under implementation/.
type Implement struct{ deps *Deps }

// Phase implements Handler.
func (*Implement) Phase() registry.Phase { return registry.PhaseImplement }

// Execute implements Handler.
func (h *Implement) Execute(ctx context.Context, opts RunOptions) (*Result, error) {
	p := featurePaths(opts)
	if err := checkPrereqs(registry.PhaseImplement,
		requirement{description: "Plan", path: p.plan},
		requirement{description: "Task list", path: p.tasks},
	); err != nil {
		return nil, err
	}

	tasks, err := h.resolveTasks(ctx, opts, p)
	if err != nil {
		return nil, err
	}
	start, err := resumeIndex(tasks, opts.ResumeTask)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(p.implementation, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create implementation directory: %w", err)
	}

	logger := h.deps.logger()
	var (
		logPaths []string
		command  string
	)
	for _, task := range tasks[start:] {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		resp, _, err := h.deps.generate(ctx, opts, generation{
			phase: registry.PhaseImplement,
			prompt: joinPrompt(
				fmt.Sprintf("Execute the implementation work for task %d: %s.", task.Index, task.Title),
				"Provide code changes, testing steps, and QA notes.",
				"Summarize validation evidence and next actions.",
			),
			context: []agent.ContextFile{
				{Path: p.spec, Label: "Specification", Optional: true},
				{Path: p.plan, Label: "Implementation Plan"},
				{Path: p.tasks, Label: "Task List"},
			},
			metadata: map[string]string{
				"phase":     string(registry.PhaseImplement),
				"taskId":    task.ID,
				"taskLabel": task.Title,
				"taskIndex": strconv.Itoa(task.Index),
				"taskTotal": strconv.Itoa(len(tasks)),
			},
			output: filepath.Join(p.implementation, LogFileName(task)),
		})
		if err != nil {
			return nil, err
		}
		command = resp.Command
		logPaths = append(logPaths, filepath.Join(p.implementation, LogFileName(task)))
		logger.Info(ctx, "implementation task completed",
			zap.Int("task_index", task.Index),
			zap.String("task", task.Title))

		if err := h.runTests(ctx, opts); err != nil {
			return nil, err
		}
	}

	h.deps.mirrorDir(ctx, opts, p.implementation, "implementation")

	return &Result{
		Phase:      registry.PhaseImplement,
		OutputPath: p.implementation,
		LogPaths:   logPaths,
		Details: map[string]any{
			"agentCommand":  command,
			"tasksExecuted": len(logPaths),
			"taskCount":     len(tasks),
			"startIndex":    start + 1,
			"resumeTask":    opts.ResumeTask,
		},
	}, nil
}

func (h *Implement) resolveTasks(ctx context.Context, opts RunOptions, p paths) ([]ChecklistTask, error) {
	if tc := h.deps.loadTasks(ctx, opts); tc != nil && len(tc.Tasks) > 0 {
		return TasksFromContext(tc), nil
	}
	raw, err := os.ReadFile(p.tasks)
	if err != nil {
		return nil, fmt.Errorf("failed to read tasks: %w", err)
	}
	tasks := ParseChecklist(string(raw))
	if len(tasks) == 0 {
		return nil, ErrNoTasks
	}
	return tasks, nil
}

func resumeIndex(tasks []ChecklistTask, token string) (int, error) {
	if token == "" {
		return 0, nil
	}
	for i, t := range tasks {
		if strings.Contains(t.Title, token) {
			return i, nil
		}
	}
	return 0, &TaskNotFoundError{Token: token}
}

func (h *Implement) runTests(ctx context.Context, opts RunOptions) error {
	command := strings.TrimSpace(h.deps.TestCommand)
	if command == "" {
		return nil
	}
	run := h.deps.RunTests
	if run == nil {
		run = ShellTestRunner
	}
	h.deps.logger().Info(ctx, "running tests", zap.String("command", command))
	return run(ctx, opts.WorkspaceRoot, command)
}
