package phases

import (
	"context"
	"strconv"

	"github.com/epieczko/claude-code-riskexec/internal/agent"
	"github.com/epieczko/claude-code-riskexec/internal/contextstore"
	"github.com/epieczko/claude-code-riskexec/internal/registry"
)

// Tasks breaks plan.md into the tasks.md checklist.
type Tasks struct{ deps *Deps }

// Phase implements Handler.
func (*Tasks) Phase() registry.Phase { return registry.PhaseTasks }

// Execute implements Handler.
func (h *Tasks) Execute(ctx context.Context, opts RunOptions) (*Result, error) {
	p := featurePaths(opts)
	if err := checkPrereqs(registry.PhaseTasks,
		requirement{description: "Specification; run the specify phase first", path: p.spec},
		requirement{description: "Plan; run the plan phase before generating tasks", path: p.plan},
	); err != nil {
		return nil, err
	}

	spec := h.deps.loadSpec(ctx, opts)
	plan := h.deps.loadPlan(ctx, opts)
	metadata := map[string]string{
		"phase":            string(registry.PhaseTasks),
		"featureDirectory": p.dir,
	}
	if spec != nil {
		metadata["specRequirements"] = strconv.Itoa(len(spec.Requirements))
	}
	if plan != nil {
		metadata["planRisks"] = strconv.Itoa(len(plan.Risks))
	}

	resp, content, err := h.deps.generate(ctx, opts, generation{
		phase: registry.PhaseTasks,
		prompt: joinPrompt(
			"Break the plan into executable tasks with QA acceptance notes.",
			"Ensure each task traces back to specific requirements and architectural decisions.",
			"Use Markdown checklists and include QA/validation hooks for each item.",
			"Return the content for tasks.md.",
		),
		context: []agent.ContextFile{
			{Path: p.spec, Label: "Specification"},
			{Path: p.plan, Label: "Implementation Plan"},
			{Path: p.tasks, Label: "Existing Task List", Optional: true},
		},
		metadata: metadata,
		output:   p.tasks,
	})
	if err != nil {
		return nil, err
	}
	h.deps.mirrorFile(ctx, opts, p.tasks, content)

	pc, contextPath, err := h.deps.saveContext(ctx, opts, registry.PhaseTasks, content)
	if err != nil {
		return nil, err
	}
	tasks := pc.(*contextstore.TaskContext)

	return &Result{
		Phase:      registry.PhaseTasks,
		OutputPath: p.tasks,
		Details: map[string]any{
			"agentCommand":      resp.Command,
			"contextPath":       contextPath,
			"specContextLoaded": spec != nil,
			"planContextLoaded": plan != nil,
			"taskCount":         len(tasks.Tasks),
			"progress":          tasks.Progress,
		},
	}, nil
}
