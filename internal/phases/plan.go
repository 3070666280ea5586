package phases

import (
	"context"
	"strconv"

	"github.com/epieczko/claude-code-riskexec/internal/agent"
	"github.com/epieczko/claude-code-riskexec/internal/files"
	"github.com/epieczko/claude-code-riskexec/internal/registry"
)

// Plan turns spec.md into plan.md and mirrors architecture/ alongside it.
type Plan struct{ deps *Deps }

// Phase implements Handler.
func (*Plan) Phase() registry.Phase { return registry.PhasePlan }

// Execute implements Handler.
func (h *Plan) Execute(ctx context.Context, opts RunOptions) (*Result, error) {
	p := featurePaths(opts)
	if err := checkPrereqs(registry.PhasePlan,
		requirement{description: "Specification; run the specify phase first", path: p.spec},
	); err != nil {
		return nil, err
	}

	spec := h.deps.loadSpec(ctx, opts)
	metadata := map[string]string{
		"phase":            string(registry.PhasePlan),
		"architectureDir":  p.architecture,
		"featureDirectory": p.dir,
	}
	if spec != nil {
		metadata["specRequirements"] = strconv.Itoa(len(spec.Requirements))
		metadata["openQuestions"] = strconv.Itoa(len(spec.OpenQuestions))
	}

	reviewTasks := ""
	if files.Exists(p.tasks) {
		reviewTasks = "Review the current tasks.md draft to ensure the plan aligns with downstream execution."
	}

	resp, content, err := h.deps.generate(ctx, opts, generation{
		phase: registry.PhasePlan,
		prompt: joinPrompt(
			"Translate the approved specification into a technical plan.",
			"Document architecture decisions, integration points, risks, and validation strategy.",
			"Return Markdown ready for plan.md and reference any supplemental diagrams saved under architecture/.",
			reviewTasks,
		),
		context: []agent.ContextFile{
			{Path: p.spec, Label: "Specification"},
			{Path: p.plan, Label: "Existing Plan", Optional: true},
			{Path: p.tasks, Label: "Existing Tasks", Optional: true},
			{Path: p.constitution, Label: "Spec Kit Constitution", Optional: true},
		},
		metadata: metadata,
		output:   p.plan,
	})
	if err != nil {
		return nil, err
	}
	h.deps.mirrorFile(ctx, opts, p.plan, content)
	h.deps.mirrorDir(ctx, opts, p.architecture, "architecture")

	_, contextPath, err := h.deps.saveContext(ctx, opts, registry.PhasePlan, content)
	if err != nil {
		return nil, err
	}

	return &Result{
		Phase:      registry.PhasePlan,
		OutputPath: p.plan,
		Details: map[string]any{
			"agentCommand":      resp.Command,
			"contextPath":       contextPath,
			"specContextLoaded": spec != nil,
		},
	}, nil
}
