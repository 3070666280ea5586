package phases

import (
	"context"
	"path/filepath"

	"github.com/epieczko/claude-code-riskexec/internal/agent"
	"github.com/epieczko/claude-code-riskexec/internal/files"
	"github.com/epieczko/claude-code-riskexec/internal/registry"
)

// Verify asks the QA agent to review the implementation logs against the
// specification and writes qa-report.md.
type Verify struct{ deps *Deps }

// Phase implements Handler.
func (*Verify) Phase() registry.Phase { return registry.PhaseVerify }

// Execute implements Handler.
func (h *Verify) Execute(ctx context.Context, opts RunOptions) (*Result, error) {
	p := featurePaths(opts)
	if err := checkPrereqs(registry.PhaseVerify,
		requirement{description: "Specification", path: p.spec},
		requirement{description: "Plan", path: p.plan},
		requirement{description: "Task list", path: p.tasks},
		requirement{description: "Implementation logs", path: p.implementation, dir: true},
	); err != nil {
		return nil, err
	}

	logs, err := files.ListFiles(p.implementation)
	if err != nil {
		return nil, err
	}
	contextFiles := []agent.ContextFile{
		{Path: p.spec, Label: "Specification"},
		{Path: p.plan, Label: "Implementation Plan"},
		{Path: p.tasks, Label: "Task List"},
	}
	for _, rel := range logs {
		contextFiles = append(contextFiles, agent.ContextFile{
			Path:     filepath.Join(p.implementation, rel),
			Label:    "Implementation Log: " + rel,
			Optional: true,
		})
	}

	tasks := h.deps.loadTasks(ctx, opts)
	metadata := map[string]string{
		"phase":            string(registry.PhaseVerify),
		"featureDirectory": p.dir,
	}
	progress := ""
	if tasks != nil {
		progress = tasks.Progress
		metadata["progress"] = progress
	}

	resp, content, err := h.deps.generate(ctx, opts, generation{
		phase: registry.PhaseVerify,
		prompt: joinPrompt(
			"Review the implementation logs against the specification acceptance criteria.",
			"Report which requirements are satisfied, which are not, and the evidence for each.",
			"Return the content for qa-report.md.",
		),
		context:  contextFiles,
		metadata: metadata,
		output:   p.qaReport,
	})
	if err != nil {
		return nil, err
	}
	h.deps.mirrorFile(ctx, opts, p.qaReport, content)

	return &Result{
		Phase:      registry.PhaseVerify,
		OutputPath: p.qaReport,
		Details: map[string]any{
			"agentCommand": resp.Command,
			"logsReviewed": len(logs),
			"progress":     progress,
		},
	}, nil
}
