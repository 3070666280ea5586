package phases

import (
	"context"
	"fmt"
	"os"

	"github.com/epieczko/claude-code-riskexec/internal/agent"
	"github.com/epieczko/claude-code-riskexec/internal/contextstore"
	"github.com/epieczko/claude-code-riskexec/internal/files"
	"github.com/epieczko/claude-code-riskexec/internal/registry"
)

const briefMetadataLimit = 240

// Specify turns a brief into spec.md.
type Specify struct{ deps *Deps }

// Phase implements Handler.
func (*Specify) Phase() registry.Phase { return registry.PhaseSpecify }

// Execute implements Handler.
func (h *Specify) Execute(ctx context.Context, opts RunOptions) (*Result, error) {
	p := featurePaths(opts)
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create feature directory: %w", err)
	}

	idea, err := files.ReadFileIfExists(p.idea)
	if err != nil {
		return nil, err
	}
	brief, source := opts.Brief, "cli"
	switch {
	case brief != "":
	case len(idea) > 0:
		brief, source = string(idea), "idea.md"
	default:
		source = "none"
	}

	briefSection := ""
	if brief != "" {
		briefSection = "Feature brief:\n" + brief
	}
	prompt := joinPrompt(
		"Create or update the feature specification so it satisfies the Spec Kit constitution.",
		"Return the full Markdown document that should be written to `spec.md`.",
		briefSection,
		"Highlight approval checkpoints and list outstanding questions.",
	)

	resp, content, err := h.deps.generate(ctx, opts, generation{
		phase:  registry.PhaseSpecify,
		prompt: prompt,
		context: []agent.ContextFile{
			{Path: p.constitution, Label: "Spec Kit Constitution", Optional: true},
			{Path: p.spec, Label: "Existing Specification", Optional: true},
			{Path: p.plan, Label: "Existing Plan", Optional: true},
			{Path: p.tasks, Label: "Existing Tasks", Optional: true},
			{Path: p.idea, Label: "Feature Idea", Optional: true},
		},
		metadata: map[string]string{
			"phase":            string(registry.PhaseSpecify),
			"featureDirectory": p.dir,
			"brief":            truncate(brief, briefMetadataLimit),
		},
		output: p.spec,
	})
	if err != nil {
		return nil, err
	}
	h.deps.mirrorFile(ctx, opts, p.spec, content)

	pc, contextPath, err := h.deps.saveContext(ctx, opts, registry.PhaseSpecify, content)
	if err != nil {
		return nil, err
	}
	spec := pc.(*contextstore.SpecContext)

	return &Result{
		Phase:      registry.PhaseSpecify,
		OutputPath: p.spec,
		Details: map[string]any{
			"briefSource":      source,
			"agentCommand":     resp.Command,
			"contextPath":      contextPath,
			"requirementCount": len(spec.Requirements),
			"openQuestions":    len(spec.OpenQuestions),
		},
	}, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
