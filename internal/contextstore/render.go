package contextstore

import (
	"fmt"
	"strings"
)

// MarkdownForSpec renders c in the grammar read by ExtractSpecContext.
func MarkdownForSpec(c *SpecContext) string {
	var b strings.Builder
	b.WriteString("## Functional Requirements\n")
	for _, r := range c.Requirements {
		fmt.Fprintf(&b, "- [%s] %s\n", checkMark(r.Completed), r.Text)
	}
	b.WriteString("\n## Open Questions\n")
	writeList(&b, c.OpenQuestions)
	return b.String()
}

// MarkdownForPlan renders c in the grammar read by ExtractPlanContext.
func MarkdownForPlan(c *PlanContext) string {
	var b strings.Builder
	b.WriteString("## Architecture Decisions\n")
	writeList(&b, c.Architecture)
	b.WriteString("\n## Risks & Mitigations\n")
	writeList(&b, c.Risks)
	return b.String()
}

// MarkdownForTasks renders c in the grammar read by ExtractTaskContext.
func MarkdownForTasks(c *TaskContext) string {
	var b strings.Builder
	for _, t := range c.Tasks {
		fmt.Fprintf(&b, "- [%s] %s\n", checkMark(t.Completed), t.Title)
		for _, ref := range t.References {
			fmt.Fprintf(&b, "  - %s\n", ref)
		}
		for _, note := range t.Notes {
			fmt.Fprintf(&b, "  %s\n", note)
		}
	}
	return b.String()
}

// MarkdownFor dispatches on the concrete context type.
func MarkdownFor(c PhaseContext) (string, error) {
	switch v := c.(type) {
	case *SpecContext:
		return MarkdownForSpec(v), nil
	case *PlanContext:
		return MarkdownForPlan(v), nil
	case *TaskContext:
		return MarkdownForTasks(v), nil
	default:
		return "", fmt.Errorf("%w: %T", ErrUnknownPhase, c)
	}
}

func checkMark(done bool) string {
	if done {
		return "x"
	}
	return " "
}

func writeList(b *strings.Builder, items []string) {
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", item)
	}
}
