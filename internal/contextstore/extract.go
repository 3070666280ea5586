package contextstore

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/epieczko/claude-code-riskexec/internal/registry"
)

var (
	nextHeading   = regexp.MustCompile(`(?m)^##\s+`)
	checkboxLine  = regexp.MustCompile(`^-\s*\[( |x|X)\]\s*(.+)$`)
	referenceLine = regexp.MustCompile(`^\s{2,}-\s*(.+)$`)
	listPrefix    = regexp.MustCompile(`^[-*+\d.\s]+`)
)

// Section headings and their accepted synonyms, first match wins.
var (
	requirementsHeadings = []string{"Functional Requirements"}
	questionsHeadings    = []string{"Open Questions", "Outstanding Questions"}
	architectureHeadings = []string{"Architecture Decisions", "Architecture"}
	risksHeadings        = []string{"Risks & Mitigations", "Risks"}
)

var extractors = map[registry.Phase]func(string) PhaseContext{
	registry.PhaseSpecify: func(md string) PhaseContext { return ExtractSpecContext(md) },
	registry.PhasePlan:    func(md string) PhaseContext { return ExtractPlanContext(md) },
	registry.PhaseTasks:   func(md string) PhaseContext { return ExtractTaskContext(md) },
}

// ExtractFor parses markdown with the extractor registered for phase.
func ExtractFor(phase registry.Phase, markdown string) (PhaseContext, error) {
	extract, ok := extractors[phase]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPhase, phase)
	}
	return extract(markdown), nil
}

func normalizeNewlines(s string) string {
	return strings.ReplaceAll(s, "\r\n", "\n")
}

// section returns the trimmed body under "## <header>" up to the next level-2
// heading. Headings match case-sensitively. ok is false when absent.
func section(markdown, header string) (body string, ok bool) {
	re := regexp.MustCompile(`(?m)^##\s+` + regexp.QuoteMeta(header) + `[ \t]*$`)
	loc := re.FindStringIndex(markdown)
	if loc == nil {
		return "", false
	}
	rest := markdown[loc[1]:]
	if next := nextHeading.FindStringIndex(rest); next != nil {
		rest = rest[:next[0]]
	}
	return strings.TrimSpace(rest), true
}

// firstSection returns the first non-empty section among headers.
func firstSection(markdown string, headers []string) string {
	for _, h := range headers {
		if body, ok := section(markdown, h); ok && body != "" {
			return body
		}
	}
	return ""
}

func parseCheckboxes(body string) []Requirement {
	reqs := make([]Requirement, 0)
	for _, line := range strings.Split(body, "\n") {
		m := checkboxLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		reqs = append(reqs, Requirement{
			ID:        fmt.Sprintf("req-%d", len(reqs)+1),
			Text:      strings.TrimSpace(m[2]),
			Completed: strings.EqualFold(m[1], "x"),
		})
	}
	return reqs
}

func parseList(body string) []string {
	items := make([]string, 0)
	if body == "" {
		return items
	}
	for _, line := range strings.Split(body, "\n") {
		item := strings.TrimSpace(listPrefix.ReplaceAllString(line, ""))
		if item != "" {
			items = append(items, item)
		}
	}
	return items
}

// ExtractSpecContext parses requirements and open questions from spec.md.
// Missing sections yield empty lists.
func ExtractSpecContext(markdown string) *SpecContext {
	md := normalizeNewlines(markdown)
	return &SpecContext{
		Requirements:  parseCheckboxes(firstSection(md, requirementsHeadings)),
		OpenQuestions: parseList(firstSection(md, questionsHeadings)),
	}
}

// ExtractPlanContext parses architecture decisions and risks from plan.md.
func ExtractPlanContext(markdown string) *PlanContext {
	md := normalizeNewlines(markdown)
	return &PlanContext{
		Architecture: parseList(firstSection(md, architectureHeadings)),
		Risks:        parseList(firstSection(md, risksHeadings)),
	}
}

// ExtractTaskContext parses the checklist of tasks.md. Indented "- " lines
// after a task are references; other non-blank lines are notes.
func ExtractTaskContext(markdown string) *TaskContext {
	tasks := make([]TaskItem, 0)
	var current *TaskItem

	flush := func() {
		if current != nil {
			tasks = append(tasks, *current)
			current = nil
		}
	}

	for _, line := range strings.Split(normalizeNewlines(markdown), "\n") {
		if m := checkboxLine.FindStringSubmatch(line); m != nil {
			flush()
			current = &TaskItem{
				ID:         fmt.Sprintf("task-%d", len(tasks)+1),
				Title:      strings.TrimSpace(m[2]),
				Completed:  strings.EqualFold(m[1], "x"),
				References: []string{},
				Notes:      []string{},
				Raw:        strings.TrimSpace(line),
			}
			continue
		}
		if current == nil {
			continue
		}
		if m := referenceLine.FindStringSubmatch(line); m != nil {
			current.References = append(current.References, strings.TrimSpace(m[1]))
			continue
		}
		if note := strings.TrimSpace(line); note != "" {
			current.Notes = append(current.Notes, note)
		}
	}
	flush()

	return &TaskContext{Tasks: tasks, Progress: Progress(tasks)}
}

// Progress formats "<completed>/<total> completed (<pct>%)".
func Progress(tasks []TaskItem) string {
	if len(tasks) == 0 {
		return "0/0 completed (0%)"
	}
	done := 0
	for _, t := range tasks {
		if t.Completed {
			done++
		}
	}
	pct := int(math.Round(float64(done) / float64(len(tasks)) * 100))
	return fmt.Sprintf("%d/%d completed (%d%%)", done, len(tasks), pct)
}
