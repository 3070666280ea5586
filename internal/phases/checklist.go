package phases

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/epieczko/claude-code-riskexec/internal/contextstore"
)

var (
	checklistItem = regexp.MustCompile(`^- \[( |x|X)\]\s+(.*)$`)
	nonSlug       = regexp.MustCompile(`[^a-z0-9]+`)
)

const maxSlugLen = 80

// ChecklistTask is a task line parsed straight from tasks.md.
type ChecklistTask struct {
	Index     int
	ID        string
	Title     string
	Raw       string
	Completed bool
}

// ParseChecklist returns the top-level checklist items of markdown in order.
// Items with an empty title are skipped.
func ParseChecklist(markdown string) []ChecklistTask {
	var out []ChecklistTask
	for _, line := range strings.Split(strings.ReplaceAll(markdown, "\r\n", "\n"), "\n") {
		m := checklistItem.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		title := strings.TrimSpace(m[2])
		if title == "" {
			continue
		}
		idx := len(out) + 1
		out = append(out, ChecklistTask{
			Index:     idx,
			ID:        fmt.Sprintf("task-%d", idx),
			Title:     title,
			Raw:       strings.TrimSpace(line),
			Completed: m[1] != " ",
		})
	}
	return out
}

// TasksFromContext converts stored task context into checklist tasks.
func TasksFromContext(tc *contextstore.TaskContext) []ChecklistTask {
	out := make([]ChecklistTask, 0, len(tc.Tasks))
	for i, t := range tc.Tasks {
		raw := t.Raw
		if raw == "" {
			raw = t.Title
		}
		id := t.ID
		if id == "" {
			id = fmt.Sprintf("task-%d", i+1)
		}
		out = append(out, ChecklistTask{Index: i + 1, ID: id, Title: t.Title, Raw: raw, Completed: t.Completed})
	}
	return out
}

// Slugify lowercases s, collapses non-alphanumeric runs to "-", trims the
// dashes and caps the result at 80 characters.
func Slugify(s string) string {
	slug := strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(s), "-"), "-")
	if len(slug) > maxSlugLen {
		slug = slug[:maxSlugLen]
	}
	return slug
}

// LogFileName is the implementation log name for a task.
func LogFileName(t ChecklistTask) string {
	slug := Slugify(t.Title)
	if slug == "" {
		slug = "implementation"
	}
	return fmt.Sprintf("task-%d-%s.md", t.Index, slug)
}
