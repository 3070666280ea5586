package validate

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/epieczko/claude-code-riskexec/internal/contextstore"
)

// ContextIssue lists the schema problems of one envelope file.
type ContextIssue struct {
	File     string   `json:"file"`
	Messages []string `json:"messages"`
}

// ContextReport summarizes a workspace-wide envelope check.
type ContextReport struct {
	Checked int            `json:"checked"`
	Issues  []ContextIssue `json:"issues"`
}

// Valid reports whether no envelope had problems.
func (r *ContextReport) Valid() bool { return len(r.Issues) == 0 }

type dataValidator func(data any) []string

var dataValidators = map[string]dataValidator{
	"specify": validateSpecData,
	"plan":    validatePlanData,
	"tasks":   validateTaskData,
}

// ContextFile checks the envelope at path. It returns nil when the file is valid.
func ContextFile(path string) *ContextIssue {
	raw, err := os.ReadFile(path)
	if err != nil {
		return &ContextIssue{File: path, Messages: []string{"failed to read file: " + err.Error()}}
	}
	var parsed any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return &ContextIssue{File: path, Messages: []string{"failed to parse JSON: " + err.Error()}}
	}
	env, ok := parsed.(map[string]any)
	if !ok {
		return &ContextIssue{File: path, Messages: []string{"expected a JSON object"}}
	}

	var msgs []string
	if !nonEmptyString(env["feature"]) {
		msgs = append(msgs, "feature must be a non-empty string")
	}
	if !nonEmptyString(env["phase"]) {
		msgs = append(msgs, "phase must be a non-empty string")
	}
	if !nonEmptyString(env["savedAt"]) {
		msgs = append(msgs, "savedAt must be an ISO timestamp string")
	}
	switch v := env["schemaVersion"].(type) {
	case float64:
		if v != contextstore.SchemaVersion {
			msgs = append(msgs, fmt.Sprintf("schemaVersion %v does not match expected %d", v, contextstore.SchemaVersion))
		}
	default:
		msgs = append(msgs, "schemaVersion must be a number")
	}

	phase, _ := env["phase"].(string)
	data, hasData := env["data"]
	if validator, ok := dataValidators[phase]; ok {
		msgs = append(msgs, validator(data)...)
	} else if hasData {
		if _, ok := data.(map[string]any); !ok {
			msgs = append(msgs, "data must be an object")
		}
	}

	if len(msgs) == 0 {
		return nil
	}
	return &ContextIssue{File: path, Messages: msgs}
}

// Contexts validates every stored envelope under root.
func Contexts(ctx context.Context, root string) (*ContextReport, error) {
	paths, err := contextstore.ListStoredContexts(ctx, root)
	if err != nil {
		return nil, err
	}
	report := &ContextReport{Checked: len(paths), Issues: []ContextIssue{}}
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if issue := ContextFile(p); issue != nil {
			report.Issues = append(report.Issues, *issue)
		}
	}
	return report, nil
}

func nonEmptyString(v any) bool {
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) != ""
}

func isBool(v any) bool {
	_, ok := v.(bool)
	return ok
}

func isStringArray(v any) bool {
	items, ok := v.([]any)
	if !ok {
		return false
	}
	for _, item := range items {
		if _, ok := item.(string); !ok {
			return false
		}
	}
	return true
}

func validateSpecData(data any) []string {
	obj, ok := data.(map[string]any)
	if !ok {
		return []string{"data must be an object"}
	}
	var msgs []string
	if reqs, ok := obj["requirements"].([]any); !ok {
		msgs = append(msgs, "data.requirements must be an array")
	} else {
		for i, r := range reqs {
			req, ok := r.(map[string]any)
			if !ok {
				msgs = append(msgs, fmt.Sprintf("requirements[%d] must be an object", i))
				continue
			}
			if !nonEmptyString(req["id"]) {
				msgs = append(msgs, fmt.Sprintf("requirements[%d].id must be a non-empty string", i))
			}
			if !nonEmptyString(req["text"]) {
				msgs = append(msgs, fmt.Sprintf("requirements[%d].text must be a non-empty string", i))
			}
			if !isBool(req["completed"]) {
				msgs = append(msgs, fmt.Sprintf("requirements[%d].completed must be a boolean", i))
			}
		}
	}
	if !isStringArray(obj["openQuestions"]) {
		msgs = append(msgs, "data.openQuestions must be an array of strings")
	}
	return msgs
}

func validatePlanData(data any) []string {
	obj, ok := data.(map[string]any)
	if !ok {
		return []string{"data must be an object"}
	}
	var msgs []string
	if !isStringArray(obj["architecture"]) {
		msgs = append(msgs, "data.architecture must be an array of strings")
	}
	if !isStringArray(obj["risks"]) {
		msgs = append(msgs, "data.risks must be an array of strings")
	}
	return msgs
}

func validateTaskData(data any) []string {
	obj, ok := data.(map[string]any)
	if !ok {
		return []string{"data must be an object"}
	}
	var msgs []string
	if tasks, ok := obj["tasks"].([]any); !ok {
		msgs = append(msgs, "data.tasks must be an array")
	} else {
		for i, t := range tasks {
			task, ok := t.(map[string]any)
			if !ok {
				msgs = append(msgs, fmt.Sprintf("data.tasks[%d] must be an object", i))
				continue
			}
			for _, key := range []string{"id", "title", "raw"} {
				if !nonEmptyString(task[key]) {
					msgs = append(msgs, fmt.Sprintf("data.tasks[%d].%s must be a non-empty string", i, key))
				}
			}
			if !isBool(task["completed"]) {
				msgs = append(msgs, fmt.Sprintf("data.tasks[%d].completed must be a boolean", i))
			}
			for _, key := range []string{"references", "notes"} {
				if !isStringArray(task[key]) {
					msgs = append(msgs, fmt.Sprintf("data.tasks[%d].%s must be an array of strings", i, key))
				}
			}
		}
	}
	if !nonEmptyString(obj["progress"]) {
		msgs = append(msgs, "data.progress must be a non-empty string")
	}
	return msgs
}
