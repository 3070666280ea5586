package registry

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// StringList accepts either a YAML scalar or a sequence of scalars.
type StringList []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *StringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Tag == "!!null" || node.Value == "" {
			*l = nil
			return nil
		}
		*l = StringList{node.Value}
		return nil
	case yaml.SequenceNode:
		var items []string
		if err := node.Decode(&items); err != nil {
			return err
		}
		*l = items
		return nil
	default:
		return fmt.Errorf("line %d: expected string or list", node.Line)
	}
}

// WorkflowPhase is one phase of a YAML workflow description.
type WorkflowPhase struct {
	ID          string     `yaml:"id"`
	Agent       string     `yaml:"agent"`
	Command     string     `yaml:"command,omitempty"`
	Instruction string     `yaml:"instruction,omitempty"`
	Input       StringList `yaml:"input,omitempty"`
	Output      string     `yaml:"output,omitempty"`
}

// Workflow is the document shape shared by .claude/workflow.yml and
// .agent-os/workflows/spec_kit.yml.
type Workflow struct {
	Phases []WorkflowPhase `yaml:"phases"`
}

// ParseWorkflow decodes a workflow document.
func ParseWorkflow(data []byte) (*Workflow, error) {
	var wf Workflow
	if err := yaml.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("failed to parse workflow: %w", err)
	}
	return &wf, nil
}

// LoadWorkflow reads and decodes the workflow file at path.
func LoadWorkflow(path string) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow %s: %w", path, err)
	}
	return ParseWorkflow(data)
}

// VerifyWorkflow compares wf against the registry and returns one message per
// drift. An empty result means the two descriptions agree.
func VerifyWorkflow(wf *Workflow) []string {
	byID := make(map[string]WorkflowPhase, len(wf.Phases))
	for _, p := range wf.Phases {
		byID[p.ID] = p
	}

	var mismatches []string
	for index, entry := range entries {
		id := string(entry.Phase)
		yp, ok := byID[id]
		if !ok {
			mismatches = append(mismatches, fmt.Sprintf("Phase %q missing from workflow.yml", id))
			continue
		}
		yamlIndex := slices.IndexFunc(wf.Phases, func(p WorkflowPhase) bool { return p.ID == id })
		if yamlIndex != index {
			mismatches = append(mismatches, fmt.Sprintf(
				"Phase order mismatch for %q (registry index %d, YAML index %d)", id, index, yamlIndex))
		}
		if yp.Agent != entry.Agent {
			mismatches = append(mismatches, fmt.Sprintf(
				"Agent mismatch for %q: registry=%s, yaml=%s", id, entry.Agent, yp.Agent))
		}
		if yp.Output != entry.Output {
			mismatches = append(mismatches, fmt.Sprintf(
				"Output mismatch for %q: registry=%s, yaml=%s", id, entry.Output, yp.Output))
		}
		want := entry.NormalizedInputs()
		if !sameMembers(want, yp.Input) {
			mismatches = append(mismatches, fmt.Sprintf(
				"Input mismatch for %q: registry=%s, yaml=%s", id, joinOrNone(want), joinOrNone(yp.Input)))
		}
	}

	for _, p := range wf.Phases {
		if Index(Phase(p.ID)) < 0 {
			mismatches = append(mismatches, fmt.Sprintf("workflow.yml lists unknown phase %q", p.ID))
		}
	}
	return mismatches
}

func sameMembers(expected, actual []string) bool {
	if len(expected) != len(actual) {
		return false
	}
	for _, v := range expected {
		if !slices.Contains(actual, v) {
			return false
		}
	}
	return true
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, ", ")
}
