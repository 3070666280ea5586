package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/epieczko/claude-code-riskexec/internal/files"
)

// CommandMapEntry ties a workflow phase to its CLI slash command and its
// Agent-OS command.
type CommandMapEntry struct {
	Agent          string   `json:"agent"`
	CLICommand     string   `json:"cliCommand"`
	AgentOSCommand string   `json:"agentOsCommand"`
	Instruction    string   `json:"instruction"`
	Inputs         []string `json:"inputs"`
	Output         string   `json:"output"`
}

// CommandMap is keyed by phase id. encoding/json writes map keys sorted.
type CommandMap map[string]CommandMapEntry

// Workspace-relative locations of the inputs and output.
var (
	AgentOSWorkflowPath = filepath.Join(".agent-os", "workflows", "spec_kit.yml")
	ClaudeWorkflowPath  = filepath.Join(".claude", "workflow.yml")
	CommandsDir         = filepath.Join(".claude", "commands")
	CommandMapPath      = filepath.Join(".agent-os", "command-map.json")
)

// BuildCommandMap combines the Agent-OS workflow with the slash commands
// found in commandsDir. A missing commandsDir yields the default "/<phase>"
// commands.
func BuildCommandMap(wf *Workflow, commandsDir string) (CommandMap, error) {
	cli, err := readCLICommands(commandsDir)
	if err != nil {
		return nil, err
	}

	out := make(CommandMap, len(wf.Phases))
	for _, p := range wf.Phases {
		cmd, ok := cli[p.ID]
		if !ok {
			cmd = "/" + p.ID
		}
		output := p.Output
		if output == "" {
			if e, ok := Lookup(Phase(p.ID)); ok {
				output = e.Output
			}
		}
		inputs := []string(p.Input)
		if inputs == nil {
			inputs = []string{}
		}
		out[p.ID] = CommandMapEntry{
			Agent:          p.Agent,
			CLICommand:     cmd,
			AgentOSCommand: p.Command,
			Instruction:    p.Instruction,
			Inputs:         inputs,
			Output:         output,
		}
	}
	return out, nil
}

func readCLICommands(dir string) (map[string]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read commands dir: %w", err)
	}

	out := make(map[string]string)
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasSuffix(e.Name(), ".md") {
			name := strings.TrimSuffix(e.Name(), ".md")
			out[name] = "/" + name
		}
	}
	return out, nil
}

// WriteCommandMap builds the command map for the workspace at root and
// writes it to .agent-os/command-map.json. It returns the written path.
func WriteCommandMap(root string) (string, error) {
	wf, err := LoadWorkflow(filepath.Join(root, AgentOSWorkflowPath))
	if err != nil {
		return "", err
	}
	m, err := BuildCommandMap(wf, filepath.Join(root, CommandsDir))
	if err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal command map: %w", err)
	}
	target := filepath.Join(root, CommandMapPath)
	if err := files.WriteFileAtomic(target, append(data, '\n'), 0o644); err != nil {
		return "", err
	}
	return target, nil
}
