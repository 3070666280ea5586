package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/epieczko/claude-code-riskexec/internal/registry"
)

func newRegistryCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "registry",
		Short: "Show the phase registry and check workspace workflow files against it",
	}
	cmd.AddCommand(newRegistryShowCmd(), newRegistryVerifyCmd(a), newRegistryCommandMapCmd(a))
	return cmd
}

func newRegistryShowCmd() *cobra.Command {
	var (
		feature    string
		jsonOutput bool
	)
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print phases with their agent, inputs and output",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			entries := registry.Entries()
			w := cmd.OutOrStdout()
			if jsonOutput {
				return writeJSON(w, entries)
			}
			for _, e := range entries {
				output := e.Output
				if feature != "" {
					output = e.OutputFor(feature)
				}
				inputs := "-"
				if len(e.Inputs) > 0 {
					inputs = strings.Join(e.Inputs, ",")
				}
				fmt.Fprintf(w, "%-10s %-15s %-40s %s\n", e.Phase, e.Agent, inputs, output)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&feature, "feature", "f", "", "substitute this feature into output paths")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "print as JSON")
	return cmd
}

func newRegistryVerifyCmd(a *app) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Compare .claude/workflow.yml with the registry",
		Long: `Compare the workspace's workflow description with the built-in phase
registry and list every difference in phase order, agent, inputs and output.
Exits non-zero when they disagree.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := file
			if path == "" {
				path = filepath.Join(a.root, registry.ClaudeWorkflowPath)
			}
			wf, err := registry.LoadWorkflow(path)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			mismatches := registry.VerifyWorkflow(wf)
			if len(mismatches) == 0 {
				fmt.Fprintf(w, "%s matches the registry\n", path)
				return nil
			}
			for _, m := range mismatches {
				fmt.Fprintf(w, "- %s\n", m)
			}
			return fmt.Errorf("%d workflow mismatch(es)", len(mismatches))
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "workflow file (default .claude/workflow.yml in the workspace)")
	return cmd
}

func newRegistryCommandMapCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "command-map",
		Short: "Write .agent-os/command-map.json from the Agent-OS workflow and slash commands",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := registry.WriteCommandMap(a.root)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
}
