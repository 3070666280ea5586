package main

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/epieczko/claude-code-riskexec/internal/dashboard"
	"github.com/epieczko/claude-code-riskexec/internal/mirror"
	"github.com/epieczko/claude-code-riskexec/internal/orchestrator"
)

func newStatusCmd(a *app) *cobra.Command {
	var (
		limit      int
		jsonOutput bool
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the phase telemetry log",
		Long: `Print .agent-os/product/status.json as a table, newest entries last.

Examples:
  speckit status
  speckit status --limit 5`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			entries, err := orchestrator.ReadTelemetry(mirror.StatusPath(a.root))
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if jsonOutput {
				return writeJSON(w, entries)
			}
			fmt.Fprintln(w, dashboard.StatusTable(entries, limit))
			fmt.Fprintln(w, dashboard.Summary(entries))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "show only the newest N entries (0 for all)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "print the raw entries as JSON")
	return cmd
}

func newDashboardCmd(a *app) *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Live terminal dashboard of phase telemetry",
		Long: `Open a terminal dashboard that re-reads .agent-os/product/status.json on
every tick and shows per-phase success rates, durations and recent runs.
Press r to refresh, q to quit.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			every := a.cfg.Dashboard.Interval.Duration()
			if cmd.Flags().Changed("interval") {
				every = interval
			}
			model := dashboard.NewModel(mirror.StatusPath(a.root), every)
			p := tea.NewProgram(model,
				tea.WithAltScreen(),
				tea.WithContext(cmd.Context()),
				tea.WithOutput(cmd.OutOrStdout()))
			_, err := p.Run()
			return err
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 0, "refresh interval (default dashboard.interval)")
	return cmd
}
