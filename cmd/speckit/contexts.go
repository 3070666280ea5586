package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/epieczko/claude-code-riskexec/internal/contextstore"
	"github.com/epieczko/claude-code-riskexec/internal/registry"
	"github.com/epieczko/claude-code-riskexec/internal/validate"
)

func newContextsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contexts",
		Short: "Inspect and maintain stored context snapshots",
		Long: `Context snapshots are the JSON envelopes saved under
specs/<feature>/context/<phase>.json after specify, plan and tasks.

Examples:
  speckit contexts list
  speckit contexts show --feature checkout --phase plan
  speckit contexts rebuild --feature checkout
  speckit contexts cleanup --days 14 --purge --dry-run`,
	}
	cmd.AddCommand(
		newContextsListCmd(a),
		newContextsShowCmd(a),
		newContextsValidateCmd(a),
		newContextsRebuildCmd(a),
		newContextsCleanupCmd(a),
	)
	return cmd
}

func newContextsListCmd(a *app) *cobra.Command {
	var (
		feature    string
		jsonOutput bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored snapshots, optionally for one feature",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.store()
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.Entries(cmd.Context(), feature)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if jsonOutput {
				if entries == nil {
					entries = []contextstore.StoredContext{}
				}
				return writeJSON(w, entries)
			}
			if len(entries) == 0 {
				fmt.Fprintln(w, "no contexts stored")
				return nil
			}
			for _, e := range entries {
				fmt.Fprintf(w, "%-24s %-8s %s  %s\n", e.Feature, e.Phase, e.ModTime.Format(time.RFC3339), e.Path)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&feature, "feature", "f", "", "only list this feature")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "print as JSON")
	return cmd
}

func newContextsShowCmd(a *app) *cobra.Command {
	var (
		feature  string
		phase    string
		markdown bool
	)
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print one stored snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			name, err := a.feature(ctx, feature)
			if err != nil {
				return err
			}
			store, err := a.store()
			if err != nil {
				return err
			}
			defer store.Close()

			env, err := loadContext(ctx, store, name, phase)
			if err != nil {
				return err
			}
			if !markdown {
				return writeJSON(cmd.OutOrStdout(), env)
			}
			pc, err := env.Decode()
			if err != nil {
				return err
			}
			md, err := contextstore.MarkdownFor(pc)
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), md)
			return err
		},
	}
	cmd.Flags().StringVarP(&feature, "feature", "f", "", "feature name")
	cmd.Flags().StringVarP(&phase, "phase", "p", string(registry.PhaseSpecify), "specify, plan or tasks")
	cmd.Flags().BoolVar(&markdown, "markdown", false, "render the snapshot as Markdown")
	return cmd
}

func newContextsValidateCmd(a *app) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check every stored snapshot against the envelope schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			report, err := validate.Contexts(cmd.Context(), a.root)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if jsonOutput {
				if err := writeJSON(w, report); err != nil {
					return err
				}
			} else {
				fmt.Fprintf(w, "checked %d context file(s)\n", report.Checked)
				for _, issue := range report.Issues {
					fmt.Fprintf(w, "%s\n", issue.File)
					for _, m := range issue.Messages {
						fmt.Fprintf(w, "  - %s\n", m)
					}
				}
			}
			if !report.Valid() {
				return errValidationFailed
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "print the report as JSON")
	return cmd
}

func newContextsRebuildCmd(a *app) *cobra.Command {
	var feature string
	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Re-derive snapshots from the feature's Markdown artifacts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			name, err := a.feature(ctx, feature)
			if err != nil {
				return err
			}
			store, err := a.store()
			if err != nil {
				return err
			}
			defer store.Close()

			written, err := store.RebuildAndSave(ctx, name)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if len(written) == 0 {
				fmt.Fprintf(w, "no artifacts found for %s\n", name)
				return nil
			}
			for _, p := range written {
				fmt.Fprintln(w, p)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&feature, "feature", "f", "", "feature name")
	return cmd
}

func newContextsCleanupCmd(a *app) *cobra.Command {
	var (
		opts  contextstore.CleanupOptions
		purge bool
	)
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Archive or purge snapshots older than --days",
		Long: `Archive stale snapshots to specs/<feature>/context-archive/, or delete
them with --purge. --dry-run only reports what would happen.

Examples:
  speckit contexts cleanup --days 30
  speckit contexts cleanup --feature checkout --purge --dry-run`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if purge {
				opts.Mode = contextstore.CleanupPurge
			}
			store, err := a.store()
			if err != nil {
				return err
			}
			defer store.Close()

			actions, err := store.Cleanup(cmd.Context(), opts)
			w := cmd.OutOrStdout()
			for _, act := range actions {
				verb := "archived"
				if act.Mode == contextstore.CleanupPurge {
					verb = "purged"
				}
				if opts.DryRun {
					verb = "would be " + verb
				}
				line := fmt.Sprintf("%s: %s", verb, act.Path)
				if act.Destination != "" {
					line += " -> " + act.Destination
				}
				fmt.Fprintln(w, line)
			}
			if err != nil {
				return err
			}
			if len(actions) == 0 {
				fmt.Fprintln(w, "nothing to clean")
			}
			return nil
		},
	}
	fl := cmd.Flags()
	fl.IntVar(&opts.Days, "days", contextstore.DefaultCleanupDays, "age limit in days")
	fl.BoolVar(&purge, "purge", false, "delete instead of archiving")
	fl.StringVarP(&opts.Feature, "feature", "f", "", "only clean this feature")
	fl.BoolVar(&opts.DryRun, "dry-run", false, "report without changing anything")
	return cmd
}

var errContextPhase = errors.New("phase has no stored context")

func parseContextPhase(name string) (registry.Phase, error) {
	p, err := registry.ParsePhase(name)
	if err != nil {
		return "", err
	}
	if !contextstore.HasContext(p) {
		return "", fmt.Errorf("%w: %s", errContextPhase, name)
	}
	return p, nil
}

func loadContext(ctx context.Context, store *contextstore.Store, feature, phase string) (*contextstore.Envelope, error) {
	p, err := parseContextPhase(phase)
	if err != nil {
		return nil, err
	}
	env, err := store.LoadEnvelope(ctx, feature, p)
	if err != nil {
		return nil, err
	}
	if env == nil {
		return nil, fmt.Errorf("no %s context stored for %s", p, feature)
	}
	return env, nil
}
