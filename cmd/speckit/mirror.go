package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/epieczko/claude-code-riskexec/internal/contextstore"
	"github.com/epieczko/claude-code-riskexec/internal/mirror"
)

func newMirrorCmd(a *app) *cobra.Command {
	var feature string
	cmd := &cobra.Command{
		Use:   "mirror",
		Short: "Copy a feature's artifacts into .agent-os/product/<feature>/",
		Long: `Mirror spec.md, plan.md, tasks.md and implementation/ of a feature into
the Agent-OS product tree. Missing artifacts are skipped.

Examples:
  speckit mirror --feature checkout`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			name, err := a.feature(ctx, feature)
			if err != nil {
				return err
			}
			m := mirror.New(a.root, a.logger)
			src := contextstore.New(contextstore.Options{Root: a.root, Logger: a.logger}).FeatureDir(name)
			paths, err := m.Feature(ctx, name, src)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if len(paths) == 0 {
				fmt.Fprintf(w, "nothing to mirror for %s\n", name)
				return nil
			}
			fmt.Fprintf(w, "mirrored %d file(s) to %s\n", len(paths), m.ProductDir(name))
			for _, p := range paths {
				fmt.Fprintf(w, "  %s\n", p)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&feature, "feature", "f", "", "feature name")
	return cmd
}
