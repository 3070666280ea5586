package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/epieczko/claude-code-riskexec/internal/files"
	"github.com/epieczko/claude-code-riskexec/internal/validate"
)

// errValidationFailed is returned after a report has been printed.
var errValidationFailed = errors.New("validation failed")

func newValidateCmd(a *app) *cobra.Command {
	var (
		feature    string
		jsonOutput bool
	)
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate spec.md, plan.md and tasks.md of a feature",
		Long: `Validate the Markdown artifacts of a feature: required sections of the
spec, plan coverage of the acceptance criteria, and task traceability.
Exits non-zero when any artifact has errors.

Examples:
  speckit validate --feature checkout
  speckit validate --feature checkout --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			name, err := a.feature(cmd.Context(), feature)
			if err != nil {
				return err
			}
			store, err := a.store()
			if err != nil {
				return err
			}
			defer store.Close()

			dir := store.FeatureDir(name)
			if !files.IsDir(dir) {
				return fmt.Errorf("feature directory %s does not exist", dir)
			}
			report, err := validate.PhaseOutputs(dir)
			if err != nil {
				return err
			}
			if err := printReport(cmd.OutOrStdout(), report, jsonOutput); err != nil {
				return err
			}
			if !report.Valid() {
				return errValidationFailed
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&feature, "feature", "f", "", "feature name")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "print the report as JSON")
	return cmd
}

func printReport(w io.Writer, r *validate.Report, asJSON bool) error {
	if asJSON {
		return writeJSON(w, r)
	}
	for _, item := range []struct {
		name string
		res  *validate.Result
	}{
		{"spec.md", r.Spec},
		{"plan.md", r.Plan},
		{"tasks.md", r.Tasks},
	} {
		status := "ok"
		if !item.res.Valid {
			status = "FAILED"
		}
		fmt.Fprintf(w, "%s: %s\n", item.name, status)
		for _, e := range item.res.Errors {
			fmt.Fprintf(w, "  error: %s\n", e)
		}
		for _, warn := range item.res.Warnings {
			fmt.Fprintf(w, "  warning: %s\n", warn)
		}
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
