package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/epieczko/claude-code-riskexec/internal/watch"
)

func newWatchCmd(a *app) *cobra.Command {
	var debounce time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Rebuild context snapshots when spec.md, plan.md or tasks.md change",
		Long: `Watch specs/*/ for edits to the phase artifacts and re-derive the stored
context snapshot after each change. New feature directories are picked up
automatically. Stop with Ctrl+C.

Examples:
  speckit watch
  speckit watch --debounce 1s`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			store, err := a.store()
			if err != nil {
				return err
			}
			defer store.Close()

			w, err := watch.New(store, watch.Options{Debounce: debounce, Logger: a.logger})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			done := make(chan struct{})
			go func() {
				defer close(done)
				for {
					select {
					case <-ctx.Done():
						return
					case ev := <-w.Events():
						switch {
						case ev.Err != nil:
							fmt.Fprintf(out, "%s/%s: %v\n", ev.Feature, ev.Phase, ev.Err)
						case ev.Path != "":
							fmt.Fprintf(out, "%s/%s: %s\n", ev.Feature, ev.Phase, ev.Path)
						}
					}
				}
			}()

			err = w.Run(ctx)
			stop()
			<-done
			return err
		},
	}
	cmd.Flags().DurationVar(&debounce, "debounce", watch.DefaultDebounce, "quiet period before rebuilding")
	return cmd
}
