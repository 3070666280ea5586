package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/epieczko/claude-code-riskexec/internal/analytics"
	apihttp "github.com/epieczko/claude-code-riskexec/internal/http"
)

func newServeCmd(a *app) *cobra.Command {
	var (
		host string
		port int
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the read-only status API and Prometheus metrics",
		Long: `Serve stored contexts, validation reports and the telemetry log over HTTP,
plus /metrics for Prometheus. When analytics.history_db is set, run history
aggregates are exported as speckit_runs_total and friends.

Examples:
  speckit serve
  speckit serve --port 9300`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			reg, closeHistory, err := a.metricsRegistry()
			if err != nil {
				return err
			}
			defer closeHistory()

			store, err := a.store()
			if err != nil {
				return err
			}
			defer store.Close()

			cfg := &apihttp.Config{Host: a.cfg.Server.Host, Port: a.cfg.Server.Port}
			if cmd.Flags().Changed("host") {
				cfg.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}
			srv, err := apihttp.NewServer(apihttp.Options{
				Store:    store,
				Logger:   a.logger,
				Config:   cfg,
				Gatherer: reg,
				Meter:    a.tel.Meter("speckit/http"),
			})
			if err != nil {
				return err
			}

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return fmt.Errorf("http server: %w", err)
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout.Duration())
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.logger.Error(shutdownCtx, "http server shutdown failed", zap.Error(err))
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "listen host (default server.host)")
	cmd.Flags().IntVar(&port, "port", 0, "listen port (default server.port)")
	return cmd
}

// metricsRegistry returns the registry behind /metrics: process and Go
// runtime collectors plus the run history when configured.
func (a *app) metricsRegistry() (*prometheus.Registry, func(), error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	path, err := a.historyPath()
	if err != nil {
		return nil, nil, err
	}
	if path == "" {
		return reg, func() {}, nil
	}
	h, err := analytics.OpenHistory(path)
	if err != nil {
		return nil, nil, err
	}
	if err := reg.Register(analytics.NewHistoryCollector(h)); err != nil {
		_ = h.Close()
		return nil, nil, fmt.Errorf("register history collector: %w", err)
	}
	return reg, func() { _ = h.Close() }, nil
}
