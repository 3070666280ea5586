// Package http serves the read-only status API: stored contexts, phase
// telemetry, artifact validation and Prometheus metrics.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/epieczko/claude-code-riskexec/internal/contextstore"
	"github.com/epieczko/claude-code-riskexec/internal/files"
	"github.com/epieczko/claude-code-riskexec/internal/logging"
	"github.com/epieczko/claude-code-riskexec/internal/mirror"
	"github.com/epieczko/claude-code-riskexec/internal/orchestrator"
	"github.com/epieczko/claude-code-riskexec/internal/registry"
	"github.com/epieczko/claude-code-riskexec/internal/sanitize"
	"github.com/epieczko/claude-code-riskexec/internal/validate"
)

// Server provides the status API.
type Server struct {
	echo     *echo.Echo
	store    *contextstore.Store
	gatherer prometheus.Gatherer
	logger   *logging.Logger
	config   *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// Options wire a Server.
type Options struct {
	Store  *contextstore.Store
	Logger *logging.Logger
	Config *Config

	// Gatherer backs /metrics; defaults to prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
	// Meter records per-request OTel metrics when set.
	Meter metric.Meter
}

// NewServer creates a new HTTP server.
func NewServer(opts Options) (*Server, error) {
	if opts.Store == nil {
		return nil, errors.New("context store cannot be nil")
	}
	if opts.Logger == nil {
		return nil, errors.New("logger is required for request tracking and debugging")
	}
	if opts.Config == nil {
		opts.Config = &Config{Host: "localhost", Port: 9191}
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(requestLogger(opts.Logger))
	if opts.Meter != nil {
		e.Use(NewHTTPMetrics(opts.Meter, opts.Logger).MetricsMiddleware())
	}

	s := &Server{
		echo:     e,
		store:    opts.Store,
		gatherer: opts.Gatherer,
		logger:   opts.Logger,
		config:   opts.Config,
	}
	s.registerRoutes()
	return s, nil
}

func requestLogger(logger *logging.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			logger.Info(c.Request().Context(), "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return nil
		}
	}
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/contexts", s.handleContexts)
	v1.GET("/features/:feature/contexts/:phase", s.handleContext)
	v1.GET("/features/:feature/validation", s.handleValidation)
	v1.GET("/telemetry", s.handleTelemetry)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// ContextsResponse is the response body for GET /api/v1/contexts.
type ContextsResponse struct {
	Contexts []contextstore.StoredContext `json:"contexts"`
	Count    int                          `json:"count"`
}

// TelemetryResponse is the response body for GET /api/v1/telemetry.
type TelemetryResponse struct {
	Entries []orchestrator.TelemetryEntry `json:"entries"`
	Count   int                           `json:"count"`
}

// ValidationResponse is the response body for
// GET /api/v1/features/:feature/validation.
type ValidationResponse struct {
	Feature string           `json:"feature"`
	Valid   bool             `json:"valid"`
	Report  *validate.Report `json:"report"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleContexts(c echo.Context) error {
	feature := c.QueryParam("feature")
	if feature != "" {
		if err := sanitize.ValidateFeature(feature); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}

	entries, err := s.store.Entries(c.Request().Context(), feature)
	if err != nil {
		s.logger.Error(c.Request().Context(), "failed to list contexts", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list contexts")
	}
	if entries == nil {
		entries = []contextstore.StoredContext{}
	}
	return c.JSON(http.StatusOK, ContextsResponse{Contexts: entries, Count: len(entries)})
}

func (s *Server) handleContext(c echo.Context) error {
	feature, err := s.feature(c)
	if err != nil {
		return err
	}
	phase, err := registry.ParsePhase(c.Param("phase"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if !contextstore.HasContext(phase) {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("phase %s has no stored context", phase))
	}

	env, err := s.store.LoadEnvelope(c.Request().Context(), feature, phase)
	if err != nil {
		s.logger.Error(c.Request().Context(), "failed to load context", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load context")
	}
	if env == nil {
		return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("no %s context for %s", phase, feature))
	}
	return c.JSON(http.StatusOK, env)
}

func (s *Server) handleValidation(c echo.Context) error {
	feature, err := s.feature(c)
	if err != nil {
		return err
	}
	dir := s.store.FeatureDir(feature)
	if !files.IsDir(dir) {
		return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("feature %s not found", feature))
	}

	report, err := validate.PhaseOutputs(dir)
	if err != nil {
		s.logger.Error(c.Request().Context(), "failed to validate feature", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to validate feature")
	}
	return c.JSON(http.StatusOK, ValidationResponse{Feature: feature, Valid: report.Valid(), Report: report})
}

func (s *Server) handleTelemetry(c echo.Context) error {
	entries, err := orchestrator.ReadTelemetry(mirror.StatusPath(s.store.Root()))
	if err != nil {
		s.logger.Error(c.Request().Context(), "failed to read telemetry", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to read telemetry")
	}

	phase, runID := c.QueryParam("phase"), c.QueryParam("run_id")
	filtered := make([]orchestrator.TelemetryEntry, 0, len(entries))
	for _, e := range entries {
		if (phase == "" || e.Phase == phase) && (runID == "" || e.RunID == runID) {
			filtered = append(filtered, e)
		}
	}
	return c.JSON(http.StatusOK, TelemetryResponse{Entries: filtered, Count: len(filtered)})
}

func (s *Server) feature(c echo.Context) (string, error) {
	feature := c.Param("feature")
	if err := sanitize.ValidateFeature(feature); err != nil {
		return "", echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return feature, nil
}

// Addr returns host:port.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}

// Start starts the HTTP server. It returns http.ErrServerClosed after Shutdown.
func (s *Server) Start() error {
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", s.Addr()))
	return s.echo.Start(s.Addr())
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
