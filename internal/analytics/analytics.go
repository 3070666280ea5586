// Package analytics records run-level workflow metrics: a log line, an MCP
// push, and any number of extra sinks (Prometheus pushgateway, local SQLite
// history).
package analytics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/epieczko/claude-code-riskexec/internal/logging"
	"github.com/epieczko/claude-code-riskexec/internal/mcpsync"
)

// DefaultCommand is the MCP command used for metric pushes.
const DefaultCommand = "analytics.recordMetrics"

// Metrics summarizes one orchestrator run.
type Metrics struct {
	CoveragePct float64        `json:"coveragePct"`
	RuntimeMs   int64          `json:"runtimeMs"`
	Success     bool           `json:"success"`
	Details     map[string]any `json:"details"`
}

// Payload is what sinks receive.
type Payload struct {
	Metrics
	Timestamp string `json:"timestamp"`
	Feature   string `json:"feature,omitempty"`
	Phase     string `json:"phase,omitempty"`
}

// Status renders Success as "success" or "failure".
func (p Payload) Status() string {
	if p.Success {
		return "success"
	}
	return "failure"
}

// Sink stores or forwards a payload.
type Sink interface {
	Record(ctx context.Context, p Payload) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, p Payload) error

// Record calls f.
func (f SinkFunc) Record(ctx context.Context, p Payload) error { return f(ctx, p) }

// Options configures a Recorder.
type Options struct {
	Command string
	Runner  mcpsync.Runner
	Sinks   []Sink
	Logger  *logging.Logger
	Now     func() time.Time
}

// Recorder fans metrics out to the configured sinks. Sink failures are
// logged and never returned.
type Recorder struct {
	command string
	runner  mcpsync.Runner
	sinks   []Sink
	logger  *logging.Logger
	now     func() time.Time
}

// NewRecorder returns a Recorder.
func NewRecorder(opts Options) *Recorder {
	r := &Recorder{
		command: opts.Command,
		runner:  opts.Runner,
		sinks:   opts.Sinks,
		logger:  opts.Logger,
		now:     opts.Now,
	}
	if r.command == "" {
		r.command = DefaultCommand
	}
	if r.runner == nil {
		r.runner = mcpsync.Nop{}
	}
	if r.logger == nil {
		r.logger = logging.Nop()
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// Record logs m and forwards it. The returned payload is what sinks saw.
func (r *Recorder) Record(ctx context.Context, m Metrics, feature, phase string) Payload {
	if m.Details == nil {
		m.Details = map[string]any{}
	}
	p := Payload{
		Metrics:   m,
		Timestamp: r.now().UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		Feature:   feature,
		Phase:     phase,
	}

	r.logger.Info(ctx, FormatLine(p),
		zap.Float64("coverage_pct", m.CoveragePct),
		zap.Int64("runtime_ms", m.RuntimeMs),
		zap.String("status", p.Status()))

	if err := r.runner.Run(ctx, r.command, p); err != nil {
		r.logger.Warn(ctx, "failed to push analytics metrics", zap.String("command", r.command), zap.Error(err))
	}
	for _, s := range r.sinks {
		if err := s.Record(ctx, p); err != nil {
			r.logger.Warn(ctx, "analytics sink failed", zap.String("sink", fmt.Sprintf("%T", s)), zap.Error(err))
		}
	}
	return p
}

// Close releases the runner and any sink holding resources.
func (r *Recorder) Close() error {
	err := mcpsync.Close(r.runner)
	for _, s := range r.sinks {
		if c, ok := s.(interface{ Close() error }); ok {
			if cerr := c.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
	}
	return err
}

// FormatLine renders the one-line metrics summary.
func FormatLine(p Payload) string {
	parts := []string{
		fmt.Sprintf("coverage=%.1f%%", p.CoveragePct),
		fmt.Sprintf("runtime=%dms", p.RuntimeMs),
		"status=" + p.Status(),
	}
	if p.Feature != "" {
		parts = append(parts, "feature="+p.Feature)
	}
	if p.Phase != "" {
		parts = append(parts, "phase="+p.Phase)
	}
	return "[metrics] " + strings.Join(parts, " ")
}
