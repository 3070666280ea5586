package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type (
	featureCtxKey struct{}
	phaseCtxKey   struct{}
	runCtxKey     struct{}
	loggerCtxKey  struct{}
)

// ContextFields extracts correlation data from ctx.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 5)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if v := FeatureFromContext(ctx); v != "" {
		fields = append(fields, zap.String("feature", v))
	}
	if v := PhaseFromContext(ctx); v != "" {
		fields = append(fields, zap.String("phase", v))
	}
	if v := RunIDFromContext(ctx); v != "" {
		fields = append(fields, zap.String("run.id", v))
	}
	return fields
}

// WithFeature tags ctx with the feature being worked on.
func WithFeature(ctx context.Context, feature string) context.Context {
	return context.WithValue(ctx, featureCtxKey{}, feature)
}

// FeatureFromContext returns the feature set by WithFeature.
func FeatureFromContext(ctx context.Context) string {
	s, _ := ctx.Value(featureCtxKey{}).(string)
	return s
}

// WithPhase tags ctx with the running phase.
func WithPhase(ctx context.Context, phase string) context.Context {
	return context.WithValue(ctx, phaseCtxKey{}, phase)
}

// PhaseFromContext returns the phase set by WithPhase.
func PhaseFromContext(ctx context.Context) string {
	s, _ := ctx.Value(phaseCtxKey{}).(string)
	return s
}

// WithRunID tags ctx with the orchestrator run id.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runCtxKey{}, id)
}

// RunIDFromContext returns the run id set by WithRunID.
func RunIDFromContext(ctx context.Context) string {
	s, _ := ctx.Value(runCtxKey{}).(string)
	return s
}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves the logger stored by WithLogger, or a nop logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return Nop()
}
