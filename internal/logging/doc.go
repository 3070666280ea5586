// Package logging provides structured logging for speckit on top of Zap.
//
// Every logging method takes a context so run correlation travels with the
// call rather than with the logger:
//
//	ctx = logging.WithFeature(ctx, "checkout")
//	ctx = logging.WithPhase(ctx, "plan")
//	logger.Info(ctx, "phase completed", zap.Duration("duration", d))
//
// produces
//
//	{"level":"info","msg":"phase completed","feature":"checkout","phase":"plan","duration":"1.2s"}
//
// Output goes to stderr so command output on stdout stays machine readable.
// When an OpenTelemetry log provider is supplied the same entries are bridged
// through otelzap, and trace_id/span_id are attached from the active span.
//
// Field names listed in RedactionConfig (token, authorization, ...) are
// replaced at the encoder.
//
// Use NewTestLogger in tests to assert on emitted entries.
package logging
