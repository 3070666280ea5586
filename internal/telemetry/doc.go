// Package telemetry wires OpenTelemetry tracing and metrics for speckit.
//
// Telemetry is off by default. When enabled, spans and metrics are exported
// over OTLP (gRPC or HTTP) to a collector:
//
//	tel, err := telemetry.New(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(ctx)
//
//	ctx, span := tel.Tracer("speckit.orchestrator").Start(ctx, "orchestrator.Run")
//	defer span.End()
//
// A disabled or degraded instance still hands out working no-op tracers and
// meters, so callers never branch on whether telemetry is on.
//
// Tests use NewTestTelemetry, which records spans in memory and collects
// metrics through a manual reader.
package telemetry
