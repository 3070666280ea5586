package logging

import (
	"fmt"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap/zapcore"
)

const instrumentationName = "github.com/epieczko/claude-code-riskexec"

// newCore tees the redacting stderr core with the otelzap bridge when both are enabled.
func newCore(cfg *Config, otelProvider log.LoggerProvider, out zapcore.WriteSyncer) (zapcore.Core, error) {
	cores := make([]zapcore.Core, 0, 2)

	if cfg.Output.Stderr {
		encoder, err := NewRedactingEncoder(newEncoder(cfg.Format), cfg.Redaction)
		if err != nil {
			return nil, fmt.Errorf("failed to create redacting encoder: %w", err)
		}
		cores = append(cores, zapcore.NewCore(encoder, out, cfg.Level))
	}

	if cfg.Output.OTEL && otelProvider != nil {
		cores = append(cores, otelzap.NewCore(instrumentationName,
			otelzap.WithLoggerProvider(otelProvider),
		))
	}

	switch len(cores) {
	case 0:
		return nil, fmt.Errorf("at least one output must be enabled and available")
	case 1:
		return cores[0], nil
	default:
		return zapcore.NewTee(cores...), nil
	}
}
