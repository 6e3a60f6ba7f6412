package logging

import (
	"fmt"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap/zapcore"
)

// newDualCore creates a core writing to stderr and/or an OTEL log provider.
func newDualCore(cfg *Config, otelProvider log.LoggerProvider) (zapcore.Core, error) {
	cores := make([]zapcore.Core, 0, 2)

	if cfg.Output.Stderr {
		writer := zapcore.Lock(zapcore.AddSync(os.Stderr))
		cores = append(cores, zapcore.NewCore(newEncoder(cfg.Format), writer, cfg.Level))
	}

	if cfg.Output.OTEL && otelProvider != nil {
		cores = append(cores, otelzap.NewCore("ragbench",
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
