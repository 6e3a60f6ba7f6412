// Package logging provides structured logging with OpenTelemetry correlation.
//
// The Logger wraps Zap with context-aware methods. Every entry picks up
// correlation fields from the context: trace and span ids from an active
// OpenTelemetry span, plus the benchmark run id and retriever name when
// the pipeline has attached them.
//
//	ctx = logging.WithRunID(ctx, runID)
//	ctx = logging.WithRetriever(ctx, "TFIDF")
//	logger.Info(ctx, "run persisted", zap.Float64("mrr", 0.81))
//
// Output goes to stderr so command output on stdout stays machine-readable,
// and optionally to an OpenTelemetry log provider through the otelzap bridge.
//
// Tests use NewTestLogger, which records entries in memory:
//
//	tl := logging.NewTestLogger()
//	tl.Info(ctx, "evaluated")
//	tl.AssertLogged(t, zapcore.InfoLevel, "evaluated")
package logging
