package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type runIDCtxKey struct{}
type retrieverCtxKey struct{}
type loggerCtxKey struct{}

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 4)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}

	if runID := RunIDFromContext(ctx); runID != "" {
		fields = append(fields, zap.String("run.id", runID))
	}
	if retriever := RetrieverFromContext(ctx); retriever != "" {
		fields = append(fields, zap.String("run.retriever", retriever))
	}
	return fields
}

// WithRunID attaches a benchmark run id.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDCtxKey{}, runID)
}

// RunIDFromContext returns the attached run id, or "".
func RunIDFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(runIDCtxKey{}).(string); ok {
		return s
	}
	return ""
}

// WithRetriever attaches the retrieval strategy being evaluated.
func WithRetriever(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, retrieverCtxKey{}, name)
}

// RetrieverFromContext returns the attached retriever name, or "".
func RetrieverFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(retrieverCtxKey{}).(string); ok {
		return s
	}
	return ""
}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves the logger stored in ctx, or a nop logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return NewNop()
}
