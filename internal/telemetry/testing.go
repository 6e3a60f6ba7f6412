package telemetry

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// TestTelemetry records spans and metrics in memory.
type TestTelemetry struct {
	*Telemetry

	SpanRecorder *tracetest.SpanRecorder
	MetricReader *sdkmetric.ManualReader
}

// NewTestTelemetry creates telemetry backed by in-memory exporters.
// Providers are not installed globally.
func NewTestTelemetry() *TestTelemetry {
	cfg := NewDefaultConfig()
	cfg.Enabled = true

	recorder := tracetest.NewSpanRecorder()
	reader := sdkmetric.NewManualReader()

	return &TestTelemetry{
		Telemetry: &Telemetry{
			config:         cfg,
			tracerProvider: trace.NewTracerProvider(trace.WithSpanProcessor(recorder)),
			meterProvider:  sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
		},
		SpanRecorder: recorder,
		MetricReader: reader,
	}
}

// SpanNames returns the names of ended spans in end order.
func (t *TestTelemetry) SpanNames() []string {
	spans := t.SpanRecorder.Ended()
	names := make([]string, len(spans))
	for i, s := range spans {
		names[i] = s.Name()
	}
	return names
}

// AssertSpanExists verifies a span with the given name ended.
func (t *TestTelemetry) AssertSpanExists(tb testing.TB, name string) {
	tb.Helper()
	for _, s := range t.SpanRecorder.Ended() {
		if s.Name() == name {
			return
		}
	}
	tb.Errorf("expected span %q not found, got: %v", name, t.SpanNames())
}

// AssertSpanAttribute verifies some span named spanName carries key=expected.
func (t *TestTelemetry) AssertSpanAttribute(tb testing.TB, spanName, key string, expected interface{}) {
	tb.Helper()
	for _, s := range t.SpanRecorder.Ended() {
		if s.Name() != spanName {
			continue
		}
		for _, attr := range s.Attributes() {
			if string(attr.Key) == key && attr.Value.AsInterface() == expected {
				return
			}
		}
	}
	tb.Errorf("no span %q with attribute %s=%v", spanName, key, expected)
}

// MetricNames collects current metrics and returns their names.
func (t *TestTelemetry) MetricNames(ctx context.Context) ([]string, error) {
	var rm metricdata.ResourceMetrics
	if err := t.MetricReader.Collect(ctx, &rm); err != nil {
		return nil, err
	}
	var names []string
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			names = append(names, m.Name)
		}
	}
	return names, nil
}
