// Package telemetry sets up OpenTelemetry tracing and metrics for ragbench.
//
// Telemetry is off by default. When enabled, spans and metrics are exported
// over OTLP (gRPC or HTTP) to a collector. Exporter failures never stop a
// benchmark run; the instance degrades to no-op providers instead.
//
//	tel, err := telemetry.New(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(ctx)
//
//	ctx, span := tel.Tracer("ragbench/pipeline").Start(ctx, "pipeline.evaluate")
//	defer span.End()
//
// Tests use NewTestTelemetry for in-memory span and metric capture.
package telemetry
