// Package tracing wires OpenTelemetry tracing for tollgate.
//
// New installs a global tracer provider that batches spans to an OTLP gRPC
// collector. The limits package starts its spans through otel.Tracer, so it
// is traced whenever a provider is installed and costs a noop span
// otherwise.
//
//	tracer, err := tracing.New(&cfg.Telemetry.Tracing)
//	if err != nil {
//	    return err
//	}
//	defer tracer.Shutdown(context.Background())
//
// Sampling is "always", "never" or "ratio" (trace-ID based), always wrapped
// in ParentBased.
package tracing
