// Package telemetry groups the observability packages used by Tollgate.
//
// # Components
//
//   - logging: slog logger construction, context fields and PII redaction
//   - metrics: process-level Prometheus collectors and the /metrics handler
//   - tracing: OpenTelemetry tracer provider with an OTLP gRPC exporter
//   - health: liveness, readiness and version endpoints
//
// Limiter metrics live next to the limiter in pkg/limits; this package
// tree only holds what the service process owns.
//
// # Usage
//
//	logger, err := logging.New(logging.FromConfig(cfg.Telemetry.Logging))
//	tracer, err := tracing.New(&cfg.Telemetry.Tracing)
//	defer tracer.Shutdown(ctx)
//
//	reg := metrics.NewRegistry()
//	collector := metrics.NewCollector(reg)
//	mux.Handle(cfg.Telemetry.Metrics.Path, metrics.Handler(reg, logger))
package telemetry
