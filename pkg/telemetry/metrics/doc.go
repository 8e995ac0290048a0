// Package metrics exposes Tollgate's Prometheus registry over HTTP and holds
// the service-level metrics.
//
// The limiter registers its own collectors (see limits.NewMetrics); this
// package only creates the shared registry, records reload and retention
// activity, and serves the exposition endpoint:
//
//	reg := metrics.NewRegistry()
//	limiterMetrics := limits.NewMetrics(reg)
//	svc := metrics.NewCollector(reg)
//	mux.Handle("/metrics", metrics.Handler(reg, logger))
//
// # Metrics
//
//   - tollgate_config_reloads_total{result}
//   - tollgate_retention_runs_total{result}
//   - tollgate_usage_records_pruned_total
//   - tollgate_retention_last_run_timestamp_seconds
//   - tollgate_build_info{version,commit}
//   - tollgate_emergency_mode
//   - tollgate_rate_limit_policies{scope}
package metrics
