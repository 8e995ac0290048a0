package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// NewRegistry returns a registry with the Go runtime and process collectors
// already registered. Components register their own metrics on it.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Collector holds the service-level metrics that do not belong to the
// limiter itself: configuration reloads, retention runs and build info.
// A nil *Collector is valid and records nothing.
type Collector struct {
	configReloads   *prometheus.CounterVec
	retentionRuns   *prometheus.CounterVec
	recordsPruned   prometheus.Counter
	retentionLast   prometheus.Gauge
	buildInfo       *prometheus.GaugeVec
	emergencyMode   prometheus.Gauge
	policiesCurrent *prometheus.GaugeVec
}

// NewCollector registers the service metrics with reg. A nil reg uses the
// default Prometheus registerer.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		configReloads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tollgate_config_reloads_total",
				Help: "Total number of configuration reload attempts",
			},
			[]string{"result"},
		),

		retentionRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tollgate_retention_runs_total",
				Help: "Total number of usage record cleanup runs",
			},
			[]string{"result"},
		),

		recordsPruned: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tollgate_usage_records_pruned_total",
				Help: "Total number of usage records deleted by retention",
			},
		),

		retentionLast: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "tollgate_retention_last_run_timestamp_seconds",
				Help: "Unix time of the last successful retention run",
			},
		),

		buildInfo: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tollgate_build_info",
				Help: "Build information, always 1",
			},
			[]string{"version", "commit"},
		),

		emergencyMode: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "tollgate_emergency_mode",
				Help: "1 while the limiter is in system emergency mode",
			},
		),

		policiesCurrent: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tollgate_rate_limit_policies",
				Help: "Number of configured rate limit policies",
			},
			[]string{"scope"},
		),
	}
}

// RecordConfigReload counts a reload attempt.
func (c *Collector) RecordConfigReload(success bool) {
	if c == nil {
		return
	}
	c.configReloads.WithLabelValues(resultLabel(success)).Inc()
}

// RecordRetentionRun counts a cleanup run. removed and unixTime are only
// recorded for successful runs.
func (c *Collector) RecordRetentionRun(success bool, removed int, unixTime int64) {
	if c == nil {
		return
	}
	c.retentionRuns.WithLabelValues(resultLabel(success)).Inc()
	if success {
		c.recordsPruned.Add(float64(removed))
		c.retentionLast.Set(float64(unixTime))
	}
}

// SetBuildInfo publishes the build labels.
func (c *Collector) SetBuildInfo(version, commit string) {
	if c == nil {
		return
	}
	c.buildInfo.WithLabelValues(version, commit).Set(1)
}

// SetEmergencyMode mirrors the limiter's emergency flag.
func (c *Collector) SetEmergencyMode(on bool) {
	if c == nil {
		return
	}
	if on {
		c.emergencyMode.Set(1)
	} else {
		c.emergencyMode.Set(0)
	}
}

// SetPolicyCounts publishes the number of user and endpoint policies.
func (c *Collector) SetPolicyCounts(users, apis int) {
	if c == nil {
		return
	}
	c.policiesCurrent.WithLabelValues("user").Set(float64(users))
	c.policiesCurrent.WithLabelValues("api").Set(float64(apis))
}

func resultLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
