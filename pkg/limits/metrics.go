package limits

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"mercator-hq/tollgate/pkg/limits/lock"
)

// Metrics contains Prometheus metrics for the limits package.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Rate limit checks
	rateLimitChecks   *prometheus.CounterVec
	rateLimitFailOpen prometheus.Counter

	// Token allocation
	allocations     *prometheus.CounterVec
	tokensAllocated *prometheus.CounterVec

	// Locks
	lockWait     *prometheus.HistogramVec
	lockTimeouts *prometheus.CounterVec
	lockReclaims *prometheus.CounterVec
	activeLocks  prometheus.Gauge

	// Check latency
	checkDuration *prometheus.HistogramVec
}

// NewMetrics registers the limits collectors with reg. A nil reg uses the
// default Prometheus registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		rateLimitChecks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tollgate_rate_limit_checks_total",
				Help: "Total number of rate limit checks performed",
			},
			[]string{"scope", "result"},
		),

		rateLimitFailOpen: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tollgate_rate_limit_fail_open_total",
				Help: "Total number of rate limit checks allowed because the check itself failed",
			},
		),

		allocations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tollgate_token_allocations_total",
				Help: "Total number of token allocation requests",
			},
			[]string{"priority", "result"},
		),

		tokensAllocated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tollgate_tokens_allocated_total",
				Help: "Total number of tokens granted",
			},
			[]string{"priority"},
		),

		lockWait: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tollgate_lock_wait_seconds",
				Help:    "Time spent waiting to acquire a lock",
				Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10), // 10µs to ~2.6s
			},
			[]string{"lock_type"},
		),

		lockTimeouts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tollgate_lock_timeouts_total",
				Help: "Total number of lock acquisitions that timed out",
			},
			[]string{"lock_type"},
		),

		lockReclaims: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tollgate_lock_reclaims_total",
				Help: "Total number of expired locks force-released",
			},
			[]string{"lock_type"},
		),

		activeLocks: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "tollgate_active_locks",
				Help: "Current number of held locks",
			},
		),

		checkDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tollgate_check_duration_seconds",
				Help:    "Duration of limit operations in seconds",
				Buckets: prometheus.ExponentialBuckets(0.000001, 2, 20), // 1µs to ~0.5s
			},
			[]string{"operation"},
		),
	}
}

// RecordRateLimitCheck records a rate limit decision.
func (m *Metrics) RecordRateLimitCheck(scope Scope, allowed bool) {
	if m == nil {
		return
	}
	result := "allowed"
	if !allowed {
		result = "blocked"
	}
	label := string(scope)
	if label == "" {
		label = "none"
	}
	m.rateLimitChecks.WithLabelValues(label, result).Inc()
}

// RecordFailOpen records a check allowed because it could not be evaluated.
func (m *Metrics) RecordFailOpen() {
	if m == nil {
		return
	}
	m.rateLimitFailOpen.Inc()
}

// RecordAllocation records an allocation outcome.
func (m *Metrics) RecordAllocation(priority string, success bool, tokens int64) {
	if m == nil {
		return
	}
	result := "granted"
	if !success {
		result = "denied"
	}
	m.allocations.WithLabelValues(priority, result).Inc()
	if tokens > 0 {
		m.tokensAllocated.WithLabelValues(priority).Add(float64(tokens))
	}
}

// RecordCheckDuration records the duration of a limit operation.
func (m *Metrics) RecordCheckDuration(operation string, d time.Duration) {
	if m == nil {
		return
	}
	m.checkDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// LockAcquired implements lock.Observer.
func (m *Metrics) LockAcquired(t lock.Type, waited time.Duration) {
	if m == nil {
		return
	}
	m.lockWait.WithLabelValues(string(t)).Observe(waited.Seconds())
}

// LockTimedOut implements lock.Observer.
func (m *Metrics) LockTimedOut(t lock.Type) {
	if m == nil {
		return
	}
	m.lockTimeouts.WithLabelValues(string(t)).Inc()
}

// LockReclaimed implements lock.Observer.
func (m *Metrics) LockReclaimed(t lock.Type) {
	if m == nil {
		return
	}
	m.lockReclaims.WithLabelValues(string(t)).Inc()
}

// ActiveLocksChanged implements lock.Observer.
func (m *Metrics) ActiveLocksChanged(n int) {
	if m == nil {
		return
	}
	m.activeLocks.Set(float64(n))
}

var _ lock.Observer = (*Metrics)(nil)
