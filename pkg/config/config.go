package config

import (
	"time"

	"mercator-hq/tollgate/pkg/limits/allocation"
	"mercator-hq/tollgate/pkg/limits/ratelimit"
	"mercator-hq/tollgate/pkg/limits/storage"
)

// Config is the root configuration structure for Tollgate.
// It contains the limiter settings, the rate-limit policies, the token
// budgets seeded at startup, storage selection and telemetry.
type Config struct {
	// Limits contains lock, allocation and tracker settings.
	Limits LimitsConfig `yaml:"limits"`

	// RateLimits contains the per-user and per-endpoint request policies.
	// This section is reloaded when the configuration file changes.
	RateLimits RateLimitsConfig `yaml:"rate_limits"`

	// TokenLimits are token budgets written to the store at startup.
	// Existing usage is preserved.
	TokenLimits []TokenLimitConfig `yaml:"token_limits"`

	// Storage selects the backend for token budgets and usage records.
	Storage StorageConfig `yaml:"storage"`

	// Telemetry contains configuration for observability including logging,
	// metrics, and distributed tracing.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// LimitsConfig contains limiter settings.
type LimitsConfig struct {
	// LockTimeout bounds every lock acquisition made by the limiter.
	// Default: 30s
	LockTimeout time.Duration `yaml:"lock_timeout"`

	// LockCleanupInterval is how often the reaper reclaims expired locks.
	// Default: 60s
	LockCleanupInterval time.Duration `yaml:"lock_cleanup_interval"`

	// Allocation configures the allocation strategy chain.
	Allocation allocation.Config `yaml:"allocation"`

	// Tracker configures the in-memory request tracker.
	Tracker TrackerConfig `yaml:"tracker"`

	// LoadCapacity is the number of configured users and endpoints treated
	// as 100% system load.
	// Default: 100
	LoadCapacity int `yaml:"load_capacity"`

	// EmergencyMode starts the limiter in system emergency.
	// Default: false
	EmergencyMode bool `yaml:"emergency_mode"`
}

// TrackerConfig contains request tracker settings.
type TrackerConfig struct {
	// PruneInterval is how often stale entries are dropped.
	// Default: 5m
	PruneInterval time.Duration `yaml:"prune_interval"`

	// Retention is how long entries are kept.
	// Default: 24h
	Retention time.Duration `yaml:"retention"`
}

// RateLimitsConfig contains request policies keyed by user ID and by
// endpoint. Endpoint policies take precedence.
type RateLimitsConfig struct {
	// Users maps user IDs to policies.
	Users map[string]ratelimit.Config `yaml:"users"`

	// APIs maps endpoints to policies.
	APIs map[string]ratelimit.Config `yaml:"apis"`

	// Watch reloads policies when the configuration file changes.
	// Default: false
	Watch bool `yaml:"watch"`

	// WatchDebounce is the quiet period before a reload.
	// Default: 100ms
	WatchDebounce time.Duration `yaml:"watch_debounce"`
}

// TokenLimitConfig is one token budget.
type TokenLimitConfig struct {
	// UserID identifies the budget owner.
	UserID string `yaml:"user_id"`

	// MaxTokens is the budget per period.
	MaxTokens int64 `yaml:"max_tokens"`

	// PeriodInterval is the period length, e.g. "1 day" or "720h".
	// Default: "1 day"
	PeriodInterval string `yaml:"period_interval"`
}

// StorageConfig selects the store backend.
type StorageConfig struct {
	// Backend is "memory" or "sqlite".
	// Default: "memory"
	Backend string `yaml:"backend"`

	// SQLite contains SQLite-specific settings.
	SQLite SQLiteConfig `yaml:"sqlite"`

	// Retention is how long usage records are kept.
	// Default: 720h (30 days)
	Retention time.Duration `yaml:"retention"`

	// CleanupSchedule is the cron expression for pruning usage records.
	// Empty disables scheduled pruning.
	// Default: "0 3 * * *"
	CleanupSchedule string `yaml:"cleanup_schedule"`
}

// SQLiteConfig contains SQLite settings.
type SQLiteConfig struct {
	// Path is the database file.
	// Default: "data/tollgate.db"
	Path string `yaml:"path"`

	// Driver is "sqlite" (pure Go) or "sqlite3" (cgo).
	// Default: "sqlite"
	Driver string `yaml:"driver"`

	// BusyTimeout is how long a writer waits on a locked database.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// StoreConfig converts the storage section for storage.New.
func (c StorageConfig) StoreConfig() storage.Config {
	return storage.Config{
		Backend:     c.Backend,
		Path:        c.SQLite.Path,
		Driver:      c.SQLite.Driver,
		BusyTimeout: c.SQLite.BusyTimeout,
		Retention:   c.Retention,
	}
}

// TelemetryConfig contains configuration for observability.
type TelemetryConfig struct {
	// Logging contains logging configuration.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics contains metrics collection configuration.
	Metrics MetricsConfig `yaml:"metrics"`

	// Tracing contains distributed tracing configuration.
	Tracing TracingConfig `yaml:"tracing"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level to emit.
	// Options: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `yaml:"level"`

	// Format controls the log output format.
	// Options: "json", "text", "console"
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file and line number in log entries.
	// Default: false
	AddSource bool `yaml:"add_source"`

	// RedactPII masks credentials and e-mail addresses in logs.
	// Default: true
	RedactPII *bool `yaml:"redact_pii"`

	// RedactPatterns contains custom redaction patterns.
	RedactPatterns []RedactPattern `yaml:"redact_patterns"`
}

// RedactEnabled reports whether redaction is on. Unset means on.
func (c LoggingConfig) RedactEnabled() bool {
	return c.RedactPII == nil || *c.RedactPII
}

// RedactPattern defines a custom redaction pattern.
type RedactPattern struct {
	// Name is a descriptive name for the pattern.
	Name string `yaml:"name"`

	// Pattern is the regular expression to match.
	Pattern string `yaml:"pattern"`

	// Replacement is the string to replace matches with.
	Replacement string `yaml:"replacement"`
}

// MetricsConfig contains metrics collection configuration.
type MetricsConfig struct {
	// Enabled controls whether the admin HTTP server runs.
	// Default: true
	Enabled *bool `yaml:"enabled"`

	// Address is the listen address of the admin server that serves
	// metrics and health endpoints.
	// Default: "127.0.0.1:9090"
	Address string `yaml:"address"`

	// Path is the HTTP path for the Prometheus metrics endpoint.
	// Default: "/metrics"
	Path string `yaml:"path"`
}

// IsEnabled reports whether metrics are served. Unset means enabled.
func (c MetricsConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// TracingConfig contains distributed tracing configuration.
type TracingConfig struct {
	// Enabled controls whether distributed tracing is active.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Sampler determines the sampling strategy.
	// Options: "always", "never", "ratio"
	// Default: "ratio"
	Sampler string `yaml:"sampler"`

	// SampleRatio is the fraction of traces to sample (0.0 to 1.0).
	// Only used when Sampler is "ratio".
	// Default: 0.1
	SampleRatio float64 `yaml:"sample_ratio"`

	// Endpoint is the OTLP/gRPC collector endpoint.
	// Example: "localhost:4317"
	Endpoint string `yaml:"endpoint"`

	// ServiceName is the service name in traces.
	// Default: "tollgate"
	ServiceName string `yaml:"service_name"`

	// ServiceVersion is the service version in traces.
	ServiceVersion string `yaml:"service_version"`

	// Insecure disables TLS for the collector connection.
	// Default: false
	Insecure bool `yaml:"insecure"`

	// Timeout is the timeout for span exports.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`
}
