package config

import (
	"time"

	"mercator-hq/tollgate/pkg/limits/storage"
)

// Default values for configuration fields.
const (
	// Limits defaults
	DefaultLockTimeout          = 30 * time.Second
	DefaultLockCleanupInterval  = 60 * time.Second
	DefaultTrackerPruneInterval = 5 * time.Minute
	DefaultTrackerRetention     = 24 * time.Hour
	DefaultLoadCapacity         = 100

	// Rate limit defaults
	DefaultWatchDebounce = 100 * time.Millisecond

	// Token limit defaults
	DefaultPeriodInterval = "1 day"

	// Storage defaults
	DefaultStorageBackend    = storage.BackendMemory
	DefaultSQLitePath        = "data/tollgate.db"
	DefaultSQLiteDriver      = storage.DriverModernc
	DefaultSQLiteBusyTimeout = 5 * time.Second
	DefaultStorageRetention  = 30 * 24 * time.Hour
	DefaultCleanupSchedule   = "0 3 * * *"

	// Telemetry defaults
	DefaultLoggingLevel       = "info"
	DefaultLoggingFormat      = "json"
	DefaultMetricsAddress     = "127.0.0.1:9090"
	DefaultMetricsPath        = "/metrics"
	DefaultTracingSampler     = "ratio"
	DefaultTracingSampleRatio = 0.1
	DefaultTracingServiceName = "tollgate"
	DefaultTracingTimeout     = 10 * time.Second
)

// ApplyDefaults applies default values to a Config struct.
// It sets defaults for any fields that have zero values.
// This function is idempotent and safe to call multiple times.
func ApplyDefaults(cfg *Config) {
	// Limits defaults
	if cfg.Limits.LockTimeout == 0 {
		cfg.Limits.LockTimeout = DefaultLockTimeout
	}
	if cfg.Limits.LockCleanupInterval == 0 {
		cfg.Limits.LockCleanupInterval = DefaultLockCleanupInterval
	}
	if cfg.Limits.Tracker.PruneInterval == 0 {
		cfg.Limits.Tracker.PruneInterval = DefaultTrackerPruneInterval
	}
	if cfg.Limits.Tracker.Retention == 0 {
		cfg.Limits.Tracker.Retention = DefaultTrackerRetention
	}
	if cfg.Limits.LoadCapacity == 0 {
		cfg.Limits.LoadCapacity = DefaultLoadCapacity
	}
	cfg.Limits.Allocation.ApplyDefaults()

	// Rate limit defaults
	if cfg.RateLimits.WatchDebounce == 0 {
		cfg.RateLimits.WatchDebounce = DefaultWatchDebounce
	}

	// Token limit defaults
	for i := range cfg.TokenLimits {
		if cfg.TokenLimits[i].PeriodInterval == "" {
			cfg.TokenLimits[i].PeriodInterval = DefaultPeriodInterval
		}
	}

	// Storage defaults
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = DefaultStorageBackend
	}
	if cfg.Storage.SQLite.Path == "" {
		cfg.Storage.SQLite.Path = DefaultSQLitePath
	}
	if cfg.Storage.SQLite.Driver == "" {
		cfg.Storage.SQLite.Driver = DefaultSQLiteDriver
	}
	if cfg.Storage.SQLite.BusyTimeout == 0 {
		cfg.Storage.SQLite.BusyTimeout = DefaultSQLiteBusyTimeout
	}
	if cfg.Storage.Retention == 0 {
		cfg.Storage.Retention = DefaultStorageRetention
	}
	if cfg.Storage.CleanupSchedule == "" {
		cfg.Storage.CleanupSchedule = DefaultCleanupSchedule
	}

	// Telemetry defaults
	if cfg.Telemetry.Logging.Level == "" {
		cfg.Telemetry.Logging.Level = DefaultLoggingLevel
	}
	if cfg.Telemetry.Logging.Format == "" {
		cfg.Telemetry.Logging.Format = DefaultLoggingFormat
	}
	if cfg.Telemetry.Metrics.Address == "" {
		cfg.Telemetry.Metrics.Address = DefaultMetricsAddress
	}
	if cfg.Telemetry.Metrics.Path == "" {
		cfg.Telemetry.Metrics.Path = DefaultMetricsPath
	}
	if cfg.Telemetry.Tracing.Sampler == "" {
		cfg.Telemetry.Tracing.Sampler = DefaultTracingSampler
	}
	if cfg.Telemetry.Tracing.SampleRatio == 0 {
		cfg.Telemetry.Tracing.SampleRatio = DefaultTracingSampleRatio
	}
	if cfg.Telemetry.Tracing.ServiceName == "" {
		cfg.Telemetry.Tracing.ServiceName = DefaultTracingServiceName
	}
	if cfg.Telemetry.Tracing.Timeout == 0 {
		cfg.Telemetry.Tracing.Timeout = DefaultTracingTimeout
	}
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
