package config

import (
	"fmt"
	"net"
	"regexp"
	"sort"
	"strings"

	"github.com/robfig/cron/v3"

	"mercator-hq/tollgate/pkg/limits/allocation"
	"mercator-hq/tollgate/pkg/limits/ratelimit"
	"mercator-hq/tollgate/pkg/limits/storage"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "storage.sqlite.path").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
// It implements the error interface and provides access to all field errors.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. It returns nil if the configuration is valid.
// All validation errors are collected and returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateLimits(&cfg.Limits)...)
	errs = append(errs, validateRateLimits(&cfg.RateLimits)...)
	errs = append(errs, validateTokenLimits(cfg.TokenLimits)...)
	errs = append(errs, validateStorage(&cfg.Storage)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}

	return nil
}

// validateLimits validates limiter settings and the allocation chain.
func validateLimits(cfg *LimitsConfig) []FieldError {
	var errs []FieldError

	if cfg.LockTimeout <= 0 {
		errs = append(errs, FieldError{
			Field:   "limits.lock_timeout",
			Message: "lock timeout must be positive",
		})
	}
	if cfg.LockCleanupInterval <= 0 {
		errs = append(errs, FieldError{
			Field:   "limits.lock_cleanup_interval",
			Message: "lock cleanup interval must be positive",
		})
	}
	if cfg.Tracker.PruneInterval <= 0 {
		errs = append(errs, FieldError{
			Field:   "limits.tracker.prune_interval",
			Message: "prune interval must be positive",
		})
	}
	if cfg.Tracker.Retention <= 0 {
		errs = append(errs, FieldError{
			Field:   "limits.tracker.retention",
			Message: "tracker retention must be positive",
		})
	}
	if cfg.LoadCapacity <= 0 {
		errs = append(errs, FieldError{
			Field:   "limits.load_capacity",
			Message: "load capacity must be positive",
		})
	}

	// The chain constructor performs every parameter check.
	if _, err := allocation.New(cfg.Allocation); err != nil {
		errs = append(errs, FieldError{
			Field:   "limits.allocation",
			Message: err.Error(),
		})
	}

	return errs
}

// validateRateLimits validates every user and endpoint policy.
func validateRateLimits(cfg *RateLimitsConfig) []FieldError {
	var errs []FieldError

	for _, section := range []struct {
		name     string
		policies map[string]ratelimit.Config
	}{
		{"users", cfg.Users},
		{"apis", cfg.APIs},
	} {
		for _, key := range sortedKeys(section.policies) {
			field := fmt.Sprintf("rate_limits.%s.%s", section.name, key)
			if strings.TrimSpace(key) == "" {
				errs = append(errs, FieldError{
					Field:   field,
					Message: "policy key must not be empty",
				})
				continue
			}
			if err := section.policies[key].Validate(); err != nil {
				errs = append(errs, FieldError{
					Field:   field,
					Message: err.Error(),
				})
			}
		}
	}

	if cfg.WatchDebounce < 0 {
		errs = append(errs, FieldError{
			Field:   "rate_limits.watch_debounce",
			Message: "watch debounce must be non-negative",
		})
	}

	return errs
}

// validateTokenLimits validates the startup token budgets.
func validateTokenLimits(limits []TokenLimitConfig) []FieldError {
	var errs []FieldError
	seen := make(map[string]bool, len(limits))

	for i, l := range limits {
		prefix := fmt.Sprintf("token_limits[%d]", i)

		if l.UserID == "" {
			errs = append(errs, FieldError{
				Field:   prefix + ".user_id",
				Message: "user ID is required",
			})
		} else if seen[l.UserID] {
			errs = append(errs, FieldError{
				Field:   prefix + ".user_id",
				Message: fmt.Sprintf("duplicate token limit for user %q", l.UserID),
			})
		}
		seen[l.UserID] = true

		if l.MaxTokens < 0 {
			errs = append(errs, FieldError{
				Field:   prefix + ".max_tokens",
				Message: "max tokens must be non-negative",
			})
		}
		if _, err := storage.ParsePeriodInterval(l.PeriodInterval); err != nil {
			errs = append(errs, FieldError{
				Field:   prefix + ".period_interval",
				Message: err.Error(),
			})
		}
	}

	return errs
}

// validateStorage validates the storage backend selection.
func validateStorage(cfg *StorageConfig) []FieldError {
	var errs []FieldError

	switch cfg.Backend {
	case storage.BackendMemory:
	case storage.BackendSQLite:
		if cfg.SQLite.Path == "" {
			errs = append(errs, FieldError{
				Field:   "storage.sqlite.path",
				Message: "SQLite path is required when backend is 'sqlite'",
			})
		}
		if cfg.SQLite.Driver != storage.DriverModernc && cfg.SQLite.Driver != storage.DriverMattn {
			errs = append(errs, FieldError{
				Field:   "storage.sqlite.driver",
				Message: fmt.Sprintf("invalid driver %q: must be 'sqlite' or 'sqlite3'", cfg.SQLite.Driver),
			})
		}
		if cfg.SQLite.BusyTimeout < 0 {
			errs = append(errs, FieldError{
				Field:   "storage.sqlite.busy_timeout",
				Message: "busy timeout must be non-negative",
			})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "storage.backend",
			Message: fmt.Sprintf("invalid backend %q: must be 'memory' or 'sqlite'", cfg.Backend),
		})
	}

	if cfg.Retention <= 0 {
		errs = append(errs, FieldError{
			Field:   "storage.retention",
			Message: "retention must be positive",
		})
	}
	if cfg.CleanupSchedule != "" {
		if _, err := cron.ParseStandard(cfg.CleanupSchedule); err != nil {
			errs = append(errs, FieldError{
				Field:   "storage.cleanup_schedule",
				Message: fmt.Sprintf("invalid cron expression %q: %v", cfg.CleanupSchedule, err),
			})
		}
	}

	return errs
}

// validateTelemetry validates logging, metrics and tracing.
func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("invalid logging level %q: must be 'debug', 'info', 'warn', or 'error'", cfg.Logging.Level),
		})
	}

	validFormats := map[string]bool{"json": true, "text": true, "console": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("invalid logging format %q: must be 'json', 'text', or 'console'", cfg.Logging.Format),
		})
	}

	for i, p := range cfg.Logging.RedactPatterns {
		if _, err := regexp.Compile(p.Pattern); err != nil {
			errs = append(errs, FieldError{
				Field:   fmt.Sprintf("telemetry.logging.redact_patterns[%d].pattern", i),
				Message: fmt.Sprintf("invalid regular expression: %v", err),
			})
		}
	}

	if cfg.Metrics.IsEnabled() {
		if _, _, err := net.SplitHostPort(cfg.Metrics.Address); err != nil {
			errs = append(errs, FieldError{
				Field:   "telemetry.metrics.address",
				Message: fmt.Sprintf("invalid listen address %q: %v", cfg.Metrics.Address, err),
			})
		}
		if !strings.HasPrefix(cfg.Metrics.Path, "/") {
			errs = append(errs, FieldError{
				Field:   "telemetry.metrics.path",
				Message: "metrics path must start with /",
			})
		}
	}

	if cfg.Tracing.Enabled && cfg.Tracing.Endpoint == "" {
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.endpoint",
			Message: "tracing endpoint is required when tracing is enabled",
		})
	}
	validSamplers := map[string]bool{"always": true, "never": true, "ratio": true}
	if !validSamplers[cfg.Tracing.Sampler] {
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.sampler",
			Message: fmt.Sprintf("invalid sampler %q: must be 'always', 'never', or 'ratio'", cfg.Tracing.Sampler),
		})
	}
	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1.0 {
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.sample_ratio",
			Message: "sample ratio must be between 0.0 and 1.0",
		})
	}

	return errs
}

// sortedKeys returns map keys in order so errors are reported deterministically.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
