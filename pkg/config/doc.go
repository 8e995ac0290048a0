// Package config loads, validates and watches the Tollgate configuration.
//
// Configuration comes from a YAML file with environment variable overrides:
//
//	cfg, err := config.LoadConfig("tollgate.yaml")
//	cfg, err := config.LoadConfigWithEnvOverrides("tollgate.yaml")
//
// # Environment Variable Overrides
//
// Environment variables follow the naming convention TOLLGATE_SECTION_FIELD:
//
//   - TOLLGATE_STORAGE_BACKEND overrides storage.backend
//   - TOLLGATE_LIMITS_EMERGENCY_MODE overrides limits.emergency_mode
//   - TOLLGATE_TELEMETRY_LOGGING_LEVEL overrides telemetry.logging.level
//
// Values are applied in order: defaults, YAML file, environment. The result
// is validated and every failing field is reported in a single
// ValidationError.
//
// # Example Configuration
//
//	limits:
//	  lock_timeout: 30s
//	  allocation:
//	    strategy: comprehensive
//	    percentages: {high: 0.5, medium: 0.3, low: 0.2}
//	rate_limits:
//	  watch: true
//	  users:
//	    alice: {max_requests: 100, window: hour}
//	  apis:
//	    /v1/chat: {max_requests: 10, window: minute, burst_allowance: 5}
//	token_limits:
//	  - {user_id: alice, max_tokens: 10000, period_interval: "1 day"}
//	storage:
//	  backend: sqlite
//	  sqlite: {path: data/tollgate.db}
//
// # Hot Reload
//
// Watcher reloads the file on change and hands the new configuration to a
// callback. Only the rate_limits section is applied live; other sections
// take effect on restart.
package config
