package config

import (
	"fmt"
	"sync"
	"sync/atomic"
)

var (
	// current holds the active configuration.
	current atomic.Pointer[Config]

	// initOnce guards Initialize.
	initOnce sync.Once
)

// Initialize loads configuration from path with environment overrides and
// makes it the active configuration. Only the first call has any effect;
// later calls return nil without reading the file.
func Initialize(path string) error {
	var initErr error

	initOnce.Do(func() {
		cfg, err := LoadConfigWithEnvOverrides(path)
		if err != nil {
			initErr = err
			return
		}
		current.Store(cfg)
	})

	return initErr
}

// GetConfig returns the active configuration, or nil before Initialize.
// The returned value must be treated as read-only; reloads swap in a new
// instance instead of mutating it.
func GetConfig() *Config {
	return current.Load()
}

// SetConfig replaces the active configuration. The watcher calls it after
// every successful reload; tests use it to inject configuration.
func SetConfig(cfg *Config) {
	current.Store(cfg)
}

// ReloadConfig reloads path and swaps it in. On error the active
// configuration is left unchanged.
func ReloadConfig(path string) (*Config, error) {
	cfg, err := LoadConfigWithEnvOverrides(path)
	if err != nil {
		return nil, fmt.Errorf("failed to reload configuration: %w", err)
	}
	current.Store(cfg)
	return cfg, nil
}

// MustGetConfig returns the active configuration and panics if none has
// been loaded.
func MustGetConfig() *Config {
	cfg := GetConfig()
	if cfg == nil {
		panic("configuration not initialized: call Initialize first")
	}
	return cfg
}
