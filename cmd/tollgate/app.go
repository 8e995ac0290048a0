package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"mercator-hq/tollgate/pkg/cli"
	"mercator-hq/tollgate/pkg/config"
	"mercator-hq/tollgate/pkg/limits"
	"mercator-hq/tollgate/pkg/limits/allocation"
	"mercator-hq/tollgate/pkg/limits/lock"
	"mercator-hq/tollgate/pkg/limits/ratelimit"
	"mercator-hq/tollgate/pkg/limits/storage"
	"mercator-hq/tollgate/pkg/telemetry/logging"
)

// app holds what every command needs: configuration, logger, store and
// limiter.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   storage.Store
	limiter *limits.RateLimiter
}

// loadConfig reads --config with environment overrides. A missing file is
// only an error when --config was given explicitly; otherwise defaults are
// used and fromFile is false.
func loadConfig(cmd *cobra.Command) (cfg *config.Config, fromFile bool, err error) {
	cfg, err = config.LoadConfigWithEnvOverrides(cfgFile)
	fromFile = err == nil
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) || cmd.Root().PersistentFlags().Changed("config") {
			return nil, false, fmt.Errorf("failed to load config: %w", err)
		}
		if cfg, err = config.DefaultWithEnvOverrides(); err != nil {
			return nil, false, err
		}
	}
	if logLevel != "" {
		cfg.Telemetry.Logging.Level = logLevel
	}
	config.SetConfig(cfg)
	return cfg, fromFile, nil
}

// newLogger builds the process logger and installs it as the default.
func newLogger(cfg *config.Config) (*slog.Logger, error) {
	logger, err := logging.New(logging.FromConfig(cfg.Telemetry.Logging))
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	slog.SetDefault(logger)
	return logger, nil
}

// openStore opens the configured backend, creating the SQLite directory.
func openStore(cfg *config.Config) (storage.Store, error) {
	sc := cfg.Storage.StoreConfig()
	if sc.Backend == storage.BackendSQLite && sc.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(sc.Path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	store, err := storage.New(sc)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", sc.Backend, err)
	}
	return store, nil
}

// newLimiter builds the limiter from the limits and rate_limits sections.
// reg may be nil to skip metrics.
func newLimiter(cfg *config.Config, store storage.Store, reg prometheus.Registerer, logger *slog.Logger) (*limits.RateLimiter, error) {
	strategy, err := allocation.New(cfg.Limits.Allocation)
	if err != nil {
		return nil, fmt.Errorf("failed to build allocation strategy: %w", err)
	}

	var metrics *limits.Metrics
	if reg != nil {
		metrics = limits.NewMetrics(reg)
	}

	limiter, err := limits.NewRateLimiter(limits.Config{
		Store:       store,
		LockTimeout: cfg.Limits.LockTimeout,
		LockConfig: lock.Config{
			DefaultTimeout:  cfg.Limits.LockTimeout,
			CleanupInterval: cfg.Limits.LockCleanupInterval,
		},
		Strategy:   strategy,
		UserLimits: cfg.RateLimits.Users,
		APILimits:  cfg.RateLimits.APIs,
		Tracker: ratelimit.TrackerConfig{
			PruneInterval: cfg.Limits.Tracker.PruneInterval,
			Retention:     cfg.Limits.Tracker.Retention,
		},
		LoadCapacity: cfg.Limits.LoadCapacity,
		Metrics:      metrics,
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limiter: %w", err)
	}
	limiter.SetEmergencyMode(cfg.Limits.EmergencyMode)
	return limiter, nil
}

// openApp wires configuration, logging, store and limiter for a one-shot
// command. The caller must call close.
func openApp(cmd *cobra.Command) (*app, error) {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}
	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	limiter, err := newLimiter(cfg, store, nil, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return &app{cfg: cfg, logger: logger, store: store, limiter: limiter}, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("failed to close store", "error", err)
	}
}

// render writes v in the --output format.
func render(cmd *cobra.Command, v any) error {
	format, err := cli.ParseOutputFormat(outputFormat)
	if err != nil {
		return err
	}
	return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), v)
}
