package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/tollgate/pkg/cli"
	"mercator-hq/tollgate/pkg/config"
	"mercator-hq/tollgate/pkg/limits"
	"mercator-hq/tollgate/pkg/limits/retention"
	"mercator-hq/tollgate/pkg/limits/storage"
	"mercator-hq/tollgate/pkg/server"
	"mercator-hq/tollgate/pkg/telemetry/health"
	"mercator-hq/tollgate/pkg/telemetry/metrics"
	"mercator-hq/tollgate/pkg/telemetry/tracing"
)

const shutdownTimeout = 10 * time.Second

var runFlags struct {
	adminAddress string
	dryRun       bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the Tollgate limiter service",
	Long: `Start the limiter service with the specified configuration.

The service seeds configured token budgets into the store, serves metrics,
health probes and admin endpoints, prunes old usage records on the
retention schedule and reloads rate-limit policies when the config file
changes (rate_limits.watch).

Examples:
  # Start with default config
  tollgate run

  # Start with custom config
  tollgate run --config /etc/tollgate/config.yaml

  # Override the admin listen address
  tollgate run --admin-address 0.0.0.0:9090

  # Validate config without starting
  tollgate run --dry-run`,
	Args: cobra.NoArgs,
	RunE: runService,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runFlags.adminAddress, "admin-address", "", "override the admin listen address")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting")
}

func runService(cmd *cobra.Command, args []string) error {
	cfg, fromFile, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if runFlags.adminAddress != "" {
		cfg.Telemetry.Metrics.Address = runFlags.adminAddress
	}
	out := cmd.OutOrStdout()

	if runFlags.dryRun {
		fmt.Fprintln(out, "✓ Configuration valid")
		return nil
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	printBanner(cmd, cfg, fromFile)

	ctx, stop := cli.SetupSignalHandler(cmd.Context())
	defer stop()

	tracer, err := tracing.New(&cfg.Telemetry.Tracing)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown failed", "error", err)
		}
	}()

	reg := metrics.NewRegistry()
	collector := metrics.NewCollector(reg)
	collector.SetBuildInfo(Version, GitCommit)

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("failed to close store", "error", err)
		}
	}()
	fmt.Fprintf(out, "✓ Store opened (%s)\n", cfg.Storage.Backend)

	seeded, err := seedTokenLimits(ctx, store, cfg.TokenLimits)
	if err != nil {
		return err
	}
	if seeded > 0 {
		fmt.Fprintf(out, "✓ Token limits seeded (%d users)\n", seeded)
	}

	limiter, err := newLimiter(cfg, store, reg, logger)
	if err != nil {
		return err
	}
	if err := limiter.Start(); err != nil {
		return fmt.Errorf("failed to start rate limiter: %w", err)
	}
	defer limiter.Stop()
	collector.SetEmergencyMode(limiter.EmergencyMode())
	collector.SetPolicyCounts(len(cfg.RateLimits.Users), len(cfg.RateLimits.APIs))
	fmt.Fprintf(out, "✓ Rate limiter started (%d user policies, %d endpoint policies)\n",
		len(cfg.RateLimits.Users), len(cfg.RateLimits.APIs))

	checker := health.New(health.DefaultCheckTimeout)
	checker.Register("store", health.StoreCheck(store))

	scheduler, err := startRetention(ctx, cfg, store, collector, logger)
	if err != nil {
		return err
	}
	if scheduler != nil {
		defer scheduler.Stop()
		checker.Register("retention", health.Func(scheduler.IsRunning, "retention scheduler stopped"))
		logger.Debug("retention scheduler started", "next_run", scheduler.NextRun())
	}

	watching, err := watchRateLimits(ctx, cfg, fromFile, limiter, collector, logger)
	if err != nil {
		return err
	}
	if watching {
		fmt.Fprintf(out, "✓ Watching %s for rate-limit changes\n", cfgFile)
	}

	metricsPath := ""
	if cfg.Telemetry.Metrics.IsEnabled() {
		metricsPath = cfg.Telemetry.Metrics.Path
	}
	admin := &adminServer{limiter: limiter, store: store, collector: collector, logger: logger}
	mux := newAdminMux(admin, reg, metricsPath, checker, health.NewVersionInfo(Version, GitCommit, BuildDate))
	srv := server.New(server.DefaultConfig(cfg.Telemetry.Metrics.Address), mux, logger)

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start(ctx)
	}()

	select {
	case <-srv.Ready():
	case err := <-errChan:
		return cli.NewCommandError("run", err)
	}

	addr := srv.Addr()
	fmt.Fprintln(out)
	fmt.Fprintf(out, "✓ Admin server listening on %s\n", addr)
	if metricsPath != "" {
		fmt.Fprintf(out, "✓ Metrics endpoint: http://%s%s\n", addr, metricsPath)
	}
	fmt.Fprintf(out, "✓ Health endpoints: http://%s%s, http://%s%s\n",
		addr, health.LivenessPath, addr, health.ReadinessPath)
	fmt.Fprintln(out, "\nPress Ctrl+C to stop")

	// Start returns nil after ctx is cancelled and the server has drained.
	if err := <-errChan; err != nil {
		return cli.NewCommandError("run", err)
	}

	fmt.Fprintln(out, "✓ Service stopped")
	return nil
}

// seedTokenLimits writes every configured budget to the store and returns
// how many were written.
func seedTokenLimits(ctx context.Context, store storage.Store, list []config.TokenLimitConfig) (int, error) {
	for _, tl := range list {
		if err := store.SetUserTokenLimit(ctx, tl.UserID, tl.MaxTokens, tl.PeriodInterval); err != nil {
			return 0, fmt.Errorf("failed to seed token limit for %q: %w", tl.UserID, err)
		}
	}
	return len(list), nil
}

// startRetention starts the usage pruning schedule. It returns nil when no
// schedule is configured.
func startRetention(ctx context.Context, cfg *config.Config, store storage.Store, collector *metrics.Collector, logger *slog.Logger) (*retention.Scheduler, error) {
	if cfg.Storage.CleanupSchedule == "" {
		return nil, nil
	}
	pruner, err := retention.NewPruner(store, cfg.Storage.Retention, collector, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create retention pruner: %w", err)
	}
	scheduler := retention.NewScheduler(pruner, cfg.Storage.CleanupSchedule, logger)
	if err := scheduler.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start retention scheduler: %w", err)
	}
	return scheduler, nil
}

// watchRateLimits starts the config watcher when rate_limits.watch is set
// and the config came from a file. It reports whether a watcher runs.
func watchRateLimits(ctx context.Context, cfg *config.Config, fromFile bool, limiter *limits.RateLimiter, collector *metrics.Collector, logger *slog.Logger) (bool, error) {
	if !cfg.RateLimits.Watch {
		return false, nil
	}
	if !fromFile {
		logger.Warn("rate_limits.watch is set but no config file was loaded, not watching", "path", cfgFile)
		return false, nil
	}
	if err := startWatcher(ctx, cfg.RateLimits.WatchDebounce, limiter, collector, logger); err != nil {
		return false, err
	}
	return true, nil
}

// startWatcher reloads rate-limit policies whenever the config file changes.
// Other sections only take effect on restart.
func startWatcher(ctx context.Context, debounce time.Duration, limiter *limits.RateLimiter, collector *metrics.Collector, logger *slog.Logger) error {
	w, err := config.NewWatcher(cfgFile, debounce, func(next *config.Config) {
		applyRateLimits(limiter, collector, logger, next)
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	go func() {
		if err := w.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("config watcher stopped", "error", err)
		}
	}()
	return nil
}

// applyRateLimits swaps in the policies of a reloaded config.
func applyRateLimits(limiter *limits.RateLimiter, collector *metrics.Collector, logger *slog.Logger, next *config.Config) {
	if err := limiter.ReplaceRateLimits(next.RateLimits.Users, next.RateLimits.APIs); err != nil {
		collector.RecordConfigReload(false)
		logger.Error("rejected reloaded rate limits", "error", err)
		return
	}
	collector.RecordConfigReload(true)
	collector.SetPolicyCounts(len(next.RateLimits.Users), len(next.RateLimits.APIs))
}

func printBanner(cmd *cobra.Command, cfg *config.Config, fromFile bool) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Tollgate v%s\n", Version)
	if fromFile {
		fmt.Fprintf(out, "Loading configuration from: %s\n", cfgFile)
		fmt.Fprintln(out, "✓ Configuration loaded")
	} else {
		fmt.Fprintf(out, "%s not found, using default configuration\n", cfgFile)
	}

	slog.Debug("allocation strategy", "strategy", cfg.Limits.Allocation.Kind)
	if cfg.Limits.EmergencyMode {
		slog.Warn("emergency mode enabled at startup")
	}
}
