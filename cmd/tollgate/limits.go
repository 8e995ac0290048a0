package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/tollgate/pkg/cli"
	"mercator-hq/tollgate/pkg/config"
	"mercator-hq/tollgate/pkg/limits/storage"
)

var limitsFlags struct {
	user      string
	maxTokens int64
	period    string
	since     time.Duration
}

var limitsCmd = &cobra.Command{
	Use:   "limits",
	Short: "Manage token budgets",
	Long: `Manage per-user token budgets in the configured store.

Examples:
  tollgate limits set --user alice --max-tokens 10000 --period "1 day"
  tollgate limits show
  tollgate limits usage --user alice --since 24h -o csv`,
}

var limitsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Create or replace a user's token budget",
	Long: `Create or replace a user's token budget.

Usage already counted in the current period is kept.`,
	Args: cobra.NoArgs,
	RunE: runLimitsSet,
}

var limitsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show token budgets",
	Args:  cobra.NoArgs,
	RunE:  runLimitsShow,
}

var limitsUsageCmd = &cobra.Command{
	Use:   "usage",
	Short: "List a user's logged token usage",
	Args:  cobra.NoArgs,
	RunE:  runLimitsUsage,
}

func init() {
	rootCmd.AddCommand(limitsCmd)
	limitsCmd.AddCommand(limitsSetCmd, limitsShowCmd, limitsUsageCmd)

	limitsSetCmd.Flags().StringVarP(&limitsFlags.user, "user", "u", "", "user id (required)")
	limitsSetCmd.Flags().Int64Var(&limitsFlags.maxTokens, "max-tokens", 0, "tokens per period (required)")
	limitsSetCmd.Flags().StringVar(&limitsFlags.period, "period", config.DefaultPeriodInterval, `period length, e.g. "1 day" or "12 hours"`)
	_ = limitsSetCmd.MarkFlagRequired("user")
	_ = limitsSetCmd.MarkFlagRequired("max-tokens")

	limitsShowCmd.Flags().StringVarP(&limitsFlags.user, "user", "u", "", "show a single user")

	limitsUsageCmd.Flags().StringVarP(&limitsFlags.user, "user", "u", "", "user id (required)")
	limitsUsageCmd.Flags().DurationVar(&limitsFlags.since, "since", 24*time.Hour, "how far back to look")
	_ = limitsUsageCmd.MarkFlagRequired("user")
}

func runLimitsSet(cmd *cobra.Command, args []string) error {
	if limitsFlags.maxTokens < 0 {
		return fmt.Errorf("max tokens cannot be negative: %d", limitsFlags.maxTokens)
	}
	if _, err := storage.ParsePeriodInterval(limitsFlags.period); err != nil {
		return err
	}

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()
	if err := a.store.SetUserTokenLimit(ctx, limitsFlags.user, limitsFlags.maxTokens, limitsFlags.period); err != nil {
		return cli.NewCommandError("limits set", err)
	}
	limit, err := a.store.GetUserTokenLimit(ctx, limitsFlags.user)
	if err != nil {
		return cli.NewCommandError("limits set", err)
	}
	a.logger.Info("token limit set",
		"user_id", limitsFlags.user,
		"max_tokens", limitsFlags.maxTokens,
		"period_interval", limitsFlags.period,
	)
	return render(cmd, newTokenLimitRows([]*storage.TokenLimit{limit}))
}

func runLimitsShow(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()
	var list []*storage.TokenLimit
	if limitsFlags.user == "" {
		list, err = a.store.ListTokenLimits(ctx)
		if err != nil {
			return cli.NewCommandError("limits show", err)
		}
	} else {
		limit, err := a.store.GetUserTokenLimit(ctx, limitsFlags.user)
		if err != nil {
			return cli.NewCommandError("limits show", err)
		}
		if limit == nil {
			return fmt.Errorf("no token limit configured for user %q", limitsFlags.user)
		}
		list = []*storage.TokenLimit{limit}
	}
	return render(cmd, newTokenLimitRows(list))
}

func runLimitsUsage(cmd *cobra.Command, args []string) error {
	if limitsFlags.since <= 0 {
		return fmt.Errorf("--since must be positive")
	}

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	end := time.Now()
	records, err := a.store.GetUserTokenUsage(cmd.Context(), limitsFlags.user, end.Add(-limitsFlags.since), end)
	if err != nil {
		return cli.NewCommandError("limits usage", err)
	}
	return render(cmd, usageRows(records))
}
