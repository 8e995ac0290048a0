package main

import (
	"errors"

	"github.com/spf13/cobra"

	"mercator-hq/tollgate/pkg/cli"
	"mercator-hq/tollgate/pkg/limits"
)

var checkFlags struct {
	user     string
	endpoint string
	weight   int
	status   bool
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Evaluate a request against the rate-limit policy",
	Long: `Evaluate a request against the configured rate-limit policy.

The endpoint policy wins over the user policy when both exist. Without a
policy the request is allowed with an unlimited remaining count.

The command exits with status 2 when the request is denied.

Examples:
  # Count one request for alice on /v1/chat
  tollgate check --user alice --endpoint /v1/chat

  # Show the current window without counting a request
  tollgate check --user alice --status -o json`,
	Args: cobra.NoArgs,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)

	checkCmd.Flags().StringVarP(&checkFlags.user, "user", "u", "", "user id (required)")
	checkCmd.Flags().StringVarP(&checkFlags.endpoint, "endpoint", "e", "", "API endpoint")
	checkCmd.Flags().IntVarP(&checkFlags.weight, "weight", "w", 1, "request weight")
	checkCmd.Flags().BoolVar(&checkFlags.status, "status", false, "report the window without counting a request")
	_ = checkCmd.MarkFlagRequired("user")
}

func runCheck(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()
	var result *limits.RateLimitCheckResult
	if checkFlags.status {
		result = a.limiter.UsageStatus(ctx, checkFlags.user, checkFlags.endpoint)
	} else {
		result, err = a.limiter.EnforceRateLimit(ctx, checkFlags.user, checkFlags.endpoint, checkFlags.weight)
		var exceeded *limits.RateLimitExceededError
		if err != nil && !errors.As(err, &exceeded) {
			return cli.NewCommandError("check", err)
		}
	}

	if err := render(cmd, (*rateLimitView)(result)); err != nil {
		return err
	}
	if !result.Allowed {
		return &cli.DeniedError{Reason: result.Reason}
	}
	return nil
}
