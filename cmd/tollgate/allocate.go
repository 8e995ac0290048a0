package main

import (
	"github.com/spf13/cobra"

	"mercator-hq/tollgate/pkg/cli"
	"mercator-hq/tollgate/pkg/limits"
	"mercator-hq/tollgate/pkg/limits/allocation"
)

var allocateFlags struct {
	user      string
	session   string
	endpoint  string
	tokens    int64
	priority  string
	emergency bool
	burst     bool
}

var allocateCmd = &cobra.Command{
	Use:   "allocate",
	Short: "Allocate tokens from a user's budget",
	Long: `Allocate tokens from a user's budget.

The grant is decided by the configured allocation strategy from the
remaining budget, the request priority, the user's usage history, the
system load and the time of day. Granted tokens are deducted and logged.

The command exits with status 2 when nothing is granted.

Examples:
  tollgate allocate --user alice --tokens 500
  tollgate allocate --user alice --tokens 500 --priority high --burst`,
	Args: cobra.NoArgs,
	RunE: runAllocate,
}

func init() {
	rootCmd.AddCommand(allocateCmd)

	allocateCmd.Flags().StringVarP(&allocateFlags.user, "user", "u", "", "user id (required)")
	allocateCmd.Flags().StringVar(&allocateFlags.session, "session", "", "session id")
	allocateCmd.Flags().StringVarP(&allocateFlags.endpoint, "endpoint", "e", "", "API endpoint")
	allocateCmd.Flags().Int64VarP(&allocateFlags.tokens, "tokens", "t", 0, "tokens requested (required)")
	allocateCmd.Flags().StringVarP(&allocateFlags.priority, "priority", "p", string(allocation.PriorityMedium), "priority: high, medium, low")
	allocateCmd.Flags().BoolVar(&allocateFlags.emergency, "emergency", false, "request an emergency override")
	allocateCmd.Flags().BoolVar(&allocateFlags.burst, "burst", false, "request burst mode")
	_ = allocateCmd.MarkFlagRequired("user")
	_ = allocateCmd.MarkFlagRequired("tokens")
}

func runAllocate(cmd *cobra.Command, args []string) error {
	priority, err := allocation.ParsePriority(allocateFlags.priority)
	if err != nil {
		return err
	}

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	result := a.limiter.CheckAndAllocateTokens(cmd.Context(), &limits.TokenAllocationRequest{
		UserID:            allocateFlags.user,
		SessionID:         allocateFlags.session,
		TokensRequested:   allocateFlags.tokens,
		Priority:          priority,
		APIEndpoint:       allocateFlags.endpoint,
		EmergencyOverride: allocateFlags.emergency,
		BurstMode:         allocateFlags.burst,
	})

	if err := render(cmd, (*allocationView)(result)); err != nil {
		return err
	}
	if !result.Success {
		return &cli.DeniedError{Reason: result.Reason}
	}
	return nil
}
