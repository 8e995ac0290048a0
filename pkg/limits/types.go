package limits

import (
	"errors"
	"fmt"
	"time"

	"mercator-hq/tollgate/pkg/limits/allocation"
)

// UnlimitedRemaining is reported as the remaining request count when no rate
// limit applies to a request.
const UnlimitedRemaining = 999999

// Scope says which policy decided a rate-limit check.
type Scope string

const (
	// ScopeNone means no policy applied.
	ScopeNone Scope = ""

	// ScopeAPI means the endpoint's policy applied.
	ScopeAPI Scope = "api"

	// ScopeUser means the user's policy applied.
	ScopeUser Scope = "user"
)

// RateLimitCheckResult is the outcome of a rate-limit check.
type RateLimitCheckResult struct {
	// Allowed indicates if the request is permitted.
	Allowed bool `json:"allowed"`

	// RemainingRequests is the number of request units left in the window
	// after this request. Never negative.
	RemainingRequests int64 `json:"remaining_requests"`

	// Limit is the effective per-window limit, zero when unlimited.
	Limit int64 `json:"limit"`

	// Scope is the policy that applied.
	Scope Scope `json:"scope,omitempty"`

	// WindowStart is the start of the current window.
	WindowStart time.Time `json:"window_start"`

	// WindowDuration is the nominal window length.
	WindowDuration time.Duration `json:"window_duration"`

	// RetryAfter is how long until the request could succeed. Only set
	// when denied.
	RetryAfter time.Duration `json:"retry_after,omitempty"`

	// Reason explains a denial, a fail-open or an emergency bypass.
	Reason string `json:"reason,omitempty"`
}

// TokenAllocationRequest asks for a share of a user's token budget.
type TokenAllocationRequest struct {
	UserID          string              `json:"user_id"`
	SessionID       string              `json:"session_id,omitempty"`
	TokensRequested int64               `json:"tokens_requested"`
	Priority        allocation.Priority `json:"priority_level"`
	APIEndpoint     string              `json:"api_endpoint,omitempty"`

	// EmergencyOverride asks for the emergency share regardless of priority.
	EmergencyOverride bool `json:"emergency_override,omitempty"`

	// BurstMode asks for the burst multiplier.
	BurstMode bool `json:"burst_mode,omitempty"`
}

// TokenAllocationResult is the outcome of a token allocation. It is always
// returned, never replaced by an error.
type TokenAllocationResult struct {
	// Success is true when tokens were granted, or zero tokens were asked for.
	Success bool `json:"success"`

	// TokensAllocated is in [0, min(requested, remaining)].
	TokensAllocated int64 `json:"tokens_allocated"`

	// TokensRemaining is the user's budget left after this allocation.
	TokensRemaining int64 `json:"tokens_remaining"`

	// AdjustmentFactor is the dynamic adjustment applied, 1.0 if none.
	AdjustmentFactor float64 `json:"adjustment_factor"`

	// EmergencyOverride reports that the emergency path decided the grant.
	EmergencyOverride bool `json:"emergency_override,omitempty"`

	// BurstMode reports that the burst path decided the grant.
	BurstMode bool `json:"burst_mode,omitempty"`

	// Reason explains a failure.
	Reason string `json:"reason,omitempty"`
}

var (
	// ErrRateLimitExceeded is returned when a rate limit denies a request.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrInvalidRequest is returned for malformed requests.
	ErrInvalidRequest = errors.New("invalid request")
)

// RateLimitExceededError carries the details of a denied request.
type RateLimitExceededError struct {
	UserID      string
	APIEndpoint string
	Reason      string
	RetryAfter  time.Duration
	Result      *RateLimitCheckResult
}

// Error implements the error interface.
func (e *RateLimitExceededError) Error() string {
	msg := fmt.Sprintf("rate limit exceeded for %s on %s: %s", e.UserID, e.APIEndpoint, e.Reason)
	if e.RetryAfter > 0 {
		msg += fmt.Sprintf(" (retry after %s)", e.RetryAfter)
	}
	return msg
}

// Unwrap returns ErrRateLimitExceeded.
func (e *RateLimitExceededError) Unwrap() error {
	return ErrRateLimitExceeded
}
