package allocation

import (
	"errors"
	"fmt"
	"strings"
)

// Priority is the priority level of a token request.
type Priority string

const (
	// PriorityHigh receives the largest share of the available budget.
	PriorityHigh Priority = "high"

	// PriorityMedium receives the middle share.
	PriorityMedium Priority = "medium"

	// PriorityLow receives the smallest share.
	PriorityLow Priority = "low"
)

// ParsePriority converts a case-insensitive name into a Priority.
func ParsePriority(s string) (Priority, error) {
	switch Priority(strings.ToLower(strings.TrimSpace(s))) {
	case PriorityHigh:
		return PriorityHigh, nil
	case PriorityMedium:
		return PriorityMedium, nil
	case PriorityLow:
		return PriorityLow, nil
	}
	return "", fmt.Errorf("invalid priority %q: must be high, medium or low", s)
}

// Strategy computes how many tokens to grant out of an available budget.
//
// Implementations must return a value in [0, available] for every input and
// must return 0 when available <= 0.
type Strategy interface {
	// Allocate returns the number of tokens to grant.
	Allocate(available int64, priority Priority, ctx *Context) int64

	// Percentage returns the base share of the budget for a priority.
	Percentage(priority Priority) float64
}

// Wrapper is implemented by strategies that decorate another strategy.
type Wrapper interface {
	Unwrap() Strategy
}

// Context carries the signals a strategy may use to adjust an allocation.
// Nil pointer fields mean the signal is absent.
type Context struct {
	UserID          string
	Priority        Priority
	APIEndpoint     string
	TokensRequested int64
	TokensRemaining int64

	// UserHistory summarises the user's recent usage.
	UserHistory *UserHistory

	// SystemLoad is the system load percentage (0-100).
	SystemLoad *float64

	// TimeFactor is the time-of-day multiplier.
	TimeFactor *float64

	// EmergencyOverride is set by the caller to bypass normal allocation.
	EmergencyOverride bool

	// SystemEmergency is set when the platform is in a declared emergency.
	SystemEmergency bool

	// BurstMode requests a temporary allocation multiplier.
	BurstMode bool
}

// UserHistory summarises a user's usage over the lookback period.
type UserHistory struct {
	// UsageRatio is TotalTokens divided by the period limit.
	UsageRatio float64

	// ComplianceScore is the fraction of requests within the per-request norm.
	ComplianceScore float64

	// TotalRequests is the number of requests in the lookback period.
	TotalRequests int

	// TotalTokens is the number of tokens used in the lookback period.
	TotalTokens int64
}

// Float returns a pointer to v, for populating optional Context signals.
func Float(v float64) *float64 {
	return &v
}

// ErrInvalidPercentages is returned when priority percentages are invalid.
var ErrInvalidPercentages = errors.New("invalid allocation percentages")

// ErrInvalidParameter is returned when a strategy parameter is out of range.
var ErrInvalidParameter = errors.New("invalid allocation parameter")

// clamp bounds v to [0, available].
func clamp(v, available int64) int64 {
	if available <= 0 || v <= 0 {
		return 0
	}
	if v > available {
		return available
	}
	return v
}
