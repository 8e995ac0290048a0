package storage

import (
	"context"
	"errors"
	"time"
)

// Store is the persistence boundary for token limits and usage history.
// Implementations must be safe for concurrent use and must apply usage
// increments atomically.
type Store interface {
	// GetUserTokenLimit returns the user's limit record.
	// Returns nil, nil if the user has no limit.
	GetUserTokenLimit(ctx context.Context, userID string) (*TokenLimit, error)

	// SetUserTokenLimit creates or updates the user's limit. Usage already
	// counted in the current period is kept. periodInterval must parse with
	// ParsePeriodInterval.
	SetUserTokenLimit(ctx context.Context, userID string, maxTokens int64, periodInterval string) error

	// UpdateTokenUsage atomically adds delta to the user's usage in the
	// current period. Returns ErrNoTokenLimit if the user has no limit.
	UpdateTokenUsage(ctx context.Context, userID string, delta int64) error

	// LogTokenUsage appends a usage record.
	LogTokenUsage(ctx context.Context, rec *UsageRecord) error

	// GetUserTokenUsage returns the user's usage records with timestamps in
	// [start, end], oldest first. A zero end means now.
	GetUserTokenUsage(ctx context.Context, userID string, start, end time.Time) ([]*UsageRecord, error)

	// LogRequest appends an admitted rate-limited request.
	LogRequest(ctx context.Context, rec *RequestRecord) error

	// GetRequests returns the requests logged for userID and endpoint with
	// timestamps in [start, end], oldest first. A zero end means now.
	GetRequests(ctx context.Context, userID, endpoint string, start, end time.Time) ([]*RequestRecord, error)

	// ListTokenLimits returns every limit record ordered by user ID.
	ListTokenLimits(ctx context.Context) ([]*TokenLimit, error)

	// Cleanup deletes usage and request records older than olderThan and
	// returns how many were removed. Limit records are never removed.
	Cleanup(ctx context.Context, olderThan time.Time) (int, error)

	// Close releases any resources held by the store.
	Close() error
}

var (
	// ErrNoTokenLimit is returned when updating usage for a user without a limit.
	ErrNoTokenLimit = errors.New("no token limit configured")

	// ErrInvalidInterval is returned for malformed period interval strings.
	ErrInvalidInterval = errors.New("invalid period interval")
)

// TokenLimit is a user's token quota for the current period.
type TokenLimit struct {
	UserID string `json:"user_id"`

	// MaxTokensPerPeriod is the quota.
	MaxTokensPerPeriod int64 `json:"max_tokens_per_period"`

	// TokensUsedInPeriod only grows within a period. Resetting it at the
	// period boundary is the job of an external process.
	TokensUsedInPeriod int64 `json:"tokens_used_in_period"`

	// PeriodStart is when the current period began.
	PeriodStart time.Time `json:"period_start"`

	// PeriodInterval is the period length as written, e.g. "1 day".
	PeriodInterval string `json:"period_interval"`
}

// Remaining returns the unspent quota. It is negative when the user has
// overspent.
func (l *TokenLimit) Remaining() int64 {
	return l.MaxTokensPerPeriod - l.TokensUsedInPeriod
}

// PeriodEnd returns when the current period closes, or the zero time if
// the interval does not parse.
func (l *TokenLimit) PeriodEnd() time.Time {
	d, err := ParsePeriodInterval(l.PeriodInterval)
	if err != nil {
		return time.Time{}
	}
	return l.PeriodStart.Add(d)
}

// UsageRecord is one logged token spend.
type UsageRecord struct {
	UserID        string    `json:"user_id"`
	SessionID     string    `json:"session_id,omitempty"`
	TokensUsed    int64     `json:"tokens_used"`
	APIEndpoint   string    `json:"api_endpoint,omitempty"`
	PriorityLevel string    `json:"priority_level,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// RequestRecord is one admitted request counted against a rate limit.
type RequestRecord struct {
	UserID      string    `json:"user_id"`
	APIEndpoint string    `json:"api_endpoint"`
	Weight      int64     `json:"weight"`
	Timestamp   time.Time `json:"timestamp"`
}
