package main

import (
	"strconv"
	"time"

	"mercator-hq/tollgate/pkg/limits"
	"mercator-hq/tollgate/pkg/limits/storage"
)

// Views over limiter and store results. Each keeps the JSON shape of the
// underlying type and adds a row representation for text and CSV output.

type rateLimitView limits.RateLimitCheckResult

func (v *rateLimitView) Header() []string {
	return []string{"ALLOWED", "SCOPE", "LIMIT", "REMAINING", "WINDOW_START", "RETRY_AFTER", "REASON"}
}

func (v *rateLimitView) Rows() [][]string {
	scope := string(v.Scope)
	if scope == "" {
		scope = "-"
	}
	return [][]string{{
		strconv.FormatBool(v.Allowed),
		scope,
		strconv.FormatInt(v.Limit, 10),
		strconv.FormatInt(v.RemainingRequests, 10),
		formatTime(v.WindowStart),
		v.RetryAfter.String(),
		dash(v.Reason),
	}}
}

type allocationView limits.TokenAllocationResult

func (v *allocationView) Header() []string {
	return []string{"SUCCESS", "ALLOCATED", "REMAINING", "FACTOR", "EMERGENCY", "BURST", "REASON"}
}

func (v *allocationView) Rows() [][]string {
	return [][]string{{
		strconv.FormatBool(v.Success),
		strconv.FormatInt(v.TokensAllocated, 10),
		strconv.FormatInt(v.TokensRemaining, 10),
		strconv.FormatFloat(v.AdjustmentFactor, 'f', 4, 64),
		strconv.FormatBool(v.EmergencyOverride),
		strconv.FormatBool(v.BurstMode),
		dash(v.Reason),
	}}
}

// tokenLimitRow is a TokenLimit with its derived fields.
type tokenLimitRow struct {
	UserID         string    `json:"user_id"`
	MaxTokens      int64     `json:"max_tokens_per_period"`
	TokensUsed     int64     `json:"tokens_used_in_period"`
	Remaining      int64     `json:"remaining"`
	PeriodInterval string    `json:"period_interval"`
	PeriodStart    time.Time `json:"period_start"`
	PeriodEnd      time.Time `json:"period_end"`
}

type tokenLimitRows []tokenLimitRow

func newTokenLimitRows(list []*storage.TokenLimit) tokenLimitRows {
	rows := make(tokenLimitRows, 0, len(list))
	for _, l := range list {
		rows = append(rows, tokenLimitRow{
			UserID:         l.UserID,
			MaxTokens:      l.MaxTokensPerPeriod,
			TokensUsed:     l.TokensUsedInPeriod,
			Remaining:      l.Remaining(),
			PeriodInterval: l.PeriodInterval,
			PeriodStart:    l.PeriodStart,
			PeriodEnd:      l.PeriodEnd(),
		})
	}
	return rows
}

func (r tokenLimitRows) Header() []string {
	return []string{"USER", "MAX_TOKENS", "USED", "REMAINING", "PERIOD", "PERIOD_START", "PERIOD_END"}
}

func (r tokenLimitRows) Rows() [][]string {
	out := make([][]string, 0, len(r))
	for _, l := range r {
		out = append(out, []string{
			l.UserID,
			strconv.FormatInt(l.MaxTokens, 10),
			strconv.FormatInt(l.TokensUsed, 10),
			strconv.FormatInt(l.Remaining, 10),
			l.PeriodInterval,
			formatTime(l.PeriodStart),
			formatTime(l.PeriodEnd),
		})
	}
	return out
}

type usageRows []*storage.UsageRecord

func (r usageRows) Header() []string {
	return []string{"TIMESTAMP", "TOKENS", "PRIORITY", "ENDPOINT", "SESSION"}
}

func (r usageRows) Rows() [][]string {
	out := make([][]string, 0, len(r))
	for _, u := range r {
		out = append(out, []string{
			formatTime(u.Timestamp),
			strconv.FormatInt(u.TokensUsed, 10),
			dash(u.PriorityLevel),
			dash(u.APIEndpoint),
			dash(u.SessionID),
		})
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
