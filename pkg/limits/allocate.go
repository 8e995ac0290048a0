package limits

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"

	"mercator-hq/tollgate/pkg/limits/allocation"
	"mercator-hq/tollgate/pkg/limits/lock"
	"mercator-hq/tollgate/pkg/limits/storage"
	"mercator-hq/tollgate/pkg/telemetry/logging"
	"mercator-hq/tollgate/pkg/telemetry/tracing"
)

// CheckAndAllocateTokens grants up to req.TokensRequested tokens from the
// user's remaining budget.
//
// The grant is decided by the configured strategy under a per-user
// token_allocation lock, so concurrent allocations for one user never exceed
// the budget. Usage is persisted before the call returns. Failures are
// reported in the result with Success false; no error is returned.
func (r *RateLimiter) CheckAndAllocateTokens(ctx context.Context, req *TokenAllocationRequest) *TokenAllocationResult {
	start := time.Now()
	ctx, span := r.tracer.Start(ctx, "limits.CheckAndAllocateTokens")
	defer span.End()

	result, priority := r.allocate(ctx, span, req)

	r.metrics.RecordAllocation(string(priority), result.Success, result.TokensAllocated)
	r.metrics.RecordCheckDuration("allocate_tokens", time.Since(start))
	if req != nil {
		tracing.SetAllocationAttributes(span, string(priority), req.TokensRequested,
			result.TokensAllocated, result.TokensRemaining, result.AdjustmentFactor)
	}
	return result
}

func (r *RateLimiter) allocate(ctx context.Context, span trace.Span, req *TokenAllocationRequest) (*TokenAllocationResult, allocation.Priority) {
	priority, err := validateAllocation(req)
	if err != nil {
		return failed(0, err.Error()), priority
	}

	span.SetAttributes(tracing.RequestAttributes(req.UserID, req.APIEndpoint)...)
	tracing.SetSessionAttribute(span, req.SessionID)
	ctx = logging.WithUserID(ctx, req.UserID)
	if req.SessionID != "" {
		ctx = logging.WithSessionID(ctx, req.SessionID)
	}
	logger := logging.FromContext(ctx, r.logger)

	// Cheap pre-check so exhausted users never contend for the lock.
	if res := r.precheck(ctx, req.UserID); res != nil {
		return res, priority
	}

	var result *TokenAllocationResult
	err = r.locks.WithLock(ctx, lock.TypeTokenAllocation, req.UserID, r.lockTimeout,
		func(ctx context.Context) error {
			result = r.allocateLocked(ctx, req, priority)
			return nil
		})
	if err != nil {
		tracing.SetError(span, err)
		logger.Warn("token allocation aborted", "error", err)
		if errors.Is(err, lock.ErrLockTimeout) {
			return failed(0, "allocation lock timed out"), priority
		}
		return failed(0, fmt.Sprintf("allocation failed: %v", err)), priority
	}

	if result.Success {
		logger.Debug("tokens allocated",
			"priority", string(priority),
			"tokens_requested", req.TokensRequested,
			"tokens_allocated", result.TokensAllocated,
			"tokens_remaining", result.TokensRemaining,
			"adjustment_factor", result.AdjustmentFactor,
		)
	} else {
		logger.Info("token allocation denied",
			"priority", string(priority),
			"tokens_requested", req.TokensRequested,
			"reason", result.Reason,
		)
	}
	return result, priority
}

func validateAllocation(req *TokenAllocationRequest) (allocation.Priority, error) {
	if req == nil {
		return "", fmt.Errorf("%w: request is nil", ErrInvalidRequest)
	}
	if req.UserID == "" {
		return "", fmt.Errorf("%w: user id cannot be empty", ErrInvalidRequest)
	}
	if req.TokensRequested < 0 {
		return "", fmt.Errorf("%w: tokens requested cannot be negative", ErrInvalidRequest)
	}
	if req.Priority == "" {
		return allocation.PriorityMedium, nil
	}
	p, err := allocation.ParsePriority(string(req.Priority))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return p, nil
}

// precheck returns a failed result when the user has no budget to allocate
// from, or nil to proceed.
func (r *RateLimiter) precheck(ctx context.Context, userID string) *TokenAllocationResult {
	limit, err := r.store.GetUserTokenLimit(ctx, userID)
	switch {
	case err != nil:
		logging.FromContext(ctx, r.logger).Error("failed to read token limit", "error", err)
		return failed(0, fmt.Sprintf("failed to read token limit: %v", err))
	case limit == nil:
		return failed(0, "no token limit configured")
	case limit.Remaining() <= 0:
		return failed(0, "token quota exhausted")
	}
	return nil
}

// allocateLocked runs with the user's allocation lock held.
func (r *RateLimiter) allocateLocked(ctx context.Context, req *TokenAllocationRequest, priority allocation.Priority) *TokenAllocationResult {
	logger := logging.FromContext(ctx, r.logger)

	limit, err := r.store.GetUserTokenLimit(ctx, req.UserID)
	if err != nil {
		return failed(0, fmt.Sprintf("failed to read token limit: %v", err))
	}
	if limit == nil {
		return failed(0, "no token limit configured")
	}
	remaining := limit.Remaining()
	if remaining <= 0 {
		return failed(0, "token quota exhausted")
	}

	actx := r.allocationContext(ctx, req, priority, limit)

	granted := r.strategy.Allocate(remaining, priority, actx)
	granted = min(granted, req.TokensRequested, remaining)
	granted = max(granted, 0)

	if granted > 0 {
		if err := r.store.UpdateTokenUsage(ctx, req.UserID, granted); err != nil {
			logger.Error("failed to persist token usage", "tokens", granted, "error", err)
			return failed(r.currentRemaining(ctx, req.UserID, remaining),
				fmt.Sprintf("failed to record token usage: %v", err))
		}

		rec := &storage.UsageRecord{
			UserID:        req.UserID,
			SessionID:     req.SessionID,
			TokensUsed:    granted,
			APIEndpoint:   req.APIEndpoint,
			PriorityLevel: string(priority),
			Timestamp:     r.now(),
		}
		if err := r.store.LogTokenUsage(ctx, rec); err != nil {
			logger.Warn("failed to log token usage", "tokens", granted, "error", err)
		}
	}

	emergency, burst := allocation.Overrides(r.strategy, actx)
	result := &TokenAllocationResult{
		Success:           granted > 0 || req.TokensRequested == 0,
		TokensAllocated:   granted,
		TokensRemaining:   remaining - granted,
		AdjustmentFactor:  allocation.AdjustmentFactor(r.strategy, actx),
		EmergencyOverride: emergency,
		BurstMode:         burst,
	}
	if !result.Success {
		result.Reason = "allocation strategy granted no tokens"
	}
	return result
}

// allocationContext gathers the signals the strategy may use.
func (r *RateLimiter) allocationContext(ctx context.Context, req *TokenAllocationRequest, priority allocation.Priority, limit *storage.TokenLimit) *allocation.Context {
	now := r.now()
	actx := &allocation.Context{
		UserID:            req.UserID,
		Priority:          priority,
		APIEndpoint:       req.APIEndpoint,
		TokensRequested:   req.TokensRequested,
		TokensRemaining:   limit.Remaining(),
		TimeFactor:        allocation.Float(TimeOfDayFactor(now)),
		EmergencyOverride: req.EmergencyOverride,
		SystemEmergency:   r.emergency.Load(),
		BurstMode:         req.BurstMode,
	}

	history, err := r.userHistory(ctx, req.UserID, limit, now)
	if err != nil {
		logging.FromContext(ctx, r.logger).Warn("usage history unavailable, skipping history adjustment", "error", err)
	} else {
		actx.UserHistory = history
	}

	if load, ok := r.load.SystemLoad(ctx); ok {
		actx.SystemLoad = allocation.Float(load)
	}
	return actx
}

// userHistory summarises the last week of logged usage. The usage ratio is
// the week's tokens over the period quota, independent of the current
// period counter. A user with no requests is fully compliant.
func (r *RateLimiter) userHistory(ctx context.Context, userID string, limit *storage.TokenLimit, now time.Time) (*allocation.UserHistory, error) {
	records, err := r.store.GetUserTokenUsage(ctx, userID, now.Add(-historyWindow), now)
	if err != nil {
		return nil, err
	}

	h := &allocation.UserHistory{
		TotalRequests:   len(records),
		ComplianceScore: 1.0,
		UsageRatio:      1.0,
	}

	compliant := 0
	for _, rec := range records {
		h.TotalTokens += rec.TokensUsed
		if rec.TokensUsed <= compliantRequestTokens {
			compliant++
		}
	}
	if len(records) > 0 {
		h.ComplianceScore = float64(compliant) / float64(len(records))
	}
	if limit.MaxTokensPerPeriod > 0 {
		h.UsageRatio = float64(h.TotalTokens) / float64(limit.MaxTokensPerPeriod)
	}
	return h, nil
}

// currentRemaining re-reads the budget after a failed write, falling back to
// the value read under the lock.
func (r *RateLimiter) currentRemaining(ctx context.Context, userID string, fallback int64) int64 {
	limit, err := r.store.GetUserTokenLimit(ctx, userID)
	if err != nil || limit == nil {
		return fallback
	}
	return limit.Remaining()
}

func failed(remaining int64, reason string) *TokenAllocationResult {
	return &TokenAllocationResult{
		TokensRemaining:  remaining,
		AdjustmentFactor: 1.0,
		Reason:           reason,
	}
}
