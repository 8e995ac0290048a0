package limits

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"

	"mercator-hq/tollgate/pkg/limits/lock"
	"mercator-hq/tollgate/pkg/limits/ratelimit"
	"mercator-hq/tollgate/pkg/limits/storage"
	"mercator-hq/tollgate/pkg/telemetry/logging"
	"mercator-hq/tollgate/pkg/telemetry/tracing"
)

// EnforceRateLimit counts a request of the given weight against the policy
// for userID and endpoint.
//
// A denied request returns the result together with a
// *RateLimitExceededError. A lock timeout or context cancellation is
// returned as is. Any other failure while checking allows the request and
// records the failure in Reason.
func (r *RateLimiter) EnforceRateLimit(ctx context.Context, userID, endpoint string, weight int) (*RateLimitCheckResult, error) {
	ctx, span := r.tracer.Start(ctx, "limits.EnforceRateLimit",
		trace.WithAttributes(tracing.RequestAttributes(userID, endpoint)...))
	defer span.End()

	start := time.Now()
	result, err := r.check(ctx, userID, endpoint, weight)
	r.metrics.RecordCheckDuration("enforce_rate_limit", time.Since(start))
	if err != nil {
		tracing.SetError(span, err)
		return nil, err
	}

	if !result.Allowed {
		return result, &RateLimitExceededError{
			UserID:      userID,
			APIEndpoint: endpoint,
			Reason:      result.Reason,
			RetryAfter:  result.RetryAfter,
			Result:      result,
		}
	}
	return result, nil
}

// CheckRateLimit is EnforceRateLimit without errors: denials are reported
// through Allowed, and lock timeouts fail open like any other failure.
func (r *RateLimiter) CheckRateLimit(ctx context.Context, userID, endpoint string, weight int) *RateLimitCheckResult {
	ctx, span := r.tracer.Start(ctx, "limits.CheckRateLimit",
		trace.WithAttributes(tracing.RequestAttributes(userID, endpoint)...))
	defer span.End()

	result, err := r.check(ctx, userID, endpoint, weight)
	if err != nil {
		return r.failOpen(ctx, span, userID, endpoint, err)
	}
	return result
}

// UsageStatus reports the current window for userID and endpoint without
// counting a request. Allowed tells whether a request of weight 1 would pass.
func (r *RateLimiter) UsageStatus(ctx context.Context, userID, endpoint string) *RateLimitCheckResult {
	cfg, scope, ok := r.resolve(userID, endpoint)
	now := r.now()
	if !ok {
		return unlimited(now)
	}

	windowStart := cfg.Start(now)
	used, oldest, err := r.windowUsage(ctx, userID, endpoint, windowStart, now)
	if err != nil {
		return &RateLimitCheckResult{
			Allowed:        true,
			Limit:          cfg.Limit(),
			Scope:          scope,
			WindowStart:    windowStart,
			WindowDuration: cfg.Duration(),
			Reason:         fmt.Sprintf("usage unavailable: %v", err),
		}
	}
	return decide(cfg, scope, used, 1, windowStart, oldest, now)
}

func (r *RateLimiter) check(ctx context.Context, userID, endpoint string, weight int) (*RateLimitCheckResult, error) {
	span := trace.SpanFromContext(ctx)
	if weight < 1 {
		weight = 1
	}

	cfg, scope, ok := r.resolve(userID, endpoint)
	if !ok {
		r.metrics.RecordRateLimitCheck(ScopeNone, true)
		return unlimited(r.now()), nil
	}

	if cfg.EmergencyBypass && r.emergency.Load() {
		now := r.now()
		r.metrics.RecordRateLimitCheck(scope, true)
		return &RateLimitCheckResult{
			Allowed:           true,
			RemainingRequests: cfg.Limit(),
			Limit:             cfg.Limit(),
			Scope:             scope,
			WindowStart:       cfg.Start(now),
			WindowDuration:    cfg.Duration(),
			Reason:            "emergency bypass",
		}, nil
	}

	var result *RateLimitCheckResult
	err := r.locks.WithLock(ctx, lock.TypeRateLimitCheck, ratelimit.Key(userID, endpoint), r.lockTimeout,
		func(ctx context.Context) error {
			now := r.now()
			windowStart := cfg.Start(now)

			used, oldest, err := r.windowUsage(ctx, userID, endpoint, windowStart, now)
			if err != nil {
				return err
			}

			result = decide(cfg, scope, used, int64(weight), windowStart, oldest, now)
			if result.Allowed {
				r.record(ctx, userID, endpoint, now, int64(weight))
			}
			return nil
		})

	if err != nil {
		if isAbort(err) {
			logging.FromContext(ctx, r.logger).Warn("rate limit check aborted",
				"user_id", userID,
				"api_endpoint", endpoint,
				"error", err,
			)
			return nil, err
		}
		return r.failOpen(ctx, span, userID, endpoint, err), nil
	}

	r.metrics.RecordRateLimitCheck(scope, result.Allowed)
	tracing.SetRateLimitAttributes(span, result.Allowed, result.RemainingRequests, string(scope), false)
	if !result.Allowed {
		logging.FromContext(ctx, r.logger).Info("rate limit exceeded",
			"user_id", userID,
			"api_endpoint", endpoint,
			"scope", string(scope),
			"limit", result.Limit,
			"retry_after", result.RetryAfter.String(),
		)
	}
	return result, nil
}

// record writes an admitted request through to the store and the tracker.
// A failed store write is logged and the request still counts locally while
// the key stays tracked.
func (r *RateLimiter) record(ctx context.Context, userID, endpoint string, now time.Time, weight int64) {
	rec := &storage.RequestRecord{
		UserID:      userID,
		APIEndpoint: endpoint,
		Weight:      weight,
		Timestamp:   now,
	}
	if err := r.store.LogRequest(ctx, rec); err != nil {
		logging.FromContext(ctx, r.logger).Warn("failed to log rate-limited request",
			"user_id", userID,
			"api_endpoint", endpoint,
			"error", err,
		)
	}
	r.tracker.Append(ratelimit.Key(userID, endpoint), now, weight)
}

// windowUsage returns the weight recorded in [windowStart, now]. On a
// tracker miss the key is seeded from the store's request log.
func (r *RateLimiter) windowUsage(ctx context.Context, userID, endpoint string, windowStart, now time.Time) (int64, time.Time, error) {
	key := ratelimit.Key(userID, endpoint)

	if !r.tracker.Has(key) {
		records, err := r.store.GetRequests(ctx, userID, endpoint, windowStart, now)
		if err != nil {
			return 0, time.Time{}, fmt.Errorf("failed to load request history: %w", err)
		}
		entries := make([]ratelimit.Entry, 0, len(records))
		for _, rec := range records {
			entries = append(entries, ratelimit.Entry{Timestamp: rec.Timestamp, Weight: rec.Weight})
		}
		r.tracker.Seed(key, entries)
	}

	used, oldest := r.tracker.Usage(key, windowStart)
	return used, oldest, nil
}

func (r *RateLimiter) failOpen(ctx context.Context, span trace.Span, userID, endpoint string, err error) *RateLimitCheckResult {
	logging.FromContext(ctx, r.logger).Error("rate limit check failed, allowing request",
		"user_id", userID,
		"api_endpoint", endpoint,
		"error", err,
	)
	r.metrics.RecordFailOpen()
	tracing.SetRateLimitAttributes(span, true, UnlimitedRemaining, "", true)

	now := r.now()
	return &RateLimitCheckResult{
		Allowed:           true,
		RemainingRequests: UnlimitedRemaining,
		WindowStart:       now,
		Reason:            fmt.Sprintf("rate limit check failed: %v", err),
	}
}

// decide applies cfg to the current usage. A request is allowed iff
// used+weight fits in the limit.
func decide(cfg ratelimit.Config, scope Scope, used, weight int64, windowStart, oldest, now time.Time) *RateLimitCheckResult {
	limit := cfg.Limit()
	result := &RateLimitCheckResult{
		Limit:          limit,
		Scope:          scope,
		WindowStart:    windowStart,
		WindowDuration: cfg.Duration(),
	}

	if used+weight <= limit {
		result.Allowed = true
		result.RemainingRequests = limit - used - weight
		return result
	}

	result.RemainingRequests = max(limit-used, 0)
	result.RetryAfter = retryAfter(cfg, windowStart, oldest, now)
	result.Reason = fmt.Sprintf("%d of %d requests used in %s window", used, limit, cfg.Window)
	return result
}

// retryAfter is the time until the window frees capacity, rounded up to
// whole seconds and never below one second. Calendar windows free up at
// their boundary; a custom window frees up when its oldest entry expires.
func retryAfter(cfg ratelimit.Config, windowStart, oldest, now time.Time) time.Duration {
	var d time.Duration
	if cfg.Window == ratelimit.WindowCustom {
		if oldest.IsZero() {
			d = cfg.CustomWindow
		} else {
			d = oldest.Add(cfg.CustomWindow).Sub(now)
		}
	} else {
		d = cfg.End(windowStart).Sub(now)
	}

	if rem := d % time.Second; rem != 0 {
		d += time.Second - rem
	}
	if d < time.Second {
		d = time.Second
	}
	return d
}

func unlimited(now time.Time) *RateLimitCheckResult {
	return &RateLimitCheckResult{
		Allowed:           true,
		RemainingRequests: UnlimitedRemaining,
		WindowStart:       now,
		Reason:            "no rate limit configured",
	}
}
