// Package limits enforces windowed request limits and allocates token
// budgets for LLM requests.
//
// # Overview
//
// A RateLimiter answers two questions for a caller:
//
//   - Is this request within its rate limit? (EnforceRateLimit, CheckRateLimit)
//   - How many tokens should this request receive? (CheckAndAllocateTokens)
//
// Rate limits are per-user or per-endpoint policies held in memory. An
// endpoint policy takes precedence over a user policy. Usage inside the
// current window is counted by an in-memory tracker over the store's request
// log. Admitted requests are written to both, and a tracker miss is seeded
// from the store.
//
// Token budgets live in a storage.Store. Allocation reads the user's
// remaining budget, asks the allocation strategy chain for a grant, clamps
// it to what was asked for and what is left, and persists the spend.
//
// # Architecture
//
// The package is organized into sub-packages:
//
//   - lock: typed, re-entrant, timeout-bound mutual exclusion
//   - allocation: the priority, dynamic, emergency and burst strategies
//   - ratelimit: window arithmetic and the in-memory usage tracker
//   - storage: token limits and usage records (memory, SQLite)
//
// # Usage
//
//	store := storage.NewMemoryStore()
//	limiter, err := limits.NewRateLimiter(limits.Config{Store: store})
//	if err != nil {
//	    return err
//	}
//	if err := limiter.Start(); err != nil {
//	    return err
//	}
//	defer limiter.Stop()
//
//	_ = limiter.SetUserRateLimit("alice", ratelimit.Config{MaxRequests: 10, Window: ratelimit.WindowDay})
//	if _, err := limiter.EnforceRateLimit(ctx, "alice", "/v1/chat", 1); err != nil {
//	    var rle *limits.RateLimitExceededError
//	    if errors.As(err, &rle) {
//	        // retry after rle.RetryAfter
//	    }
//	}
//
//	result := limiter.CheckAndAllocateTokens(ctx, &limits.TokenAllocationRequest{
//	    UserID:          "alice",
//	    TokensRequested: 800,
//	    Priority:        allocation.PriorityHigh,
//	})
//
// # Failure Handling
//
// Rate-limit checks fail open: a store error allows the request and records
// the error in Reason. Lock timeouts and context cancellation are returned
// from EnforceRateLimit. Allocation fails closed: any error yields a result
// with Success false and zero tokens allocated.
package limits
