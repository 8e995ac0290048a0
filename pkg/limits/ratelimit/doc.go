// Package ratelimit holds rate-limit policy and window arithmetic.
//
// A Config describes how many request units a user or endpoint may spend per
// window. Calendar windows (minute, hour, day, week) are fixed and reset at
// their boundary; a custom window slides and always covers the last
// CustomWindow of time:
//
//	cfg := ratelimit.Config{MaxRequests: 10, Window: ratelimit.WindowDay}
//	start := cfg.Start(now)    // midnight
//	reset := cfg.End(start)    // next midnight
//
// Usage inside a window comes from the Tracker, an in-memory cache of
// timestamped request weights keyed by user and endpoint. The Tracker is
// pruned on a cron schedule and is seeded from the store on a miss.
package ratelimit
