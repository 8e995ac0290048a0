package limits

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/tollgate/pkg/limits/allocation"
	"mercator-hq/tollgate/pkg/limits/lock"
	"mercator-hq/tollgate/pkg/limits/ratelimit"
	"mercator-hq/tollgate/pkg/limits/storage"
	"mercator-hq/tollgate/pkg/telemetry/tracing"
)

// Config configures a RateLimiter.
type Config struct {
	// Store is the source of truth for token limits and usage. Required.
	Store storage.Store

	// Locks serializes checks and allocations. When nil the limiter creates
	// its own manager and runs its reaper between Start and Stop.
	Locks *lock.Manager

	// LockConfig configures the manager created when Locks is nil.
	LockConfig lock.Config

	// LockTimeout bounds every lock acquisition.
	// Default: lock.DefaultTimeout
	LockTimeout time.Duration

	// Strategy decides allocations.
	// Default: the comprehensive chain with default parameters
	Strategy allocation.Strategy

	// UserLimits and APILimits are the initial rate-limit policies.
	UserLimits map[string]ratelimit.Config
	APILimits  map[string]ratelimit.Config

	// Tracker configures the in-memory usage cache.
	Tracker ratelimit.TrackerConfig

	// Load supplies the system-load signal.
	// Default: ConfiguredEntitiesLoad over the configured policies
	Load LoadSignal

	// LoadCapacity is the Capacity of the default load signal.
	// Default: DefaultLoadCapacity
	LoadCapacity int

	// Now overrides the clock. Default: time.Now
	Now func() time.Time

	// Metrics records Prometheus metrics (optional).
	Metrics *Metrics

	// Logger is the structured logger. Default: slog.Default()
	Logger *slog.Logger
}

// historyWindow is how far back allocation history looks.
const historyWindow = 7 * 24 * time.Hour

// compliantRequestTokens is the largest request that counts as compliant.
const compliantRequestTokens = 1000

// RateLimiter enforces windowed request limits and allocates token budgets.
//
// Rate-limit checks for one user and endpoint are serialized by a
// rate_limit_check lock; allocations for one user are serialized by a
// token_allocation lock. Unrelated keys never contend.
//
// Check failures fail open. Allocation failures fail closed and are reported
// in the result, never as an error.
type RateLimiter struct {
	store       storage.Store
	locks       *lock.Manager
	ownsLocks   bool
	lockTimeout time.Duration
	strategy    allocation.Strategy
	tracker     *ratelimit.Tracker
	load        LoadSignal
	now         func() time.Time
	metrics     *Metrics
	logger      *slog.Logger
	tracer      trace.Tracer

	mu         sync.RWMutex
	userLimits map[string]ratelimit.Config
	apiLimits  map[string]ratelimit.Config

	emergency atomic.Bool
}

// NewRateLimiter validates cfg and builds a limiter. Call Start to run the
// background reaper and tracker pruner.
func NewRateLimiter(cfg Config) (*RateLimiter, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidRequest)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = lock.DefaultTimeout
	}
	if cfg.Strategy == nil {
		s, err := allocation.NewComprehensive(allocation.DefaultConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to build allocation strategy: %w", err)
		}
		cfg.Strategy = s
	}
	if cfg.Tracker.Now == nil {
		cfg.Tracker.Now = cfg.Now
	}

	users, err := copyPolicies("user", cfg.UserLimits)
	if err != nil {
		return nil, err
	}
	apis, err := copyPolicies("api", cfg.APILimits)
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger.With("component", "limits")

	r := &RateLimiter{
		store:       cfg.Store,
		locks:       cfg.Locks,
		lockTimeout: cfg.LockTimeout,
		strategy:    cfg.Strategy,
		tracker:     ratelimit.NewTracker(cfg.Tracker, cfg.Logger),
		load:        cfg.Load,
		now:         cfg.Now,
		metrics:     cfg.Metrics,
		logger:      logger,
		tracer:      otel.Tracer(tracing.InstrumentationName),
		userLimits:  users,
		apiLimits:   apis,
	}

	if r.locks == nil {
		lockCfg := cfg.LockConfig
		if lockCfg.Now == nil {
			lockCfg.Now = cfg.Now
		}
		if lockCfg.Observer == nil && cfg.Metrics != nil {
			lockCfg.Observer = cfg.Metrics
		}
		r.locks = lock.NewManager(lockCfg, cfg.Logger)
		r.ownsLocks = true
	}
	if r.load == nil {
		r.load = ConfiguredEntitiesLoad{Count: r.configuredEntities, Capacity: cfg.LoadCapacity}
	}

	return r, nil
}

// Start runs the tracker pruner and, if the limiter owns its lock manager,
// the lock reaper.
func (r *RateLimiter) Start() error {
	if r.ownsLocks {
		if err := r.locks.Start(); err != nil {
			return fmt.Errorf("failed to start lock reaper: %w", err)
		}
	}
	if err := r.tracker.Start(); err != nil {
		return fmt.Errorf("failed to start tracker pruner: %w", err)
	}
	return nil
}

// Stop halts the background jobs started by Start.
func (r *RateLimiter) Stop() {
	r.tracker.Stop()
	if r.ownsLocks {
		r.locks.Stop()
	}
}

// Locks returns the lock manager used by the limiter.
func (r *RateLimiter) Locks() *lock.Manager {
	return r.locks
}

// SetEmergencyMode toggles system emergency. While set, allocations take
// the emergency path and rate limits with EmergencyBypass admit everything.
func (r *RateLimiter) SetEmergencyMode(on bool) {
	if r.emergency.Swap(on) != on {
		r.logger.Warn("emergency mode changed", "enabled", on)
	}
}

// EmergencyMode reports whether system emergency is set.
func (r *RateLimiter) EmergencyMode() bool {
	return r.emergency.Load()
}

// SetUserRateLimit sets the policy for a user.
func (r *RateLimiter) SetUserRateLimit(userID string, c ratelimit.Config) error {
	if userID == "" {
		return fmt.Errorf("%w: user id cannot be empty", ErrInvalidRequest)
	}
	if err := c.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	r.userLimits[userID] = c
	r.mu.Unlock()
	r.tracker.Reset()

	r.logger.Info("user rate limit set", "user_id", userID, "max_requests", c.MaxRequests, "window", string(c.Window))
	return nil
}

// SetAPIRateLimit sets the policy for an endpoint. Endpoint policies take
// precedence over user policies.
func (r *RateLimiter) SetAPIRateLimit(endpoint string, c ratelimit.Config) error {
	if endpoint == "" {
		return fmt.Errorf("%w: endpoint cannot be empty", ErrInvalidRequest)
	}
	if err := c.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	r.apiLimits[endpoint] = c
	r.mu.Unlock()
	r.tracker.Reset()

	r.logger.Info("api rate limit set", "api_endpoint", endpoint, "max_requests", c.MaxRequests, "window", string(c.Window))
	return nil
}

// RemoveUserRateLimit removes the policy for a user.
func (r *RateLimiter) RemoveUserRateLimit(userID string) {
	r.mu.Lock()
	delete(r.userLimits, userID)
	r.mu.Unlock()
	r.tracker.Reset()
}

// RemoveAPIRateLimit removes the policy for an endpoint.
func (r *RateLimiter) RemoveAPIRateLimit(endpoint string) {
	r.mu.Lock()
	delete(r.apiLimits, endpoint)
	r.mu.Unlock()
	r.tracker.Reset()
}

// ReplaceRateLimits swaps in a complete set of policies. Nothing changes
// unless every policy is valid.
func (r *RateLimiter) ReplaceRateLimits(users, apis map[string]ratelimit.Config) error {
	u, err := copyPolicies("user", users)
	if err != nil {
		return err
	}
	a, err := copyPolicies("api", apis)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.userLimits = u
	r.apiLimits = a
	r.mu.Unlock()
	r.tracker.Reset()

	r.logger.Info("rate limits replaced", "users", len(u), "apis", len(a))
	return nil
}

// RateLimits returns copies of the current user and endpoint policies.
func (r *RateLimiter) RateLimits() (users, apis map[string]ratelimit.Config) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users = make(map[string]ratelimit.Config, len(r.userLimits))
	for k, v := range r.userLimits {
		users[k] = v
	}
	apis = make(map[string]ratelimit.Config, len(r.apiLimits))
	for k, v := range r.apiLimits {
		apis[k] = v
	}
	return users, apis
}

// resolve returns the effective policy. Endpoint policies win.
func (r *RateLimiter) resolve(userID, endpoint string) (ratelimit.Config, Scope, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if c, ok := r.apiLimits[endpoint]; ok {
		return c, ScopeAPI, true
	}
	if c, ok := r.userLimits[userID]; ok {
		return c, ScopeUser, true
	}
	return ratelimit.Config{}, ScopeNone, false
}

func (r *RateLimiter) configuredEntities() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.userLimits) + len(r.apiLimits)
}

func copyPolicies(kind string, in map[string]ratelimit.Config) (map[string]ratelimit.Config, error) {
	out := make(map[string]ratelimit.Config, len(in))
	for id, c := range in {
		if id == "" {
			return nil, fmt.Errorf("%w: %s rate limit with empty id", ratelimit.ErrInvalidConfig, kind)
		}
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("%s rate limit %q: %w", kind, id, err)
		}
		out[id] = c
	}
	return out, nil
}

// isAbort reports errors that end a check instead of failing it open: the
// lock could not be taken or the caller gave up.
func isAbort(err error) bool {
	return errors.Is(err, lock.ErrLockTimeout) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
