package limits

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"mercator-hq/tollgate/pkg/limits/lock"
	"mercator-hq/tollgate/pkg/limits/ratelimit"
	"mercator-hq/tollgate/pkg/limits/storage"
	"mercator-hq/tollgate/pkg/telemetry/logging"
)

const (
	testUser     = "alice"
	testEndpoint = "/v1/chat"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{now: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// failingStore injects errors into selected Store methods.
type failingStore struct {
	storage.Store
	limitErr   error
	updateErr  error
	logErr     error
	usageErr   error
	requestErr error
}

func (f *failingStore) GetUserTokenLimit(ctx context.Context, userID string) (*storage.TokenLimit, error) {
	if f.limitErr != nil {
		return nil, f.limitErr
	}
	return f.Store.GetUserTokenLimit(ctx, userID)
}

func (f *failingStore) UpdateTokenUsage(ctx context.Context, userID string, delta int64) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	return f.Store.UpdateTokenUsage(ctx, userID, delta)
}

func (f *failingStore) LogTokenUsage(ctx context.Context, rec *storage.UsageRecord) error {
	if f.logErr != nil {
		return f.logErr
	}
	return f.Store.LogTokenUsage(ctx, rec)
}

func (f *failingStore) GetUserTokenUsage(ctx context.Context, userID string, start, end time.Time) ([]*storage.UsageRecord, error) {
	if f.usageErr != nil {
		return nil, f.usageErr
	}
	return f.Store.GetUserTokenUsage(ctx, userID, start, end)
}

func (f *failingStore) GetRequests(ctx context.Context, userID, endpoint string, start, end time.Time) ([]*storage.RequestRecord, error) {
	if f.usageErr != nil {
		return nil, f.usageErr
	}
	return f.Store.GetRequests(ctx, userID, endpoint, start, end)
}

func (f *failingStore) LogRequest(ctx context.Context, rec *storage.RequestRecord) error {
	if f.requestErr != nil {
		return f.requestErr
	}
	return f.Store.LogRequest(ctx, rec)
}

func newMemoryStore(t *testing.T) *storage.MemoryStore {
	t.Helper()
	s := storage.NewMemoryStore()
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestLimiter(t *testing.T, cfg Config) *RateLimiter {
	t.Helper()
	if cfg.Store == nil {
		cfg.Store = newMemoryStore(t)
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	r, err := NewRateLimiter(cfg)
	if err != nil {
		t.Fatalf("NewRateLimiter failed: %v", err)
	}
	return r
}

func daily(max int) ratelimit.Config {
	return ratelimit.Config{MaxRequests: max, Window: ratelimit.WindowDay}
}

func TestNewRateLimiter_Validation(t *testing.T) {
	if _, err := NewRateLimiter(Config{}); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("Expected ErrInvalidRequest without store, got %v", err)
	}

	_, err := NewRateLimiter(Config{
		Store:      newMemoryStore(t),
		UserLimits: map[string]ratelimit.Config{testUser: {MaxRequests: 0, Window: ratelimit.WindowDay}},
		Logger:     logging.Discard(),
	})
	if !errors.Is(err, ratelimit.ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig for zero max requests, got %v", err)
	}
}

func TestEnforceRateLimit_DailyLimit(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC))
	r := newTestLimiter(t, Config{Now: clock.Now})
	if err := r.SetUserRateLimit(testUser, daily(10)); err != nil {
		t.Fatalf("SetUserRateLimit failed: %v", err)
	}
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		result, err := r.EnforceRateLimit(ctx, testUser, testEndpoint, 1)
		if err != nil {
			t.Fatalf("Request %d: unexpected error: %v", i+1, err)
		}
		if !result.Allowed {
			t.Fatalf("Request %d: expected allowed", i+1)
		}
		if want := int64(9 - i); result.RemainingRequests != want {
			t.Errorf("Request %d: expected remaining %d, got %d", i+1, want, result.RemainingRequests)
		}
		if result.Scope != ScopeUser {
			t.Errorf("Expected user scope, got %q", result.Scope)
		}
	}

	result, err := r.EnforceRateLimit(ctx, testUser, testEndpoint, 1)
	if !errors.Is(err, ErrRateLimitExceeded) {
		t.Fatalf("Expected ErrRateLimitExceeded on 11th request, got %v", err)
	}
	var rle *RateLimitExceededError
	if !errors.As(err, &rle) {
		t.Fatalf("Expected *RateLimitExceededError, got %T", err)
	}
	if rle.RetryAfter != 12*time.Hour {
		t.Errorf("Expected retry after 12h, got %v", rle.RetryAfter)
	}
	if result == nil || result.Allowed || result.RemainingRequests != 0 {
		t.Errorf("Expected denied result with 0 remaining, got %+v", result)
	}
	if !result.WindowStart.Equal(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Expected window start at midnight, got %v", result.WindowStart)
	}
	if result.WindowDuration != 24*time.Hour {
		t.Errorf("Expected 24h window, got %v", result.WindowDuration)
	}

	// The next day opens a fresh window.
	clock.Advance(12 * time.Hour)
	if _, err := r.EnforceRateLimit(ctx, testUser, testEndpoint, 1); err != nil {
		t.Errorf("Expected request allowed in new window, got %v", err)
	}
}

func TestEnforceRateLimit_APIPrecedence(t *testing.T) {
	r := newTestLimiter(t, Config{
		UserLimits: map[string]ratelimit.Config{testUser: daily(100)},
		APILimits:  map[string]ratelimit.Config{testEndpoint: daily(2)},
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		result, err := r.EnforceRateLimit(ctx, testUser, testEndpoint, 1)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if result.Scope != ScopeAPI || result.Limit != 2 {
			t.Errorf("Expected api scope with limit 2, got %q/%d", result.Scope, result.Limit)
		}
	}
	if _, err := r.EnforceRateLimit(ctx, testUser, testEndpoint, 1); !errors.Is(err, ErrRateLimitExceeded) {
		t.Errorf("Expected endpoint policy to deny, got %v", err)
	}

	// Other endpoints fall back to the user policy.
	result, err := r.EnforceRateLimit(ctx, testUser, "/v1/embed", 1)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if result.Scope != ScopeUser || result.Limit != 100 {
		t.Errorf("Expected user scope with limit 100, got %q/%d", result.Scope, result.Limit)
	}

	// Endpoint usage is counted per user.
	if _, err := r.EnforceRateLimit(ctx, "bob", testEndpoint, 1); err != nil {
		t.Errorf("Expected bob to have his own window, got %v", err)
	}
}

func TestEnforceRateLimit_Unlimited(t *testing.T) {
	r := newTestLimiter(t, Config{})

	for i := 0; i < 50; i++ {
		result, err := r.EnforceRateLimit(context.Background(), testUser, testEndpoint, 1)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if !result.Allowed || result.RemainingRequests != UnlimitedRemaining {
			t.Fatalf("Expected unlimited result, got %+v", result)
		}
		if result.Reason != "no rate limit configured" {
			t.Errorf("Unexpected reason %q", result.Reason)
		}
	}
}

func TestEnforceRateLimit_WeightAndBurst(t *testing.T) {
	r := newTestLimiter(t, Config{
		UserLimits: map[string]ratelimit.Config{
			testUser: {MaxRequests: 4, BurstAllowance: 1, Window: ratelimit.WindowHour},
		},
	})
	ctx := context.Background()

	result, err := r.EnforceRateLimit(ctx, testUser, testEndpoint, 3)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if result.Limit != 5 || result.RemainingRequests != 2 {
		t.Errorf("Expected limit 5 with 2 remaining, got %d/%d", result.Limit, result.RemainingRequests)
	}

	result, err = r.EnforceRateLimit(ctx, testUser, testEndpoint, 3)
	if !errors.Is(err, ErrRateLimitExceeded) {
		t.Fatalf("Expected weight 3 to exceed remaining 2, got %v", err)
	}
	if result.RemainingRequests != 2 {
		t.Errorf("Denied request must not consume capacity, remaining %d", result.RemainingRequests)
	}

	// Weights below one count as one.
	result, err = r.EnforceRateLimit(ctx, testUser, testEndpoint, 0)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if result.RemainingRequests != 1 {
		t.Errorf("Expected 1 remaining after weight 0, got %d", result.RemainingRequests)
	}
}

func TestEnforceRateLimit_CustomWindow(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC))
	r := newTestLimiter(t, Config{
		Now: clock.Now,
		UserLimits: map[string]ratelimit.Config{
			testUser: {MaxRequests: 1, Window: ratelimit.WindowCustom, CustomWindow: 30 * time.Second},
		},
	})
	ctx := context.Background()

	if _, err := r.EnforceRateLimit(ctx, testUser, testEndpoint, 1); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	clock.Advance(10*time.Second + 200*time.Millisecond)
	_, err := r.EnforceRateLimit(ctx, testUser, testEndpoint, 1)
	var rle *RateLimitExceededError
	if !errors.As(err, &rle) {
		t.Fatalf("Expected RateLimitExceededError, got %v", err)
	}
	// 19.8s until the first request leaves the window, rounded up.
	if rle.RetryAfter != 20*time.Second {
		t.Errorf("Expected retry after 20s, got %v", rle.RetryAfter)
	}

	clock.Advance(20 * time.Second)
	if _, err := r.EnforceRateLimit(ctx, testUser, testEndpoint, 1); err != nil {
		t.Errorf("Expected request allowed once the window slid, got %v", err)
	}
}

func TestEnforceRateLimit_SeededFromStore(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC))
	store := newMemoryStore(t)
	ctx := context.Background()

	for _, rec := range []*storage.RequestRecord{
		{UserID: testUser, APIEndpoint: testEndpoint, Weight: 2, Timestamp: clock.Now().Add(-time.Hour)},
		{UserID: testUser, APIEndpoint: testEndpoint, Weight: 1, Timestamp: clock.Now().Add(-2 * time.Hour)},
		// Different endpoint and previous day do not count.
		{UserID: testUser, APIEndpoint: "/v1/embed", Weight: 5, Timestamp: clock.Now().Add(-time.Hour)},
		{UserID: testUser, APIEndpoint: testEndpoint, Weight: 5, Timestamp: clock.Now().Add(-13 * time.Hour)},
	} {
		if err := store.LogRequest(ctx, rec); err != nil {
			t.Fatalf("LogRequest failed: %v", err)
		}
	}
	// Token usage is not a rate-limited request.
	_ = store.LogTokenUsage(ctx, &storage.UsageRecord{UserID: testUser, APIEndpoint: testEndpoint, TokensUsed: 100, Timestamp: clock.Now().Add(-time.Hour)})

	r := newTestLimiter(t, Config{
		Store:      store,
		Now:        clock.Now,
		UserLimits: map[string]ratelimit.Config{testUser: daily(4)},
	})

	result, err := r.EnforceRateLimit(ctx, testUser, testEndpoint, 1)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if result.RemainingRequests != 0 {
		t.Errorf("Expected 0 remaining after seeding weight 3, got %d", result.RemainingRequests)
	}
	if _, err := r.EnforceRateLimit(ctx, testUser, testEndpoint, 1); !errors.Is(err, ErrRateLimitExceeded) {
		t.Errorf("Expected denial, got %v", err)
	}
}

// Admitted requests are written to the store, so a limiter over the same
// database sees them.
func TestEnforceRateLimit_SharedStore(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC))
	path := filepath.Join(t.TempDir(), "limits.db")
	ctx := context.Background()

	allowed := 0
	for i := 0; i < 3; i++ {
		store, err := storage.NewSQLiteStore(path)
		if err != nil {
			t.Fatalf("NewSQLiteStore failed: %v", err)
		}
		r := newTestLimiter(t, Config{
			Store:      store,
			Now:        clock.Now,
			UserLimits: map[string]ratelimit.Config{testUser: daily(1)},
		})

		result, err := r.EnforceRateLimit(ctx, testUser, testEndpoint, 1)
		if err == nil && result.Allowed {
			allowed++
		} else if !errors.Is(err, ErrRateLimitExceeded) {
			t.Fatalf("Instance %d: unexpected error: %v", i, err)
		}
		if err := store.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
		clock.Advance(time.Minute)
	}

	if allowed != 1 {
		t.Errorf("Expected 1 request allowed across instances, got %d", allowed)
	}
}

// A weekly window keeps counting after the tracker prunes entries older
// than its retention.
func TestEnforceRateLimit_WeekWindowSurvivesPrune(t *testing.T) {
	// Monday
	clock := newFakeClock(time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC))
	r := newTestLimiter(t, Config{
		Now:        clock.Now,
		Tracker:    ratelimit.TrackerConfig{Retention: 24 * time.Hour},
		UserLimits: map[string]ratelimit.Config{testUser: {MaxRequests: 10, Window: ratelimit.WindowWeek}},
	})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if _, err := r.EnforceRateLimit(ctx, testUser, testEndpoint, 1); err != nil {
			t.Fatalf("Request %d: unexpected error: %v", i+1, err)
		}
		clock.Advance(time.Minute)
	}

	clock.Advance(30 * time.Hour)
	if _, err := r.EnforceRateLimit(ctx, testUser, testEndpoint, 1); !errors.Is(err, ErrRateLimitExceeded) {
		t.Fatalf("Expected denial before prune, got %v", err)
	}
	r.tracker.Prune()

	for i := 0; i < 10; i++ {
		if _, err := r.EnforceRateLimit(ctx, testUser, testEndpoint, 1); !errors.Is(err, ErrRateLimitExceeded) {
			t.Fatalf("Request %d after prune: expected denial, got %v", i+1, err)
		}
	}
}

// Growing a window re-reads usage from the store.
func TestEnforceRateLimit_PolicyChangeReseeds(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 1, 7, 12, 0, 0, 0, time.UTC))
	store := newMemoryStore(t)
	ctx := context.Background()

	earlier := &storage.RequestRecord{UserID: testUser, APIEndpoint: testEndpoint, Weight: 3, Timestamp: clock.Now().Add(-2 * time.Hour)}
	if err := store.LogRequest(ctx, earlier); err != nil {
		t.Fatalf("LogRequest failed: %v", err)
	}

	r := newTestLimiter(t, Config{
		Store:      store,
		Now:        clock.Now,
		UserLimits: map[string]ratelimit.Config{testUser: {MaxRequests: 5, Window: ratelimit.WindowHour}},
	})

	// The hour window only loads the current hour.
	result, err := r.EnforceRateLimit(ctx, testUser, testEndpoint, 1)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if result.RemainingRequests != 4 {
		t.Fatalf("Expected 4 remaining in the hour, got %d", result.RemainingRequests)
	}

	if err := r.SetUserRateLimit(testUser, daily(5)); err != nil {
		t.Fatalf("SetUserRateLimit failed: %v", err)
	}
	result, err = r.EnforceRateLimit(ctx, testUser, testEndpoint, 1)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if result.RemainingRequests != 0 {
		t.Errorf("Expected the day's weight of 5 to be counted, got %d remaining", result.RemainingRequests)
	}
}

func TestEnforceRateLimit_RequestLogFailure(t *testing.T) {
	store := &failingStore{Store: newMemoryStore(t), requestErr: errors.New("disk full")}
	r := newTestLimiter(t, Config{
		Store:      store,
		UserLimits: map[string]ratelimit.Config{testUser: daily(1)},
	})
	ctx := context.Background()

	if _, err := r.EnforceRateLimit(ctx, testUser, testEndpoint, 1); err != nil {
		t.Fatalf("Expected request allowed despite log failure, got %v", err)
	}
	if _, err := r.EnforceRateLimit(ctx, testUser, testEndpoint, 1); !errors.Is(err, ErrRateLimitExceeded) {
		t.Errorf("Expected the request to still count locally, got %v", err)
	}
}

func TestEnforceRateLimit_FailOpen(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	store := &failingStore{Store: newMemoryStore(t), usageErr: errors.New("database is locked")}

	r := newTestLimiter(t, Config{
		Store:      store,
		Metrics:    metrics,
		UserLimits: map[string]ratelimit.Config{testUser: daily(1)},
	})

	for i := 0; i < 3; i++ {
		result, err := r.EnforceRateLimit(context.Background(), testUser, testEndpoint, 1)
		if err != nil {
			t.Fatalf("Expected fail-open without error, got %v", err)
		}
		if !result.Allowed {
			t.Fatal("Expected request allowed when the store fails")
		}
		if !strings.Contains(result.Reason, "database is locked") {
			t.Errorf("Expected failure in reason, got %q", result.Reason)
		}
	}

	if got := testutil.ToFloat64(metrics.rateLimitFailOpen); got != 3 {
		t.Errorf("Expected 3 fail-open events, got %v", got)
	}
}

func TestEnforceRateLimit_LockTimeout(t *testing.T) {
	r := newTestLimiter(t, Config{
		LockTimeout: 50 * time.Millisecond,
		UserLimits:  map[string]ratelimit.Config{testUser: daily(10)},
	})

	holder := lock.WithOwner(context.Background(), lock.NewOwner())
	id, err := r.Locks().Acquire(holder, lock.TypeRateLimitCheck, ratelimit.Key(testUser, testEndpoint), time.Minute)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer r.Locks().Release(holder, id)

	start := time.Now()
	_, err = r.EnforceRateLimit(context.Background(), testUser, testEndpoint, 1)
	if !errors.Is(err, lock.ErrLockTimeout) {
		t.Fatalf("Expected lock timeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Timeout took too long: %v", elapsed)
	}

	// CheckRateLimit reports the same condition as a fail-open result.
	result := r.CheckRateLimit(context.Background(), testUser, testEndpoint, 1)
	if !result.Allowed || result.Reason == "" {
		t.Errorf("Expected fail-open result with reason, got %+v", result)
	}

	// Other endpoints are not blocked by the held key.
	if _, err := r.EnforceRateLimit(context.Background(), testUser, "/v1/embed", 1); err != nil {
		t.Errorf("Expected unrelated key to proceed, got %v", err)
	}
}

func TestEnforceRateLimit_ContextCanceled(t *testing.T) {
	r := newTestLimiter(t, Config{UserLimits: map[string]ratelimit.Config{testUser: daily(10)}})

	holder := lock.WithOwner(context.Background(), lock.NewOwner())
	id, err := r.Locks().Acquire(holder, lock.TypeRateLimitCheck, ratelimit.Key(testUser, testEndpoint), time.Minute)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer r.Locks().Release(holder, id)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := r.EnforceRateLimit(ctx, testUser, testEndpoint, 1); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
}

func TestEnforceRateLimit_EmergencyBypass(t *testing.T) {
	bypass := daily(1)
	bypass.EmergencyBypass = true
	r := newTestLimiter(t, Config{
		UserLimits: map[string]ratelimit.Config{testUser: bypass, "bob": daily(1)},
	})
	ctx := context.Background()

	r.SetEmergencyMode(true)
	if !r.EmergencyMode() {
		t.Fatal("Expected emergency mode on")
	}

	for i := 0; i < 5; i++ {
		result, err := r.EnforceRateLimit(ctx, testUser, testEndpoint, 1)
		if err != nil {
			t.Fatalf("Expected bypass, got %v", err)
		}
		if result.Reason != "emergency bypass" {
			t.Errorf("Expected bypass reason, got %q", result.Reason)
		}
	}

	// Policies without the flag still apply.
	if _, err := r.EnforceRateLimit(ctx, "bob", testEndpoint, 1); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if _, err := r.EnforceRateLimit(ctx, "bob", testEndpoint, 1); !errors.Is(err, ErrRateLimitExceeded) {
		t.Errorf("Expected bob denied, got %v", err)
	}

	r.SetEmergencyMode(false)
	if _, err := r.EnforceRateLimit(ctx, testUser, testEndpoint, 1); err != nil {
		t.Fatalf("Expected first counted request allowed, got %v", err)
	}
	if _, err := r.EnforceRateLimit(ctx, testUser, testEndpoint, 1); !errors.Is(err, ErrRateLimitExceeded) {
		t.Errorf("Expected limit enforced after emergency ends, got %v", err)
	}
}

func TestEnforceRateLimit_Concurrent(t *testing.T) {
	r := newTestLimiter(t, Config{UserLimits: map[string]ratelimit.Config{testUser: daily(50)}})

	var allowed, denied atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.EnforceRateLimit(context.Background(), testUser, testEndpoint, 1)
			switch {
			case err == nil:
				allowed.Add(1)
			case errors.Is(err, ErrRateLimitExceeded):
				denied.Add(1)
			default:
				t.Errorf("Unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if allowed.Load() != 50 || denied.Load() != 50 {
		t.Errorf("Expected 50 allowed and 50 denied, got %d/%d", allowed.Load(), denied.Load())
	}
}

func TestReplaceRateLimits(t *testing.T) {
	r := newTestLimiter(t, Config{UserLimits: map[string]ratelimit.Config{testUser: daily(5)}})

	err := r.ReplaceRateLimits(
		map[string]ratelimit.Config{"bob": daily(3)},
		map[string]ratelimit.Config{testEndpoint: {MaxRequests: 1, Window: ratelimit.WindowCustom}},
	)
	if !errors.Is(err, ratelimit.ErrInvalidConfig) {
		t.Fatalf("Expected ErrInvalidConfig, got %v", err)
	}
	users, apis := r.RateLimits()
	if _, ok := users[testUser]; !ok || len(users) != 1 || len(apis) != 0 {
		t.Fatalf("Failed replace must leave policies unchanged, got %v %v", users, apis)
	}

	if err := r.ReplaceRateLimits(map[string]ratelimit.Config{"bob": daily(3)}, nil); err != nil {
		t.Fatalf("ReplaceRateLimits failed: %v", err)
	}
	users, _ = r.RateLimits()
	if _, ok := users[testUser]; ok {
		t.Error("Expected alice's policy to be removed")
	}
	if users["bob"].MaxRequests != 3 {
		t.Errorf("Expected bob's policy, got %+v", users["bob"])
	}

	r.RemoveUserRateLimit("bob")
	if users, _ := r.RateLimits(); len(users) != 0 {
		t.Errorf("Expected no user policies, got %v", users)
	}

	if err := r.SetAPIRateLimit("", daily(1)); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("Expected ErrInvalidRequest for empty endpoint, got %v", err)
	}
	if err := r.SetAPIRateLimit(testEndpoint, daily(1)); err != nil {
		t.Fatalf("SetAPIRateLimit failed: %v", err)
	}
	r.RemoveAPIRateLimit(testEndpoint)
	if _, apis := r.RateLimits(); len(apis) != 0 {
		t.Errorf("Expected no api policies, got %v", apis)
	}
}

func TestUsageStatus(t *testing.T) {
	r := newTestLimiter(t, Config{UserLimits: map[string]ratelimit.Config{testUser: daily(2)}})
	ctx := context.Background()

	status := r.UsageStatus(ctx, testUser, testEndpoint)
	if !status.Allowed || status.RemainingRequests != 1 {
		t.Errorf("Expected fresh window to allow with 1 remaining after a request, got %+v", status)
	}

	for i := 0; i < 2; i++ {
		if _, err := r.EnforceRateLimit(ctx, testUser, testEndpoint, 1); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
	}

	status = r.UsageStatus(ctx, testUser, testEndpoint)
	if status.Allowed || status.RemainingRequests != 0 || status.RetryAfter <= 0 {
		t.Errorf("Expected exhausted window, got %+v", status)
	}

	// Status does not count as a request.
	status2 := r.UsageStatus(ctx, testUser, testEndpoint)
	if status2.RemainingRequests != status.RemainingRequests {
		t.Error("UsageStatus must not consume capacity")
	}

	if s := r.UsageStatus(ctx, "nobody", "/none"); s.RemainingRequests != UnlimitedRemaining {
		t.Errorf("Expected unlimited status, got %+v", s)
	}
}

func TestStartStop(t *testing.T) {
	r := newTestLimiter(t, Config{})
	if err := r.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := r.Start(); err == nil {
		t.Error("Expected second Start to fail")
	}
	r.Stop()
}
