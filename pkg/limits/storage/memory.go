package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore implements Store in process memory. All data is lost when the
// process exits. Usage records beyond the retention are dropped by a
// background cleanup loop.
type MemoryStore struct {
	mu     sync.RWMutex
	limits map[string]*TokenLimit
	usage  map[string][]*UsageRecord

	// requests is keyed by user ID and endpoint.
	requests map[requestKey][]*RequestRecord

	maxRecordsPerUser int
	cleanupInterval   time.Duration
	now               func() time.Time

	done      chan struct{}
	closeOnce sync.Once
}

type requestKey struct {
	userID   string
	endpoint string
}

// MemoryStoreConfig configures the memory store.
type MemoryStoreConfig struct {
	// MaxRecordsPerUser caps the usage log per user and the request log
	// per user and endpoint. The oldest records are evicted first.
	// Default: 100,000
	MaxRecordsPerUser int

	// CleanupInterval is how often expired usage records are dropped.
	// Default: 1 hour
	CleanupInterval time.Duration

	// Retention is how long usage records are kept.
	// Default: 30 days
	Retention time.Duration

	// Now overrides the clock. Default: time.Now
	Now func() time.Time
}

// NewMemoryStore creates an in-memory store with default settings.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithConfig(MemoryStoreConfig{})
}

// NewMemoryStoreWithConfig creates an in-memory store.
func NewMemoryStoreWithConfig(cfg MemoryStoreConfig) *MemoryStore {
	if cfg.MaxRecordsPerUser == 0 {
		cfg.MaxRecordsPerUser = 100000
	}
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = time.Hour
	}
	if cfg.Retention == 0 {
		cfg.Retention = 30 * 24 * time.Hour
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	m := &MemoryStore{
		limits:            make(map[string]*TokenLimit),
		usage:             make(map[string][]*UsageRecord),
		requests:          make(map[requestKey][]*RequestRecord),
		maxRecordsPerUser: cfg.MaxRecordsPerUser,
		cleanupInterval:   cfg.CleanupInterval,
		now:               cfg.Now,
		done:              make(chan struct{}),
	}

	go m.cleanupLoop(cfg.Retention)

	return m
}

// GetUserTokenLimit returns a copy of the user's limit.
func (m *MemoryStore) GetUserTokenLimit(ctx context.Context, userID string) (*TokenLimit, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id cannot be empty")
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	l, ok := m.limits[userID]
	if !ok {
		return nil, nil
	}
	cp := *l
	return &cp, nil
}

// SetUserTokenLimit creates or updates the user's limit.
func (m *MemoryStore) SetUserTokenLimit(ctx context.Context, userID string, maxTokens int64, periodInterval string) error {
	if userID == "" {
		return fmt.Errorf("user id cannot be empty")
	}
	if maxTokens < 0 {
		return fmt.Errorf("max tokens cannot be negative: %d", maxTokens)
	}
	if _, err := ParsePeriodInterval(periodInterval); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if l, ok := m.limits[userID]; ok {
		l.MaxTokensPerPeriod = maxTokens
		l.PeriodInterval = periodInterval
		return nil
	}
	m.limits[userID] = &TokenLimit{
		UserID:             userID,
		MaxTokensPerPeriod: maxTokens,
		PeriodStart:        m.now(),
		PeriodInterval:     periodInterval,
	}
	return nil
}

// UpdateTokenUsage adds delta to the user's usage.
func (m *MemoryStore) UpdateTokenUsage(ctx context.Context, userID string, delta int64) error {
	if delta < 0 {
		return fmt.Errorf("usage delta cannot be negative: %d", delta)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.limits[userID]
	if !ok {
		return fmt.Errorf("%w for user %q", ErrNoTokenLimit, userID)
	}
	l.TokensUsedInPeriod += delta
	return nil
}

// LogTokenUsage appends a copy of rec. A zero timestamp is set to now.
func (m *MemoryStore) LogTokenUsage(ctx context.Context, rec *UsageRecord) error {
	if rec == nil {
		return fmt.Errorf("usage record cannot be nil")
	}
	if rec.UserID == "" {
		return fmt.Errorf("user id cannot be empty")
	}

	cp := *rec
	if cp.Timestamp.IsZero() {
		cp.Timestamp = m.now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	records := m.usage[cp.UserID]
	if len(records) >= m.maxRecordsPerUser {
		records = records[1:]
	}
	m.usage[cp.UserID] = append(records, &cp)
	return nil
}

// GetUserTokenUsage returns copies of the user's records in [start, end].
func (m *MemoryStore) GetUserTokenUsage(ctx context.Context, userID string, start, end time.Time) ([]*UsageRecord, error) {
	if end.IsZero() {
		end = m.now()
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*UsageRecord
	for _, r := range m.usage[userID] {
		if r.Timestamp.Before(start) || r.Timestamp.After(end) {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

// LogRequest appends a copy of rec. A zero timestamp is set to now.
func (m *MemoryStore) LogRequest(ctx context.Context, rec *RequestRecord) error {
	if rec == nil {
		return fmt.Errorf("request record cannot be nil")
	}
	if rec.UserID == "" {
		return fmt.Errorf("user id cannot be empty")
	}

	cp := *rec
	if cp.Timestamp.IsZero() {
		cp.Timestamp = m.now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := requestKey{userID: cp.UserID, endpoint: cp.APIEndpoint}
	records := m.requests[key]
	if len(records) >= m.maxRecordsPerUser {
		records = records[1:]
	}
	m.requests[key] = append(records, &cp)
	return nil
}

// GetRequests returns copies of the requests for userID and endpoint in
// [start, end].
func (m *MemoryStore) GetRequests(ctx context.Context, userID, endpoint string, start, end time.Time) ([]*RequestRecord, error) {
	if end.IsZero() {
		end = m.now()
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*RequestRecord
	for _, r := range m.requests[requestKey{userID: userID, endpoint: endpoint}] {
		if r.Timestamp.Before(start) || r.Timestamp.After(end) {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

// ListTokenLimits returns copies of all limits ordered by user ID.
func (m *MemoryStore) ListTokenLimits(ctx context.Context) ([]*TokenLimit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*TokenLimit, 0, len(m.limits))
	for _, l := range m.limits {
		cp := *l
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

// Cleanup drops usage and request records older than olderThan.
func (m *MemoryStore) Cleanup(ctx context.Context, olderThan time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	deleted := 0
	for user, records := range m.usage {
		kept := records[:0]
		for _, r := range records {
			if r.Timestamp.Before(olderThan) {
				deleted++
				continue
			}
			kept = append(kept, r)
		}
		if len(kept) == 0 {
			delete(m.usage, user)
			continue
		}
		m.usage[user] = kept
	}
	for key, records := range m.requests {
		kept := records[:0]
		for _, r := range records {
			if r.Timestamp.Before(olderThan) {
				deleted++
				continue
			}
			kept = append(kept, r)
		}
		if len(kept) == 0 {
			delete(m.requests, key)
			continue
		}
		m.requests[key] = kept
	}
	return deleted, nil
}

// Close stops the cleanup loop. Close is idempotent.
func (m *MemoryStore) Close() error {
	m.closeOnce.Do(func() { close(m.done) })
	return nil
}

// RecordCount returns the number of stored usage records.
func (m *MemoryStore) RecordCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, records := range m.usage {
		n += len(records)
	}
	return n
}

func (m *MemoryStore) cleanupLoop(retention time.Duration) {
	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_, _ = m.Cleanup(context.Background(), m.now().Add(-retention))
		case <-m.done:
			return
		}
	}
}
