package ratelimit

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	// DefaultPruneInterval is how often the tracker discards stale entries.
	DefaultPruneInterval = 5 * time.Minute

	// DefaultRetention is how long an entry is kept after it was recorded.
	DefaultRetention = 24 * time.Hour
)

// Entry is one recorded request.
type Entry struct {
	Timestamp time.Time
	Weight    int64
}

// Tracker is the in-memory usage cache for rate-limit windows.
//
// It holds a list of timestamped weights per tracking key. The store remains
// the source of truth: callers seed a key from the store on a miss and write
// every admitted request through to both. Prune drops a key as soon as any of
// its entries is older than the retention, so windows longer than the
// retention are re-seeded from the store instead of undercounting.
//
// Tracker is safe for concurrent use. Callers that need a consistent
// check-then-add across goroutines must serialize on the key themselves.
type Tracker struct {
	mu      sync.RWMutex
	entries map[string][]Entry

	retention time.Duration
	interval  time.Duration
	now       func() time.Time
	logger    *slog.Logger

	cron *cron.Cron
}

// TrackerConfig configures a Tracker.
type TrackerConfig struct {
	// PruneInterval is how often Prune runs once Start is called.
	// Default: 5m
	PruneInterval time.Duration `yaml:"prune_interval"`

	// Retention is the age after which entries are discarded.
	// Default: 24h
	Retention time.Duration `yaml:"retention"`

	// Now overrides the clock. Default: time.Now
	Now func() time.Time `yaml:"-"`
}

// NewTracker creates an empty tracker.
func NewTracker(cfg TrackerConfig, logger *slog.Logger) *Tracker {
	if cfg.PruneInterval <= 0 {
		cfg.PruneInterval = DefaultPruneInterval
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Tracker{
		entries:   make(map[string][]Entry),
		retention: cfg.Retention,
		interval:  cfg.PruneInterval,
		now:       cfg.Now,
		logger:    logger.With("component", "limits.tracker"),
	}
}

// Key builds the tracking key for a user and endpoint.
func Key(userID, endpoint string) string {
	return userID + "_" + endpoint
}

// Has reports whether key has been seeded or written to.
func (t *Tracker) Has(key string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	_, ok := t.entries[key]
	return ok
}

// Seed installs entries for key if the key is not yet tracked. It reports
// whether the entries were installed. An empty seed still marks the key as
// tracked so later lookups stop falling back to the store.
func (t *Tracker) Seed(key string, entries []Entry) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.entries[key]; ok {
		return false
	}
	seeded := make([]Entry, len(entries))
	copy(seeded, entries)
	t.entries[key] = seeded
	return true
}

// Add records weight at ts for key.
func (t *Tracker) Add(key string, ts time.Time, weight int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.entries[key] = append(t.entries[key], Entry{Timestamp: ts, Weight: weight})
}

// Append records weight at ts for key only if key is tracked, and reports
// whether it did. A key dropped by Prune or Reset stays untracked so the
// next lookup seeds it from the store.
func (t *Tracker) Append(key string, ts time.Time, weight int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	list, ok := t.entries[key]
	if !ok {
		return false
	}
	t.entries[key] = append(list, Entry{Timestamp: ts, Weight: weight})
	return true
}

// Usage returns the total weight recorded for key at or after since, and the
// timestamp of the oldest such entry (zero if none).
func (t *Tracker) Usage(key string, since time.Time) (total int64, oldest time.Time) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, e := range t.entries[key] {
		if e.Timestamp.Before(since) {
			continue
		}
		total += e.Weight
		if oldest.IsZero() || e.Timestamp.Before(oldest) {
			oldest = e.Timestamp
		}
	}
	return total, oldest
}

// Forget drops all entries for key.
func (t *Tracker) Forget(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.entries, key)
}

// Len returns the number of tracked keys.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return len(t.entries)
}

// Reset drops every key.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.entries = make(map[string][]Entry)
}

// Prune drops every key holding an entry older than the retention, along
// with all of that key's entries. The next lookup of a dropped key misses
// and is seeded again from the store. It returns the number of entries
// removed.
func (t *Tracker) Prune() int {
	cutoff := t.now().Add(-t.retention)

	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for key, list := range t.entries {
		stale := len(list) == 0
		for _, e := range list {
			if e.Timestamp.Before(cutoff) {
				stale = true
				break
			}
		}
		if stale {
			removed += len(list)
			delete(t.entries, key)
		}
	}
	return removed
}

// Start schedules Prune every PruneInterval.
func (t *Tracker) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cron != nil {
		return fmt.Errorf("tracker pruner already started")
	}

	c := cron.New()
	c.Schedule(cron.Every(t.interval), cron.FuncJob(t.prune))
	c.Start()
	t.cron = c

	t.logger.Info("tracker pruner started",
		"interval", t.interval,
		"retention", t.retention,
	)
	return nil
}

// Stop halts the pruner and waits for a running prune to finish.
func (t *Tracker) Stop() {
	t.mu.Lock()
	c := t.cron
	t.cron = nil
	t.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	t.logger.Info("tracker pruner stopped")
}

func (t *Tracker) prune() {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("tracker prune panicked", "panic", r)
		}
	}()

	if n := t.Prune(); n > 0 {
		t.logger.Debug("pruned tracker entries", "removed", n, "keys", t.Len())
	}
}
