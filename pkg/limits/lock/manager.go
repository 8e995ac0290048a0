package lock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

const (
	// DefaultTimeout is used when Acquire is called with a non-positive timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultCleanupInterval is how often the reaper looks for expired locks.
	DefaultCleanupInterval = 60 * time.Second
)

// Config configures a Manager.
type Config struct {
	// DefaultTimeout applies when Acquire receives a non-positive timeout.
	// Default: 30s
	DefaultTimeout time.Duration

	// CleanupInterval is how often the reaper runs. The reaper schedule has
	// one-second granularity.
	// Default: 60s
	CleanupInterval time.Duration

	// Observer receives lock events (optional).
	Observer Observer

	// Now overrides the clock (optional, for tests).
	Now func() time.Time
}

type key struct {
	typ        Type
	resourceID string
}

// entry is a live lock. released is closed when the lock is freed so that
// waiters wake immediately.
type entry struct {
	info     Info
	released chan struct{}
}

// Manager hands out named, typed, re-entrant locks.
//
// The Manager's own mutex protects only lock metadata. The logical locks it
// hands out guard business-level invariants of the callers.
type Manager struct {
	mu    sync.Mutex
	locks map[key]*entry
	byID  map[string]key

	defaultTimeout  time.Duration
	cleanupInterval time.Duration
	observer        Observer
	now             func() time.Time
	logger          *slog.Logger

	cronMu  sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewManager creates a lock manager. Call Start to run the background reaper.
func NewManager(cfg Config, logger *slog.Logger) *Manager {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultTimeout
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultCleanupInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		locks:           make(map[key]*entry),
		byID:            make(map[string]key),
		defaultTimeout:  cfg.DefaultTimeout,
		cleanupInterval: cfg.CleanupInterval,
		observer:        cfg.Observer,
		now:             cfg.Now,
		logger:          logger.With("component", "limits.lock"),
	}
}

// Acquire obtains the lock for (t, resourceID) and returns its lock ID.
//
// If the owner carried by ctx already holds the lock, the recursive count is
// incremented and the same lock ID is returned; every Acquire must be balanced
// by a Release. Otherwise Acquire waits until the lock is free, the holder's
// timeout elapses, or timeout passes, in which case a *TimeoutError is
// returned. Context cancellation aborts the wait with ctx.Err().
//
// Re-entry requires an owner in ctx, set with WithOwner or inside WithLock.
// Without one every call gets a fresh owner, so a second Acquire from the
// same goroutine waits like any other contender.
func (m *Manager) Acquire(ctx context.Context, t Type, resourceID string, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = m.defaultTimeout
	}
	owner, ok := OwnerFromContext(ctx)
	if !ok {
		owner = NewOwner()
	}

	k := key{typ: t, resourceID: resourceID}
	start := m.now()
	// The caller's timeout runs on the wall clock; m.now only dates locks.
	deadline := time.Now().Add(timeout)

	for {
		m.mu.Lock()
		now := m.now()
		e, held := m.locks[k]
		if held && e.info.Expired(now) {
			m.reclaimLocked(k, e, "holder exceeded timeout")
			held = false
		}

		if !held {
			e = &entry{
				info: Info{
					ID:             uuid.NewString(),
					Type:           t,
					ResourceID:     resourceID,
					AcquiredAt:     now,
					Timeout:        timeout,
					Owner:          owner,
					RecursiveCount: 1,
				},
				released: make(chan struct{}),
			}
			m.locks[k] = e
			m.byID[e.info.ID] = k
			active := len(m.locks)
			m.mu.Unlock()

			m.notifyAcquired(t, now.Sub(start), active)
			return e.info.ID, nil
		}

		if e.info.Owner == owner {
			e.info.RecursiveCount++
			id := e.info.ID
			m.mu.Unlock()
			return id, nil
		}

		released := e.released
		holderExpiry := e.info.AcquiredAt.Add(e.info.Timeout)
		m.mu.Unlock()

		wait := time.Until(deadline)
		if wait <= 0 {
			if m.observer != nil {
				m.observer.LockTimedOut(t)
			}
			return "", &TimeoutError{Type: t, ResourceID: resourceID, Timeout: timeout}
		}
		// Wake up in time to reclaim an expired holder.
		if untilExpiry := holderExpiry.Sub(now); untilExpiry >= 0 && untilExpiry < wait {
			wait = untilExpiry + time.Millisecond
		}

		timer := time.NewTimer(wait)
		select {
		case <-released:
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		}
		timer.Stop()
	}
}

// Release decrements the recursive count of the lock and frees it when the
// count reaches zero, waking all waiters.
//
// If ctx carries an owner that does not hold the lock, the release is logged
// and ignored; ownership is never transferred. A context without an owner is
// trusted on the strength of the lock ID alone. Unknown lock IDs are logged
// and ignored.
func (m *Manager) Release(ctx context.Context, lockID string) {
	m.mu.Lock()
	k, ok := m.byID[lockID]
	if !ok {
		m.mu.Unlock()
		m.logger.Warn("release of unknown lock", "lock_id", lockID)
		return
	}
	e := m.locks[k]

	if owner, hasOwner := OwnerFromContext(ctx); hasOwner && owner != e.info.Owner {
		m.mu.Unlock()
		m.logger.Error("release of lock not owned by caller",
			"lock_id", lockID,
			"lock_type", string(k.typ),
			"resource_id", k.resourceID,
		)
		return
	}

	e.info.RecursiveCount--
	if e.info.RecursiveCount > 0 {
		m.mu.Unlock()
		return
	}

	m.removeLocked(k, e)
	active := len(m.locks)
	m.mu.Unlock()

	if m.observer != nil {
		m.observer.ActiveLocksChanged(active)
	}
}

// WithLock acquires the lock, runs fn, and releases the lock on every exit
// path including panics. The context passed to fn carries the owner, so nested
// acquisitions inside fn re-enter.
func (m *Manager) WithLock(ctx context.Context, t Type, resourceID string, timeout time.Duration, fn func(context.Context) error) error {
	ctx, _ = ensureOwner(ctx)

	lockID, err := m.Acquire(ctx, t, resourceID, timeout)
	if err != nil {
		return err
	}
	defer m.Release(ctx, lockID)

	return fn(ctx)
}

// IsLocked reports whether a live (non-expired) lock exists for the key.
func (m *Manager) IsLocked(t Type, resourceID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.locks[key{typ: t, resourceID: resourceID}]
	return ok && !e.info.Expired(m.now())
}

// ActiveLocks returns a snapshot of all held locks keyed by lock ID.
func (m *Manager) ActiveLocks() map[string]Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]Info, len(m.locks))
	for _, e := range m.locks {
		out[e.info.ID] = e.info
	}
	return out
}

// EmergencyReleaseAll force-releases every lock of type t, or every lock when
// t is empty. It returns the number of locks released.
func (m *Manager) EmergencyReleaseAll(t Type) int {
	m.mu.Lock()
	released := 0
	for k, e := range m.locks {
		if t != "" && k.typ != t {
			continue
		}
		m.removeLocked(k, e)
		released++
	}
	active := len(m.locks)
	m.mu.Unlock()

	if released > 0 {
		m.logger.Warn("emergency release of locks",
			"lock_type", string(t),
			"released", released,
		)
		if m.observer != nil {
			m.observer.ActiveLocksChanged(active)
		}
	}
	return released
}

// ReapExpired force-releases every lock held longer than its timeout and
// returns how many were reclaimed.
func (m *Manager) ReapExpired() int {
	m.mu.Lock()
	now := m.now()
	reaped := 0
	for k, e := range m.locks {
		if e.info.Expired(now) {
			m.reclaimLocked(k, e, "reaper")
			reaped++
		}
	}
	active := len(m.locks)
	m.mu.Unlock()

	if reaped > 0 && m.observer != nil {
		m.observer.ActiveLocksChanged(active)
	}
	return reaped
}

// Start schedules the reaper. It is a no-op if the reaper is already running.
func (m *Manager) Start() error {
	m.cronMu.Lock()
	defer m.cronMu.Unlock()

	if m.running {
		return nil
	}

	c := cron.New()
	c.Schedule(cron.Every(m.cleanupInterval), cron.FuncJob(m.reap))
	c.Start()

	m.cron = c
	m.running = true
	m.logger.Info("lock reaper started", "interval", m.cleanupInterval.String())
	return nil
}

// Stop stops the reaper and waits for a running pass to finish. Held locks
// are left untouched.
func (m *Manager) Stop() {
	m.cronMu.Lock()
	defer m.cronMu.Unlock()

	if !m.running {
		return
	}
	<-m.cron.Stop().Done()
	m.running = false
	m.logger.Info("lock reaper stopped")
}

// reap is the scheduled job. Failures never escape the reaper.
func (m *Manager) reap() {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("lock reaper panic", "panic", fmt.Sprint(r))
		}
	}()

	if n := m.ReapExpired(); n > 0 {
		m.logger.Debug("lock reaper pass complete", "reclaimed", n)
	}
}

// reclaimLocked force-removes an expired lock. Caller must hold m.mu.
func (m *Manager) reclaimLocked(k key, e *entry, reason string) {
	m.logger.Warn("reclaiming expired lock",
		"lock_id", e.info.ID,
		"lock_type", string(k.typ),
		"resource_id", k.resourceID,
		"owner", e.info.Owner,
		"held_for", m.now().Sub(e.info.AcquiredAt).String(),
		"timeout", e.info.Timeout.String(),
		"reason", reason,
	)
	m.removeLocked(k, e)
	if m.observer != nil {
		m.observer.LockReclaimed(k.typ)
	}
}

// removeLocked deletes the lock and wakes its waiters. Caller must hold m.mu.
func (m *Manager) removeLocked(k key, e *entry) {
	delete(m.locks, k)
	delete(m.byID, e.info.ID)
	close(e.released)
}

func (m *Manager) notifyAcquired(t Type, waited time.Duration, active int) {
	if m.observer == nil {
		return
	}
	m.observer.LockAcquired(t, waited)
	m.observer.ActiveLocksChanged(active)
}
