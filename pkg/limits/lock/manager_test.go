package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(Config{}, nil)
}

func TestManager_AcquireRelease(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	id, err := m.Acquire(ctx, TypeTokenAllocation, "user-1", time.Second)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if id == "" {
		t.Fatal("Expected non-empty lock ID")
	}
	if !m.IsLocked(TypeTokenAllocation, "user-1") {
		t.Error("Expected lock to be held")
	}
	if m.IsLocked(TypeRateLimitCheck, "user-1") {
		t.Error("Expected different lock type to be independent")
	}

	m.Release(ctx, id)
	if m.IsLocked(TypeTokenAllocation, "user-1") {
		t.Error("Expected lock to be free after release")
	}
	if len(m.ActiveLocks()) != 0 {
		t.Errorf("Expected no active locks, got %d", len(m.ActiveLocks()))
	}
}

func TestManager_Reentrant(t *testing.T) {
	m := newTestManager(t)
	ctx := WithOwner(context.Background(), NewOwner())

	first, err := m.Acquire(ctx, TypeTokenAllocation, "user-1", time.Second)
	if err != nil {
		t.Fatalf("First acquire failed: %v", err)
	}

	done := make(chan string, 1)
	go func() {
		id, err := m.Acquire(ctx, TypeTokenAllocation, "user-1", time.Second)
		if err != nil {
			t.Errorf("Re-entrant acquire failed: %v", err)
		}
		done <- id
	}()

	var second string
	select {
	case second = <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Re-entrant acquire deadlocked")
	}
	if second != first {
		t.Errorf("Expected same lock ID on re-entry, got %s and %s", first, second)
	}

	info := m.ActiveLocks()[first]
	if info.RecursiveCount != 2 {
		t.Errorf("Expected recursive count 2, got %d", info.RecursiveCount)
	}

	m.Release(ctx, first)
	if !m.IsLocked(TypeTokenAllocation, "user-1") {
		t.Error("Expected lock to remain held after one release")
	}

	m.Release(ctx, first)
	if m.IsLocked(TypeTokenAllocation, "user-1") {
		t.Error("Expected lock to be free after balancing releases")
	}
}

func TestManager_NoOwnerDoesNotReenter(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	id, err := m.Acquire(ctx, TypeTokenAllocation, "user-1", 10*time.Second)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer m.Release(ctx, id)

	_, err = m.Acquire(ctx, TypeTokenAllocation, "user-1", 100*time.Millisecond)
	if !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("Expected ErrLockTimeout without an owner in ctx, got %v", err)
	}
	if info := m.ActiveLocks()[id]; info.RecursiveCount != 1 {
		t.Errorf("Expected recursive count 1, got %d", info.RecursiveCount)
	}
}

func TestManager_Timeout(t *testing.T) {
	m := newTestManager(t)

	holder := WithOwner(context.Background(), NewOwner())
	id, err := m.Acquire(holder, TypeTokenAllocation, "user-1", 10*time.Second)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer m.Release(holder, id)

	start := time.Now()
	_, err = m.Acquire(context.Background(), TypeTokenAllocation, "user-1", 200*time.Millisecond)
	elapsed := time.Since(start)

	if !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("Expected ErrLockTimeout, got %v", err)
	}
	var timeoutErr *TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("Expected *TimeoutError, got %T", err)
	}
	if timeoutErr.ResourceID != "user-1" || timeoutErr.Type != TypeTokenAllocation {
		t.Errorf("Unexpected timeout error details: %+v", timeoutErr)
	}
	if elapsed < 190*time.Millisecond || elapsed > time.Second {
		t.Errorf("Expected timeout after ~200ms, took %v", elapsed)
	}
}

func TestManager_WaiterWakesOnRelease(t *testing.T) {
	m := newTestManager(t)

	holder := WithOwner(context.Background(), NewOwner())
	id, err := m.Acquire(holder, TypeTokenAllocation, "user-1", 10*time.Second)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	go func() {
		time.Sleep(50 * time.Millisecond)
		m.Release(holder, id)
	}()

	start := time.Now()
	waiterID, err := m.Acquire(context.Background(), TypeTokenAllocation, "user-1", 2*time.Second)
	if err != nil {
		t.Fatalf("Waiter acquire failed: %v", err)
	}
	if waiterID == id {
		t.Error("Expected waiter to receive a new lock ID")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Expected waiter to wake promptly, took %v", elapsed)
	}
}

func TestManager_ReclaimsExpiredHolder(t *testing.T) {
	m := newTestManager(t)

	holder := WithOwner(context.Background(), NewOwner())
	if _, err := m.Acquire(holder, TypeUsageUpdate, "user-1", 50*time.Millisecond); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	// The holder never releases; the waiter must reclaim once the holder expires.
	if _, err := m.Acquire(context.Background(), TypeUsageUpdate, "user-1", 2*time.Second); err != nil {
		t.Fatalf("Expected waiter to reclaim expired lock, got %v", err)
	}
}

// Two goroutines contend for the same key; they must never hold it at once.
func TestManager_MutualExclusion(t *testing.T) {
	m := newTestManager(t)

	var (
		wg       sync.WaitGroup
		inside   atomic.Int32
		overlaps atomic.Int32
		ok       atomic.Int32
		timeouts atomic.Int32
	)

	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := m.Acquire(context.Background(), TypeTokenAllocation, "user-1", time.Second)
			if err != nil {
				if errors.Is(err, ErrLockTimeout) {
					timeouts.Add(1)
					return
				}
				t.Errorf("Unexpected error: %v", err)
				return
			}
			if inside.Add(1) > 1 {
				overlaps.Add(1)
			}
			time.Sleep(100 * time.Millisecond)
			inside.Add(-1)
			ok.Add(1)
			m.Release(context.Background(), id)
		}()
	}
	wg.Wait()

	if overlaps.Load() != 0 {
		t.Error("Two holders held the same lock simultaneously")
	}
	if ok.Load()+timeouts.Load() != 2 {
		t.Errorf("Expected 2 outcomes, got %d successes and %d timeouts", ok.Load(), timeouts.Load())
	}
}

func TestManager_ReleaseNotOwned(t *testing.T) {
	m := newTestManager(t)

	holder := WithOwner(context.Background(), "owner-a")
	id, err := m.Acquire(holder, TypeTokenAllocation, "user-1", time.Second)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	m.Release(WithOwner(context.Background(), "owner-b"), id)
	if !m.IsLocked(TypeTokenAllocation, "user-1") {
		t.Fatal("Release by non-owner must not free the lock")
	}

	m.Release(context.Background(), "no-such-lock")

	m.Release(holder, id)
	if m.IsLocked(TypeTokenAllocation, "user-1") {
		t.Error("Expected owner release to free the lock")
	}
}

func TestManager_WithLock(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	t.Run("releases on error", func(t *testing.T) {
		want := errors.New("boom")
		err := m.WithLock(ctx, TypeTokenAllocation, "user-1", time.Second, func(context.Context) error {
			if !m.IsLocked(TypeTokenAllocation, "user-1") {
				t.Error("Expected lock to be held inside callback")
			}
			return want
		})
		if !errors.Is(err, want) {
			t.Errorf("Expected callback error, got %v", err)
		}
		if m.IsLocked(TypeTokenAllocation, "user-1") {
			t.Error("Expected lock to be released after error")
		}
	})

	t.Run("releases on panic", func(t *testing.T) {
		func() {
			defer func() { _ = recover() }()
			_ = m.WithLock(ctx, TypeTokenAllocation, "user-2", time.Second, func(context.Context) error {
				panic("boom")
			})
		}()
		if m.IsLocked(TypeTokenAllocation, "user-2") {
			t.Error("Expected lock to be released after panic")
		}
	})

	t.Run("nested acquisition re-enters", func(t *testing.T) {
		err := m.WithLock(ctx, TypeTokenAllocation, "user-3", time.Second, func(ctx context.Context) error {
			return m.WithLock(ctx, TypeTokenAllocation, "user-3", 100*time.Millisecond, func(context.Context) error {
				return nil
			})
		})
		if err != nil {
			t.Errorf("Expected nested WithLock to succeed, got %v", err)
		}
		if m.IsLocked(TypeTokenAllocation, "user-3") {
			t.Error("Expected lock to be released after nested calls")
		}
	})
}

func TestManager_ContextCancel(t *testing.T) {
	m := newTestManager(t)

	holder := WithOwner(context.Background(), NewOwner())
	id, err := m.Acquire(holder, TypeTokenAllocation, "user-1", 10*time.Second)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer m.Release(holder, id)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = m.Acquire(ctx, TypeTokenAllocation, "user-1", 5*time.Second)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected context deadline error, got %v", err)
	}
}

func TestManager_ReapExpired(t *testing.T) {
	now := time.Date(2025, 1, 6, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	m := NewManager(Config{Now: clock}, nil)
	ctx := context.Background()

	if _, err := m.Acquire(ctx, TypeTokenAllocation, "user-1", time.Second); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if _, err := m.Acquire(ctx, TypeRateLimitCheck, "user-1_/chat", time.Minute); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	if n := m.ReapExpired(); n != 0 {
		t.Errorf("Expected nothing reaped yet, got %d", n)
	}

	mu.Lock()
	now = now.Add(2 * time.Second)
	mu.Unlock()

	if n := m.ReapExpired(); n != 1 {
		t.Errorf("Expected 1 reaped lock, got %d", n)
	}
	if m.IsLocked(TypeTokenAllocation, "user-1") {
		t.Error("Expected expired lock to be reaped")
	}
	if !m.IsLocked(TypeRateLimitCheck, "user-1_/chat") {
		t.Error("Expected unexpired lock to survive")
	}
}

func TestManager_EmergencyReleaseAll(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	for _, res := range []string{"a", "b"} {
		if _, err := m.Acquire(ctx, TypeTokenAllocation, res, time.Minute); err != nil {
			t.Fatalf("Acquire failed: %v", err)
		}
	}
	if _, err := m.Acquire(ctx, TypeRateLimitCheck, "a", time.Minute); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	if n := m.EmergencyReleaseAll(TypeTokenAllocation); n != 2 {
		t.Errorf("Expected 2 released, got %d", n)
	}
	if !m.IsLocked(TypeRateLimitCheck, "a") {
		t.Error("Expected other lock types to be untouched")
	}
	if n := m.EmergencyReleaseAll(""); n != 1 {
		t.Errorf("Expected 1 released, got %d", n)
	}
	if len(m.ActiveLocks()) != 0 {
		t.Error("Expected no active locks")
	}
}

func TestManager_StartStop(t *testing.T) {
	m := NewManager(Config{CleanupInterval: time.Second}, nil)
	if err := m.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := m.Start(); err != nil {
		t.Fatalf("Second Start failed: %v", err)
	}
	m.Stop()
	m.Stop()
}
