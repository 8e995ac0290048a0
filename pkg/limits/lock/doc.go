// Package lock provides process-local, typed, re-entrant locks with timeouts.
//
// # Overview
//
// Locks are keyed by (Type, resource ID). At most one logical lock per key is
// live at a time. A second acquire by the same owner increments a recursive
// count instead of blocking; an acquire by a different owner waits until the
// holder releases, the holder's own timeout elapses (at which point the lock
// is reclaimed), or the caller's timeout expires with a *TimeoutError.
//
//	mgr := lock.NewManager(lock.Config{}, logger)
//	mgr.Start()
//	defer mgr.Stop()
//
//	err := mgr.WithLock(ctx, lock.TypeTokenAllocation, "user-1", 5*time.Second,
//	    func(ctx context.Context) error {
//	        // read-modify-write guarded state
//	        return nil
//	    })
//
// # Ownership
//
// Ownership is carried in the context (see WithOwner). A context without an
// owner receives a fresh owner on every Acquire, so such acquisitions never
// re-enter. WithLock attaches an owner so nested acquisitions inside the
// callback re-enter the same lock.
//
// # Reaper
//
// A background job scheduled with robfig/cron force-releases locks whose
// holders have exceeded their timeout. It is the only defense against a
// crashed holder leaking a lock permanently.
package lock
