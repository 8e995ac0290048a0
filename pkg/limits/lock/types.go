package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type identifies the kind of operation a lock guards.
type Type string

const (
	// TypeTokenAllocation guards a user's token allocation read-modify-write.
	TypeTokenAllocation Type = "token_allocation"

	// TypeRateLimitCheck guards a (user, endpoint) rate-limit check-and-increment.
	TypeRateLimitCheck Type = "rate_limit_check"

	// TypeUsageUpdate guards usage counter updates.
	TypeUsageUpdate Type = "usage_update"

	// TypeEmergencyOverride guards emergency override operations.
	TypeEmergencyOverride Type = "emergency_override"
)

// Valid reports whether t is one of the known lock types.
func (t Type) Valid() bool {
	switch t {
	case TypeTokenAllocation, TypeRateLimitCheck, TypeUsageUpdate, TypeEmergencyOverride:
		return true
	}
	return false
}

// Info describes one held lock.
type Info struct {
	// ID is the unique lock token returned by Acquire.
	ID string

	// Type is the lock type.
	Type Type

	// ResourceID is the key the lock is scoped to (e.g. a user ID).
	ResourceID string

	// AcquiredAt is when the lock was first acquired.
	AcquiredAt time.Time

	// Timeout is how long the holder may keep the lock before it is reclaimed.
	Timeout time.Duration

	// Owner is the owner token of the holder.
	Owner string

	// RecursiveCount is the number of unreleased acquisitions by the owner (>= 1).
	RecursiveCount int
}

// Expired reports whether the lock has been held longer than its timeout.
func (i Info) Expired(now time.Time) bool {
	return i.Timeout > 0 && now.Sub(i.AcquiredAt) > i.Timeout
}

// ErrLockTimeout is returned when a lock cannot be acquired within the timeout.
var ErrLockTimeout = errors.New("lock acquisition timed out")

// TimeoutError provides context about a failed acquisition.
type TimeoutError struct {
	Type       Type
	ResourceID string
	Timeout    time.Duration
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("failed to acquire %s lock for %q within %v", e.Type, e.ResourceID, e.Timeout)
}

// Unwrap returns ErrLockTimeout so callers can use errors.Is.
func (e *TimeoutError) Unwrap() error {
	return ErrLockTimeout
}

// Observer receives lock lifecycle events. limits.Metrics implements it.
type Observer interface {
	LockAcquired(t Type, waited time.Duration)
	LockTimedOut(t Type)
	LockReclaimed(t Type)
	ActiveLocksChanged(n int)
}

type ownerKey struct{}

// NewOwner returns a fresh owner token.
func NewOwner() string {
	return uuid.NewString()
}

// WithOwner returns a context carrying the given owner token. Acquisitions made
// with the same owner re-enter instead of blocking.
func WithOwner(ctx context.Context, owner string) context.Context {
	return context.WithValue(ctx, ownerKey{}, owner)
}

// OwnerFromContext returns the owner token carried by ctx, if any.
func OwnerFromContext(ctx context.Context) (string, bool) {
	owner, ok := ctx.Value(ownerKey{}).(string)
	return owner, ok && owner != ""
}

// ensureOwner returns ctx unchanged if it already carries an owner, otherwise a
// derived context with a fresh one.
func ensureOwner(ctx context.Context) (context.Context, string) {
	if owner, ok := OwnerFromContext(ctx); ok {
		return ctx, owner
	}
	owner := NewOwner()
	return WithOwner(ctx, owner), owner
}
