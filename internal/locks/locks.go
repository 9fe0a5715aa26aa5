// Package locks provides the try-once locks that keep several roomgraph
// instances from running the same scheduled job at the same time.
//
// Two managers are available: a Redis one built on the Redlock
// implementation from go-redsync, and an in-process one for single
// instance deployments and tests.
package locks

import (
	"context"
	stderrors "errors"
	"time"
)

// ErrLockHeld is returned by TryAcquire when another holder owns the key
var ErrLockHeld = stderrors.New("lock held elsewhere")

// Lock is an acquired lock. Release is safe to call more than once.
type Lock interface {
	Key() string
	Release(ctx context.Context) error
}

// Manager hands out locks by key
type Manager interface {
	// TryAcquire takes the lock without waiting. The lock expires after
	// ttl unless released first.
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (Lock, error)
	Close() error
}

// IsHeld reports whether err means the lock belongs to someone else
func IsHeld(err error) bool {
	return stderrors.Is(err, ErrLockHeld)
}
