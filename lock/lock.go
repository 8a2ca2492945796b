// Package lock provides the short-lived mutual exclusion used to keep concurrent
// cache misses from stampeding the same handler.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrInvalidExpiry is returned when a lock is requested without a positive expiry.
	// Locks must always expire so a crashed holder cannot wedge a key.
	ErrInvalidExpiry = errors.New("lock: expiry must be > 0")
	// ErrNotHeld is returned by Release when the lock expired and was taken over
	// (or removed) before the holder released it.
	ErrNotHeld = errors.New("lock: not held")
)

// Locker hands out non-blocking, expiring locks.
type Locker interface {
	// TryAcquire attempts to take key for expiry. It never waits for a holder:
	// (h, true, nil) acquired; (nil, false, nil) held elsewhere; (nil, false, err) unavailable.
	TryAcquire(ctx context.Context, key string, expiry time.Duration) (Handle, bool, error)
}

// Handle is an acquired lock.
type Handle interface {
	// Release gives the lock up. Only the first call does any work; later calls return nil.
	Release(ctx context.Context) error
	Key() string
	Expiry() time.Duration
}

// NewHandle wraps release so it runs at most once.
func NewHandle(key string, expiry time.Duration, release func(ctx context.Context) error) Handle {
	return &handle{key: key, expiry: expiry, release: release}
}

type handle struct {
	key     string
	expiry  time.Duration
	once    sync.Once
	release func(ctx context.Context) error
}

func (h *handle) Key() string           { return h.key }
func (h *handle) Expiry() time.Duration { return h.expiry }

func (h *handle) Release(ctx context.Context) error {
	var err error
	h.once.Do(func() { err = h.release(ctx) })
	return err
}
