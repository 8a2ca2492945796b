package cqcache

import "time"

const (
	defaultTTL                 = 10 * time.Minute
	defaultLockExpiry          = 30 * time.Second
	minLockExpiry              = time.Second
	defaultLockWait            = 250 * time.Millisecond
	defaultReleaseTimeout      = 2 * time.Second
	defaultInvalidationTimeout = 5 * time.Second
)

// coalesce returns def when v is the zero value of T - otherwise v.
func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
