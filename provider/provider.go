// Package provider defines the storage abstraction used by cqcache.
//
// Implementations MUST be byte-for-byte transparent: Get must return exactly the
// same []byte that was previously passed to Set for a key. Stores that transform
// values internally (see provider/compress) must fully reverse the transform on read.
//
// Keys arrive fully scoped ("{service}:{version}:{logical}"); providers never add
// or strip scope themselves.
package provider

import (
	"context"
	"errors"
	"time"
)

var ErrNilClient = errors.New("provider: nil client")

// Provider is a byte store with TTLs and literal-prefix removal.
// Must be safe for concurrent use.
type Provider interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	// If an IO/remote error happens, return (nil, false, err).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value with the given TTL. May ignore cost if unsupported.
	// ttl <= 0 means no expiry where supported.
	// Returns ok=false when the store rejected the write under pressure.
	Set(ctx context.Context, key string, value []byte, cost int64, ttl time.Duration) (ok bool, err error)

	// Del removes a key. Absence is not an error.
	Del(ctx context.Context, key string) error

	// DelPrefix removes every key starting with prefix and returns how many
	// were removed (-1 when the store cannot tell).
	DelPrefix(ctx context.Context, prefix string) (int, error)

	// Refresh extends a live entry's expiry to ttl from now (sliding expiration).
	// Refreshing a missing key is a no-op.
	Refresh(ctx context.Context, key string, ttl time.Duration) error

	// GetMany returns the hits among keys. Misses are absent from the map.
	GetMany(ctx context.Context, keys []string) (map[string][]byte, error)

	// SetMany stores all items with the same TTL.
	SetMany(ctx context.Context, items map[string][]byte, ttl time.Duration) error

	// Close releases resources.
	Close(ctx context.Context) error
}

// TTLReader is implemented by providers that can report how long a key has left.
// TTL returns ok=false for a missing key. A live key without expiry reports
// ttl <= 0.
type TTLReader interface {
	TTL(ctx context.Context, key string) (ttl time.Duration, ok bool, err error)
}

// RemainingTTL asks p for key's remaining lifetime. Providers that do not
// implement TTLReader report ok=false, as if the key were missing.
func RemainingTTL(ctx context.Context, p Provider, key string) (time.Duration, bool, error) {
	if r, ok := p.(TTLReader); ok {
		return r.TTL(ctx, key)
	}
	return 0, false, nil
}

// Named is implemented by providers that can report a tier label for metrics
// ("redis", "ristretto", "bigcache", ...).
type Named interface {
	Name() string
}

// NameOf returns p's tier label or "custom".
func NameOf(p Provider) string {
	if n, ok := p.(Named); ok {
		return n.Name()
	}
	return "custom"
}
