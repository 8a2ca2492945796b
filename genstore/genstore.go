// Package genstore keeps per-key write generations.
//
// A read snapshots the generation before running its handler and only stores
// the result if the generation is unchanged afterwards; every write bumps it.
// That keeps a slow read from caching a value a concurrent write already replaced.
package genstore

import (
	"context"
)

// Store abstracts where generations live. Keys are scoped cache keys.
type Store interface {
	// Snapshot returns the current generation; missing => 0.
	Snapshot(ctx context.Context, key string) (uint64, error)
	// SnapshotMany returns generations for keys; missing => 0.
	SnapshotMany(ctx context.Context, keys []string) (map[string]uint64, error)
	// Bump atomically increments and returns the new generation.
	Bump(ctx context.Context, key string) (uint64, error)
	Close(context.Context) error
}
