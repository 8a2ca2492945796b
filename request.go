package cqcache

import (
	"context"
	"time"

	"github.com/unkn0wn-root/cqcache/internal/util"
)

// Next invokes the real handler.
type Next[V any] func(ctx context.Context) (V, error)

// CacheDescriptor marks a read as cacheable under Key for Duration.
// Duration <= 0 falls back to Options.DefaultTTL.
type CacheDescriptor struct {
	Key      string
	Duration time.Duration
}

// InvalidationDescriptor lists the logical keys and prefixes a write makes stale.
type InvalidationDescriptor struct {
	Keys     []string
	Prefixes []string
}

// Empty reports whether there is nothing to invalidate.
func (d InvalidationDescriptor) Empty() bool {
	return len(d.Keys) == 0 && len(d.Prefixes) == 0
}

// Cacheable is implemented by read requests whose response may be cached.
type Cacheable interface {
	CachePolicy() CacheDescriptor
}

// Invalidatable is implemented by write requests that make cached reads stale.
type Invalidatable interface {
	Invalidation() InvalidationDescriptor
}

// SetKey builds a logical key for a read over a set of members, e.g.
// SetKey("Product:batch", ids). Member order and duplicates do not matter.
// Invalidate such entries by prefix.
func SetKey(prefix string, members []string) string {
	return util.SetKey(prefix, members)
}
