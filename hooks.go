package cqcache

import "time"

// Hooks are lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking; the interceptors call them on
// hot paths. Wrap slow implementations with hooks/async.
//
// Keys passed to hooks are scoped keys ("{service}:{version}:{logical}").
type Hooks interface {
	// Hit reports a fresh cached value served for key. size is the encoded length.
	Hit(key string, took time.Duration, size int)

	// Miss reports that no usable entry existed for key.
	Miss(key string, took time.Duration)

	// StoreError reports a swallowed cache-layer failure.
	// op ∈ {"get", "set", "del", "del_prefix", "refresh", "decode", "encode", "lock", "release", "gen"}
	StoreError(op, key string, err error)

	// LockContended reports that the populate lock stayed held by another
	// instance for the whole wait window and the handler ran uncached.
	LockContended(key string, waited time.Duration)

	// Invalidated reports a successful removal of a key (prefix=false) or of
	// every key under a prefix (prefix=true). removed is -1 when unknown.
	Invalidated(key string, prefix bool, removed int)

	// InvalidationFailed reports a best-effort invalidation that failed for one item.
	InvalidationFailed(key string, prefix bool, err error)

	// BreakerBypass reports a store operation short-circuited by an open breaker.
	BreakerBypass(op string)

	// Evicted reports an entry dropped by the store or by self-heal.
	// reason ∈ {"corrupt", "capacity", "remote_invalidation"}
	Evicted(key string, reason string)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) Hit(string, time.Duration, int)         {}
func (NopHooks) Miss(string, time.Duration)             {}
func (NopHooks) StoreError(string, string, error)       {}
func (NopHooks) LockContended(string, time.Duration)    {}
func (NopHooks) Invalidated(string, bool, int)          {}
func (NopHooks) InvalidationFailed(string, bool, error) {}
func (NopHooks) BreakerBypass(string)                   {}
func (NopHooks) Evicted(string, string)                 {}

// MultiHooks fans every event out to each member in order.
type MultiHooks []Hooks

var _ Hooks = MultiHooks(nil)

func (m MultiHooks) Hit(k string, d time.Duration, n int) {
	for _, h := range m {
		h.Hit(k, d, n)
	}
}

func (m MultiHooks) Miss(k string, d time.Duration) {
	for _, h := range m {
		h.Miss(k, d)
	}
}

func (m MultiHooks) StoreError(op, k string, err error) {
	for _, h := range m {
		h.StoreError(op, k, err)
	}
}

func (m MultiHooks) LockContended(k string, d time.Duration) {
	for _, h := range m {
		h.LockContended(k, d)
	}
}

func (m MultiHooks) Invalidated(k string, prefix bool, removed int) {
	for _, h := range m {
		h.Invalidated(k, prefix, removed)
	}
}

func (m MultiHooks) InvalidationFailed(k string, prefix bool, err error) {
	for _, h := range m {
		h.InvalidationFailed(k, prefix, err)
	}
}

func (m MultiHooks) BreakerBypass(op string) {
	for _, h := range m {
		h.BreakerBypass(op)
	}
}

func (m MultiHooks) Evicted(k, reason string) {
	for _, h := range m {
		h.Evicted(k, reason)
	}
}
