// Package loghooks turns hook events into log lines through any cqcache.Logger.
// Hits and misses are not logged; use effectiveness or metrics/prom for those.
package loghooks

import (
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/cqcache"
	"github.com/unkn0wn-root/cqcache/internal/util"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	StoreErrorEvery uint64
	ContendedEvery  uint64
	// Redact rewrites keys before logging. nil => SHA-256 prefix.
	// Use func(k string) string { return k } to log keys verbatim.
	Redact func(string) string
}

type Hooks struct {
	cqcache.NopHooks

	l    cqcache.Logger
	opts Options

	storeErrCtr  atomic.Uint64
	contendedCtr atomic.Uint64
}

var _ cqcache.Hooks = (*Hooks)(nil)

func New(l cqcache.Logger, opts Options) *Hooks {
	if l == nil {
		l = cqcache.NopLogger{}
	}
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	return util.Digest(k)
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n <= 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) StoreError(op, key string, err error) {
	if !sample(h.opts.StoreErrorEvery, &h.storeErrCtr) {
		return
	}
	h.l.Warn("cqcache.store_error", cqcache.Fields{
		"op":  op,
		"key": h.redact(key),
		"err": err,
	})
}

func (h *Hooks) LockContended(key string, waited time.Duration) {
	if !sample(h.opts.ContendedEvery, &h.contendedCtr) {
		return
	}
	h.l.Info("cqcache.lock_contended", cqcache.Fields{
		"key":    h.redact(key),
		"waited": waited,
	})
}

func (h *Hooks) Invalidated(key string, prefix bool, removed int) {
	h.l.Debug("cqcache.invalidated", cqcache.Fields{
		"key":     h.redact(key),
		"prefix":  prefix,
		"removed": removed,
	})
}

func (h *Hooks) InvalidationFailed(key string, prefix bool, err error) {
	h.l.Error("cqcache.invalidation_failed", cqcache.Fields{
		"key":    h.redact(key),
		"prefix": prefix,
		"err":    err,
	})
}

func (h *Hooks) BreakerBypass(op string) {
	h.l.Warn("cqcache.breaker_bypass", cqcache.Fields{"op": op})
}

func (h *Hooks) Evicted(key, reason string) {
	h.l.Debug("cqcache.evicted", cqcache.Fields{
		"key":    h.redact(key),
		"reason": reason,
	})
}
