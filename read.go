package cqcache

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	c "github.com/unkn0wn-root/cqcache/codec"
	"github.com/unkn0wn-root/cqcache/internal/wire"
	"github.com/unkn0wn-root/cqcache/lock"
)

// LockPrefix is prepended to a scoped key to form its populate-lock key.
const LockPrefix = "lock:"

var errContended = errors.New("cqcache: lock contended")

type lookupResult uint8

const (
	lookupMiss lookupResult = iota
	lookupHit
	lookupFailed // store unavailable; caller must bypass the cache
)

// Query serves req from the cache when it implements Cacheable, and otherwise
// calls next unchanged.
//
// On a miss one caller per key (per Locker) runs next and stores the result;
// concurrent callers wait up to LockWait for that value and then run next
// themselves without storing it. Cache-layer failures never fail the read:
// they are reported through Hooks and Logger and next runs directly.
// Errors returned by next are returned as-is and never cached.
func Query[V any](ctx context.Context, ic *Interceptor, req any, codec c.Codec[V], next Next[V]) (V, error) {
	cr, ok := req.(Cacheable)
	if !ok || !ic.Enabled() {
		return next(ctx)
	}
	desc := cr.CachePolicy()
	if desc.Key == "" {
		return next(ctx)
	}
	key := ic.scope.Scope(desc.Key)
	ttl := ic.ttlFor(desc)

	start := time.Now()
	v, res := lookup(ctx, ic, key, codec, true)
	switch res {
	case lookupHit:
		return v, nil
	case lookupFailed:
		return next(ctx)
	}
	ic.hooks.Miss(key, time.Since(start))

	if ic.locker == nil {
		return populate(ctx, ic, key, ttl, codec, next)
	}

	h, acquired, err := ic.locker.TryAcquire(ctx, LockPrefix+key, ic.lockExpiry)
	if err != nil {
		ic.hooks.StoreError("lock", key, err)
		ic.log.Warn("lock unavailable, bypassing cache", Fields{"key": key, "err": err})
		return next(ctx)
	}
	if acquired {
		return populateLocked(ctx, ic, h, key, ttl, codec, next)
	}
	return awaitHolder(ctx, ic, key, ttl, codec, next)
}

// lookup reads and decodes key. Misses are left to the caller. Hits are reported
// only when report is set: re-checks after a recorded miss pass false so a
// request counts once.
func lookup[V any](ctx context.Context, ic *Interceptor, key string, codec c.Codec[V], report bool) (V, lookupResult) {
	var zero V
	start := time.Now()

	b, ok, err := ic.provider.Get(ctx, key)
	if err != nil {
		if errors.Is(err, wire.ErrCorrupt) {
			selfHeal(ctx, ic, key, "get", err)
			return zero, lookupMiss
		}
		ic.hooks.StoreError("get", key, err)
		ic.log.Warn("cache get failed, bypassing cache", Fields{"key": key, "err": err})
		return zero, lookupFailed
	}
	if !ok {
		return zero, lookupMiss
	}

	v, err := codec.Decode(b)
	if err != nil {
		selfHeal(ctx, ic, key, "decode", err)
		return zero, lookupMiss
	}
	if report {
		ic.hooks.Hit(key, time.Since(start), len(b))
	}
	return v, lookupHit
}

// selfHeal drops an entry that can no longer be read.
func selfHeal(ctx context.Context, ic *Interceptor, key, op string, cause error) {
	ic.hooks.StoreError(op, key, cause)
	if err := ic.provider.Del(ctx, key); err != nil {
		ic.hooks.StoreError("del", key, err)
	}
	ic.hooks.Evicted(key, "corrupt")
	ic.log.Warn("dropped unreadable cache entry", Fields{"key": key, "err": cause})
}

// awaitHolder polls the cache and the lock with exponential backoff until the
// holder has stored a value, the lock frees up, or LockWait runs out.
func awaitHolder[V any](ctx context.Context, ic *Interceptor, key string, ttl time.Duration, codec c.Codec[V], next Next[V]) (V, error) {
	start := time.Now()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 10 * time.Millisecond
	bo.MaxInterval = 100 * time.Millisecond
	bo.RandomizationFactor = 0.2
	bo.Multiplier = 2
	bo.MaxElapsedTime = ic.lockWait

	var (
		v      V
		served bool
		h      lock.Handle
	)
	op := func() error {
		got, res := lookup(ctx, ic, key, codec, false)
		switch res {
		case lookupHit:
			v, served = got, true
			return nil
		case lookupFailed:
			return backoff.Permanent(errStoreFailed)
		}
		hh, ok, err := ic.locker.TryAcquire(ctx, LockPrefix+key, ic.lockExpiry)
		if err != nil {
			ic.hooks.StoreError("lock", key, err)
			return backoff.Permanent(err)
		}
		if ok {
			h = hh
			return nil
		}
		return errContended
	}

	var err error
	if ic.lockWait > 0 {
		err = backoff.Retry(op, backoff.WithContext(bo, ctx))
	} else {
		err = errContended
	}

	switch {
	case err == nil && served:
		return v, nil
	case err == nil && h != nil:
		return populateLocked(ctx, ic, h, key, ttl, codec, next)
	case errors.Is(err, errContended):
		waited := time.Since(start)
		ic.hooks.LockContended(key, waited)
		ic.log.Debug("populate lock still held, running uncached", Fields{"key": key, "waited": waited})
		return next(ctx)
	case ctx.Err() != nil:
		var zero V
		return zero, ctx.Err()
	default:
		return next(ctx)
	}
}

var errStoreFailed = errors.New("cqcache: store failed")

// populateLocked runs next under h and always releases h, even when ctx is
// already cancelled.
func populateLocked[V any](ctx context.Context, ic *Interceptor, h lock.Handle, key string, ttl time.Duration, codec c.Codec[V], next Next[V]) (V, error) {
	defer release(ctx, ic, h, key)

	// another holder may have stored the value between our miss and our acquire
	v, res := lookup(ctx, ic, key, codec, false)
	switch res {
	case lookupHit:
		return v, nil
	case lookupFailed:
		return next(ctx)
	}
	return populate(ctx, ic, key, ttl, codec, next)
}

func release(ctx context.Context, ic *Interceptor, h lock.Handle, key string) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ic.releaseTimeout)
	defer cancel()
	if err := h.Release(rctx); err != nil {
		ic.hooks.StoreError("release", key, err)
		ic.log.Warn("lock release failed", Fields{"key": key, "lock": h.Key(), "err": err})
	}
}

// populate runs next and stores its value. With a GenStore the value is only
// stored when no write bumped the key while next was running.
func populate[V any](ctx context.Context, ic *Interceptor, key string, ttl time.Duration, codec c.Codec[V], next Next[V]) (V, error) {
	var (
		observed uint64
		guarded  = ic.gens != nil
		store    = true
	)
	if guarded {
		g, err := ic.gens.Snapshot(ctx, key)
		if err != nil {
			ic.hooks.StoreError("gen", key, err)
			store = false
		}
		observed = g
	}

	v, err := next(ctx)
	if err != nil || !store {
		return v, err
	}

	b, err := codec.Encode(v)
	if err != nil {
		ic.hooks.StoreError("encode", key, err)
		ic.log.Warn("cannot encode response, not caching", Fields{"key": key, "err": err})
		return v, nil
	}

	if guarded {
		cur, err := ic.gens.Snapshot(ctx, key)
		if err != nil {
			ic.hooks.StoreError("gen", key, err)
			return v, nil
		}
		if cur != observed {
			ic.log.Debug("key written during read, not caching", Fields{"key": key, "observed": observed, "current": cur})
			return v, nil
		}
	}

	ok, err := ic.provider.Set(ctx, key, b, int64(len(b)), ttl)
	switch {
	case err != nil:
		ic.hooks.StoreError("set", key, err)
		ic.log.Warn("cache set failed", Fields{"key": key, "err": err})
	case !ok:
		ic.hooks.Evicted(key, "capacity")
	}
	return v, nil
}
