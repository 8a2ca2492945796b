package cqcache

import (
	"context"
)

// Command runs next and, when it succeeds and req implements Invalidatable,
// removes the named keys and prefixes from the cache and announces them to
// other instances.
//
// Invalidation runs detached from the caller's cancellation and is bounded by
// InvalidationTimeout. Its failures are reported through Hooks and Logger; the
// command's own result is returned unchanged either way.
func Command[V any](ctx context.Context, ic *Interceptor, req any, next Next[V]) (V, error) {
	v, err := next(ctx)
	if err != nil {
		return v, err
	}
	inv, ok := req.(Invalidatable)
	if !ok || !ic.Enabled() {
		return v, nil
	}
	d := inv.Invalidation()
	if d.Empty() {
		return v, nil
	}
	ic.invalidate(ctx, d)
	return v, nil
}

// invalidate processes keys then prefixes, in order, and keeps going past failures.
func (ic *Interceptor) invalidate(ctx context.Context, d InvalidationDescriptor) []*InvalidationError {
	ictx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ic.invTimeout)
	defer cancel()

	var failed []*InvalidationError
	for _, logical := range d.Keys {
		if logical == "" {
			continue
		}
		if e := ic.invalidateKey(ictx, ic.scope.Scope(logical)); e != nil {
			failed = append(failed, e)
		}
	}
	for _, logical := range d.Prefixes {
		// an empty prefix would match the whole scope
		if logical == "" {
			ic.log.Warn("ignoring empty invalidation prefix", nil)
			continue
		}
		if e := ic.invalidatePrefix(ictx, ic.scope.Scope(logical)); e != nil {
			failed = append(failed, e)
		}
	}
	return failed
}

func (ic *Interceptor) invalidateKey(ctx context.Context, key string) *InvalidationError {
	if ic.gens != nil {
		if _, err := ic.gens.Bump(ctx, key); err != nil {
			ic.hooks.StoreError("gen", key, err)
		}
	}

	var e InvalidationError
	if err := ic.provider.Del(ctx, key); err != nil {
		ic.hooks.StoreError("del", key, err)
		e.RemoveErr = err
	}
	if ic.publisher != nil {
		e.PublishErr = ic.publisher.Publish(ctx, key)
	}
	return ic.settle(key, false, -1, e)
}

func (ic *Interceptor) invalidatePrefix(ctx context.Context, prefix string) *InvalidationError {
	var e InvalidationError
	removed, err := ic.provider.DelPrefix(ctx, prefix)
	if err != nil {
		ic.hooks.StoreError("del_prefix", prefix, err)
		e.RemoveErr = err
	}
	if ic.publisher != nil {
		e.PublishErr = ic.publisher.PublishPrefix(ctx, prefix)
	}
	return ic.settle(prefix, true, removed, e)
}

func (ic *Interceptor) settle(key string, prefix bool, removed int, e InvalidationError) *InvalidationError {
	if e.RemoveErr == nil && e.PublishErr == nil {
		ic.hooks.Invalidated(key, prefix, removed)
		ic.log.Debug("invalidated", Fields{"key": key, "prefix": prefix, "removed": removed})
		return nil
	}
	e.Key, e.Prefix = key, prefix
	ic.hooks.InvalidationFailed(key, prefix, &e)
	ic.log.Error("invalidation failed", Fields{"key": key, "prefix": prefix, "err": e.Error()})
	return &e
}
