package cqcache

import (
	"context"
	"errors"
	"time"

	gen "github.com/unkn0wn-root/cqcache/genstore"
	"github.com/unkn0wn-root/cqcache/invalidation"
	"github.com/unkn0wn-root/cqcache/lock"
	pr "github.com/unkn0wn-root/cqcache/provider"
)

// Options configure an Interceptor. Scope and Provider are required; the other
// collaborators are optional and switch their feature off when nil.
type Options struct {
	Scope    KeyScope
	Provider pr.Provider

	Locker    lock.Locker            // nil => no stampede protection
	Publisher invalidation.Publisher // nil => invalidations stay local
	GenStore  gen.Store              // nil => no write/read race guard

	Hooks  Hooks  // nil => NopHooks
	Logger Logger // nil => NopLogger

	DefaultTTL          time.Duration // used when a CacheDescriptor has none; 0 => 10m
	LockExpiry          time.Duration // populate lock lifetime; 0 => 30s, min 1s
	LockWait            time.Duration // how long a contended read waits for the holder; 0 => 250ms
	ReleaseTimeout      time.Duration // bound on lock release after the caller is gone; 0 => 2s
	InvalidationTimeout time.Duration // bound on post-write invalidation; 0 => 5s

	// Disabled turns Query and Command into plain pass-throughs.
	Disabled bool
}

// Interceptor holds the cache collaborators shared by Query and Command.
// Safe for concurrent use.
type Interceptor struct {
	scope     KeyScope
	provider  pr.Provider
	locker    lock.Locker
	publisher invalidation.Publisher
	gens      gen.Store
	hooks     Hooks
	log       Logger

	defaultTTL     time.Duration
	lockExpiry     time.Duration
	lockWait       time.Duration
	releaseTimeout time.Duration
	invTimeout     time.Duration
	disabled       bool
}

func New(opts Options) (*Interceptor, error) {
	if opts.Scope.IsZero() {
		return nil, ErrInvalidScope
	}
	if opts.Provider == nil && !opts.Disabled {
		return nil, errors.New("cqcache: provider is required")
	}

	ic := &Interceptor{
		scope:          opts.Scope,
		provider:       opts.Provider,
		locker:         opts.Locker,
		publisher:      opts.Publisher,
		gens:           opts.GenStore,
		hooks:          opts.Hooks,
		log:            opts.Logger,
		defaultTTL:     coalesce(opts.DefaultTTL, defaultTTL),
		lockExpiry:     coalesce(opts.LockExpiry, defaultLockExpiry),
		lockWait:       coalesce(opts.LockWait, defaultLockWait),
		releaseTimeout: coalesce(opts.ReleaseTimeout, defaultReleaseTimeout),
		invTimeout:     coalesce(opts.InvalidationTimeout, defaultInvalidationTimeout),
		disabled:       opts.Disabled,
	}
	if ic.hooks == nil {
		ic.hooks = NopHooks{}
	}
	if ic.log == nil {
		ic.log = NopLogger{}
	}
	ic.log = ic.log.With(Fields{"service": opts.Scope.Service(), "version": opts.Scope.Version()})

	if ic.lockExpiry < minLockExpiry {
		ic.log.Warn("lock expiry below minimum, clamped", Fields{"requested": ic.lockExpiry, "min": minLockExpiry})
		ic.lockExpiry = minLockExpiry
	}
	if ic.lockWait < 0 {
		ic.lockWait = 0
	}
	return ic, nil
}

// Enabled reports whether Query and Command touch the cache. A nil Interceptor is disabled.
func (ic *Interceptor) Enabled() bool { return ic != nil && !ic.disabled }

func (ic *Interceptor) Scope() KeyScope { return ic.scope }

// Invalidate removes the given logical keys and prefixes the same way a
// successful Command does, and returns every per-item failure joined.
func (ic *Interceptor) Invalidate(ctx context.Context, d InvalidationDescriptor) error {
	if !ic.Enabled() || d.Empty() {
		return nil
	}
	errs := ic.invalidate(ctx, d)
	if len(errs) == 0 {
		return nil
	}
	joined := make([]error, len(errs))
	for i, e := range errs {
		joined[i] = e
	}
	return errors.Join(joined...)
}

// Refresh extends the expiry of a cached logical key (sliding expiration).
// ttl <= 0 uses DefaultTTL.
func (ic *Interceptor) Refresh(ctx context.Context, logicalKey string, ttl time.Duration) error {
	if !ic.Enabled() {
		return nil
	}
	if ttl <= 0 {
		ttl = ic.defaultTTL
	}
	key := ic.scope.Scope(logicalKey)
	if err := ic.provider.Refresh(ctx, key, ttl); err != nil {
		ic.hooks.StoreError("refresh", key, err)
		return err
	}
	return nil
}

// Close closes the provider and the generation store.
func (ic *Interceptor) Close(ctx context.Context) error {
	if ic == nil {
		return nil
	}
	var errs []error
	if ic.provider != nil {
		errs = append(errs, ic.provider.Close(ctx))
	}
	if ic.gens != nil {
		errs = append(errs, ic.gens.Close(ctx))
	}
	return errors.Join(errs...)
}

func (ic *Interceptor) ttlFor(d CacheDescriptor) time.Duration {
	if d.Duration > 0 {
		return d.Duration
	}
	return ic.defaultTTL
}
