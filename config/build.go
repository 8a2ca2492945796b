package config

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	amqp091 "github.com/rabbitmq/amqp091-go"
	goredis "github.com/redis/go-redis/v9"
	"github.com/unkn0wn-root/cqcache"
	"github.com/unkn0wn-root/cqcache/effectiveness"
	gen "github.com/unkn0wn-root/cqcache/genstore"
	asynchook "github.com/unkn0wn-root/cqcache/hooks/async"
	"github.com/unkn0wn-root/cqcache/invalidation"
	invamqp "github.com/unkn0wn-root/cqcache/invalidation/amqp"
	"github.com/unkn0wn-root/cqcache/lock"
	"github.com/unkn0wn-root/cqcache/lock/redislock"
	logzap "github.com/unkn0wn-root/cqcache/log/zap"
	"github.com/unkn0wn-root/cqcache/loghooks"
	"github.com/unkn0wn-root/cqcache/metrics/prom"
	pr "github.com/unkn0wn-root/cqcache/provider"
	bcprov "github.com/unkn0wn-root/cqcache/provider/bigcache"
	"github.com/unkn0wn-root/cqcache/provider/breaker"
	"github.com/unkn0wn-root/cqcache/provider/compress"
	redisprov "github.com/unkn0wn-root/cqcache/provider/redis"
	rprov "github.com/unkn0wn-root/cqcache/provider/ristretto"
	"github.com/unkn0wn-root/cqcache/provider/tiered"
	"go.uber.org/zap"
)

// Deps are process-wide collaborators Build does not own. Nil clients are
// created from the file settings and closed by Stack.Close.
type Deps struct {
	Logger     *zap.Logger
	Registerer prometheus.Registerer // required when hooks.metrics is set
	Redis      goredis.UniversalClient
	AMQP       invamqp.Channel
}

// Stack is a wired Interceptor plus the background work and clients it owns.
type Stack struct {
	Interceptor *cqcache.Interceptor
	Provider    pr.Provider
	Tracker     *effectiveness.Tracker // nil unless hooks.effectiveness is set

	logger  *zap.Logger
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	closers []func(context.Context) error
	once    sync.Once
}

// Build wires every component named in cfg. Subscribers run until Close.
func Build(ctx context.Context, cfg *Config, deps Deps) (_ *Stack, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	scope, err := cqcache.NewKeyScope(cfg.Service, cfg.Version)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &Stack{logger: logger, cancel: cancel}
	defer func() {
		if err != nil {
			_ = s.Close(context.Background())
		}
	}()

	if cfg.Disabled {
		s.Interceptor, err = cqcache.New(cqcache.Options{Scope: scope, Disabled: true})
		return s, err
	}

	rdb := deps.Redis
	if rdb == nil && cfg.needsRedis() {
		c := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		s.own(func(context.Context) error { return c.Close() })
		rdb = c
	}

	// hooks is assigned once the provider exists; breaker callbacks only fire later.
	var hooks cqcache.Hooks = cqcache.NopHooks{}
	onBypass := func(op string) { hooks.BreakerBypass(op) }

	p, local, err := buildProvider(cfg, rdb, onBypass)
	if err != nil {
		return nil, err
	}
	s.Provider = p
	s.own(p.Close)

	if hooks, err = s.buildHooks(cfg, deps, scope, pr.NameOf(p)); err != nil {
		return nil, err
	}

	locker, err := buildLocker(cfg.Lock, rdb)
	if err != nil {
		return nil, err
	}
	gens, err := buildGenerations(cfg.Generations, rdb)
	if err != nil {
		return nil, err
	}
	if gens != nil {
		s.own(gens.Close)
	}

	pub, origin, err := s.buildPublisher(cfg, deps, rdb)
	if err != nil {
		return nil, err
	}

	s.Interceptor, err = cqcache.New(cqcache.Options{
		Scope:               scope,
		Provider:            p,
		Locker:              locker,
		Publisher:           pub,
		GenStore:            gens,
		Hooks:               hooks,
		Logger:              logzap.New(logger),
		DefaultTTL:          cfg.DefaultTTL,
		LockExpiry:          cfg.LockExpiry,
		LockWait:            cfg.LockWait,
		ReleaseTimeout:      cfg.ReleaseTimeout,
		InvalidationTimeout: cfg.InvalidationTimeout,
	})
	if err != nil {
		return nil, err
	}

	if cfg.Invalidation.Subscribe {
		a := &invalidation.Applier{
			Target: local,
			Origin: origin,
			Logger: logger,
			OnEvict: func(key string, _ bool, _ int) {
				hooks.Evicted(key, "remote_invalidation")
			},
		}
		if err := s.subscribe(runCtx, cfg, deps, rdb, a); err != nil {
			return nil, err
		}
	}

	logger.Info("cqcache stack ready",
		zap.String("scope", scope.Prefix()),
		zap.String("provider", pr.NameOf(p)),
		zap.String("lock", cfg.Lock),
		zap.String("generations", cfg.Generations.Backend),
		zap.String("invalidation", cfg.Invalidation.Transport),
		zap.Bool("subscribe", cfg.Invalidation.Subscribe))
	return s, nil
}

// buildProvider returns the configured provider and its in-process tier (nil for redis).
// The shared tier is wrapped as compress(breaker(redis)) so corrupt frames never trip the breaker.
func buildProvider(cfg *Config, rdb goredis.UniversalClient, onBypass func(string)) (pr.Provider, pr.Provider, error) {
	pc := cfg.Provider
	switch pc.Kind {
	case ProviderRistretto, ProviderBigcache:
		l, err := buildLocal(pc.Kind, pc)
		if err != nil {
			return nil, nil, err
		}
		return l, l, nil
	case ProviderRedis:
		r, err := buildShared(cfg, rdb, onBypass)
		return r, nil, err
	case ProviderTiered:
		l1, err := buildLocal(pc.L1, pc)
		if err != nil {
			return nil, nil, err
		}
		l2, err := buildShared(cfg, rdb, onBypass)
		if err != nil {
			_ = l1.Close(context.Background())
			return nil, nil, err
		}
		t, err := tiered.New(tiered.Config{L1: l1, L2: l2, L1TTL: pc.L1TTL})
		if err != nil {
			return nil, nil, err
		}
		return t, t.Local(), nil
	}
	return nil, nil, fmt.Errorf("config: invalid provider kind %q", pc.Kind)
}

func buildLocal(kind string, pc ProviderConfig) (pr.Provider, error) {
	if kind == ProviderBigcache {
		return bcprov.New(bcprov.Config{
			LifeWindow:         pc.Bigcache.LifeWindow,
			CleanWindow:        pc.Bigcache.CleanWindow,
			HardMaxCacheSizeMB: pc.Bigcache.MaxSizeMB,
			Shards:             pc.Bigcache.Shards,
		})
	}
	return rprov.New(rprov.Config{
		NumCounters: pc.Ristretto.NumCounters,
		MaxCost:     pc.Ristretto.MaxCost,
		BufferItems: pc.Ristretto.BufferItems,
	})
}

func buildShared(cfg *Config, rdb goredis.UniversalClient, onBypass func(string)) (pr.Provider, error) {
	r, err := redisprov.New(redisprov.Config{Client: rdb, ScanCount: cfg.Redis.ScanCount})
	if err != nil {
		return nil, err
	}
	var p pr.Provider = r
	if b := cfg.Provider.Breaker; b.Enabled {
		if p, err = breaker.New(p, breaker.Config{
			Name:                "cqcache-redis",
			ConsecutiveFailures: b.ConsecutiveFailures,
			OpenTimeout:         b.OpenTimeout,
			OnBypass:            onBypass,
		}); err != nil {
			return nil, err
		}
	}
	if c := cfg.Provider.Compress; c.Enabled {
		if p, err = compress.New(p, compress.Config{Threshold: c.Threshold, Level: c.Level}); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (s *Stack) buildHooks(cfg *Config, deps Deps, scope cqcache.KeyScope, tier string) (cqcache.Hooks, error) {
	hc := cfg.Hooks
	var hs cqcache.MultiHooks
	if hc.Effectiveness {
		s.Tracker = effectiveness.New(scope)
		hs = append(hs, s.Tracker)
	}
	if hc.Metrics {
		if deps.Registerer == nil {
			return nil, errors.New("config: hooks.metrics needs a prometheus Registerer")
		}
		m, err := prom.New(deps.Registerer, prom.Config{Scope: scope, Tier: tier})
		if err != nil {
			return nil, err
		}
		hs = append(hs, m)
	}
	if hc.Log.Enabled {
		lo := loghooks.Options{StoreErrorEvery: hc.Log.StoreErrorEvery, ContendedEvery: hc.Log.ContendedEvery}
		if hc.Log.VerbatimKeys {
			lo.Redact = func(k string) string { return k }
		}
		hs = append(hs, loghooks.New(logzap.New(s.logger), lo))
	}

	var h cqcache.Hooks = cqcache.NopHooks{}
	switch len(hs) {
	case 0:
		return h, nil
	case 1:
		h = hs[0]
	default:
		h = hs
	}
	if hc.AsyncWorkers > 0 {
		a := asynchook.New(h, hc.AsyncWorkers, hc.AsyncQueue)
		s.own(func(context.Context) error { a.Close(); return nil })
		h = a
	}
	return h, nil
}

func buildLocker(backend string, rdb goredis.UniversalClient) (lock.Locker, error) {
	switch backend {
	case BackendLocal:
		return lock.NewLocal(), nil
	case BackendRedis:
		return redislock.New(rdb)
	}
	return nil, nil
}

func buildGenerations(gc GenerationsConfig, rdb goredis.UniversalClient) (gen.Store, error) {
	switch gc.Backend {
	case BackendLocal:
		return gen.NewLocal(gc.Interval, gc.Retention), nil
	case BackendRedis:
		return gen.NewRedis(rdb, gc.TTL)
	}
	return nil, nil
}

// buildPublisher returns the configured publisher (nil for none) and the origin
// id it stamps on events.
func (s *Stack) buildPublisher(cfg *Config, deps Deps, rdb goredis.UniversalClient) (invalidation.Publisher, string, error) {
	origin := invalidation.NewOrigin()
	switch cfg.Invalidation.Transport {
	case BackendRedis:
		p, err := invalidation.NewRedisPublisher(invalidation.RedisConfig{
			Client:  rdb,
			Channel: cfg.Invalidation.Channel,
			Origin:  origin,
		})
		if err != nil {
			return nil, "", err
		}
		return p, origin, nil
	case BackendAMQP:
		ch, err := s.amqpChannel(cfg, deps)
		if err != nil {
			return nil, "", err
		}
		p, err := invamqp.NewPublisher(invamqp.Config{
			Channel:  ch,
			Exchange: cfg.Invalidation.Channel,
			Origin:   origin,
		})
		if err != nil {
			return nil, "", err
		}
		return p, origin, nil
	}
	return nil, origin, nil
}

func (s *Stack) subscribe(ctx context.Context, cfg *Config, deps Deps, rdb goredis.UniversalClient, a *invalidation.Applier) error {
	var run func(context.Context) error
	switch cfg.Invalidation.Transport {
	case BackendRedis:
		sub, err := invalidation.NewRedisSubscriber(rdb, cfg.Invalidation.Channel, a)
		if err != nil {
			return err
		}
		run = sub.Run
	case BackendAMQP:
		ch, err := s.amqpChannel(cfg, deps)
		if err != nil {
			return err
		}
		sub, err := invamqp.NewSubscriber(ch, cfg.Invalidation.Channel, a)
		if err != nil {
			return err
		}
		run = sub.Run
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("invalidation subscriber stopped", zap.Error(err))
		}
	}()
	return nil
}

// amqpChannel returns deps.AMQP or a channel on a connection dialed from cfg.
func (s *Stack) amqpChannel(cfg *Config, deps Deps) (invamqp.Channel, error) {
	if deps.AMQP != nil {
		return deps.AMQP, nil
	}
	conn, err := amqp091.Dial(cfg.AMQP.URL)
	if err != nil {
		return nil, fmt.Errorf("config: dial amqp: %w", err)
	}
	s.own(func(context.Context) error { return conn.Close() })
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("config: open amqp channel: %w", err)
	}
	return ch, nil
}

func (s *Stack) own(f func(context.Context) error) { s.closers = append(s.closers, f) }

// Close stops subscribers and releases everything Build created, newest first.
func (s *Stack) Close(ctx context.Context) error {
	var errs []error
	s.once.Do(func() {
		s.cancel()
		s.wg.Wait()
		for i := len(s.closers) - 1; i >= 0; i-- {
			errs = append(errs, s.closers[i](ctx))
		}
	})
	return errors.Join(errs...)
}
