// Package breaker wraps a Provider with a circuit breaker so a failing store is
// skipped quickly instead of adding its timeout to every request.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	pr "github.com/unkn0wn-root/cqcache/provider"
)

// ErrBypassed wraps gobreaker.ErrOpenState / ErrTooManyRequests.
var ErrBypassed = errors.New("breaker: store bypassed")

type Config struct {
	Name                string
	ConsecutiveFailures uint32        // trip after this many failures in a row; 0 => 5
	OpenTimeout         time.Duration // time spent open before probing; 0 => 10s
	HalfOpenRequests    uint32        // probes allowed while half-open; 0 => 1
	Interval            time.Duration // closed-state count reset period; 0 => never

	// OnBypass is called with the operation name whenever a call is short-circuited.
	OnBypass func(op string)
	// OnStateChange is called on every transition.
	OnStateChange func(name string, from, to gobreaker.State)
}

type Provider struct {
	inner    pr.Provider
	cb       *gobreaker.CircuitBreaker
	onBypass func(op string)
}

var (
	_ pr.Provider  = (*Provider)(nil)
	_ pr.Named     = (*Provider)(nil)
	_ pr.TTLReader = (*Provider)(nil)
)

func New(inner pr.Provider, cfg Config) (*Provider, error) {
	if inner == nil {
		return nil, fmt.Errorf("breaker: inner provider is required")
	}
	failures := cfg.ConsecutiveFailures
	if failures == 0 {
		failures = 5
	}
	timeout := cfg.OpenTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	name := cfg.Name
	if name == "" {
		name = "cqcache:" + pr.NameOf(inner)
	}
	st := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.HalfOpenRequests,
		Interval:    cfg.Interval,
		Timeout:     timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			// caller cancellation says nothing about store health
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: cfg.OnStateChange,
	}
	return &Provider{
		inner:    inner,
		cb:       gobreaker.NewCircuitBreaker(st),
		onBypass: cfg.OnBypass,
	}, nil
}

func (p *Provider) Name() string { return pr.NameOf(p.inner) }

// State exposes the breaker state for health checks.
func (p *Provider) State() gobreaker.State { return p.cb.State() }

func (p *Provider) do(op string, fn func() (any, error)) (any, error) {
	v, err := p.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		if p.onBypass != nil {
			p.onBypass(op)
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrBypassed, op, err)
	}
	return v, err
}

type getResult struct {
	b  []byte
	ok bool
}

func (p *Provider) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := p.do("get", func() (any, error) {
		b, ok, err := p.inner.Get(ctx, key)
		return getResult{b: b, ok: ok}, err
	})
	if err != nil {
		return nil, false, err
	}
	r := v.(getResult)
	return r.b, r.ok, nil
}

func (p *Provider) Set(ctx context.Context, key string, value []byte, cost int64, ttl time.Duration) (bool, error) {
	v, err := p.do("set", func() (any, error) {
		return p.inner.Set(ctx, key, value, cost, ttl)
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

func (p *Provider) Del(ctx context.Context, key string) error {
	_, err := p.do("del", func() (any, error) {
		return nil, p.inner.Del(ctx, key)
	})
	return err
}

func (p *Provider) DelPrefix(ctx context.Context, prefix string) (int, error) {
	v, err := p.do("del_prefix", func() (any, error) {
		return p.inner.DelPrefix(ctx, prefix)
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

func (p *Provider) Refresh(ctx context.Context, key string, ttl time.Duration) error {
	_, err := p.do("refresh", func() (any, error) {
		return nil, p.inner.Refresh(ctx, key, ttl)
	})
	return err
}

type ttlResult struct {
	d  time.Duration
	ok bool
}

func (p *Provider) TTL(ctx context.Context, key string) (time.Duration, bool, error) {
	v, err := p.do("ttl", func() (any, error) {
		d, ok, err := pr.RemainingTTL(ctx, p.inner, key)
		return ttlResult{d: d, ok: ok}, err
	})
	if err != nil {
		return 0, false, err
	}
	r := v.(ttlResult)
	return r.d, r.ok, nil
}

func (p *Provider) GetMany(ctx context.Context, keys []string) (map[string][]byte, error) {
	v, err := p.do("get_many", func() (any, error) {
		return p.inner.GetMany(ctx, keys)
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string][]byte), nil
}

func (p *Provider) SetMany(ctx context.Context, items map[string][]byte, ttl time.Duration) error {
	_, err := p.do("set_many", func() (any, error) {
		return nil, p.inner.SetMany(ctx, items, ttl)
	})
	return err
}

func (p *Provider) Close(ctx context.Context) error {
	return p.inner.Close(ctx)
}
