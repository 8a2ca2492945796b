// Package tiered layers a short-lived in-process provider (L1) over a shared one (L2).
//
// L1 copies never outlive their L2 entry: reads are copied into L1 only when L2
// implements provider.TTLReader, capped at the entry's remaining lifetime.
//
// Other instances cannot reach this process's L1, so deployments using a tiered
// provider should run an invalidation.Subscriber that applies remote events to L1.
package tiered

import (
	"context"
	"errors"
	"time"

	pr "github.com/unkn0wn-root/cqcache/provider"
)

type Config struct {
	L1    pr.Provider
	L2    pr.Provider
	L1TTL time.Duration // TTL used for L1 copies; 0 => 1m. Capped by the write TTL.
}

type Provider struct {
	l1    pr.Provider
	l2    pr.Provider
	l1TTL time.Duration
}

var (
	_ pr.Provider = (*Provider)(nil)
	_ pr.Named    = (*Provider)(nil)
)

func New(cfg Config) (*Provider, error) {
	if cfg.L1 == nil || cfg.L2 == nil {
		return nil, errors.New("tiered: both L1 and L2 are required")
	}
	ttl := cfg.L1TTL
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Provider{l1: cfg.L1, l2: cfg.L2, l1TTL: ttl}, nil
}

func (p *Provider) Name() string { return pr.NameOf(p.l1) + "+" + pr.NameOf(p.l2) }

// Local returns the L1 provider, the target for remote invalidations.
func (p *Provider) Local() pr.Provider { return p.l1 }

func (p *Provider) ttlFor(ttl time.Duration) time.Duration {
	if ttl > 0 && ttl < p.l1TTL {
		return ttl
	}
	return p.l1TTL
}

func (p *Provider) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if b, ok, err := p.l1.Get(ctx, key); err == nil && ok {
		return b, true, nil
	}
	b, ok, err := p.l2.Get(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}
	p.backfill(ctx, key, b)
	return b, true, nil
}

// backfill copies an L2 hit into L1. Entries whose remaining lifetime L2
// cannot report are left out of L1.
func (p *Provider) backfill(ctx context.Context, key string, b []byte) {
	left, ok, err := pr.RemainingTTL(ctx, p.l2, key)
	if err != nil || !ok {
		return
	}
	ttl := p.l1TTL
	if left > 0 && left < ttl {
		ttl = left
	}
	_, _ = p.l1.Set(ctx, key, b, int64(len(b)), ttl)
}

// Set writes L2 first; L1 is only populated once the shared copy exists.
func (p *Provider) Set(ctx context.Context, key string, value []byte, cost int64, ttl time.Duration) (bool, error) {
	ok, err := p.l2.Set(ctx, key, value, cost, ttl)
	if err != nil {
		return false, err
	}
	_, _ = p.l1.Set(ctx, key, value, cost, p.ttlFor(ttl))
	return ok, nil
}

func (p *Provider) Del(ctx context.Context, key string) error {
	err1 := p.l1.Del(ctx, key)
	err2 := p.l2.Del(ctx, key)
	return errors.Join(err1, err2)
}

// DelPrefix reports the L2 count; L1 holds a subset of L2.
func (p *Provider) DelPrefix(ctx context.Context, prefix string) (int, error) {
	_, err1 := p.l1.DelPrefix(ctx, prefix)
	n, err2 := p.l2.DelPrefix(ctx, prefix)
	return n, errors.Join(err1, err2)
}

func (p *Provider) Refresh(ctx context.Context, key string, ttl time.Duration) error {
	_ = p.l1.Refresh(ctx, key, p.ttlFor(ttl))
	return p.l2.Refresh(ctx, key, ttl)
}

func (p *Provider) GetMany(ctx context.Context, keys []string) (map[string][]byte, error) {
	out, err := p.l1.GetMany(ctx, keys)
	if err != nil || out == nil {
		out = make(map[string][]byte, len(keys))
	}
	missing := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, ok := out[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) == 0 {
		return out, nil
	}
	fromL2, err := p.l2.GetMany(ctx, missing)
	if err != nil {
		return nil, err
	}
	for k, b := range fromL2 {
		out[k] = b
		p.backfill(ctx, k, b)
	}
	return out, nil
}

func (p *Provider) SetMany(ctx context.Context, items map[string][]byte, ttl time.Duration) error {
	if err := p.l2.SetMany(ctx, items, ttl); err != nil {
		return err
	}
	_ = p.l1.SetMany(ctx, items, p.ttlFor(ttl))
	return nil
}

func (p *Provider) Close(ctx context.Context) error {
	return errors.Join(p.l1.Close(ctx), p.l2.Close(ctx))
}
