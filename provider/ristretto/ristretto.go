package ristretto

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	rc "github.com/dgraph-io/ristretto"

	pr "github.com/unkn0wn-root/cqcache/provider"
)

// Provider is an in-process byte store backed by Ristretto.
//
// Ristretto hashes keys and cannot enumerate them, so the provider keeps its own
// key index for DelPrefix. Values are stored with their key, and the index drops
// a key when Ristretto lets go of the value it points at (eviction, rejection,
// expiry, overwrite or Del). Writes are buffered by Ristretto; a Get right after
// Set may miss until the buffer drains (call Wait in tests).
type Provider struct {
	c *rc.Cache

	mu   sync.Mutex
	keys map[string]*entry
}

type entry struct {
	key string
	b   []byte
}

var (
	_ pr.Provider = (*Provider)(nil)
	_ pr.Named    = (*Provider)(nil)
)

type Config struct {
	NumCounters int64
	MaxCost     int64
	BufferItems int64
	Metrics     bool
	// Cost in Ristretto is provided by the caller (cqcache passes cost per Set).
}

func New(cfg Config) (*Provider, error) {
	if cfg.NumCounters <= 0 || cfg.MaxCost <= 0 || cfg.BufferItems <= 0 {
		return nil, errors.New("ristretto: invalid config")
	}
	p := &Provider{keys: make(map[string]*entry)}
	c, err := rc.NewCache(&rc.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
		Metrics:     cfg.Metrics,
		// evictions and rejections also reach OnExit
		OnExit:   p.onExit,
		OnReject: p.onReject,
	})
	if err != nil {
		return nil, err
	}
	p.c = c
	return p, nil
}

func (p *Provider) Name() string { return "ristretto" }

func (p *Provider) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := p.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	e, _ := v.(*entry)
	if e == nil || e.key != key {
		// self-heal: drop unexpected entry shape
		p.c.Del(key)
		p.forget(key)
		return nil, false, nil
	}
	return e.b, true, nil
}

func (p *Provider) Set(_ context.Context, key string, value []byte, cost int64, ttl time.Duration) (bool, error) {
	if ttl < 0 {
		ttl = 0
	}
	if cost <= 0 {
		cost = 1
	}
	// index first: a rejection can be reported before SetWithTTL returns
	e := &entry{key: key, b: value}
	p.mu.Lock()
	p.keys[key] = e
	p.mu.Unlock()

	ok := p.c.SetWithTTL(key, e, cost, ttl)
	if !ok {
		p.release(e)
	}
	return ok, nil
}

func (p *Provider) Del(_ context.Context, key string) error {
	p.c.Del(key)
	p.forget(key)
	return nil
}

func (p *Provider) DelPrefix(_ context.Context, prefix string) (int, error) {
	p.mu.Lock()
	matched := make([]string, 0, 8)
	for k := range p.keys {
		if strings.HasPrefix(k, prefix) {
			matched = append(matched, k)
			delete(p.keys, k)
		}
	}
	p.mu.Unlock()

	for _, k := range matched {
		p.c.Del(k)
	}
	return len(matched), nil
}

// Refresh re-inserts the live value with a new TTL.
func (p *Provider) Refresh(ctx context.Context, key string, ttl time.Duration) error {
	b, ok, _ := p.Get(ctx, key)
	if !ok {
		return nil
	}
	_, err := p.Set(ctx, key, b, int64(len(b)), ttl)
	return err
}

func (p *Provider) GetMany(ctx context.Context, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		if b, ok, _ := p.Get(ctx, k); ok {
			out[k] = b
		}
	}
	return out, nil
}

func (p *Provider) SetMany(ctx context.Context, items map[string][]byte, ttl time.Duration) error {
	for k, v := range items {
		_, _ = p.Set(ctx, k, v, int64(len(v)), ttl)
	}
	return nil
}

func (p *Provider) Close(_ context.Context) error {
	p.c.Wait()
	p.c.Close()
	return nil
}

// Wait blocks until buffered writes are applied.
func (p *Provider) Wait() { p.c.Wait() }

// Metrics returns Ristretto's counters; nil unless Config.Metrics is set.
func (p *Provider) Metrics() *rc.Metrics { return p.c.Metrics }

func (p *Provider) forget(key string) {
	p.mu.Lock()
	delete(p.keys, key)
	p.mu.Unlock()
}

// release unindexes e unless its key has since been written again.
func (p *Provider) release(e *entry) {
	p.mu.Lock()
	if p.keys[e.key] == e {
		delete(p.keys, e.key)
	}
	p.mu.Unlock()
}

func (p *Provider) onExit(v interface{}) {
	if e, ok := v.(*entry); ok {
		p.release(e)
	}
}

// onReject also fires when a key written twice before the buffer drained is
// refused as an update; the first value then stays stored and is re-indexed.
func (p *Provider) onReject(item *rc.Item) {
	e, ok := item.Value.(*entry)
	if !ok {
		return
	}
	p.release(e)
	v, ok := p.c.Get(e.key)
	if !ok {
		return
	}
	cur, _ := v.(*entry)
	if cur == nil || cur.key != e.key {
		return
	}
	p.mu.Lock()
	if _, has := p.keys[cur.key]; !has {
		p.keys[cur.key] = cur
	}
	p.mu.Unlock()
}
