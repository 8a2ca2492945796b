package bigcache

import (
	"context"
	"encoding/binary"
	"errors"
	"strings"
	"time"

	bc "github.com/allegro/bigcache/v3"

	pr "github.com/unkn0wn-root/cqcache/provider"
)

// Provider is an in-process byte store backed by BigCache.
//
// BigCache only expires whole windows, so each value is stored behind an 8-byte
// deadline (unix nanoseconds, 0 = none). Reads past the deadline are misses and
// drop the entry. The deadline is capped at LifeWindow, the longest BigCache
// keeps anything.
type Provider struct {
	c          *bc.BigCache
	lifeWindow time.Duration
	now        func() time.Time
}

const headerSize = 8

var (
	_ pr.Provider  = (*Provider)(nil)
	_ pr.Named     = (*Provider)(nil)
	_ pr.TTLReader = (*Provider)(nil)
)

type Config struct {
	LifeWindow         time.Duration
	CleanWindow        time.Duration
	MaxEntriesInWindow int
	MaxEntrySize       int
	HardMaxCacheSizeMB int // ~ memory limit; 0 = unlimited
	Shards             int // power of two; 0 => bigcache default
}

func New(cfg Config) (*Provider, error) {
	conf := bc.DefaultConfig(cfg.LifeWindow)
	if cfg.CleanWindow > 0 {
		conf.CleanWindow = cfg.CleanWindow
	}
	if cfg.MaxEntriesInWindow > 0 {
		conf.MaxEntriesInWindow = cfg.MaxEntriesInWindow
	}
	if cfg.MaxEntrySize > 0 {
		conf.MaxEntrySize = cfg.MaxEntrySize
	}
	if cfg.HardMaxCacheSizeMB > 0 {
		conf.HardMaxCacheSize = cfg.HardMaxCacheSizeMB
	}
	if cfg.Shards > 0 {
		conf.Shards = cfg.Shards
	}
	conf.Verbose = false
	c, err := bc.NewBigCache(conf)
	if err != nil {
		return nil, err
	}
	return &Provider{c: c, lifeWindow: cfg.LifeWindow, now: time.Now}, nil
}

func (p *Provider) Name() string { return "bigcache" }

func (p *Provider) deadline(ttl time.Duration) int64 {
	if p.lifeWindow > 0 && (ttl <= 0 || ttl > p.lifeWindow) {
		ttl = p.lifeWindow
	}
	if ttl <= 0 {
		return 0
	}
	return p.now().Add(ttl).UnixNano()
}

func (p *Provider) pack(value []byte, ttl time.Duration) []byte {
	out := make([]byte, headerSize+len(value))
	binary.BigEndian.PutUint64(out, uint64(p.deadline(ttl)))
	copy(out[headerSize:], value)
	return out
}

// unpack returns the payload and its deadline; ok is false for entries that
// are expired or too short to carry a header.
func (p *Provider) unpack(stored []byte) (payload []byte, deadline int64, ok bool) {
	if len(stored) < headerSize {
		return nil, 0, false
	}
	deadline = int64(binary.BigEndian.Uint64(stored))
	if deadline != 0 && p.now().UnixNano() >= deadline {
		return nil, deadline, false
	}
	return stored[headerSize:], deadline, true
}

func (p *Provider) read(key string) ([]byte, int64, bool, error) {
	stored, err := p.c.Get(key)
	if errors.Is(err, bc.ErrEntryNotFound) {
		return nil, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, err
	}
	b, deadline, ok := p.unpack(stored)
	if !ok {
		_ = p.c.Delete(key)
		return nil, 0, false, nil
	}
	return b, deadline, true, nil
}

func (p *Provider) Get(_ context.Context, key string) ([]byte, bool, error) {
	b, _, ok, err := p.read(key)
	return b, ok, err
}

// TTL reports the time left before the entry's deadline.
func (p *Provider) TTL(_ context.Context, key string) (time.Duration, bool, error) {
	_, deadline, ok, err := p.read(key)
	if err != nil || !ok {
		return 0, false, err
	}
	if deadline == 0 {
		return 0, true, nil
	}
	return time.Duration(deadline - p.now().UnixNano()), true, nil
}

func (p *Provider) Set(_ context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	if err := p.c.Set(key, p.pack(value, ttl)); err != nil {
		return false, err
	}
	return true, nil
}

func (p *Provider) Del(_ context.Context, key string) error {
	if err := p.c.Delete(key); err != nil && !errors.Is(err, bc.ErrEntryNotFound) {
		return err
	}
	return nil
}

// DelPrefix collects matching keys with the shard iterator, then deletes them.
// Expired matches are deleted too but not counted.
func (p *Provider) DelPrefix(_ context.Context, prefix string) (int, error) {
	var matched, expired []string
	it := p.c.Iterator()
	for it.SetNext() {
		e, err := it.Value()
		if err != nil {
			continue // entry vanished between SetNext and Value
		}
		k := e.Key()
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if _, _, ok := p.unpack(e.Value()); ok {
			matched = append(matched, k)
		} else {
			expired = append(expired, k)
		}
	}
	for _, k := range expired {
		_ = p.c.Delete(k)
	}
	removed := 0
	for _, k := range matched {
		err := p.c.Delete(k)
		if err == nil {
			removed++
			continue
		}
		if !errors.Is(err, bc.ErrEntryNotFound) {
			return removed, err
		}
	}
	return removed, nil
}

// Refresh rewrites a live entry with a new deadline.
func (p *Provider) Refresh(ctx context.Context, key string, ttl time.Duration) error {
	b, ok, err := p.Get(ctx, key)
	if err != nil || !ok {
		return err
	}
	return p.c.Set(key, p.pack(b, ttl))
}

func (p *Provider) GetMany(ctx context.Context, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		b, ok, err := p.Get(ctx, k)
		if err != nil {
			return nil, err
		}
		if ok {
			out[k] = b
		}
	}
	return out, nil
}

func (p *Provider) SetMany(_ context.Context, items map[string][]byte, ttl time.Duration) error {
	for k, v := range items {
		if err := p.c.Set(k, p.pack(v, ttl)); err != nil {
			return err
		}
	}
	return nil
}

func (p *Provider) Close(_ context.Context) error {
	return p.c.Close()
}

// Len reports the number of live entries.
func (p *Provider) Len() int { return p.c.Len() }
