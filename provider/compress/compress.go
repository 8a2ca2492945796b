// Package compress decorates a Provider with transparent zstd compression.
//
// Every stored value is framed (see internal/wire) and tagged raw or compressed, so
// Get never has to guess. Payloads strictly larger than Threshold are compressed;
// a payload of exactly Threshold bytes is stored raw. Compressed output that is not
// smaller than the input is also stored raw.
package compress

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/unkn0wn-root/cqcache/internal/wire"
	pr "github.com/unkn0wn-root/cqcache/provider"
)

const (
	DefaultThreshold      = 1024
	defaultMaxDecodedSize = 64 << 20
)

// ErrCorrupt is returned by Get for bytes that were not written by this wrapper.
var ErrCorrupt = wire.ErrCorrupt

type Config struct {
	Threshold      int    // compress when len(payload) > Threshold; 0 => 1024, <0 => always
	Level          int    // zstd level 1..22; 0 => zstd default
	MaxDecodedSize uint64 // upper bound for a decompressed value; 0 => 64MiB
}

type Stats struct {
	BytesIn    int64 `json:"bytes_in"`
	BytesOut   int64 `json:"bytes_out"`
	Compressed int64 `json:"compressed"`
	Raw        int64 `json:"raw"`
}

type Provider struct {
	inner     pr.Provider
	threshold int
	enc       *zstd.Encoder
	dec       *zstd.Decoder

	bytesIn    atomic.Int64
	bytesOut   atomic.Int64
	compressed atomic.Int64
	raw        atomic.Int64
}

var (
	_ pr.Provider  = (*Provider)(nil)
	_ pr.Named     = (*Provider)(nil)
	_ pr.TTLReader = (*Provider)(nil)
)

func New(inner pr.Provider, cfg Config) (*Provider, error) {
	if inner == nil {
		return nil, fmt.Errorf("compress: inner provider is required")
	}
	threshold := cfg.Threshold
	switch {
	case threshold == 0:
		threshold = DefaultThreshold
	case threshold < 0:
		threshold = -1
	}
	eopts := []zstd.EOption{zstd.WithEncoderConcurrency(1)}
	if cfg.Level > 0 {
		eopts = append(eopts, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(cfg.Level)))
	}
	enc, err := zstd.NewWriter(nil, eopts...)
	if err != nil {
		return nil, fmt.Errorf("compress: encoder: %w", err)
	}
	maxDecoded := cfg.MaxDecodedSize
	if maxDecoded == 0 {
		maxDecoded = defaultMaxDecodedSize
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(0), zstd.WithDecoderMaxMemory(maxDecoded))
	if err != nil {
		_ = enc.Close()
		return nil, fmt.Errorf("compress: decoder: %w", err)
	}
	return &Provider{inner: inner, threshold: threshold, enc: enc, dec: dec}, nil
}

// Name reports the wrapped tier's label.
func (p *Provider) Name() string { return pr.NameOf(p.inner) }

// Threshold returns the effective size threshold (-1 => always compress).
func (p *Provider) Threshold() int { return p.threshold }

func (p *Provider) Stats() Stats {
	return Stats{
		BytesIn:    p.bytesIn.Load(),
		BytesOut:   p.bytesOut.Load(),
		Compressed: p.compressed.Load(),
		Raw:        p.raw.Load(),
	}
}

// Pack frames payload, compressing it when it is above the threshold.
func (p *Provider) Pack(payload []byte) []byte {
	p.bytesIn.Add(int64(len(payload)))
	if len(payload) > p.threshold {
		z := p.enc.EncodeAll(payload, make([]byte, 0, len(payload)/2))
		if len(z) < len(payload) {
			p.compressed.Add(1)
			p.bytesOut.Add(int64(len(z)))
			return wire.Encode(wire.FlagZstd, z)
		}
	}
	p.raw.Add(1)
	p.bytesOut.Add(int64(len(payload)))
	return wire.Encode(wire.FlagRaw, payload)
}

// Unpack reverses Pack. Undecodable frames and payloads wrap ErrCorrupt.
func (p *Provider) Unpack(stored []byte) ([]byte, error) {
	flag, payload, err := wire.Decode(stored)
	if err != nil {
		return nil, err
	}
	if flag == wire.FlagRaw {
		return payload, nil
	}
	out, err := p.dec.DecodeAll(payload, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: zstd: %v", wire.ErrCorrupt, err)
	}
	return out, nil
}

// Get returns an error wrapping ErrCorrupt for undecodable bytes. The entry is
// left in place; callers see ErrCorrupt and self-heal.
func (p *Provider) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, ok, err := p.inner.Get(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}
	out, err := p.Unpack(b)
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

func (p *Provider) Set(ctx context.Context, key string, value []byte, cost int64, ttl time.Duration) (bool, error) {
	packed := p.Pack(value)
	if cost == int64(len(value)) {
		cost = int64(len(packed))
	}
	return p.inner.Set(ctx, key, packed, cost, ttl)
}

func (p *Provider) Del(ctx context.Context, key string) error {
	return p.inner.Del(ctx, key)
}

func (p *Provider) DelPrefix(ctx context.Context, prefix string) (int, error) {
	return p.inner.DelPrefix(ctx, prefix)
}

func (p *Provider) TTL(ctx context.Context, key string) (time.Duration, bool, error) {
	return pr.RemainingTTL(ctx, p.inner, key)
}

func (p *Provider) Refresh(ctx context.Context, key string, ttl time.Duration) error {
	return p.inner.Refresh(ctx, key, ttl)
}

// GetMany drops members that fail to unpack; they read as misses.
func (p *Provider) GetMany(ctx context.Context, keys []string) (map[string][]byte, error) {
	raw, err := p.inner.GetMany(ctx, keys)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(raw))
	for k, b := range raw {
		v, err := p.Unpack(b)
		if err != nil {
			continue
		}
		out[k] = v
	}
	return out, nil
}

func (p *Provider) SetMany(ctx context.Context, items map[string][]byte, ttl time.Duration) error {
	packed := make(map[string][]byte, len(items))
	for k, v := range items {
		packed[k] = p.Pack(v)
	}
	return p.inner.SetMany(ctx, packed, ttl)
}

func (p *Provider) Close(ctx context.Context) error {
	p.dec.Close()
	_ = p.enc.Close()
	return p.inner.Close(ctx)
}
