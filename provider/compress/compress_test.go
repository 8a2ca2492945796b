package compress

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/unkn0wn-root/cqcache/internal/memstore"
	"github.com/unkn0wn-root/cqcache/internal/wire"
)

func newTestProvider(t *testing.T, cfg Config) (*Provider, *memstore.Store) {
	t.Helper()
	inner := memstore.New()
	p, err := New(inner, cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = p.Close(context.Background()) })
	return p, inner
}

func compressible(n int) []byte {
	return bytes.Repeat([]byte("dealer:north-motors;"), n/20+1)[:n]
}

func storedFlag(t *testing.T, inner *memstore.Store, key string) wire.Flag {
	t.Helper()
	raw, ok := inner.Raw(key)
	if !ok {
		t.Fatalf("%s not stored", key)
	}
	f, _, err := wire.Decode(raw)
	if err != nil {
		t.Fatalf("stored frame invalid: %v", err)
	}
	return f
}

func TestRoundTripAcrossSizes(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestProvider(t, Config{})
	rng := rand.New(rand.NewSource(1))

	for _, n := range []int{0, 1, 100, DefaultThreshold - 1, DefaultThreshold, DefaultThreshold + 1, 4096, 64 << 10} {
		for _, payload := range [][]byte{compressible(n), randomBytes(rng, n)} {
			if _, err := p.Set(ctx, "k", payload, int64(len(payload)), time.Minute); err != nil {
				t.Fatalf("n=%d set: %v", n, err)
			}
			got, ok, err := p.Get(ctx, "k")
			if err != nil || !ok {
				t.Fatalf("n=%d get ok=%v err=%v", n, ok, err)
			}
			if !bytes.Equal(got, payload) {
				t.Fatalf("n=%d: round trip mismatch", n)
			}
		}
	}
}

func randomBytes(rng *rand.Rand, n int) []byte {
	b := make([]byte, n)
	rng.Read(b)
	return b
}

func TestThresholdIsExclusive(t *testing.T) {
	ctx := context.Background()
	p, inner := newTestProvider(t, Config{})

	at := compressible(DefaultThreshold)
	above := compressible(DefaultThreshold + 1)
	_, _ = p.Set(ctx, "at", at, 0, 0)
	_, _ = p.Set(ctx, "above", above, 0, 0)

	if f := storedFlag(t, inner, "at"); f != wire.FlagRaw {
		t.Fatalf("payload of exactly the threshold stored with flag %d", f)
	}
	raw, _ := inner.Raw("at")
	if _, payload, _ := wire.Decode(raw); !bytes.Equal(payload, at) {
		t.Fatal("raw payload altered")
	}
	if f := storedFlag(t, inner, "above"); f != wire.FlagZstd {
		t.Fatalf("payload above the threshold stored with flag %d", f)
	}
}

func TestIncompressibleStaysRaw(t *testing.T) {
	ctx := context.Background()
	p, inner := newTestProvider(t, Config{Threshold: -1})
	_, _ = p.Set(ctx, "rnd", randomBytes(rand.New(rand.NewSource(2)), 2048), 0, 0)

	if f := storedFlag(t, inner, "rnd"); f != wire.FlagRaw {
		t.Fatalf("incompressible payload stored with flag %d", f)
	}
	if s := p.Stats(); s.Raw != 1 || s.Compressed != 0 {
		t.Fatalf("stats=%+v", s)
	}
}

func TestStatsAndCost(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestProvider(t, Config{Threshold: 16})
	payload := compressible(4096)
	_, _ = p.Set(ctx, "k", payload, int64(len(payload)), 0)

	s := p.Stats()
	if s.Compressed != 1 || s.BytesIn != 4096 || s.BytesOut >= s.BytesIn {
		t.Fatalf("stats=%+v", s)
	}
}

func TestUnframedBytesAreCorrupt(t *testing.T) {
	ctx := context.Background()
	p, inner := newTestProvider(t, Config{})
	_, _ = inner.Set(ctx, "legacy", []byte("written by something else"), 0, 0)

	if _, _, err := p.Get(ctx, "legacy"); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("err=%v want ErrCorrupt", err)
	}
	got, err := p.GetMany(ctx, []string{"legacy"})
	if err != nil || len(got) != 0 {
		t.Fatalf("GetMany=%v err=%v", got, err)
	}
}

func TestBadZstdPayloadIsCorrupt(t *testing.T) {
	ctx := context.Background()
	p, inner := newTestProvider(t, Config{})
	_, _ = inner.Set(ctx, "k", wire.Encode(wire.FlagZstd, []byte("not zstd at all")), 0, 0)

	if _, _, err := p.Get(ctx, "k"); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("err=%v want ErrCorrupt", err)
	}
}

func TestManyRoundTrip(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestProvider(t, Config{})
	items := map[string][]byte{"small": []byte("x"), "big": compressible(8192)}
	if err := p.SetMany(ctx, items, time.Minute); err != nil {
		t.Fatal(err)
	}
	got, err := p.GetMany(ctx, []string{"small", "big", "none"})
	if err != nil || len(got) != 2 || !bytes.Equal(got["big"], items["big"]) {
		t.Fatalf("got %d entries err=%v", len(got), err)
	}
}

func TestDecodedSizeIsBounded(t *testing.T) {
	ctx := context.Background()
	big, _ := newTestProvider(t, Config{})
	_, _ = big.Set(ctx, "k", compressible(1<<20), 0, 0)
	raw, _ := big.inner.(*memstore.Store).Raw("k")

	small, inner := newTestProvider(t, Config{MaxDecodedSize: 1 << 10})
	_, _ = inner.Set(ctx, "k", raw, 0, 0)
	if _, _, err := small.Get(ctx, "k"); err == nil {
		t.Fatal("expected decode limit error")
	}
}
