package tiered

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unkn0wn-root/cqcache/internal/memstore"
	pr "github.com/unkn0wn-root/cqcache/provider"
)

func newTiered(t *testing.T) (*Provider, *memstore.Store, *memstore.Store) {
	t.Helper()
	l1, l2 := memstore.New(), memstore.New()
	p, err := New(Config{L1: l1, L2: l2, L1TTL: time.Minute})
	require.NoError(t, err)
	return p, l1, l2
}

func TestSetWritesBothTiersWithCappedL1TTL(t *testing.T) {
	ctx := context.Background()
	p, l1, l2 := newTiered(t)

	ok, err := p.Set(ctx, "k", []byte("v"), 1, time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.InDelta(t, time.Minute, l1.Remaining("k"), float64(time.Second))
	assert.InDelta(t, time.Hour, l2.Remaining("k"), float64(time.Second))

	_, _ = p.Set(ctx, "short", []byte("v"), 1, 10*time.Second)
	assert.InDelta(t, 10*time.Second, l1.Remaining("short"), float64(time.Second))
	assert.Equal(t, "memory+memory", p.Name())
}

func TestGetBackfillsL1(t *testing.T) {
	ctx := context.Background()
	p, l1, l2 := newTiered(t)
	_, _ = l2.Set(ctx, "k", []byte("v"), 1, time.Hour)

	b, ok, err := p.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), b)

	_, inL1 := l1.Raw("k")
	assert.True(t, inL1)

	callsL2 := l2.Calls
	_, ok, _ = p.Get(ctx, "k")
	assert.True(t, ok)
	assert.Equal(t, callsL2, l2.Calls, "L1 hit must not reach L2")
}

func TestBackfillNeverOutlivesL2Entry(t *testing.T) {
	ctx := context.Background()
	p, l1, l2 := newTiered(t)
	_, _ = l2.Set(ctx, "short", []byte("v"), 1, 100*time.Millisecond)
	_, _ = l2.Set(ctx, "forever", []byte("v"), 1, 0)

	time.Sleep(40 * time.Millisecond)
	_, ok, err := p.Get(ctx, "short")
	require.NoError(t, err)
	require.True(t, ok)
	left := l1.Remaining("short")
	assert.Positive(t, left)
	assert.LessOrEqual(t, left, 60*time.Millisecond)

	_, ok, _ = p.Get(ctx, "forever")
	require.True(t, ok)
	assert.InDelta(t, time.Minute, l1.Remaining("forever"), float64(time.Second))

	time.Sleep(100 * time.Millisecond)
	_, ok, err = p.Get(ctx, "short")
	require.NoError(t, err)
	assert.False(t, ok, "L1 copy served after the L2 entry expired")
}

// opaque hides the TTLReader of the store it wraps.
type opaque struct{ pr.Provider }

func TestNoBackfillWithoutRemainingTTL(t *testing.T) {
	ctx := context.Background()
	l1, l2 := memstore.New(), memstore.New()
	p, err := New(Config{L1: l1, L2: opaque{l2}})
	require.NoError(t, err)
	_, _ = l2.Set(ctx, "a", []byte("1"), 1, time.Hour)
	_, _ = l2.Set(ctx, "b", []byte("2"), 1, time.Hour)

	b, ok, err := p.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("1"), b)

	got, err := p.GetMany(ctx, []string{"b"})
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{"b": []byte("2")}, got)

	for _, k := range []string{"a", "b"} {
		_, inL1 := l1.Raw(k)
		assert.False(t, inL1, k)
	}
}

func TestL2FailureSurfacesAndL1FailureIsIgnored(t *testing.T) {
	ctx := context.Background()
	p, l1, l2 := newTiered(t)
	_, _ = l2.Set(ctx, "k", []byte("v"), 1, time.Hour)

	l1.Err = errors.New("l1 down")
	_, ok, err := p.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	l1.Err = nil
	l2.Err = errors.New("l2 down")
	_, _, err = p.Get(ctx, "other")
	assert.Error(t, err)
	_, err = p.Set(ctx, "x", []byte("v"), 1, 0)
	assert.Error(t, err)
	_, inL1 := l1.Raw("x")
	assert.False(t, inL1, "L1 must not get values L2 rejected")
}

func TestDeletesHitBothTiers(t *testing.T) {
	ctx := context.Background()
	p, l1, l2 := newTiered(t)
	for _, k := range []string{"p:1", "p:2", "q:1"} {
		_, _ = p.Set(ctx, k, []byte("v"), 1, time.Hour)
	}

	require.NoError(t, p.Del(ctx, "q:1"))
	n, err := p.DelPrefix(ctx, "p:")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, s := range []*memstore.Store{l1, l2} {
		for _, k := range []string{"p:1", "p:2", "q:1"} {
			_, ok := s.Raw(k)
			assert.False(t, ok, k)
		}
	}
	assert.Same(t, l1, p.Local())
}

func TestGetManyMergesTiers(t *testing.T) {
	ctx := context.Background()
	p, l1, l2 := newTiered(t)
	_, _ = l1.Set(ctx, "a", []byte("1"), 1, time.Minute)
	_, _ = l2.Set(ctx, "b", []byte("2"), 1, time.Hour)

	got, err := p.GetMany(ctx, []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{"a": []byte("1"), "b": []byte("2")}, got)
	_, inL1 := l1.Raw("b")
	assert.True(t, inL1)
	assert.InDelta(t, time.Minute, l1.Remaining("b"), float64(time.Second))
}

func TestNewRequiresBothTiers(t *testing.T) {
	_, err := New(Config{L1: memstore.New()})
	assert.Error(t, err)
}
