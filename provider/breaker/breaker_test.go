package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unkn0wn-root/cqcache/internal/memstore"
)

var errDown = errors.New("store down")

func TestPassesThroughWhileClosed(t *testing.T) {
	ctx := context.Background()
	inner := memstore.New()
	p, err := New(inner, Config{})
	require.NoError(t, err)

	ok, err := p.Set(ctx, "k", []byte("v"), 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	b, ok, err := p.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), b)

	n, err := p.DelPrefix(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "memory", p.Name())
	assert.Equal(t, gobreaker.StateClosed, p.State())
}

func TestTripsAndBypasses(t *testing.T) {
	ctx := context.Background()
	inner := memstore.New()
	inner.Err = errDown

	var bypassed []string
	var transitions []gobreaker.State
	p, err := New(inner, Config{
		ConsecutiveFailures: 3,
		OpenTimeout:         time.Hour,
		OnBypass:            func(op string) { bypassed = append(bypassed, op) },
		OnStateChange:       func(_ string, _, to gobreaker.State) { transitions = append(transitions, to) },
	})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, _, err := p.Get(ctx, "k")
		assert.ErrorIs(t, err, errDown)
	}
	assert.Equal(t, gobreaker.StateOpen, p.State())
	callsWhenOpened := inner.Calls

	_, _, err = p.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrBypassed)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	err = p.Del(ctx, "k")
	assert.ErrorIs(t, err, ErrBypassed)

	assert.Equal(t, callsWhenOpened, inner.Calls, "open breaker must not reach the store")
	assert.Equal(t, []string{"get", "del"}, bypassed)
	assert.Equal(t, []gobreaker.State{gobreaker.StateOpen}, transitions)
}

func TestCancellationDoesNotTrip(t *testing.T) {
	ctx := context.Background()
	inner := memstore.New()
	inner.Err = context.Canceled

	p, err := New(inner, Config{ConsecutiveFailures: 1})
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, _, _ = p.Get(ctx, "k")
	}
	assert.Equal(t, gobreaker.StateClosed, p.State())
}

func TestRecoversAfterOpenTimeout(t *testing.T) {
	ctx := context.Background()
	inner := memstore.New()
	inner.Err = errDown

	p, err := New(inner, Config{ConsecutiveFailures: 1, OpenTimeout: 20 * time.Millisecond})
	require.NoError(t, err)
	_, _, _ = p.Get(ctx, "k")
	require.Equal(t, gobreaker.StateOpen, p.State())

	inner.Err = nil
	time.Sleep(40 * time.Millisecond)
	_, _, err = p.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, gobreaker.StateClosed, p.State())
}

func TestNewRequiresInner(t *testing.T) {
	_, err := New(nil, Config{})
	assert.Error(t, err)
}
