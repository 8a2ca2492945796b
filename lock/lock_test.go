package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestLocalRejectsNonPositiveExpiry(t *testing.T) {
	l := NewLocal()
	for _, d := range []time.Duration{0, -time.Second} {
		if _, ok, err := l.TryAcquire(context.Background(), "k", d); ok || !errors.Is(err, ErrInvalidExpiry) {
			t.Fatalf("expiry %v: ok=%v err=%v", d, ok, err)
		}
	}
}

func TestLocalExclusiveUntilRelease(t *testing.T) {
	ctx := context.Background()
	l := NewLocal()

	h, ok, err := l.TryAcquire(ctx, "k", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	if h.Key() != "k" || h.Expiry() != time.Minute {
		t.Fatalf("handle = %q/%v", h.Key(), h.Expiry())
	}
	if _, ok, err := l.TryAcquire(ctx, "k", time.Minute); ok || err != nil {
		t.Fatalf("second acquire should be contended: ok=%v err=%v", ok, err)
	}
	if _, ok, _ := l.TryAcquire(ctx, "other", time.Minute); !ok {
		t.Fatal("independent key should be free")
	}
	if err := h.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, ok, _ := l.TryAcquire(ctx, "k", time.Minute); !ok {
		t.Fatal("expected acquire after release")
	}
}

func TestLocalReleaseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	l := NewLocal()
	h, _, _ := l.TryAcquire(ctx, "k", time.Minute)
	if err := h.Release(ctx); err != nil {
		t.Fatal(err)
	}
	// a new holder must not be released by the stale handle
	h2, ok, _ := l.TryAcquire(ctx, "k", time.Minute)
	if !ok {
		t.Fatal("reacquire failed")
	}
	if err := h.Release(ctx); err != nil {
		t.Fatalf("second release should be a no-op, got %v", err)
	}
	if _, ok, _ := l.TryAcquire(ctx, "k", time.Minute); ok {
		t.Fatal("stale handle released the new holder")
	}
	_ = h2.Release(ctx)
}

func TestLocalExpiredLockCanBeTakenOver(t *testing.T) {
	ctx := context.Background()
	l := NewLocal()
	now := time.Unix(1000, 0)
	l.now = func() time.Time { return now }

	h, _, _ := l.TryAcquire(ctx, "k", time.Second)
	now = now.Add(2 * time.Second)

	h2, ok, err := l.TryAcquire(ctx, "k", time.Second)
	if err != nil || !ok {
		t.Fatalf("takeover: ok=%v err=%v", ok, err)
	}
	if err := h.Release(ctx); !errors.Is(err, ErrNotHeld) {
		t.Fatalf("expired holder release: want ErrNotHeld, got %v", err)
	}
	if err := h2.Release(ctx); err != nil {
		t.Fatalf("new holder release: %v", err)
	}
}

func TestLocalOnlyOneWinnerUnderContention(t *testing.T) {
	ctx := context.Background()
	l := NewLocal()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok, _ := l.TryAcquire(ctx, "hot", time.Minute); ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("wins=%d want 1", wins)
	}
}
