package lock

import (
	"context"
	"sync"
	"time"
)

type localEntry struct {
	token uint64
	until time.Time
}

// Local is an in-process Locker. It only protects a single instance; use
// redislock when several instances share a cache.
type Local struct {
	mu   sync.Mutex
	held map[string]localEntry
	seq  uint64
	now  func() time.Time
}

var _ Locker = (*Local)(nil)

func NewLocal() *Local {
	return &Local{held: make(map[string]localEntry), now: time.Now}
}

func (l *Local) TryAcquire(_ context.Context, key string, expiry time.Duration) (Handle, bool, error) {
	if expiry <= 0 {
		return nil, false, ErrInvalidExpiry
	}
	now := l.now()

	l.mu.Lock()
	if e, ok := l.held[key]; ok && now.Before(e.until) {
		l.mu.Unlock()
		return nil, false, nil
	}
	l.seq++
	token := l.seq
	l.held[key] = localEntry{token: token, until: now.Add(expiry)}
	l.mu.Unlock()

	return NewHandle(key, expiry, func(context.Context) error {
		return l.release(key, token)
	}), true, nil
}

func (l *Local) release(key string, token uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.held[key]
	if !ok || e.token != token {
		return ErrNotHeld
	}
	delete(l.held, key)
	return nil
}

// Held reports how many keys are currently locked (expired entries included until reused).
func (l *Local) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.held)
}
