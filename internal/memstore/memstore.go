// Package memstore is a map-backed provider.Provider for tests of decorators.
package memstore

import (
	"context"
	"strings"
	"sync"
	"time"

	pr "github.com/unkn0wn-root/cqcache/provider"
)

type entry struct {
	b   []byte
	exp time.Time
}

// Store fails every call with Err while Err is non-nil.
type Store struct {
	mu   sync.Mutex
	data map[string]entry
	now  func() time.Time

	Err   error
	Calls int
}

var (
	_ pr.Provider  = (*Store)(nil)
	_ pr.TTLReader = (*Store)(nil)
)

func New() *Store { return &Store{data: map[string]entry{}, now: time.Now} }

func (s *Store) Name() string { return "memory" }

// Raw returns the stored bytes without expiry checks.
func (s *Store) Raw(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data[key]
	return e.b, ok
}

// Remaining returns the remaining lifetime of key; 0 when it has none.
func (s *Store) Remaining(key string) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data[key]
	if !ok || e.exp.IsZero() {
		return 0
	}
	return e.exp.Sub(s.now())
}

func (s *Store) begin() error {
	s.mu.Lock()
	s.Calls++
	return s.Err
}

func (s *Store) live(key string) (entry, bool) {
	e, ok := s.data[key]
	if ok && !e.exp.IsZero() && !s.now().Before(e.exp) {
		delete(s.data, key)
		return entry{}, false
	}
	return e, ok
}

func (s *Store) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(ttl)
}

func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	err := s.begin()
	defer s.mu.Unlock()
	if err != nil {
		return nil, false, err
	}
	e, ok := s.live(key)
	return e.b, ok, nil
}

func (s *Store) Set(_ context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	err := s.begin()
	defer s.mu.Unlock()
	if err != nil {
		return false, err
	}
	s.data[key] = entry{b: append([]byte(nil), value...), exp: s.expiry(ttl)}
	return true, nil
}

func (s *Store) Del(_ context.Context, key string) error {
	err := s.begin()
	defer s.mu.Unlock()
	if err != nil {
		return err
	}
	delete(s.data, key)
	return nil
}

func (s *Store) DelPrefix(_ context.Context, prefix string) (int, error) {
	err := s.begin()
	defer s.mu.Unlock()
	if err != nil {
		return 0, err
	}
	n := 0
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			delete(s.data, k)
			n++
		}
	}
	return n, nil
}

func (s *Store) Refresh(_ context.Context, key string, ttl time.Duration) error {
	err := s.begin()
	defer s.mu.Unlock()
	if err != nil {
		return err
	}
	if e, ok := s.live(key); ok {
		e.exp = s.expiry(ttl)
		s.data[key] = e
	}
	return nil
}

func (s *Store) TTL(_ context.Context, key string) (time.Duration, bool, error) {
	err := s.begin()
	defer s.mu.Unlock()
	if err != nil {
		return 0, false, err
	}
	e, ok := s.live(key)
	if !ok {
		return 0, false, nil
	}
	if e.exp.IsZero() {
		return 0, true, nil
	}
	return e.exp.Sub(s.now()), true, nil
}

func (s *Store) GetMany(_ context.Context, keys []string) (map[string][]byte, error) {
	err := s.begin()
	defer s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		if e, ok := s.live(k); ok {
			out[k] = e.b
		}
	}
	return out, nil
}

func (s *Store) SetMany(_ context.Context, items map[string][]byte, ttl time.Duration) error {
	err := s.begin()
	defer s.mu.Unlock()
	if err != nil {
		return err
	}
	for k, v := range items {
		s.data[k] = entry{b: append([]byte(nil), v...), exp: s.expiry(ttl)}
	}
	return nil
}

func (s *Store) Close(context.Context) error { return nil }
