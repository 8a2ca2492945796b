package cqcache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/unkn0wn-root/cqcache/lock"
)

var errBoom = errors.New("boom")

type memEntry struct {
	b   []byte
	ttl time.Duration
}

// memProvider is an in-memory Provider that records every call in order.
type memProvider struct {
	mu   sync.Mutex
	data map[string]memEntry
	log  []string

	getErr, setErr, delErr, delPrefixErr error
	rejectSets                           bool
}

func newMemProvider() *memProvider {
	return &memProvider{data: map[string]memEntry{}}
}

func (m *memProvider) record(format string, args ...any) {
	m.log = append(m.log, fmt.Sprintf(format, args...))
}

func (m *memProvider) calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.log...)
}

func (m *memProvider) count(prefix string) int {
	n := 0
	for _, c := range m.calls() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (m *memProvider) entry(key string) (memEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.data[key]
	return e, ok
}

func (m *memProvider) put(key string, b []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = memEntry{b: b}
}

func (m *memProvider) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("get %s", key)
	if m.getErr != nil {
		return nil, false, m.getErr
	}
	e, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	return e.b, true, nil
}

func (m *memProvider) Set(ctx context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("set %s", key)
	if m.setErr != nil {
		return false, m.setErr
	}
	if m.rejectSets {
		return false, nil
	}
	m.data[key] = memEntry{b: append([]byte(nil), value...), ttl: ttl}
	return true, nil
}

func (m *memProvider) Del(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("del %s", key)
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.delErr != nil {
		return m.delErr
	}
	delete(m.data, key)
	return nil
}

func (m *memProvider) DelPrefix(ctx context.Context, prefix string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("del_prefix %s", prefix)
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if m.delPrefixErr != nil {
		return 0, m.delPrefixErr
	}
	n := 0
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			delete(m.data, k)
			n++
		}
	}
	return n, nil
}

func (m *memProvider) Refresh(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("refresh %s", key)
	if e, ok := m.data[key]; ok {
		e.ttl = ttl
		m.data[key] = e
	}
	return nil
}

func (m *memProvider) GetMany(_ context.Context, keys []string) (map[string][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("get_many %d", len(keys))
	if m.getErr != nil {
		return nil, m.getErr
	}
	out := make(map[string][]byte)
	for _, k := range keys {
		if e, ok := m.data[k]; ok {
			out[k] = e.b
		}
	}
	return out, nil
}

func (m *memProvider) SetMany(_ context.Context, items map[string][]byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("set_many %d", len(items))
	if m.setErr != nil {
		return m.setErr
	}
	for k, b := range items {
		m.data[k] = memEntry{b: b, ttl: ttl}
	}
	return nil
}

func (m *memProvider) Close(context.Context) error { return nil }

// recPublisher shares the provider's call log so ordering can be asserted.
type recPublisher struct {
	m   *memProvider
	err error
}

func (p *recPublisher) Publish(_ context.Context, key string) error {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	p.m.record("publish %s", key)
	return p.err
}

func (p *recPublisher) PublishPrefix(_ context.Context, prefix string) error {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	p.m.record("publish_prefix %s", prefix)
	return p.err
}

type errLocker struct{ err error }

func (l errLocker) TryAcquire(context.Context, string, time.Duration) (lock.Handle, bool, error) {
	return nil, false, l.err
}

// recHooks records hook events as short strings.
type recHooks struct {
	NopHooks
	mu     sync.Mutex
	events []string
}

func (h *recHooks) add(format string, args ...any) {
	h.mu.Lock()
	h.events = append(h.events, fmt.Sprintf(format, args...))
	h.mu.Unlock()
}

func (h *recHooks) has(ev string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, e := range h.events {
		if e == ev {
			return true
		}
	}
	return false
}

func (h *recHooks) Hit(k string, _ time.Duration, _ int)    { h.add("hit %s", k) }
func (h *recHooks) Miss(k string, _ time.Duration)          { h.add("miss %s", k) }
func (h *recHooks) StoreError(op, k string, _ error)        { h.add("error %s %s", op, k) }
func (h *recHooks) LockContended(k string, _ time.Duration) { h.add("contended %s", k) }
func (h *recHooks) Evicted(k, reason string)                { h.add("evicted %s %s", k, reason) }
func (h *recHooks) Invalidated(k string, prefix bool, _ int) {
	h.add("invalidated %s %v", k, prefix)
}
func (h *recHooks) InvalidationFailed(k string, prefix bool, _ error) {
	h.add("invalidation_failed %s %v", k, prefix)
}

type entityQuery struct {
	id  string
	ttl time.Duration
}

func (q entityQuery) CachePolicy() CacheDescriptor {
	return CacheDescriptor{Key: "Entity:" + q.id, Duration: q.ttl}
}

type plainQuery struct{}

type entityCommand struct {
	keys     []string
	prefixes []string
}

func (c entityCommand) Invalidation() InvalidationDescriptor {
	return InvalidationDescriptor{Keys: c.keys, Prefixes: c.prefixes}
}

type entity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func newTestInterceptor(t interface{ Fatalf(string, ...any) }, mutate func(*Options)) (*Interceptor, *memProvider, *recHooks) {
	p := newMemProvider()
	h := &recHooks{}
	opts := Options{Scope: MustKeyScope("test-svc", "v1"), Provider: p, Hooks: h}
	if mutate != nil {
		mutate(&opts)
	}
	ic, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return ic, p, h
}
