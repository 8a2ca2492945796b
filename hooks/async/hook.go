// Package asynchook moves hook delivery off the request path.
//
// Events are queued to a bounded channel drained by a fixed set of workers.
// When the queue is full the event is dropped and counted, so a slow exporter
// can never add latency to a cached read.
//
//	tracker := effectiveness.New(scope)
//	hooks := asynchook.New(cqcache.MultiHooks{tracker, promHooks}, 2, 4096)
//	defer hooks.Close()
//
//	ic, _ := cqcache.New(cqcache.Options{Scope: scope, Provider: p, Hooks: hooks})
package asynchook

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/cqcache"
)

type Hooks struct {
	inner   cqcache.Hooks
	q       chan func()
	wg      sync.WaitGroup
	once    sync.Once
	closed  atomic.Bool
	dropped atomic.Uint64
}

var _ cqcache.Hooks = (*Hooks)(nil)

// New starts workers (<= 0 => 1) draining a queue of qlen events (<= 0 => 1024).
func New(inner cqcache.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close stops accepting events and waits for queued ones to be delivered.
func (h *Hooks) Close() {
	h.once.Do(func() {
		h.closed.Store(true)
		close(h.q)
		h.wg.Wait()
	})
}

// Dropped reports how many events were discarded because the queue was full
// or the hooks were closed.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	if h.closed.Load() {
		h.dropped.Add(1)
		return
	}
	defer func() {
		// lost the race with Close
		if recover() != nil {
			h.dropped.Add(1)
		}
	}()
	select {
	case h.q <- f:
	default:
		h.dropped.Add(1)
	}
}

func (h *Hooks) Hit(k string, d time.Duration, n int) { h.try(func() { h.inner.Hit(k, d, n) }) }
func (h *Hooks) Miss(k string, d time.Duration)       { h.try(func() { h.inner.Miss(k, d) }) }
func (h *Hooks) StoreError(op, k string, err error) {
	h.try(func() { h.inner.StoreError(op, k, err) })
}
func (h *Hooks) LockContended(k string, d time.Duration) {
	h.try(func() { h.inner.LockContended(k, d) })
}
func (h *Hooks) Invalidated(k string, prefix bool, removed int) {
	h.try(func() { h.inner.Invalidated(k, prefix, removed) })
}
func (h *Hooks) InvalidationFailed(k string, prefix bool, err error) {
	h.try(func() { h.inner.InvalidationFailed(k, prefix, err) })
}
func (h *Hooks) BreakerBypass(op string)  { h.try(func() { h.inner.BreakerBypass(op) }) }
func (h *Hooks) Evicted(k, reason string) { h.try(func() { h.inner.Evicted(k, reason) }) }
