// Package prom exports hook events as Prometheus metrics.
//
// Metrics are registered on the Registerer passed to New; nothing touches the
// global default registry.
package prom

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/unkn0wn-root/cqcache"
	"github.com/unkn0wn-root/cqcache/effectiveness"
)

const namespace = "cqcache"

type Config struct {
	// Scope strips the scope prefix when deriving the entity label.
	Scope cqcache.KeyScope
	// Tier labels every series, e.g. provider.NameOf(p). "" => "default".
	Tier string
	// Buckets for cqcache_operation_duration_seconds. nil => prometheus.DefBuckets.
	Buckets []float64
}

type Hooks struct {
	scope cqcache.KeyScope
	tier  string

	hits          *prometheus.CounterVec
	misses        *prometheus.CounterVec
	errors        *prometheus.CounterVec
	evictions     *prometheus.CounterVec
	breakerBypass *prometheus.CounterVec
	invalidations *prometheus.CounterVec
	contended     *prometheus.CounterVec
	duration      *prometheus.HistogramVec
}

var _ cqcache.Hooks = (*Hooks)(nil)

func New(reg prometheus.Registerer, cfg Config) (*Hooks, error) {
	tier := cfg.Tier
	if tier == "" {
		tier = "default"
	}
	buckets := cfg.Buckets
	if buckets == nil {
		buckets = prometheus.DefBuckets
	}

	h := &Hooks{
		scope: cfg.Scope,
		tier:  tier,
		hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hits_total",
			Help:      "Cached reads served from the store.",
		}, []string{"entity", "tier"}),
		misses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "misses_total",
			Help:      "Cached reads that found no usable entry.",
		}, []string{"entity", "tier"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Swallowed cache-layer failures by operation.",
		}, []string{"entity", "tier", "op"}),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evictions_total",
			Help:      "Entries dropped by self-heal, capacity or remote invalidation.",
		}, []string{"entity", "tier", "reason"}),
		breakerBypass: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "breaker_bypass_total",
			Help:      "Store calls short-circuited by an open circuit breaker.",
		}, []string{"tier", "op"}),
		invalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invalidations_total",
			Help:      "Post-write invalidations by kind and result.",
		}, []string{"entity", "tier", "kind", "result"}),
		contended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lock_contended_total",
			Help:      "Reads that ran uncached because the populate lock stayed held.",
		}, []string{"entity", "tier"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of cache lookups and lock waits.",
			Buckets:   buckets,
		}, []string{"entity", "tier", "op"}),
	}

	for _, c := range []prometheus.Collector{
		h.hits, h.misses, h.errors, h.evictions,
		h.breakerBypass, h.invalidations, h.contended, h.duration,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// entity is the first segment after the scope prefix.
func (h *Hooks) entity(key string) string {
	if logical, ok := h.scope.Unscope(key); ok {
		first, _, _ := strings.Cut(logical, cqcache.Separator)
		return first
	}
	return effectiveness.EntityType(key)
}

func (h *Hooks) Hit(key string, took time.Duration, _ int) {
	e := h.entity(key)
	h.hits.WithLabelValues(e, h.tier).Inc()
	h.duration.WithLabelValues(e, h.tier, "hit").Observe(took.Seconds())
}

func (h *Hooks) Miss(key string, took time.Duration) {
	e := h.entity(key)
	h.misses.WithLabelValues(e, h.tier).Inc()
	h.duration.WithLabelValues(e, h.tier, "miss").Observe(took.Seconds())
}

func (h *Hooks) StoreError(op, key string, _ error) {
	h.errors.WithLabelValues(h.entity(key), h.tier, op).Inc()
}

func (h *Hooks) LockContended(key string, waited time.Duration) {
	e := h.entity(key)
	h.contended.WithLabelValues(e, h.tier).Inc()
	h.duration.WithLabelValues(e, h.tier, "lock_wait").Observe(waited.Seconds())
}

func (h *Hooks) Invalidated(key string, prefix bool, _ int) {
	h.invalidations.WithLabelValues(h.entity(key), h.tier, kind(prefix), "ok").Inc()
}

func (h *Hooks) InvalidationFailed(key string, prefix bool, _ error) {
	h.invalidations.WithLabelValues(h.entity(key), h.tier, kind(prefix), "error").Inc()
}

func (h *Hooks) BreakerBypass(op string) {
	h.breakerBypass.WithLabelValues(h.tier, op).Inc()
}

func (h *Hooks) Evicted(key, reason string) {
	h.evictions.WithLabelValues(h.entity(key), h.tier, reason).Inc()
}

func kind(prefix bool) string {
	if prefix {
		return "prefix"
	}
	return "key"
}
