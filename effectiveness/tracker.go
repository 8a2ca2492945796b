// Package effectiveness keeps per-entity hit/miss counters for cached reads.
package effectiveness

import (
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/cqcache"
)

// EntityStats is a point-in-time snapshot. Counters are read independently, so
// a snapshot taken under load may lag in-flight updates slightly.
type EntityStats struct {
	Entity         string
	Hits           uint64
	Misses         uint64
	Total          uint64
	HitRate        float64
	AvgHitLatency  time.Duration
	AvgMissLatency time.Duration
	HitBytes       uint64
}

type counters struct {
	hits, misses        atomic.Uint64
	hitNanos, missNanos atomic.Int64
	hitBytes            atomic.Uint64
}

// Tracker aggregates hits and misses by entity type. It implements
// cqcache.Hooks, so it can be passed directly as Options.Hooks (or combined
// with others through cqcache.MultiHooks).
type Tracker struct {
	cqcache.NopHooks

	prefix   string
	entities sync.Map // entity -> *counters
}

var _ cqcache.Hooks = (*Tracker)(nil)

// New returns a Tracker that strips scope's prefix before extracting entity
// types. A zero scope falls back to the "{service}:v{N}:" heuristic.
func New(scope cqcache.KeyScope) *Tracker {
	return &Tracker{prefix: scope.Prefix()}
}

func (t *Tracker) Hit(key string, took time.Duration, size int) { t.RecordHit(key, took, size) }
func (t *Tracker) Miss(key string, took time.Duration)          { t.RecordMiss(key, took) }

// RecordHit counts a hit for key's entity. key may be a scoped key, an
// unscoped key or a bare entity name.
func (t *Tracker) RecordHit(key string, took time.Duration, size int) {
	c := t.counters(t.EntityType(key))
	c.hits.Add(1)
	c.hitNanos.Add(int64(took))
	if size > 0 {
		c.hitBytes.Add(uint64(size))
	}
}

func (t *Tracker) RecordMiss(key string, took time.Duration) {
	c := t.counters(t.EntityType(key))
	c.misses.Add(1)
	c.missNanos.Add(int64(took))
}

func (t *Tracker) counters(entity string) *counters {
	if v, ok := t.entities.Load(entity); ok {
		return v.(*counters)
	}
	v, _ := t.entities.LoadOrStore(entity, &counters{})
	return v.(*counters)
}

// Stats returns the snapshot for entity; unknown entities report zeros.
func (t *Tracker) Stats(entity string) EntityStats {
	v, ok := t.entities.Load(entity)
	if !ok {
		return EntityStats{Entity: entity}
	}
	return snapshot(entity, v.(*counters))
}

// AllStats returns a snapshot for every entity seen so far, in no particular order.
func (t *Tracker) AllStats() []EntityStats {
	var out []EntityStats
	t.entities.Range(func(k, v any) bool {
		out = append(out, snapshot(k.(string), v.(*counters)))
		return true
	})
	return out
}

func (t *Tracker) Reset() {
	t.entities.Range(func(k, _ any) bool {
		t.entities.Delete(k)
		return true
	})
}

func snapshot(entity string, c *counters) EntityStats {
	s := EntityStats{
		Entity:   entity,
		Hits:     c.hits.Load(),
		Misses:   c.misses.Load(),
		HitBytes: c.hitBytes.Load(),
	}
	s.Total = s.Hits + s.Misses
	if s.Total > 0 {
		s.HitRate = float64(s.Hits) / float64(s.Total)
	}
	if s.Hits > 0 {
		s.AvgHitLatency = time.Duration(c.hitNanos.Load() / int64(s.Hits))
	}
	if s.Misses > 0 {
		s.AvgMissLatency = time.Duration(c.missNanos.Load() / int64(s.Misses))
	}
	return s
}

var versionSegment = regexp.MustCompile(`^v[0-9]+$`)

// EntityType extracts the entity type from key:
//
//	"svc:v1:Dealership:42" -> "Dealership"
//	"User:123"             -> "User"
//
// The tracker's own scope prefix is stripped first when present.
func (t *Tracker) EntityType(key string) string {
	if t.prefix != "" && strings.HasPrefix(key, t.prefix) {
		key = key[len(t.prefix):]
		first, _, _ := strings.Cut(key, cqcache.Separator)
		return first
	}
	return EntityType(key)
}

// EntityType is the scope-agnostic extraction used when no scope is known.
func EntityType(key string) string {
	parts := strings.SplitN(key, cqcache.Separator, 4)
	if len(parts) >= 3 && versionSegment.MatchString(parts[1]) {
		return parts[2]
	}
	return parts[0]
}
