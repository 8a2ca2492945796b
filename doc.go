// Package cqcache is a cache-aside layer for query/command pipelines.
//
// Reads marked cacheable are served from a Provider when a fresh entry exists and
// populated on miss under a distributed lock. Writes marked invalidatable run first;
// once they succeed the affected keys and prefixes are removed locally and announced
// to other instances through an optional invalidation Publisher.
//
// Components:
//   - KeyScope: "{service}:{version}:{logicalKey}" namespacing.
//   - Provider: byte store with TTL and prefix removal (Redis, Ristretto, BigCache,
//     tiered, compressed, circuit-broken).
//   - Codec[V]: (de)serializes V <-> []byte.
//   - Locker: stampede protection around population of a single key.
//   - Publisher: cross-instance invalidation fan-out.
//   - GenStore: optional per-key generations; a populate that raced an
//     invalidation is dropped instead of written.
//   - Hooks: observability callbacks (effectiveness tracker, Prometheus, logs).
//
// Package mediator dispatches typed requests through Query and Command, and
// package config builds a complete Interceptor from a YAML file.
//
// Request capabilities:
//
//	type GetDealer struct{ ID int }
//	func (q GetDealer) CachePolicy() cqcache.CacheDescriptor {
//	    return cqcache.CacheDescriptor{Key: "Dealership:" + strconv.Itoa(q.ID), Duration: 30 * time.Minute}
//	}
//
//	d, err := cqcache.Query(ctx, ic, q, codec.JSON[Dealer]{}, func(ctx context.Context) (Dealer, error) {
//	    return repo.Dealer(ctx, q.ID)
//	})
//
// Failures of the cache layer are never returned to callers; handler failures always are.
package cqcache
