package cqcache

import (
	"context"
	"time"

	c "github.com/unkn0wn-root/cqcache/codec"
)

// Lookup reads many logical keys in one round trip. Hits are returned by
// logical key; missing keeps the input order. Unreadable entries are dropped
// and reported missing. A store error returns every key as missing with err.
func Lookup[V any](ctx context.Context, ic *Interceptor, logicalKeys []string, codec c.Codec[V]) (hits map[string]V, missing []string, err error) {
	hits = make(map[string]V, len(logicalKeys))
	if !ic.Enabled() || len(logicalKeys) == 0 {
		return hits, append([]string(nil), logicalKeys...), nil
	}

	start := time.Now()
	scoped := make([]string, len(logicalKeys))
	for i, k := range logicalKeys {
		scoped[i] = ic.scope.Scope(k)
	}
	raw, err := ic.provider.GetMany(ctx, scoped)
	if err != nil {
		ic.hooks.StoreError("get", ic.scope.Prefix(), err)
		return hits, append([]string(nil), logicalKeys...), err
	}
	took := time.Since(start)

	for i, k := range logicalKeys {
		key := scoped[i]
		b, ok := raw[key]
		if !ok {
			ic.hooks.Miss(key, took)
			missing = append(missing, k)
			continue
		}
		v, derr := codec.Decode(b)
		if derr != nil {
			selfHeal(ctx, ic, key, "decode", derr)
			missing = append(missing, k)
			continue
		}
		ic.hooks.Hit(key, took, len(b))
		hits[k] = v
	}
	return hits, missing, nil
}

// Prime stores many values under their logical keys with one TTL
// (<= 0 => DefaultTTL). Values that fail to encode are skipped and reported.
// Prime bypasses the generation guard, so only pass values read after the
// latest write.
func Prime[V any](ctx context.Context, ic *Interceptor, items map[string]V, ttl time.Duration, codec c.Codec[V]) error {
	if !ic.Enabled() || len(items) == 0 {
		return nil
	}
	if ttl <= 0 {
		ttl = ic.defaultTTL
	}
	enc := make(map[string][]byte, len(items))
	for k, v := range items {
		key := ic.scope.Scope(k)
		b, err := codec.Encode(v)
		if err != nil {
			ic.hooks.StoreError("encode", key, err)
			continue
		}
		enc[key] = b
	}
	if len(enc) == 0 {
		return nil
	}
	if err := ic.provider.SetMany(ctx, enc, ttl); err != nil {
		ic.hooks.StoreError("set", ic.scope.Prefix(), err)
		return err
	}
	return nil
}
