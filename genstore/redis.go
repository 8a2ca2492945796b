package genstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	pr "github.com/unkn0wn-root/cqcache/provider"
)

const redisKeyPrefix = "gen:"

// Redis shares generations across instances. With a TTL, generation keys that
// are not bumped expire; readers then see 0 and the CAS guard still holds for
// snapshots taken after the expiry.
type Redis struct {
	rdb goredis.UniversalClient
	ttl time.Duration
}

var _ Store = (*Redis)(nil)

// NewRedis returns a Redis-backed store. ttl <= 0 keeps generation keys forever.
func NewRedis(client goredis.UniversalClient, ttl time.Duration) (*Redis, error) {
	if client == nil {
		return nil, pr.ErrNilClient
	}
	return &Redis{rdb: client, ttl: ttl}, nil
}

func (s *Redis) key(k string) string { return redisKeyPrefix + k }

func (s *Redis) Snapshot(ctx context.Context, key string) (uint64, error) {
	res, err := s.rdb.Get(ctx, s.key(key)).Result()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return parseGen(key, res)
}

func (s *Redis) SnapshotMany(ctx context.Context, keys []string) (map[string]uint64, error) {
	out := make(map[string]uint64, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	rk := make([]string, len(keys))
	for i, k := range keys {
		rk[i] = s.key(k)
	}
	vals, err := s.rdb.MGet(ctx, rk...).Result()
	if err != nil {
		return nil, err
	}
	for i, v := range vals {
		var g uint64
		switch vv := v.(type) {
		case nil:
		case string:
			if g, err = parseGen(keys[i], vv); err != nil {
				return nil, err
			}
		case []byte:
			if g, err = parseGen(keys[i], string(vv)); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("genstore: unexpected %T at %s", v, keys[i])
		}
		out[keys[i]] = g
	}
	return out, nil
}

// Bump pipelines INCR with EXPIRE when a TTL is configured.
func (s *Redis) Bump(ctx context.Context, key string) (uint64, error) {
	k := s.key(key)
	if s.ttl <= 0 {
		v, err := s.rdb.Incr(ctx, k).Result()
		if err != nil {
			return 0, err
		}
		return uint64(v), nil
	}

	var incr *goredis.IntCmd
	_, err := s.rdb.Pipelined(ctx, func(p goredis.Pipeliner) error {
		incr = p.Incr(ctx, k)
		p.Expire(ctx, k, s.ttl)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return uint64(incr.Val()), nil
}

// Close is a no-op; the client is owned by the caller.
func (s *Redis) Close(context.Context) error { return nil }

func parseGen(key, s string) (uint64, error) {
	u, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("genstore: parse generation at %s: %w", key, err)
	}
	return u, nil
}
