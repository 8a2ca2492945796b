// Package redislock implements lock.Locker on Redis with SET NX PX and a
// token-checked release, so a holder whose lock expired cannot delete a
// successor's lock.
package redislock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/unkn0wn-root/cqcache/lock"
	pr "github.com/unkn0wn-root/cqcache/provider"
)

// releaseScript deletes KEYS[1] only while it still holds our token.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type Locker struct {
	rdb goredis.UniversalClient
}

var _ lock.Locker = (*Locker)(nil)

func New(client goredis.UniversalClient) (*Locker, error) {
	if client == nil {
		return nil, pr.ErrNilClient
	}
	return &Locker{rdb: client}, nil
}

func (l *Locker) TryAcquire(ctx context.Context, key string, expiry time.Duration) (lock.Handle, bool, error) {
	if expiry <= 0 {
		return nil, false, lock.ErrInvalidExpiry
	}
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, key, token, expiry).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return lock.NewHandle(key, expiry, func(ctx context.Context) error {
		return l.release(ctx, key, token)
	}), true, nil
}

func (l *Locker) release(ctx context.Context, key, token string) error {
	n, err := releaseScript.Run(ctx, l.rdb, []string{key}, token).Int()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return err
	}
	if n == 0 {
		return lock.ErrNotHeld
	}
	return nil
}
