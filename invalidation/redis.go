package invalidation

import (
	"context"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"
	pr "github.com/unkn0wn-root/cqcache/provider"
	"go.uber.org/zap"
)

// RedisPublisher publishes events on a Redis pub/sub channel.
type RedisPublisher struct {
	rdb     goredis.UniversalClient
	channel string
	origin  string
	now     func() time.Time
}

var _ Publisher = (*RedisPublisher)(nil)

type RedisConfig struct {
	Client  goredis.UniversalClient
	Channel string // "" => DefaultChannel
	Origin  string // "" => NewOrigin()
}

func NewRedisPublisher(cfg RedisConfig) (*RedisPublisher, error) {
	if cfg.Client == nil {
		return nil, pr.ErrNilClient
	}
	p := &RedisPublisher{rdb: cfg.Client, channel: cfg.Channel, origin: cfg.Origin, now: time.Now}
	if p.channel == "" {
		p.channel = DefaultChannel
	}
	if p.origin == "" {
		p.origin = NewOrigin()
	}
	return p, nil
}

// Origin returns the id stamped on published events.
func (p *RedisPublisher) Origin() string { return p.origin }

func (p *RedisPublisher) Publish(ctx context.Context, key string) error {
	return p.publish(ctx, KindKey, key)
}

func (p *RedisPublisher) PublishPrefix(ctx context.Context, prefix string) error {
	return p.publish(ctx, KindPrefix, prefix)
}

func (p *RedisPublisher) publish(ctx context.Context, kind Kind, key string) error {
	b, err := Encode(Event{Kind: kind, Key: key, Origin: p.origin, At: p.now().UTC()})
	if err != nil {
		return err
	}
	return p.rdb.Publish(ctx, p.channel, b).Err()
}

// RedisSubscriber applies events received on a Redis channel.
type RedisSubscriber struct {
	rdb     goredis.UniversalClient
	channel string
	applier *Applier
	logger  *zap.Logger
}

func NewRedisSubscriber(client goredis.UniversalClient, channel string, a *Applier) (*RedisSubscriber, error) {
	if client == nil {
		return nil, pr.ErrNilClient
	}
	if a == nil || a.Target == nil {
		return nil, errors.New("invalidation: applier with a target provider is required")
	}
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisSubscriber{rdb: client, channel: channel, applier: a, logger: a.logger()}, nil
}

// Run subscribes and applies events until ctx is done. Per-event failures are
// logged and do not stop the loop.
func (s *RedisSubscriber) Run(ctx context.Context) error {
	ps := s.rdb.Subscribe(ctx, s.channel)
	defer ps.Close()

	// wait for the subscription to be confirmed so callers can rely on it
	if _, err := ps.Receive(ctx); err != nil {
		return err
	}

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if _, err := s.applier.Apply(ctx, []byte(msg.Payload)); err != nil {
				s.logger.Warn("remote invalidation failed",
					zap.String("channel", s.channel),
					zap.Error(err))
			}
		}
	}
}
