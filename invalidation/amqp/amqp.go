// Package amqp carries invalidation events over a RabbitMQ fanout exchange.
// Every instance binds its own exclusive queue, so each one sees every event.
package amqp

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp091 "github.com/rabbitmq/amqp091-go"
	"github.com/unkn0wn-root/cqcache/invalidation"
	"go.uber.org/zap"
)

const contentType = "application/msgpack"

// Channel is the subset of *amqp091.Channel used here.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp091.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp091.Table) (amqp091.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp091.Table) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp091.Table) (<-chan amqp091.Delivery, error)
}

var _ Channel = (*amqp091.Channel)(nil)

type Config struct {
	Channel  Channel
	Exchange string // "" => invalidation.DefaultChannel
	Origin   string // "" => invalidation.NewOrigin()
}

type Publisher struct {
	ch       Channel
	exchange string
	origin   string
	now      func() time.Time
}

var _ invalidation.Publisher = (*Publisher)(nil)

// NewPublisher declares the fanout exchange and returns a publisher for it.
func NewPublisher(cfg Config) (*Publisher, error) {
	if cfg.Channel == nil {
		return nil, errors.New("amqp: nil channel")
	}
	p := &Publisher{ch: cfg.Channel, exchange: cfg.Exchange, origin: cfg.Origin, now: time.Now}
	if p.exchange == "" {
		p.exchange = invalidation.DefaultChannel
	}
	if p.origin == "" {
		p.origin = invalidation.NewOrigin()
	}
	if err := declare(p.ch, p.exchange); err != nil {
		return nil, err
	}
	return p, nil
}

func declare(ch Channel, exchange string) error {
	if err := ch.ExchangeDeclare(exchange, amqp091.ExchangeFanout, true, false, false, false, nil); err != nil {
		return fmt.Errorf("amqp: declare exchange %q: %w", exchange, err)
	}
	return nil
}

func (p *Publisher) Origin() string { return p.origin }

func (p *Publisher) Publish(ctx context.Context, key string) error {
	return p.publish(ctx, invalidation.KindKey, key)
}

func (p *Publisher) PublishPrefix(ctx context.Context, prefix string) error {
	return p.publish(ctx, invalidation.KindPrefix, prefix)
}

func (p *Publisher) publish(ctx context.Context, kind invalidation.Kind, key string) error {
	at := p.now().UTC()
	body, err := invalidation.Encode(invalidation.Event{Kind: kind, Key: key, Origin: p.origin, At: at})
	if err != nil {
		return err
	}
	return p.ch.PublishWithContext(ctx, p.exchange, "", false, false, amqp091.Publishing{
		ContentType: contentType,
		Timestamp:   at,
		AppId:       p.origin,
		Body:        body,
	})
}

// Subscriber consumes the exchange through an exclusive, auto-deleted queue.
type Subscriber struct {
	ch       Channel
	exchange string
	applier  *invalidation.Applier
	logger   *zap.Logger
}

func NewSubscriber(ch Channel, exchange string, a *invalidation.Applier) (*Subscriber, error) {
	if ch == nil {
		return nil, errors.New("amqp: nil channel")
	}
	if a == nil || a.Target == nil {
		return nil, errors.New("amqp: applier with a target provider is required")
	}
	if exchange == "" {
		exchange = invalidation.DefaultChannel
	}
	logger := a.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Subscriber{ch: ch, exchange: exchange, applier: a, logger: logger}, nil
}

// Run applies deliveries until ctx is done or the delivery channel closes.
func (s *Subscriber) Run(ctx context.Context) error {
	if err := declare(s.ch, s.exchange); err != nil {
		return err
	}
	q, err := s.ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("amqp: declare queue: %w", err)
	}
	if err := s.ch.QueueBind(q.Name, "", s.exchange, false, nil); err != nil {
		return fmt.Errorf("amqp: bind queue: %w", err)
	}
	deliveries, err := s.ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("amqp: consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			if _, err := s.applier.Apply(ctx, d.Body); err != nil {
				s.logger.Warn("remote invalidation failed",
					zap.String("exchange", s.exchange),
					zap.Error(err))
			}
		}
	}
}
