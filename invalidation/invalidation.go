// Package invalidation broadcasts cache invalidations to other instances and
// applies the ones they broadcast to a local provider.
//
// Events are msgpack-encoded Event values. Each publisher stamps its Origin so
// an instance can ignore its own echoes.
package invalidation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	pr "github.com/unkn0wn-root/cqcache/provider"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

// DefaultChannel is the pub/sub channel (or exchange) used when none is configured.
const DefaultChannel = "cqcache:invalidations"

// Publisher announces removed keys and prefixes. Arguments are scoped.
type Publisher interface {
	Publish(ctx context.Context, key string) error
	PublishPrefix(ctx context.Context, prefix string) error
}

type Kind string

const (
	KindKey    Kind = "key"
	KindPrefix Kind = "prefix"
)

type Event struct {
	Kind   Kind      `msgpack:"k"`
	Key    string    `msgpack:"key"`
	Origin string    `msgpack:"o"`
	At     time.Time `msgpack:"at"`
}

// NewOrigin returns a random instance id.
func NewOrigin() string { return uuid.NewString() }

func Encode(e Event) ([]byte, error) { return msgpack.Marshal(e) }

func Decode(b []byte) (Event, error) {
	var e Event
	if err := msgpack.Unmarshal(b, &e); err != nil {
		return Event{}, fmt.Errorf("invalidation: decode event: %w", err)
	}
	switch e.Kind {
	case KindKey, KindPrefix:
	default:
		return Event{}, fmt.Errorf("invalidation: unknown event kind %q", e.Kind)
	}
	if e.Key == "" {
		return Event{}, fmt.Errorf("invalidation: empty %s", e.Kind)
	}
	return e, nil
}

// Applier removes the entries named by remote events from Target.
type Applier struct {
	Target pr.Provider
	// Origin of this instance; events carrying it are skipped.
	Origin string
	// OnEvict is called for every applied event (optional).
	OnEvict func(key string, prefix bool, removed int)
	Logger  *zap.Logger
}

// Apply decodes payload and removes what it names. It reports whether the event
// was applied (false for own-origin echoes).
func (a *Applier) Apply(ctx context.Context, payload []byte) (bool, error) {
	e, err := Decode(payload)
	if err != nil {
		return false, err
	}
	if a.Origin != "" && e.Origin == a.Origin {
		return false, nil
	}

	removed := 1
	switch e.Kind {
	case KindKey:
		err = a.Target.Del(ctx, e.Key)
	case KindPrefix:
		removed, err = a.Target.DelPrefix(ctx, e.Key)
	}
	if err != nil {
		return false, fmt.Errorf("invalidation: apply %s %q: %w", e.Kind, e.Key, err)
	}
	if a.OnEvict != nil {
		a.OnEvict(e.Key, e.Kind == KindPrefix, removed)
	}
	a.logger().Debug("applied remote invalidation",
		zap.String("kind", string(e.Kind)),
		zap.String("key", e.Key),
		zap.String("origin", e.Origin),
		zap.Int("removed", removed))
	return true, nil
}

func (a *Applier) logger() *zap.Logger {
	if a.Logger == nil {
		return zap.NewNop()
	}
	return a.Logger
}
