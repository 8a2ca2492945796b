// Package mediator is a typed request dispatcher that routes queries and
// commands through the cqcache interceptors.
//
// Handlers are registered per request type. Whether a request type is
// Cacheable or Invalidatable is decided once at registration, so dispatch
// does no capability probing on the hot path.
package mediator

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/unkn0wn-root/cqcache"
	c "github.com/unkn0wn-root/cqcache/codec"
	"go.uber.org/zap"
)

var (
	ErrNoHandler        = errors.New("mediator: no handler registered")
	ErrDuplicateHandler = errors.New("mediator: handler already registered")
	ErrHandlerType      = errors.New("mediator: handler registered with a different result type")
)

var (
	cacheableType     = reflect.TypeOf((*cqcache.Cacheable)(nil)).Elem()
	invalidatableType = reflect.TypeOf((*cqcache.Invalidatable)(nil)).Elem()
)

// Behavior runs around every dispatch. PreProcess can abort the request.
type Behavior interface {
	PreProcess(ctx context.Context, req any) error
	PostProcess(ctx context.Context, req any, err error, took time.Duration)
}

// Mediator owns the handler registry. Registration is expected at startup;
// dispatch is safe for concurrent use.
type Mediator struct {
	ic     *cqcache.Interceptor
	logger *zap.Logger

	mu        sync.RWMutex
	queries   map[reflect.Type]any
	commands  map[reflect.Type]any
	behaviors []Behavior
}

type queryEntry[Q, R any] struct {
	handle    func(context.Context, Q) (R, error)
	codec     c.Codec[R]
	cacheable bool
}

type commandEntry[C, R any] struct {
	handle        func(context.Context, C) (R, error)
	invalidatable bool
}

// New builds a Mediator. A nil Interceptor dispatches straight to handlers.
func New(ic *cqcache.Interceptor, logger *zap.Logger) *Mediator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mediator{
		ic:       ic,
		logger:   logger,
		queries:  make(map[reflect.Type]any),
		commands: make(map[reflect.Type]any),
	}
}

// AddBehavior appends b to the pipeline.
func (m *Mediator) AddBehavior(b Behavior) {
	m.mu.Lock()
	m.behaviors = append(m.behaviors, b)
	m.mu.Unlock()
	m.logger.Info("Added behavior to mediator pipeline",
		zap.String("behavior", fmt.Sprintf("%T", b)))
}

// HandleQuery registers the handler for query type Q. codec is only used when
// Q implements cqcache.Cacheable and may be nil otherwise.
func HandleQuery[Q, R any](m *Mediator, codec c.Codec[R], h func(context.Context, Q) (R, error)) error {
	t := reflect.TypeOf((*Q)(nil)).Elem()
	cacheable := t.Implements(cacheableType)
	if cacheable && codec == nil {
		return fmt.Errorf("mediator: %v is cacheable but has no codec", t)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.queries[t]; ok {
		return fmt.Errorf("%w: query %v", ErrDuplicateHandler, t)
	}
	m.queries[t] = &queryEntry[Q, R]{handle: h, codec: codec, cacheable: cacheable}
	m.logger.Debug("Registered query handler",
		zap.Stringer("query", t), zap.Bool("cacheable", cacheable))
	return nil
}

// HandleCommand registers the handler for command type C.
func HandleCommand[C, R any](m *Mediator, h func(context.Context, C) (R, error)) error {
	t := reflect.TypeOf((*C)(nil)).Elem()
	invalidatable := t.Implements(invalidatableType)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.commands[t]; ok {
		return fmt.Errorf("%w: command %v", ErrDuplicateHandler, t)
	}
	m.commands[t] = &commandEntry[C, R]{handle: h, invalidatable: invalidatable}
	m.logger.Debug("Registered command handler",
		zap.Stringer("command", t), zap.Bool("invalidatable", invalidatable))
	return nil
}

// Ask dispatches query q to its handler, through the read cache when Q is cacheable.
func Ask[Q, R any](ctx context.Context, m *Mediator, q Q) (R, error) {
	var zero R
	t := reflect.TypeOf((*Q)(nil)).Elem()

	m.mu.RLock()
	raw, ok := m.queries[t]
	behaviors := m.behaviors
	m.mu.RUnlock()
	if !ok {
		return zero, fmt.Errorf("%w: query %v", ErrNoHandler, t)
	}
	e, ok := raw.(*queryEntry[Q, R])
	if !ok {
		return zero, fmt.Errorf("%w: query %v", ErrHandlerType, t)
	}

	next := func(ctx context.Context) (R, error) { return e.handle(ctx, q) }
	return dispatch(ctx, m, behaviors, "query", q, func(ctx context.Context) (R, error) {
		if !e.cacheable {
			return next(ctx)
		}
		return cqcache.Query(ctx, m.ic, q, e.codec, next)
	})
}

// Send dispatches command cmd to its handler and invalidates afterwards when C
// is invalidatable.
func Send[C, R any](ctx context.Context, m *Mediator, cmd C) (R, error) {
	var zero R
	t := reflect.TypeOf((*C)(nil)).Elem()

	m.mu.RLock()
	raw, ok := m.commands[t]
	behaviors := m.behaviors
	m.mu.RUnlock()
	if !ok {
		return zero, fmt.Errorf("%w: command %v", ErrNoHandler, t)
	}
	e, ok := raw.(*commandEntry[C, R])
	if !ok {
		return zero, fmt.Errorf("%w: command %v", ErrHandlerType, t)
	}

	next := func(ctx context.Context) (R, error) { return e.handle(ctx, cmd) }
	return dispatch(ctx, m, behaviors, "command", cmd, func(ctx context.Context) (R, error) {
		if !e.invalidatable {
			return next(ctx)
		}
		return cqcache.Command(ctx, m.ic, cmd, next)
	})
}

func dispatch[R any](ctx context.Context, m *Mediator, behaviors []Behavior, kind string, req any, run func(context.Context) (R, error)) (R, error) {
	var zero R
	start := time.Now()
	typ := fmt.Sprintf("%T", req)

	for _, b := range behaviors {
		if err := b.PreProcess(ctx, req); err != nil {
			m.logger.Error("Pre-processing behavior failed",
				zap.String(kind, typ),
				zap.Error(err),
				zap.Duration("duration", time.Since(start)))
			return zero, err
		}
	}

	res, err := run(ctx)
	took := time.Since(start)
	for _, b := range behaviors {
		b.PostProcess(ctx, req, err, took)
	}

	if err != nil {
		m.logger.Error("Request execution failed",
			zap.String(kind, typ),
			zap.Error(err),
			zap.Duration("duration", took))
		return zero, err
	}
	m.logger.Debug("Request executed successfully",
		zap.String(kind, typ),
		zap.Duration("duration", took))
	return res, nil
}
