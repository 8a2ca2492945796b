package mediator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Validator is implemented by requests that can check themselves before dispatch.
type Validator interface {
	Validate() error
}

// ValidationBehavior rejects requests whose Validate method fails.
type ValidationBehavior struct {
	logger *zap.Logger
}

func NewValidationBehavior(logger *zap.Logger) *ValidationBehavior {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ValidationBehavior{logger: logger}
}

func (b *ValidationBehavior) PreProcess(_ context.Context, req any) error {
	v, ok := req.(Validator)
	if !ok {
		return nil
	}
	if err := v.Validate(); err != nil {
		b.logger.Warn("Request validation failed",
			zap.String("type", fmt.Sprintf("%T", req)),
			zap.Error(err))
		return fmt.Errorf("mediator: invalid %T: %w", req, err)
	}
	return nil
}

func (b *ValidationBehavior) PostProcess(context.Context, any, error, time.Duration) {}

// SlowRequestBehavior warns about requests slower than Threshold.
// Cache hits usually stay well below it, so a burst of warnings for a
// cacheable type is a hint that its entries are not being reused.
type SlowRequestBehavior struct {
	logger    *zap.Logger
	threshold time.Duration
}

func NewSlowRequestBehavior(logger *zap.Logger, threshold time.Duration) *SlowRequestBehavior {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SlowRequestBehavior{logger: logger, threshold: threshold}
}

func (b *SlowRequestBehavior) PreProcess(context.Context, any) error { return nil }

func (b *SlowRequestBehavior) PostProcess(_ context.Context, req any, _ error, took time.Duration) {
	if took > b.threshold {
		b.logger.Warn("Slow request detected",
			zap.String("type", fmt.Sprintf("%T", req)),
			zap.Duration("duration", took),
			zap.Duration("threshold", b.threshold))
	}
}
