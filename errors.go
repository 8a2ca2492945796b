package cqcache

import (
	"fmt"
)

// InvalidationError describes a failed best-effort invalidation of one key or prefix.
// The entry will still expire through its TTL.
type InvalidationError struct {
	Key        string
	Prefix     bool
	RemoveErr  error
	PublishErr error
}

func (e *InvalidationError) Error() string {
	what := "key"
	if e.Prefix {
		what = "prefix"
	}
	switch {
	case e.RemoveErr != nil && e.PublishErr != nil:
		return fmt.Sprintf("invalidate %s %q failed: remove and publish failed: remove=%v; publish=%v",
			what, e.Key, e.RemoveErr, e.PublishErr)
	case e.RemoveErr != nil:
		return fmt.Sprintf("invalidate %s %q: remove failed: %v", what, e.Key, e.RemoveErr)
	case e.PublishErr != nil:
		return fmt.Sprintf("invalidate %s %q: publish failed: %v", what, e.Key, e.PublishErr)
	default:
		return fmt.Sprintf("invalidate %s %q: unknown error", what, e.Key)
	}
}

func (e *InvalidationError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.RemoveErr != nil {
		errs = append(errs, e.RemoveErr)
	}
	if e.PublishErr != nil {
		errs = append(errs, e.PublishErr)
	}
	return errs
}
