package driver

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// WithTimeout derives the shared deadline for one LPI call. Every PHI call
// made under the returned context draws on the same budget. A non-positive
// timeout leaves ctx's own deadline (if any) in place.
func WithTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeoutCause(ctx, timeout, ErrDriverTimeout)
}

// Checkpoint reports whether work may continue under ctx. It is called at
// safe points between PHI calls and returns nil, ErrDriverTimeout, or the
// termination cause.
func Checkpoint(ctx context.Context) error {
	if ctx.Err() == nil {
		return nil
	}
	return causeOf(ctx)
}

// Classify maps an error returned by a PHI call made under ctx onto the
// driver error kinds. Errors already carrying a driver kind pass through
// unchanged; anything else becomes ErrDriverError.
func Classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, ErrResourceBusy),
		errors.Is(err, ErrDriverTimeout),
		errors.Is(err, ErrTerminated),
		errors.Is(err, ErrNoValue),
		errors.Is(err, ErrDriverError),
		errors.Is(err, ErrResourceNotFound),
		errors.Is(err, ErrUnsupported):
		return err
	}

	if ctx.Err() != nil {
		return fmt.Errorf("%w: %w", causeOf(ctx), err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrDriverTimeout, err)
	}
	return fmt.Errorf("%w: %w", ErrDriverError, err)
}

// causeOf returns a driver-kind error describing why ctx ended.
func causeOf(ctx context.Context) error {
	cause := context.Cause(ctx)
	switch {
	case errors.Is(cause, ErrTerminated), errors.Is(cause, ErrDriverTimeout):
		return cause
	case errors.Is(cause, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrDriverTimeout, cause)
	case cause == nil:
		return ErrTerminated
	default:
		return fmt.Errorf("%w: %w", ErrTerminated, cause)
	}
}
