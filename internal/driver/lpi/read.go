package lpi

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-dispatch/internal/driver"
)

// defaultTimeout bounds a state evaluation or action when neither the
// caller nor the configuration set one.
const defaultTimeout = 5 * time.Second

// effectiveTimeout picks the caller's timeout, then the configured one.
func effectiveTimeout(requested, configured time.Duration) time.Duration {
	if requested > 0 {
		return requested
	}
	if configured > 0 {
		return configured
	}
	return defaultTimeout
}

// readPorts reads every port under one shared deadline and applies
// per-port modifiers. A port reporting ErrNoValue yields a skip result when
// last carries a previous value and an error result otherwise.
func readPorts(ctx context.Context, phi driver.PHI, ports []driver.PortRef, timeout time.Duration, last driver.Cached) ([]any, *driver.StateResult) {
	ctx, cancel := driver.WithTimeout(ctx, timeout)
	defer cancel()

	values := make([]any, 0, len(ports))
	for _, p := range ports {
		if err := driver.Checkpoint(ctx); err != nil {
			res := driver.ErrorResult(fmt.Errorf("port %s: %w", p.Port, err))
			return nil, &res
		}

		raw, err := phi.Get(ctx, p.Port)
		if err != nil {
			err = driver.Classify(ctx, err)
			if errors.Is(err, driver.ErrNoValue) {
				if last.Valid {
					res := driver.SkipResult(last.Value)
					return nil, &res
				}
				res := driver.ErrorResult(fmt.Errorf("%w: port %s: %w", driver.ErrDriverError, p.Port, err))
				return nil, &res
			}
			res := driver.ErrorResult(fmt.Errorf("port %s: %w", p.Port, err))
			return nil, &res
		}

		v, err := p.Apply(raw)
		if err != nil {
			res := driver.ErrorResult(fmt.Errorf("%w: port %s: %w", driver.ErrDriverError, p.Port, err))
			return nil, &res
		}
		values = append(values, v)
	}
	return values, nil
}
