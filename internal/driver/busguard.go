package driver

import (
	"context"
	"fmt"

	"github.com/nerrad567/gray-logic-dispatch/internal/buslock"
)

// busGuard wraps a PHI that shares a physical bus so that every Get and Set
// runs while holding the bus lock.
type busGuard struct {
	PHI
	bus   string
	locks *buslock.Registry
}

// GuardBus returns phi wrapped so each Get/Set holds busID's lock.
func GuardBus(phi PHI, busID string, locks *buslock.Registry) PHI {
	return &busGuard{PHI: phi, bus: busID, locks: locks}
}

// Bus returns the bus identifier the PHI is guarded by.
func (g *busGuard) Bus() string {
	return g.bus
}

// Unwrap returns the guarded PHI.
func (g *busGuard) Unwrap() PHI {
	return g.PHI
}

func (g *busGuard) Get(ctx context.Context, port string) (any, error) {
	if !g.locks.Acquire(ctx, g.bus, 0) {
		return nil, g.busyError(ctx)
	}
	defer g.locks.Release(g.bus)
	return g.PHI.Get(ctx, port)
}

func (g *busGuard) Set(ctx context.Context, port string, value any) error {
	if !g.locks.Acquire(ctx, g.bus, 0) {
		return g.busyError(ctx)
	}
	defer g.locks.Release(g.bus)
	return g.PHI.Set(ctx, port, value)
}

// busyError reports a failed acquisition. If the caller's own deadline or
// cancellation ended the wait, that cause wins over ResourceBusy.
func (g *busGuard) busyError(ctx context.Context) error {
	if err := Checkpoint(ctx); err != nil {
		return err
	}
	return fmt.Errorf("%w: bus %s", ErrResourceBusy, g.bus)
}
