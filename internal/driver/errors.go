package driver

import (
	"errors"
	"fmt"
)

// Domain errors shared by PHI and LPI implementations.
var (
	// ErrInvalidConfig is returned when a driver configuration fails
	// schema validation. It is fatal to that driver instance only.
	ErrInvalidConfig = errors.New("driver: invalid configuration")

	// ErrResourceBusy is returned when a bus lock could not be acquired
	// before the timeout elapsed.
	ErrResourceBusy = errors.New("driver: resource busy")

	// ErrResourceNotFound is returned when an item, PHI or port is unknown.
	ErrResourceNotFound = errors.New("driver: resource not found")

	// ErrDriverTimeout is returned when a driver operation exceeds its
	// deadline.
	ErrDriverTimeout = errors.New("driver: operation timed out")

	// ErrDriverError is returned for hardware-reported failures.
	ErrDriverError = errors.New("driver: hardware error")

	// ErrNoValue is returned by PHI.Get when the hardware value is
	// transiently unavailable.
	ErrNoValue = errors.New("driver: no value available")

	// ErrTerminated is the cancellation cause of an action stopped by a
	// terminate request.
	ErrTerminated = errors.New("driver: action terminated")

	// ErrPreempted is the cancellation cause of an action stopped because a
	// newer action for the same item arrived. It matches ErrTerminated.
	ErrPreempted = fmt.Errorf("%w: pre-empted by newer action", ErrTerminated)

	// ErrInvalidParams is returned by LPI.Action for malformed action
	// parameters. It matches ErrDriverError.
	ErrInvalidParams = fmt.Errorf("%w: invalid action parameters", ErrDriverError)

	// ErrUnsupported is returned when a PHI lacks the capability an
	// operation needs.
	ErrUnsupported = errors.New("driver: operation not supported")
)
