package mqtt

import "errors"

var (
	// ErrConnectionFailed means the broker could not be reached within the
	// connect timeout.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrNotConnected is returned by Publish and HealthCheck while the broker
	// link is down.
	ErrNotConnected = errors.New("mqtt: not connected")

	// ErrOutboxFull means a notification was dropped because the sender is
	// behind.
	ErrOutboxFull = errors.New("mqtt: outbox full")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("mqtt: client closed")

	ErrInvalidTopic = errors.New("mqtt: invalid topic")
	ErrInvalidQoS   = errors.New("mqtt: qos must be 0, 1 or 2")
	ErrTooLarge     = errors.New("mqtt: payload too large")
)
