package queue

import "errors"

// Domain errors for the queue package.
var (
	// ErrQueueStopped is returned by Put when the queue is not running.
	ErrQueueStopped = errors.New("queue: not running")

	// ErrActionNotFound is returned for unknown or aged-out action ids.
	ErrActionNotFound = errors.New("queue: action not found")

	// ErrActionFinished is returned by Terminate for actions that already
	// reached a final status.
	ErrActionFinished = errors.New("queue: action already finished")

	// ErrInvalidAction is returned by Put for malformed requests.
	ErrInvalidAction = errors.New("queue: invalid action")
)
