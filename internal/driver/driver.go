package driver

import (
	"context"
	"slices"
	"time"
)

// Capability is a feature a PHI declares.
type Capability string

const (
	CapRead   Capability = "read"
	CapWrite  Capability = "write"
	CapEvents Capability = "events"
)

// Event is an asynchronous hardware change reported by a PHI.
type Event struct {
	PHI   string    `json:"phi"`
	Port  string    `json:"port"`
	Value any       `json:"value"`
	Time  time.Time `json:"time"`
}

// PHI is a physical hardware interface: one instance per physical endpoint.
//
// Get returns ErrNoValue when the value is transiently unavailable; any
// other error is a failure. The call's timeout is carried by ctx.
type PHI interface {
	ID() string
	Capabilities() []Capability
	Get(ctx context.Context, port string) (any, error)
	Set(ctx context.Context, port string, value any) error
	SetEventHandler(fn func(Event))
	Close() error
}

// HasCapability reports whether phi declares c.
func HasCapability(phi PHI, c Capability) bool {
	return slices.Contains(phi.Capabilities(), c)
}

// StateStatus is the outcome class of an LPI state evaluation.
type StateStatus string

const (
	StateValue StateStatus = "value"
	StateSkip  StateStatus = "skip"
	StateError StateStatus = "error"
)

// Cached is the last known value of an item, passed to LPI.State so a
// transiently unavailable port can be skipped instead of reported as error.
type Cached struct {
	Value any
	Valid bool
}

// StateResult is the result of LPI.State.
type StateResult struct {
	Status StateStatus
	Value  any
	Err    error
}

// ValueResult builds a successful state result.
func ValueResult(v any) StateResult {
	return StateResult{Status: StateValue, Value: v}
}

// SkipResult builds a result telling the caller to keep the previous value.
func SkipResult(prev any) StateResult {
	return StateResult{Status: StateSkip, Value: prev}
}

// ErrorResult builds a failed state result.
func ErrorResult(err error) StateResult {
	return StateResult{Status: StateError, Err: err}
}

// LPI is a logical protocol interface: one instance per controlled item,
// bound to exactly one PHI.
//
// Action writes through the PHI under one deadline shared by every port
// write. The first failing port aborts the remaining writes; ports already
// written are not rolled back.
type LPI interface {
	Item() string
	PHI() string
	State(ctx context.Context, timeout time.Duration, last Cached) StateResult
	Action(ctx context.Context, actionID string, params map[string]any, timeout time.Duration) (any, error)
}

// Logger defines the logging interface for driver code.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// NoopLogger is a logger that does nothing.
type NoopLogger struct{}

func (NoopLogger) Debug(string, ...any) {}
func (NoopLogger) Info(string, ...any)  {}
func (NoopLogger) Warn(string, ...any)  {}
func (NoopLogger) Error(string, ...any) {}
