// Package sim provides an in-memory PHI used for commissioning and tests.
//
// A simulated endpoint exposes a fixed set of ports. Tests can inject
// hardware-side changes, make ports unavailable or failing, and add
// latency to every call.
package sim

import (
	"context"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-dispatch/internal/driver"
)

// Type is the registry name of the simulated PHI.
const Type = "sim"

// Config is the simulated PHI's configuration schema.
type Config struct {
	Ports    []string       `yaml:"ports" validate:"required,min=1,dive,required"`
	Initial  map[string]any `yaml:"initial"`
	Latency  time.Duration  `yaml:"latency" validate:"gte=0"`
	ReadOnly bool           `yaml:"read_only"`
}

// Write records one Set call accepted by the endpoint.
type Write struct {
	Port  string
	Value any
}

// PHI is a simulated hardware endpoint.
type PHI struct {
	id  string
	cfg Config

	mu          sync.Mutex
	values      map[string]any
	unavailable map[string]bool
	failures    map[string]error
	writes      []Write
	handler     func(driver.Event)
	closed      bool
}

var _ driver.PHI = (*PHI)(nil)

// New creates a simulated PHI from a validated configuration.
func New(id string, cfg Config) *PHI {
	p := &PHI{
		id:          id,
		cfg:         cfg,
		values:      make(map[string]any),
		unavailable: make(map[string]bool),
		failures:    make(map[string]error),
	}
	for port, v := range cfg.Initial {
		p.values[port] = v
	}
	return p
}

// Factory builds a simulated PHI from a registry spec.
func Factory(_ context.Context, spec driver.PHISpec, _ driver.Logger) (driver.PHI, error) {
	var cfg Config
	if err := driver.DecodeConfig(spec.Config, &cfg); err != nil {
		return nil, err
	}
	for port := range cfg.Initial {
		if !slices.Contains(cfg.Ports, port) {
			return nil, fmt.Errorf("%w: initial value for undeclared port %q", driver.ErrInvalidConfig, port)
		}
	}
	return New(spec.ID, cfg), nil
}

func (p *PHI) ID() string { return p.id }

func (p *PHI) Capabilities() []driver.Capability {
	if p.cfg.ReadOnly {
		return []driver.Capability{driver.CapRead, driver.CapEvents}
	}
	return []driver.Capability{driver.CapRead, driver.CapWrite, driver.CapEvents}
}

// Get returns the port's current value.
func (p *PHI) Get(ctx context.Context, port string) (any, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.check(port); err != nil {
		return nil, err
	}
	if p.unavailable[port] {
		return nil, driver.ErrNoValue
	}
	v, ok := p.values[port]
	if !ok {
		return nil, driver.ErrNoValue
	}
	return v, nil
}

// Set writes value to port and emits a change event if the value changed.
func (p *PHI) Set(ctx context.Context, port string, value any) error {
	if p.cfg.ReadOnly {
		return fmt.Errorf("%w: %s is read-only", driver.ErrUnsupported, p.id)
	}
	if err := p.wait(ctx); err != nil {
		return err
	}

	p.mu.Lock()
	if err := p.check(port); err != nil {
		p.mu.Unlock()
		return err
	}
	p.writes = append(p.writes, Write{Port: port, Value: value})
	prev, had := p.values[port]
	p.values[port] = value
	handler := p.handler
	p.mu.Unlock()

	if handler != nil && (!had || !reflect.DeepEqual(prev, value)) {
		handler(driver.Event{PHI: p.id, Port: port, Value: value, Time: time.Now()})
	}
	return nil
}

func (p *PHI) SetEventHandler(fn func(driver.Event)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handler = fn
}

func (p *PHI) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Inject simulates a hardware-side change of port, emitting an event.
func (p *PHI) Inject(port string, value any) {
	p.mu.Lock()
	p.values[port] = value
	delete(p.unavailable, port)
	handler := p.handler
	p.mu.Unlock()

	if handler != nil {
		handler(driver.Event{PHI: p.id, Port: port, Value: value, Time: time.Now()})
	}
}

// SetUnavailable makes Get on port return ErrNoValue until cleared.
func (p *PHI) SetUnavailable(port string, unavailable bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if unavailable {
		p.unavailable[port] = true
	} else {
		delete(p.unavailable, port)
	}
}

// Fail makes every call on port return err until cleared with a nil err.
func (p *PHI) Fail(port string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		delete(p.failures, port)
		return
	}
	p.failures[port] = err
}

// Writes returns the accepted Set calls in order.
func (p *PHI) Writes() []Write {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.writes)
}

// Values returns a snapshot of all port values.
func (p *PHI) Values() map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return maps.Clone(p.values)
}

// Ports returns the declared port names.
func (p *PHI) Ports() []string {
	return slices.Clone(p.cfg.Ports)
}

// Closed reports whether Close has been called.
func (p *PHI) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// check validates port and injected failures. Caller holds p.mu.
func (p *PHI) check(port string) error {
	if p.closed {
		return fmt.Errorf("%w: %s is closed", driver.ErrDriverError, p.id)
	}
	if !slices.Contains(p.cfg.Ports, port) {
		return fmt.Errorf("%w: %s port %q", driver.ErrResourceNotFound, p.id, port)
	}
	if err := p.failures[port]; err != nil {
		return err
	}
	return nil
}

// wait applies the configured latency, honouring ctx.
func (p *PHI) wait(ctx context.Context) error {
	if p.cfg.Latency <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(p.cfg.Latency)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Register adds the simulated PHI type to r.
func Register(r *driver.Registry) {
	r.RegisterPHIType(Type, Factory)
}
