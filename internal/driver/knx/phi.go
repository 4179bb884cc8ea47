package knx

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-dispatch/internal/driver"
)

// Type is the registry name of the KNX PHI.
const Type = "knx"

// defaultReadTimeout bounds how long Get waits for a group read response.
const defaultReadTimeout = 2 * time.Second

// PortConfig maps one PHI port onto the bus.
type PortConfig struct {
	// Address is the group address written by Set.
	Address string `yaml:"address" validate:"required"`
	// DPT is the datapoint type, e.g. "1.001" or "9.001".
	DPT string `yaml:"dpt" validate:"required"`
	// Status is an optional feedback address; reads and events use it
	// instead of Address when set.
	Status string `yaml:"status"`
}

// Config is the KNX PHI's configuration schema.
type Config struct {
	Connection  string                `yaml:"connection" validate:"required"`
	ReadTimeout time.Duration         `yaml:"read_timeout" validate:"gte=0"`
	Passive     bool                  `yaml:"passive"`
	Ports       map[string]PortConfig `yaml:"ports" validate:"required,min=1,dive"`
}

type port struct {
	name   string
	write  GroupAddress
	status GroupAddress
	dpt    string
}

// PHI is a KNX endpoint reached through knxd.
type PHI struct {
	id     string
	cfg    Config
	conn   Connector
	logger driver.Logger

	ports  map[string]*port
	byAddr map[GroupAddress][]*port

	mu      sync.Mutex
	mirror  map[string]any
	waiters map[string][]chan any
	handler func(driver.Event)
}

var _ driver.PHI = (*PHI)(nil)

// New builds a KNX PHI on an established connector.
func New(id string, cfg Config, conn Connector, logger driver.Logger) (*PHI, error) {
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if logger == nil {
		logger = driver.NoopLogger{}
	}

	p := &PHI{
		id:      id,
		cfg:     cfg,
		conn:    conn,
		logger:  logger,
		ports:   make(map[string]*port, len(cfg.Ports)),
		byAddr:  make(map[GroupAddress][]*port),
		mirror:  make(map[string]any),
		waiters: make(map[string][]chan any),
	}

	for name, pc := range cfg.Ports {
		pt, err := parsePort(name, pc)
		if err != nil {
			return nil, err
		}
		p.ports[name] = pt
		p.byAddr[pt.status] = append(p.byAddr[pt.status], pt)
	}

	conn.SetOnTelegram(p.handleTelegram)
	return p, nil
}

func parsePort(name string, pc PortConfig) (*port, error) {
	if !ValidDPT(pc.DPT) {
		return nil, fmt.Errorf("%w: port %s: %w %q", driver.ErrInvalidConfig, name, ErrUnsupportedDPT, pc.DPT)
	}
	write, err := ParseGroupAddress(pc.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: port %s: %w", driver.ErrInvalidConfig, name, err)
	}
	status := write
	if pc.Status != "" {
		if status, err = ParseGroupAddress(pc.Status); err != nil {
			return nil, fmt.Errorf("%w: port %s: %w", driver.ErrInvalidConfig, name, err)
		}
	}
	return &port{name: name, write: write, status: status, dpt: pc.DPT}, nil
}

// Factory builds a KNX PHI from a registry spec, dialling knxd.
func Factory(ctx context.Context, spec driver.PHISpec, logger driver.Logger) (driver.PHI, error) {
	var cfg Config
	if err := driver.DecodeConfig(spec.Config, &cfg); err != nil {
		return nil, err
	}
	if _, _, err := parseConnectionURL(cfg.Connection); err != nil {
		return nil, fmt.Errorf("%w: %w", driver.ErrInvalidConfig, err)
	}

	conn, err := Dial(ctx, ClientConfig{Connection: cfg.Connection}, logger)
	if err != nil {
		return nil, err
	}

	p, err := New(spec.ID, cfg, conn, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return p, nil
}

func (p *PHI) ID() string { return p.id }

func (p *PHI) Capabilities() []driver.Capability {
	return []driver.Capability{driver.CapRead, driver.CapWrite, driver.CapEvents}
}

// Ports returns the configured port names, sorted.
func (p *PHI) Ports() []string {
	names := make([]string, 0, len(p.ports))
	for name := range p.ports {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get returns the mirrored value of a port. With an empty mirror it issues
// a group read (unless passive) and waits for the response, returning
// ErrNoValue if none arrives within the read timeout.
func (p *PHI) Get(ctx context.Context, name string) (any, error) {
	pt, err := p.port(name)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	if v, ok := p.mirror[name]; ok {
		p.mu.Unlock()
		return v, nil
	}
	if p.cfg.Passive {
		p.mu.Unlock()
		return nil, driver.ErrNoValue
	}
	ch := make(chan any, 1)
	p.waiters[name] = append(p.waiters[name], ch)
	p.mu.Unlock()
	defer p.dropWaiter(name, ch)

	if err := p.conn.RequestRead(ctx, pt.status); err != nil {
		return nil, p.transportError(err)
	}

	timer := time.NewTimer(p.cfg.ReadTimeout)
	defer timer.Stop()

	select {
	case v := <-ch:
		return v, nil
	case <-timer.C:
		return nil, driver.ErrNoValue
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Set encodes value for the port's DPT and sends a group write.
func (p *PHI) Set(ctx context.Context, name string, value any) error {
	pt, err := p.port(name)
	if err != nil {
		return err
	}

	data, err := Encode(pt.dpt, value)
	if err != nil {
		return fmt.Errorf("%w: port %s: %w", driver.ErrInvalidParams, name, err)
	}

	if err := p.conn.Write(ctx, pt.write, data, family(pt.dpt) == dptSwitch); err != nil {
		return p.transportError(err)
	}

	// Mirror what the bus now carries, in its decoded form.
	if v, err := Decode(pt.dpt, data); err == nil {
		p.update(pt, v)
	}
	return nil
}

func (p *PHI) SetEventHandler(fn func(driver.Event)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handler = fn
}

// Close closes the knxd connection.
func (p *PHI) Close() error {
	p.conn.SetOnTelegram(nil)
	return p.conn.Close()
}

// handleTelegram mirrors values seen on the bus for mapped addresses.
func (p *PHI) handleTelegram(t Telegram) {
	if !t.carriesValue() {
		return
	}
	for _, pt := range p.byAddr[t.Destination] {
		v, err := Decode(pt.dpt, t.Data)
		if errors.Is(err, driver.ErrNoValue) {
			p.mu.Lock()
			delete(p.mirror, pt.name)
			p.mu.Unlock()
			continue
		}
		if err != nil {
			p.logger.Debug("undecodable telegram", "phi", p.id, "port", pt.name, "ga", t.Destination.String(), "error", err)
			continue
		}
		p.update(pt, v)
	}
}

// update stores v for pt, wakes pending reads, and emits an event on change.
func (p *PHI) update(pt *port, v any) {
	p.mu.Lock()
	prev, had := p.mirror[pt.name]
	p.mirror[pt.name] = v
	waiters := p.waiters[pt.name]
	delete(p.waiters, pt.name)
	handler := p.handler
	p.mu.Unlock()

	for _, ch := range waiters {
		select {
		case ch <- v:
		default:
		}
	}

	if handler != nil && (!had || !reflect.DeepEqual(prev, v)) {
		handler(driver.Event{PHI: p.id, Port: pt.name, Value: v, Time: time.Now()})
	}
}

func (p *PHI) dropWaiter(name string, ch chan any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	list := p.waiters[name]
	for i, c := range list {
		if c == ch {
			p.waiters[name] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(p.waiters[name]) == 0 {
		delete(p.waiters, name)
	}
}

func (p *PHI) port(name string) (*port, error) {
	pt, ok := p.ports[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s port %q", driver.ErrResourceNotFound, p.id, name)
	}
	return pt, nil
}

// transportError classifies connector failures. Context errors pass
// through so the LPI can map them onto its own deadline.
func (p *PHI) transportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", driver.ErrDriverError, p.id, err)
}

// Register adds the KNX PHI type to r.
func Register(r *driver.Registry) {
	r.RegisterPHIType(Type, Factory)
}
