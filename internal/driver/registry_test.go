package driver

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-dispatch/internal/buslock"
)

// stubPHI is a minimal in-package PHI for registry tests.
type stubPHI struct {
	id      string
	mu      sync.Mutex
	values  map[string]any
	handler func(Event)
	closed  bool
	hold    time.Duration
}

func newStubPHI(id string) *stubPHI {
	return &stubPHI{id: id, values: make(map[string]any)}
}

func (s *stubPHI) ID() string                 { return s.id }
func (s *stubPHI) Capabilities() []Capability { return []Capability{CapRead, CapWrite} }

func (s *stubPHI) Get(_ context.Context, port string) (any, error) {
	time.Sleep(s.hold)
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[port]
	if !ok {
		return nil, ErrNoValue
	}
	return v, nil
}

func (s *stubPHI) Set(_ context.Context, port string, value any) error {
	time.Sleep(s.hold)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[port] = value
	return nil
}

func (s *stubPHI) SetEventHandler(fn func(Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = fn
}

func (s *stubPHI) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type stubLPI struct {
	item, phi string
}

func (l stubLPI) Item() string { return l.item }
func (l stubLPI) PHI() string  { return l.phi }
func (l stubLPI) State(context.Context, time.Duration, Cached) StateResult {
	return ValueResult(nil)
}
func (l stubLPI) Action(context.Context, string, map[string]any, time.Duration) (any, error) {
	return nil, nil
}

type stubConfig struct {
	Port string `yaml:"port" validate:"required"`
}

func newTestRegistry(locks *buslock.Registry) (*Registry, map[string]*stubPHI) {
	built := make(map[string]*stubPHI)
	r := NewRegistry(locks)
	r.RegisterPHIType("stub", func(_ context.Context, spec PHISpec, _ Logger) (PHI, error) {
		var cfg stubConfig
		if err := DecodeConfig(spec.Config, &cfg); err != nil {
			return nil, err
		}
		p := newStubPHI(spec.ID)
		built[spec.ID] = p
		return p, nil
	})
	r.RegisterLPIType("stub", func(spec LPISpec, phi PHI) (LPI, error) {
		return stubLPI{item: spec.Item, phi: phi.ID()}, nil
	})
	return r, built
}

func TestRegistry_LoadAll_IsolatesFailures(t *testing.T) {
	r, _ := newTestRegistry(nil)
	ctx := context.Background()

	phis := []PHISpec{
		{ID: "good", Type: "stub", Config: map[string]any{"port": "1"}},
		{ID: "bad-schema", Type: "stub", Config: map[string]any{}},
		{ID: "bad-type", Type: "nope", Config: map[string]any{"port": "1"}},
		{ID: "good", Type: "stub", Config: map[string]any{"port": "1"}},
	}
	lpis := []LPISpec{
		{Item: "lamp", Type: "stub", PHI: "good"},
		{Item: "orphan", Type: "stub", PHI: "bad-schema"},
	}

	err := r.LoadAll(ctx, phis, lpis)
	if err == nil {
		t.Fatal("LoadAll() error = nil, want joined failures")
	}
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("LoadAll() error = %v, want ErrInvalidConfig", err)
	}
	if !errors.Is(err, ErrResourceNotFound) {
		t.Errorf("LoadAll() error = %v, want ErrResourceNotFound for orphan", err)
	}

	if _, err := r.PHI("good"); err != nil {
		t.Errorf("PHI(good) error = %v", err)
	}
	if _, err := r.PHI("bad-schema"); !errors.Is(err, ErrResourceNotFound) {
		t.Errorf("PHI(bad-schema) error = %v, want ErrResourceNotFound", err)
	}
	if _, err := r.LPI("lamp"); err != nil {
		t.Errorf("LPI(lamp) error = %v", err)
	}
	if _, err := r.LPI("orphan"); !errors.Is(err, ErrResourceNotFound) {
		t.Errorf("LPI(orphan) error = %v, want ErrResourceNotFound", err)
	}
}

func TestRegistry_ItemsForPHI(t *testing.T) {
	r, _ := newTestRegistry(nil)
	ctx := context.Background()

	if _, err := r.LoadPHI(ctx, PHISpec{ID: "relay", Type: "stub", Config: map[string]any{"port": "1"}}); err != nil {
		t.Fatalf("LoadPHI() error = %v", err)
	}
	for _, item := range []string{"b", "a"} {
		if _, err := r.LoadLPI(LPISpec{Item: item, Type: "stub", PHI: "relay"}); err != nil {
			t.Fatalf("LoadLPI(%s) error = %v", item, err)
		}
	}

	got := r.ItemsForPHI("relay")
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("ItemsForPHI() = %v, want [a b]", got)
	}
	if ids := r.PHIIDs(); len(ids) != 1 || ids[0] != "relay" {
		t.Errorf("PHIIDs() = %v, want [relay]", ids)
	}
}

func TestRegistry_EventHandlerAppliesToLaterPHIs(t *testing.T) {
	r, built := newTestRegistry(nil)
	ctx := context.Background()

	r.SetEventHandler(func(Event) {})
	if _, err := r.LoadPHI(ctx, PHISpec{ID: "late", Type: "stub", Config: map[string]any{"port": "1"}}); err != nil {
		t.Fatalf("LoadPHI() error = %v", err)
	}

	p := built["late"]
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.handler == nil {
		t.Error("event handler not installed on PHI loaded after SetEventHandler")
	}
}

func TestRegistry_Close(t *testing.T) {
	r, built := newTestRegistry(nil)
	ctx := context.Background()

	if _, err := r.LoadPHI(ctx, PHISpec{ID: "p", Type: "stub", Config: map[string]any{"port": "1"}}); err != nil {
		t.Fatalf("LoadPHI() error = %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !built["p"].closed {
		t.Error("PHI not closed")
	}
	if _, err := r.PHI("p"); !errors.Is(err, ErrResourceNotFound) {
		t.Errorf("PHI after Close error = %v, want ErrResourceNotFound", err)
	}
}

func TestRegistry_BusGuard(t *testing.T) {
	locks := buslock.New(50 * time.Millisecond)
	r, built := newTestRegistry(locks)
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		spec := PHISpec{ID: id, Type: "stub", Bus: "rs485", Config: map[string]any{"port": "1"}}
		if _, err := r.LoadPHI(ctx, spec); err != nil {
			t.Fatalf("LoadPHI(%s) error = %v", id, err)
		}
	}
	built["a"].hold = 200 * time.Millisecond

	a, _ := r.PHI("a")
	b, _ := r.PHI("b")

	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		close(started)
		done <- a.Set(ctx, "1", true)
	}()
	<-started
	time.Sleep(20 * time.Millisecond)

	if !locks.IsHeld("rs485") {
		t.Fatal("bus not held during guarded Set")
	}
	if err := b.Set(ctx, "1", true); !errors.Is(err, ErrResourceBusy) {
		t.Errorf("concurrent Set on shared bus error = %v, want ErrResourceBusy", err)
	}

	if err := <-done; err != nil {
		t.Fatalf("guarded Set error = %v", err)
	}
	if locks.IsHeld("rs485") {
		t.Error("bus still held after guarded Set returned")
	}
	if err := b.Set(ctx, "1", false); err != nil {
		t.Errorf("Set after release error = %v", err)
	}
}

func TestDecodeConfig(t *testing.T) {
	var cfg stubConfig

	if err := DecodeConfig(map[string]any{"port": "3"}, &cfg); err != nil {
		t.Fatalf("DecodeConfig() error = %v", err)
	}
	if cfg.Port != "3" {
		t.Errorf("Port = %q, want %q", cfg.Port, "3")
	}

	tests := []struct {
		name string
		raw  map[string]any
	}{
		{"missing required", map[string]any{}},
		{"unknown key", map[string]any{"port": "1", "extra": true}},
		{"wrong type", map[string]any{"port": []string{"a"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c stubConfig
			if err := DecodeConfig(tt.raw, &c); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("DecodeConfig() error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}
