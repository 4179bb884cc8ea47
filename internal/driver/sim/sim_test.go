package sim

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-dispatch/internal/driver"
)

func TestFactory(t *testing.T) {
	tests := []struct {
		name    string
		config  map[string]any
		wantErr bool
	}{
		{"valid", map[string]any{"ports": []any{"1", "2"}, "latency": "5ms"}, false},
		{"no ports", map[string]any{}, true},
		{"empty port name", map[string]any{"ports": []any{""}}, true},
		{"initial for unknown port", map[string]any{"ports": []any{"1"}, "initial": map[string]any{"9": 1}}, true},
		{"unknown field", map[string]any{"ports": []any{"1"}, "colour": "red"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			phi, err := Factory(context.Background(), driver.PHISpec{ID: "sim1", Type: Type, Config: tt.config}, driver.NoopLogger{})
			if tt.wantErr {
				if !errors.Is(err, driver.ErrInvalidConfig) {
					t.Fatalf("Factory() error = %v, want ErrInvalidConfig", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Factory() error = %v", err)
			}
			if phi.ID() != "sim1" {
				t.Errorf("ID() = %q, want %q", phi.ID(), "sim1")
			}
		})
	}
}

func TestGetSet(t *testing.T) {
	p := New("relays", Config{Ports: []string{"1", "2"}, Initial: map[string]any{"1": false}})
	ctx := context.Background()

	v, err := p.Get(ctx, "1")
	if err != nil || v != false {
		t.Fatalf("Get(1) = %v, %v; want false, nil", v, err)
	}

	if _, err := p.Get(ctx, "2"); !errors.Is(err, driver.ErrNoValue) {
		t.Errorf("Get(2) never written error = %v, want ErrNoValue", err)
	}
	if _, err := p.Get(ctx, "9"); !errors.Is(err, driver.ErrResourceNotFound) {
		t.Errorf("Get(9) error = %v, want ErrResourceNotFound", err)
	}

	if err := p.Set(ctx, "2", 1); err != nil {
		t.Fatalf("Set(2) error = %v", err)
	}
	if v, _ := p.Get(ctx, "2"); v != 1 {
		t.Errorf("Get(2) = %v, want 1", v)
	}

	writes := p.Writes()
	if len(writes) != 1 || writes[0] != (Write{Port: "2", Value: 1}) {
		t.Errorf("Writes() = %v", writes)
	}
}

func TestUnavailableAndFailures(t *testing.T) {
	p := New("s", Config{Ports: []string{"t"}, Initial: map[string]any{"t": 21.5}})
	ctx := context.Background()

	p.SetUnavailable("t", true)
	if _, err := p.Get(ctx, "t"); !errors.Is(err, driver.ErrNoValue) {
		t.Errorf("Get on unavailable port error = %v, want ErrNoValue", err)
	}
	p.SetUnavailable("t", false)

	boom := errors.New("bus fault")
	p.Fail("t", boom)
	if _, err := p.Get(ctx, "t"); !errors.Is(err, boom) {
		t.Errorf("Get on failing port error = %v, want %v", err, boom)
	}
	if err := p.Set(ctx, "t", 1); !errors.Is(err, boom) {
		t.Errorf("Set on failing port error = %v, want %v", err, boom)
	}
	p.Fail("t", nil)

	if v, err := p.Get(ctx, "t"); err != nil || v != 21.5 {
		t.Errorf("Get after clearing = %v, %v", v, err)
	}
}

func TestReadOnly(t *testing.T) {
	p := New("ro", Config{Ports: []string{"1"}, ReadOnly: true})

	if driver.HasCapability(p, driver.CapWrite) {
		t.Error("read-only PHI declares write capability")
	}
	if err := p.Set(context.Background(), "1", true); !errors.Is(err, driver.ErrUnsupported) {
		t.Errorf("Set() error = %v, want ErrUnsupported", err)
	}
}

func TestLatencyHonoursContext(t *testing.T) {
	p := New("slow", Config{Ports: []string{"1"}, Latency: time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := p.Set(ctx, "1", true)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Set() error = %v, want DeadlineExceeded", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("Set ignored context deadline")
	}
	if len(p.Writes()) != 0 {
		t.Error("write recorded despite timeout")
	}
}

func TestEvents(t *testing.T) {
	p := New("ev", Config{Ports: []string{"1"}})
	ctx := context.Background()

	var mu sync.Mutex
	var events []driver.Event
	p.SetEventHandler(func(e driver.Event) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	})

	_ = p.Set(ctx, "1", true)
	_ = p.Set(ctx, "1", true) // unchanged, no event
	p.Inject("1", false)

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	if events[0].Value != true || events[1].Value != false {
		t.Errorf("event values = %v, %v", events[0].Value, events[1].Value)
	}
	if events[0].PHI != "ev" || events[0].Port != "1" {
		t.Errorf("event = %+v", events[0])
	}
}

func TestClose(t *testing.T) {
	p := New("c", Config{Ports: []string{"1"}})
	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !p.Closed() {
		t.Error("Closed() = false")
	}
	if err := p.Set(context.Background(), "1", 1); !errors.Is(err, driver.ErrDriverError) {
		t.Errorf("Set after Close error = %v, want ErrDriverError", err)
	}
}
