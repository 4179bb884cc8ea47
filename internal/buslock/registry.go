package buslock

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// DefaultTimeout is the acquisition timeout used when neither the caller
// nor the bus configuration provide one.
const DefaultTimeout = 500 * time.Millisecond

// Observer receives acquisition outcomes, e.g. for metrics.
type Observer interface {
	ObserveBusLock(busID string, wait time.Duration, acquired bool)
}

// Logger defines the logging interface for the registry.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// busLock is a single bus's mutual exclusion primitive.
type busLock struct {
	sem  *semaphore.Weighted
	held atomic.Bool

	acquisitions atomic.Uint64
	timeouts     atomic.Uint64
}

// Registry maps bus identifiers to locks.
type Registry struct {
	mu       sync.Mutex
	buses    map[string]*busLock
	timeouts map[string]time.Duration
	fallback time.Duration

	observer Observer
	logger   Logger
}

// New creates an empty registry. fallback is the timeout used for buses
// without a configured timeout; zero selects DefaultTimeout.
func New(fallback time.Duration) *Registry {
	if fallback <= 0 {
		fallback = DefaultTimeout
	}
	return &Registry{
		buses:    make(map[string]*busLock),
		timeouts: make(map[string]time.Duration),
		fallback: fallback,
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// SetObserver sets the acquisition observer.
func (r *Registry) SetObserver(o Observer) {
	r.observer = o
}

// Configure sets the default acquisition timeout for a bus and creates its
// lock eagerly.
func (r *Registry) Configure(busID string, timeout time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if timeout > 0 {
		r.timeouts[busID] = timeout
	}
	if _, ok := r.buses[busID]; !ok {
		r.buses[busID] = newBusLock()
	}
}

// Timeout returns the default acquisition timeout for a bus.
func (r *Registry) Timeout(busID string) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.timeouts[busID]; ok {
		return t
	}
	return r.fallback
}

// Acquire obtains the lock for busID, waiting at most timeout. A zero
// timeout uses the bus's configured default; a negative timeout tries once
// without waiting. It returns false if the lock could not be obtained before
// the timeout elapsed or ctx was done.
func (r *Registry) Acquire(ctx context.Context, busID string, timeout time.Duration) bool {
	l := r.lockFor(busID)
	if timeout == 0 {
		timeout = r.Timeout(busID)
	}

	start := time.Now()
	var acquired bool
	if timeout < 0 {
		acquired = l.sem.TryAcquire(1)
	} else {
		waitCtx, cancel := context.WithTimeout(ctx, timeout)
		acquired = l.sem.Acquire(waitCtx, 1) == nil
		cancel()
	}
	wait := time.Since(start)

	if acquired {
		l.held.Store(true)
		l.acquisitions.Add(1)
	} else {
		l.timeouts.Add(1)
		r.logger.Warn("bus lock acquisition timed out",
			"bus", busID,
			"timeout", timeout,
			"waited", wait,
		)
	}

	if r.observer != nil {
		r.observer.ObserveBusLock(busID, wait, acquired)
	}
	return acquired
}

// Release frees the lock for busID. Releasing an unlocked or unknown bus is
// a no-op.
func (r *Registry) Release(busID string) {
	r.mu.Lock()
	l, ok := r.buses[busID]
	r.mu.Unlock()
	if !ok {
		return
	}

	if l.held.CompareAndSwap(true, false) {
		l.sem.Release(1)
		return
	}
	r.logger.Debug("release of unlocked bus ignored", "bus", busID)
}

// IsHeld reports whether the bus lock is currently held.
func (r *Registry) IsHeld(busID string) bool {
	r.mu.Lock()
	l, ok := r.buses[busID]
	r.mu.Unlock()
	return ok && l.held.Load()
}

// Buses returns the identifiers of all known buses, sorted.
func (r *Registry) Buses() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.buses))
	for id := range r.buses {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// BusStats holds counters for one bus.
type BusStats struct {
	Held         bool   `json:"held"`
	Acquisitions uint64 `json:"acquisitions"`
	Timeouts     uint64 `json:"timeouts"`
}

// Stats returns per-bus counters.
func (r *Registry) Stats() map[string]BusStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]BusStats, len(r.buses))
	for id, l := range r.buses {
		out[id] = BusStats{
			Held:         l.held.Load(),
			Acquisitions: l.acquisitions.Load(),
			Timeouts:     l.timeouts.Load(),
		}
	}
	return out
}

// lockFor returns the lock for busID, creating it on first reference.
func (r *Registry) lockFor(busID string) *busLock {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.buses[busID]
	if !ok {
		l = newBusLock()
		r.buses[busID] = l
	}
	return l
}

func newBusLock() *busLock {
	return &busLock{sem: semaphore.NewWeighted(1)}
}
