package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"
)

// Status represents the current state of a worker.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
)

// ErrNoLoop is returned by Start when the worker has no loop body.
var ErrNoLoop = errors.New("worker: no loop function configured")

// Config holds configuration for a worker.
type Config struct {
	// Name is a human-readable identifier for logging.
	Name string

	// Loop is the body executed on the worker goroutine. It must return
	// after ctx is cancelled.
	Loop func(ctx context.Context)

	// BeforeStart is called before the loop goroutine is spawned.
	BeforeStart func()

	// AfterStart is called after the loop goroutine has been spawned.
	AfterStart func()

	// BeforeStop is called before the loop is signalled to exit.
	BeforeStop func()

	// AfterStop is called after the loop has been signalled (and, when
	// waiting, after it has exited).
	AfterStop func()
}

// Logger defines the logging interface for the worker.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Worker manages the lifecycle of a single background loop.
type Worker struct {
	config Config
	logger Logger

	// opMu serialises Start and Stop so hooks run outside mu.
	opMu sync.Mutex

	mu        sync.RWMutex
	status    Status
	cancel    context.CancelFunc
	done      chan struct{}
	startTime time.Time
	starts    int
	panics    int
	lastPanic string
}

// New creates a new worker with the given configuration.
func New(cfg Config) *Worker {
	if cfg.Name == "" {
		cfg.Name = "worker"
	}
	return &Worker{
		config: cfg,
		logger: noopLogger{},
		status: StatusStopped,
	}
}

// SetLogger sets the logger for the worker.
func (w *Worker) SetLogger(logger Logger) {
	w.logger = logger
}

// Name returns the worker's name.
func (w *Worker) Name() string {
	return w.config.Name
}

// Start spawns the loop goroutine. Calling Start on a running worker is a
// no-op. If a previous loop is still exiting after Stop(false), Start waits
// for it (or for ctx) so that at most one loop runs at a time.
// The loop's context derives from ctx; cancelling ctx has the same effect
// on the loop as Stop, but hooks only fire through Stop.
func (w *Worker) Start(ctx context.Context) error {
	if w.config.Loop == nil {
		return fmt.Errorf("%w: %s", ErrNoLoop, w.config.Name)
	}

	w.opMu.Lock()
	defer w.opMu.Unlock()

	w.mu.RLock()
	status, prev := w.status, w.done
	w.mu.RUnlock()

	switch status {
	case StatusRunning:
		return nil
	case StatusStopping:
		w.logger.Debug("waiting for previous loop to exit", "name", w.config.Name)
		select {
		case <-prev:
		case <-ctx.Done():
			return fmt.Errorf("worker %s: previous loop still running: %w", w.config.Name, ctx.Err())
		}
	}

	if w.config.BeforeStart != nil {
		w.config.BeforeStart()
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	w.mu.Lock()
	w.cancel = cancel
	w.done = done
	w.status = StatusRunning
	w.startTime = time.Now()
	w.starts++
	w.mu.Unlock()

	go w.run(loopCtx, done)

	w.logger.Debug("worker started", "name", w.config.Name)

	if w.config.AfterStart != nil {
		w.config.AfterStart()
	}
	return nil
}

// run executes the loop body and marks the worker stopped when it returns.
func (w *Worker) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer func() {
		if r := recover(); r != nil {
			w.mu.Lock()
			w.panics++
			w.lastPanic = fmt.Sprint(r)
			w.mu.Unlock()
			w.logger.Error("worker loop panicked",
				"name", w.config.Name,
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}

		w.mu.Lock()
		// Only the current generation may reset status. A stopping worker
		// becomes stopped here, once the loop has actually returned.
		if w.done == done && w.status != StatusStopped {
			w.status = StatusStopped
			if w.cancel != nil {
				w.cancel()
			}
		}
		w.mu.Unlock()
	}()

	w.config.Loop(ctx)
}

// Stop signals the loop to exit. When wait is true it blocks until the loop
// goroutine has returned. The worker reports StatusStopping until then.
// Stopping a stopped worker is a no-op; Stop(true) on a stopping worker
// only waits. Stop must not be called from the loop body with wait set.
func (w *Worker) Stop(wait bool) {
	w.opMu.Lock()
	defer w.opMu.Unlock()

	w.mu.Lock()
	switch w.status {
	case StatusStopped:
		w.mu.Unlock()
		return
	case StatusStopping:
		done := w.done
		w.mu.Unlock()
		if wait {
			<-done
		}
		return
	}
	w.status = StatusStopping
	cancel := w.cancel
	done := w.done
	w.mu.Unlock()

	if w.config.BeforeStop != nil {
		w.config.BeforeStop()
	}

	w.logger.Debug("stopping worker", "name", w.config.Name, "wait", wait)
	cancel()

	if wait {
		<-done
	}

	if w.config.AfterStop != nil {
		w.config.AfterStop()
	}
}

// Done returns a channel closed when the current loop goroutine exits.
// Returns nil if the worker was never started.
func (w *Worker) Done() <-chan struct{} {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.done
}

// Status returns the current status of the worker.
func (w *Worker) Status() Status {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.status
}

// Active reports whether the worker's loop is running and has not been
// asked to stop.
func (w *Worker) Active() bool {
	return w.Status() == StatusRunning
}

// Stats holds statistics about a worker.
type Stats struct {
	Name      string        `json:"name"`
	Status    Status        `json:"status"`
	Uptime    time.Duration `json:"uptime,omitempty"`
	Starts    int           `json:"starts"`
	Panics    int           `json:"panics"`
	LastPanic string        `json:"last_panic,omitempty"`
}

// Stats returns current statistics for the worker.
func (w *Worker) Stats() Stats {
	w.mu.RLock()
	defer w.mu.RUnlock()

	stats := Stats{
		Name:      w.config.Name,
		Status:    w.status,
		Starts:    w.starts,
		Panics:    w.panics,
		LastPanic: w.lastPanic,
	}
	if w.status == StatusRunning {
		stats.Uptime = time.Since(w.startTime)
	}
	return stats
}
