package queue

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-dispatch/internal/driver"
	"github.com/nerrad567/gray-logic-dispatch/internal/worker"
)

// Defaults applied to zero-valued Config fields.
const (
	DefaultPriority    = 100
	DefaultHistorySize = 100
)

// Preemption selects what happens when an action arrives for an item that
// already has a running action.
type Preemption string

const (
	// PreemptQueue lets the new action wait its turn.
	PreemptQueue Preemption = "queue"
	// PreemptRunning cancels the running action with driver.ErrPreempted.
	PreemptRunning Preemption = "preempt"
)

// Config holds queue settings.
type Config struct {
	Name            string
	DefaultPriority int
	HistorySize     int
	Preemption      Preemption
}

// Executor runs one action. The context is cancelled with
// driver.ErrTerminated (or driver.ErrPreempted) when the action is
// terminated; implementations check it at safe points.
type Executor interface {
	Execute(ctx context.Context, a Snapshot) (any, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, a Snapshot) (any, error)

func (f ExecutorFunc) Execute(ctx context.Context, a Snapshot) (any, error) {
	return f(ctx, a)
}

// Observer receives action lifecycle notifications, e.g. for metrics.
// Calls happen outside the queue lock and must not block.
type Observer interface {
	ActionQueued(a Snapshot)
	ActionStarted(a Snapshot)
	ActionFinished(a Snapshot)
}

// Logger defines the logging interface for the queue.
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

// Queue is an active item queue drained by one worker.
//
// Thread Safety: all methods are safe for concurrent use.
type Queue struct {
	cfg    Config
	exec   Executor
	worker *worker.Worker

	mu        sync.Mutex
	accepting bool
	pending   actionHeap
	seq       uint64
	byID      map[string]*action
	history   []*action
	current   *action
	counts    map[Status]uint64

	wake chan struct{}

	observer   Observer
	onFinished func(Snapshot)
	logger     Logger
}

// New creates a stopped queue that executes actions with exec.
func New(cfg Config, exec Executor) *Queue {
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	if cfg.DefaultPriority <= 0 {
		cfg.DefaultPriority = DefaultPriority
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultHistorySize
	}
	if cfg.Preemption == "" {
		cfg.Preemption = PreemptQueue
	}

	q := &Queue{
		cfg:    cfg,
		exec:   exec,
		byID:   make(map[string]*action),
		counts: make(map[Status]uint64),
		wake:   make(chan struct{}, 1),
		logger: noopLogger{},
	}
	q.worker = worker.New(worker.Config{
		Name: "queue:" + cfg.Name,
		Loop: q.loop,
		BeforeStart: func() {
			q.mu.Lock()
			q.accepting = true
			q.mu.Unlock()
		},
	})
	return q
}

// SetLogger sets the logger for the queue and its worker.
func (q *Queue) SetLogger(logger Logger) {
	q.logger = logger
	q.worker.SetLogger(logger)
}

// SetObserver sets the lifecycle observer.
func (q *Queue) SetObserver(o Observer) {
	q.observer = o
}

// OnFinished sets a callback invoked after each action reaches a final
// status.
func (q *Queue) OnFinished(fn func(Snapshot)) {
	q.onFinished = fn
}

// Name returns the queue name.
func (q *Queue) Name() string {
	return q.cfg.Name
}

// Start spawns the worker and begins accepting actions. Starting a running
// queue is a no-op. After Stop(false) it waits for the previous worker to
// finish its running action, so one action per queue runs at a time.
// The queue stops accepting actions when ctx ends.
func (q *Queue) Start(ctx context.Context) error {
	if err := q.worker.Start(ctx); err != nil {
		return fmt.Errorf("starting queue %s: %w", q.cfg.Name, err)
	}
	q.logger.Info("queue started", "queue", q.cfg.Name, "preemption", string(q.cfg.Preemption))
	return nil
}

// Stop stops accepting actions, marks every pending action ignored and
// signals the worker. The running action, if any, is allowed to finish.
// With wait set, Stop returns after the worker has exited.
func (q *Queue) Stop(wait bool) {
	if n := q.closeIntake(); n > 0 {
		q.logger.Info("pending actions ignored on stop", "queue", q.cfg.Name, "count", n)
	}

	q.worker.Stop(wait)
	q.logger.Info("queue stopped", "queue", q.cfg.Name)
}

// closeIntake stops accepting actions and marks every pending action
// ignored. It returns the number ignored.
func (q *Queue) closeIntake() int {
	q.mu.Lock()
	q.accepting = false
	var ignored []Snapshot
	for q.pending.Len() > 0 {
		a := heap.Pop(&q.pending).(*action)
		a.status = StatusIgnored
		a.finished = time.Now()
		ignored = append(ignored, q.archive(a))
	}
	q.mu.Unlock()

	for _, s := range ignored {
		q.notifyFinished(s)
	}
	return len(ignored)
}

// Running reports whether the queue accepts actions.
func (q *Queue) Running() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.accepting
}

// Put submits an action and returns its id.
func (q *Queue) Put(req Request) (string, error) {
	if req.ItemID == "" {
		return "", fmt.Errorf("%w: item id is required", ErrInvalidAction)
	}
	if req.Priority < 0 {
		return "", fmt.Errorf("%w: negative priority %d", ErrInvalidAction, req.Priority)
	}
	if req.Timeout < 0 {
		return "", fmt.Errorf("%w: negative timeout %s", ErrInvalidAction, req.Timeout)
	}

	priority := req.Priority
	if priority == 0 {
		priority = q.cfg.DefaultPriority
	}

	q.mu.Lock()
	if !q.accepting {
		q.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrQueueStopped, q.cfg.Name)
	}

	q.seq++
	a := &action{
		id:       uuid.NewString(),
		item:     req.ItemID,
		priority: priority,
		seq:      q.seq,
		params:   req.Params,
		timeout:  req.Timeout,
		status:   StatusCreated,
		created:  time.Now(),
		done:     make(chan struct{}),
	}
	a.status = StatusQueued
	heap.Push(&q.pending, a)
	q.byID[a.id] = a
	q.counts[StatusQueued]++

	preempted := ""
	if q.cfg.Preemption == PreemptRunning && q.current != nil && q.current.item == a.item {
		q.current.cancel(driver.ErrPreempted)
		preempted = q.current.id
	}
	snap := a.snapshot(q.cfg.Name)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}

	if preempted != "" {
		q.logger.Info("running action pre-empted", "queue", q.cfg.Name, "item", a.item, "action_id", preempted, "by", a.id)
	}
	q.logger.Debug("action queued", "queue", q.cfg.Name, "action_id", a.id, "item", a.item, "priority", priority)
	if q.observer != nil {
		q.observer.ActionQueued(snap)
	}
	return a.id, nil
}

// GetResult returns the current snapshot of an action.
func (q *Queue) GetResult(id string) (Snapshot, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	a, ok := q.byID[id]
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrActionNotFound, id)
	}
	return a.snapshot(q.cfg.Name), nil
}

// Wait blocks until the action reaches a final status or ctx is done.
func (q *Queue) Wait(ctx context.Context, id string) (Snapshot, error) {
	q.mu.Lock()
	a, ok := q.byID[id]
	q.mu.Unlock()
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrActionNotFound, id)
	}

	select {
	case <-a.done:
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	return a.snapshot(q.cfg.Name), nil
}

// Terminate cancels an action. A queued action is removed without
// executing; a running action is signalled and stops at the driver's next
// safe point.
func (q *Queue) Terminate(id string) error {
	q.mu.Lock()
	a, ok := q.byID[id]
	if !ok {
		q.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrActionNotFound, id)
	}

	switch a.status {
	case StatusQueued:
		heap.Remove(&q.pending, a.index)
		a.status = StatusTerminated
		a.err = driver.ErrTerminated
		a.finished = time.Now()
		snap := q.archive(a)
		q.mu.Unlock()
		q.logger.Info("queued action terminated", "queue", q.cfg.Name, "action_id", id)
		q.notifyFinished(snap)
		return nil

	case StatusRunning:
		a.cancel(driver.ErrTerminated)
		q.mu.Unlock()
		q.logger.Info("running action signalled to terminate", "queue", q.cfg.Name, "action_id", id)
		return nil

	default:
		status := a.status
		q.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrActionFinished, id, status)
	}
}

// Pending returns snapshots of queued actions in execution order.
func (q *Queue) Pending() []Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()

	list := make([]*action, len(q.pending))
	copy(list, q.pending)
	sort.Slice(list, func(i, j int) bool { return runsBefore(list[i], list[j]) })

	out := make([]Snapshot, len(list))
	for i, a := range list {
		out[i] = a.snapshot(q.cfg.Name)
	}
	return out
}

// Stats holds queue counters.
type Stats struct {
	Name    string            `json:"name"`
	Running bool              `json:"running"`
	Pending int               `json:"pending"`
	Current string            `json:"current,omitempty"`
	History int               `json:"history"`
	Counts  map[Status]uint64 `json:"counts"`
}

// Stats returns current queue statistics.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := Stats{
		Name:    q.cfg.Name,
		Running: q.accepting,
		Pending: q.pending.Len(),
		History: len(q.history),
		Counts:  make(map[Status]uint64, len(q.counts)),
	}
	if q.current != nil {
		s.Current = q.current.id
	}
	for k, v := range q.counts {
		s.Counts[k] = v
	}
	return s
}

// loop is the worker body: pop, execute, repeat. Whatever ends the loop,
// the queue stops taking actions nobody would run.
func (q *Queue) loop(ctx context.Context) {
	defer func() {
		if n := q.closeIntake(); n > 0 {
			q.logger.Warn("pending actions ignored, queue context ended", "queue", q.cfg.Name, "count", n)
		}
	}()
	for {
		a, actx := q.next(ctx)
		if a == nil {
			return
		}
		q.execute(actx, a)
	}
}

// next blocks until an action is pending or ctx ends, and marks the popped
// action running.
func (q *Queue) next(ctx context.Context) (*action, context.Context) {
	for {
		q.mu.Lock()
		if ctx.Err() != nil {
			q.mu.Unlock()
			return nil, nil
		}
		if q.pending.Len() > 0 {
			a := heap.Pop(&q.pending).(*action)
			// The running action outlives a stop request; only terminate
			// or its own timeout ends it.
			actx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
			a.cancel = cancel
			a.status = StatusRunning
			a.started = time.Now()
			q.current = a
			q.mu.Unlock()
			return a, actx
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, nil
		case <-q.wake:
		}
	}
}

// execute runs a on the executor and records the outcome.
func (q *Queue) execute(ctx context.Context, a *action) {
	q.mu.Lock()
	started := a.snapshot(q.cfg.Name)
	q.mu.Unlock()

	q.logger.Debug("action started", "queue", q.cfg.Name, "action_id", a.id, "item", a.item)
	if q.observer != nil {
		q.observer.ActionStarted(started)
	}

	result, err := q.invoke(ctx, started)
	cause := context.Cause(ctx)

	q.mu.Lock()
	a.finished = time.Now()
	switch {
	case err == nil:
		a.status = StatusCompleted
		a.result = result
	case errors.Is(err, driver.ErrTerminated) || errors.Is(cause, driver.ErrTerminated):
		a.status = StatusTerminated
		a.err = err
	default:
		a.status = StatusFailed
		a.err = err
	}
	a.cancel(nil)
	q.current = nil
	snap := q.archive(a)
	q.mu.Unlock()

	if snap.Status == StatusFailed {
		q.logger.Warn("action failed", "queue", q.cfg.Name, "action_id", a.id, "item", a.item, "error", err)
	} else {
		q.logger.Debug("action finished", "queue", q.cfg.Name, "action_id", a.id, "status", string(snap.Status))
	}
	q.notifyFinished(snap)
}

// invoke calls the executor, converting a panic into a driver error.
func (q *Queue) invoke(ctx context.Context, a Snapshot) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v\n%s", driver.ErrDriverError, r, debug.Stack())
			q.logger.Error("executor panicked", "queue", q.cfg.Name, "action_id", a.ID, "panic", r)
		}
	}()
	if q.exec == nil {
		return nil, fmt.Errorf("%w: no executor", driver.ErrDriverError)
	}
	return q.exec.Execute(ctx, a)
}

// archive moves a finished action into history, evicting the oldest entry
// beyond capacity. Caller holds q.mu.
func (q *Queue) archive(a *action) Snapshot {
	q.counts[a.status]++
	q.history = append(q.history, a)
	if over := len(q.history) - q.cfg.HistorySize; over > 0 {
		for _, old := range q.history[:over] {
			delete(q.byID, old.id)
		}
		q.history = append(q.history[:0], q.history[over:]...)
	}
	close(a.done)
	return a.snapshot(q.cfg.Name)
}

func (q *Queue) notifyFinished(s Snapshot) {
	if q.observer != nil {
		q.observer.ActionFinished(s)
	}
	if q.onFinished != nil {
		q.onFinished(s)
	}
}
