package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/gray-logic-dispatch/internal/driver"
	"github.com/nerrad567/gray-logic-dispatch/internal/item"
	"github.com/nerrad567/gray-logic-dispatch/internal/queue"
	"github.com/nerrad567/gray-logic-dispatch/internal/worker"
)

// ItemResolver looks up items and stores their last-known state.
// *item.Registry satisfies it.
type ItemResolver interface {
	GetItem(ctx context.Context, id string) (*item.Item, error)
	ListItems() []item.Item
	SetItemState(ctx context.Context, id string, state item.State) error
}

// Drivers is the subset of *driver.Registry the core uses.
type Drivers interface {
	LPI(itemID string) (driver.LPI, error)
	ItemsForPHI(phiID string) []string
	SetEventHandler(fn func(driver.Event))
	Close() error
}

// Publisher sends notifications. *mqtt.Client satisfies it. Publishing is
// fire-and-forget: failures are logged only.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Telemetry records time-series data. *influxdb.Client satisfies it.
type Telemetry interface {
	WriteActionMetric(itemID, queueName, status string, duration time.Duration)
	WriteItemState(itemID string, value float64)
}

// Logger defines the logging interface for the core.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Deps holds the collaborators of a Core. Items and Drivers are required.
type Deps struct {
	Items     ItemResolver
	Drivers   Drivers
	Publisher Publisher
	Telemetry Telemetry
	Observer  queue.Observer
	Logger    Logger
}

// Core is the dispatch controller.
//
// Thread Safety: all methods are safe for concurrent use.
type Core struct {
	cfg       Config
	items     ItemResolver
	drivers   Drivers
	pub       Publisher
	telemetry Telemetry
	observer  queue.Observer
	logger    Logger

	mu        sync.RWMutex
	running   bool
	runCtx    context.Context
	cancelRun context.CancelFunc
	queues    map[string]*queue.Queue

	poller      *worker.Worker
	events      *worker.Worker
	eventCh     chan driver.Event
	refreshCh   chan string
	dropped     atomic.Uint64
	lastPoll    atomic.Int64
	stateWrites atomic.Uint64
}

// New creates a stopped core.
func New(cfg Config, deps Deps) (*Core, error) {
	if deps.Items == nil || deps.Drivers == nil {
		return nil, errors.New("dispatch: items and drivers are required")
	}
	cfg = cfg.withDefaults()
	if cfg.Routing != RouteItem && cfg.Routing != RouteGroup {
		return nil, fmt.Errorf("%w: routing %q", driver.ErrInvalidConfig, cfg.Routing)
	}

	c := &Core{
		cfg:       cfg,
		items:     deps.Items,
		drivers:   deps.Drivers,
		pub:       deps.Publisher,
		telemetry: deps.Telemetry,
		observer:  deps.Observer,
		logger:    deps.Logger,
		queues:    make(map[string]*queue.Queue),
		eventCh:   make(chan driver.Event, cfg.EventBuffer),
		refreshCh: make(chan string, cfg.EventBuffer),
	}
	if c.logger == nil {
		c.logger = noopLogger{}
	}

	c.poller = worker.New(worker.Config{Name: "poller", Loop: c.pollLoop})
	c.poller.SetLogger(c.logger)
	c.events = worker.New(worker.Config{Name: "events", Loop: c.eventLoop})
	c.events.SetLogger(c.logger)
	return c, nil
}

// Start starts the event worker, the poller (if enabled) and a queue for
// every known item. Starting a running core is a no-op.
//
// Workers and queues run until Stop; ctx supplies values only, so a
// cancelled ctx never leaves queues accepting actions with no worker.
func (c *Core) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.running = true
	c.runCtx = runCtx
	c.cancelRun = cancel
	c.mu.Unlock()

	c.drivers.SetEventHandler(c.handleEvent)

	if err := c.events.Start(runCtx); err != nil {
		c.abortStart()
		return fmt.Errorf("starting event worker: %w", err)
	}
	if c.cfg.PollInterval > 0 {
		if err := c.poller.Start(runCtx); err != nil {
			c.abortStart()
			return fmt.Errorf("starting poller: %w", err)
		}
	}

	for _, it := range c.items.ListItems() {
		if _, err := c.queueFor(&it); err != nil {
			c.logger.Warn("queue not started", "item", it.ID, "error", err)
		}
	}

	c.publishStatus("online")
	c.logger.Info("dispatch core started",
		"routing", string(c.cfg.Routing),
		"queues", c.QueueCount(),
		"poll_interval", c.cfg.PollInterval,
	)
	return nil
}

// abortStart undoes a partial Start. No queue exists yet.
func (c *Core) abortStart() {
	c.events.Stop(true)
	c.drivers.SetEventHandler(nil)

	c.mu.Lock()
	c.running = false
	c.cancelRun()
	c.mu.Unlock()
}

// Stop shuts the core down and closes the driver registry. Pending actions
// are marked ignored; running actions are allowed to finish.
func (c *Core) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	cancelRun := c.cancelRun
	queues := make([]*queue.Queue, 0, len(c.queues))
	for _, q := range c.queues {
		queues = append(queues, q)
	}
	c.mu.Unlock()

	c.poller.Stop(true)

	var g errgroup.Group
	for _, q := range queues {
		g.Go(func() error {
			q.Stop(true)
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // queue stops never fail

	c.events.Stop(true)
	c.drivers.SetEventHandler(nil)
	cancelRun()
	c.publishStatus("offline")

	if err := c.drivers.Close(); err != nil {
		return fmt.Errorf("closing drivers: %w", err)
	}
	c.logger.Info("dispatch core stopped", "queues", len(queues))
	return nil
}

// Running reports whether the core accepts actions.
func (c *Core) Running() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running
}

// PutAction submits an action for an item and returns its id. Unknown
// items and items without a loaded driver fail with
// driver.ErrResourceNotFound. A priority of zero selects the queue default.
func (c *Core) PutAction(ctx context.Context, itemID string, params map[string]any, priority int, timeout time.Duration) (string, error) {
	it, err := c.items.GetItem(ctx, itemID)
	if err != nil {
		return "", fmt.Errorf("resolving item %s: %w", itemID, err)
	}
	if _, err := c.drivers.LPI(itemID); err != nil {
		return "", err
	}

	q, err := c.queueFor(it)
	if err != nil {
		return "", err
	}
	return q.Put(queue.Request{
		ItemID:   itemID,
		Params:   params,
		Priority: priority,
		Timeout:  timeout,
	})
}

// GetResult returns the snapshot of an action from whichever queue holds
// it.
func (c *Core) GetResult(actionID string) (queue.Snapshot, error) {
	for _, q := range c.queueList() {
		s, err := q.GetResult(actionID)
		if err == nil {
			return s, nil
		}
	}
	return queue.Snapshot{}, fmt.Errorf("%w: %s", queue.ErrActionNotFound, actionID)
}

// WaitResult blocks until the action reaches a final status or ctx ends.
func (c *Core) WaitResult(ctx context.Context, actionID string) (queue.Snapshot, error) {
	for _, q := range c.queueList() {
		if _, err := q.GetResult(actionID); err == nil {
			return q.Wait(ctx, actionID)
		}
	}
	return queue.Snapshot{}, fmt.Errorf("%w: %s", queue.ErrActionNotFound, actionID)
}

// Terminate cancels an action in whichever queue holds it.
func (c *Core) Terminate(actionID string) error {
	for _, q := range c.queueList() {
		err := q.Terminate(actionID)
		if !errors.Is(err, queue.ErrActionNotFound) {
			return err
		}
	}
	return fmt.Errorf("%w: %s", queue.ErrActionNotFound, actionID)
}

// State evaluates an item's state through its LPI, records the outcome
// and returns it.
func (c *Core) State(ctx context.Context, itemID string) (driver.StateResult, error) {
	it, err := c.items.GetItem(ctx, itemID)
	if err != nil {
		return driver.StateResult{}, fmt.Errorf("resolving item %s: %w", itemID, err)
	}
	return c.evaluate(ctx, it)
}

// QueueCount returns the number of queues created so far.
func (c *Core) QueueCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.queues)
}

// Stats holds core statistics.
type Stats struct {
	Running       bool          `json:"running"`
	Queues        []queue.Stats `json:"queues"`
	DroppedEvents uint64        `json:"dropped_events"`
	StateWrites   uint64        `json:"state_writes"`
	LastPoll      time.Time     `json:"last_poll,omitzero"`
}

// Stats returns current core statistics, queues sorted by name.
func (c *Core) Stats() Stats {
	s := Stats{
		Running:       c.Running(),
		DroppedEvents: c.dropped.Load(),
		StateWrites:   c.stateWrites.Load(),
	}
	if ns := c.lastPoll.Load(); ns > 0 {
		s.LastPoll = time.Unix(0, ns)
	}
	for _, q := range c.queueList() {
		s.Queues = append(s.Queues, q.Stats())
	}
	sort.Slice(s.Queues, func(i, j int) bool { return s.Queues[i].Name < s.Queues[j].Name })
	return s
}

// routeKey returns the name of the queue serving it.
func (c *Core) routeKey(it *item.Item) string {
	if c.cfg.Routing == RouteGroup {
		if it.Group != "" {
			return it.Group
		}
		return c.cfg.DefaultQueue
	}
	return it.ID
}

// queueFor returns the running queue for an item, creating it on first
// use.
func (c *Core) queueFor(it *item.Item) (*queue.Queue, error) {
	name := c.routeKey(it)

	c.mu.RLock()
	q, ok := c.queues[name]
	running := c.running
	c.mu.RUnlock()
	if !running {
		return nil, ErrNotRunning
	}
	if ok {
		return q, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return nil, ErrNotRunning
	}
	if q, ok := c.queues[name]; ok {
		return q, nil
	}

	qcfg := c.cfg.Queue
	qcfg.Name = name
	q = queue.New(qcfg, queue.ExecutorFunc(c.execute))
	q.SetLogger(c.logger)
	if c.observer != nil {
		q.SetObserver(c.observer)
	}
	q.OnFinished(c.actionFinished)
	if err := q.Start(c.runCtx); err != nil {
		return nil, err
	}
	c.queues[name] = q
	return q, nil
}

func (c *Core) queueList() []*queue.Queue {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*queue.Queue, 0, len(c.queues))
	for _, q := range c.queues {
		out = append(out, q)
	}
	return out
}

// execute is the queue executor: it runs the action on the item's LPI.
func (c *Core) execute(ctx context.Context, a queue.Snapshot) (any, error) {
	lpi, err := c.drivers.LPI(a.ItemID)
	if err != nil {
		return nil, err
	}
	return lpi.Action(ctx, a.ID, a.Params, a.Timeout)
}

// actionFinished publishes the outcome and schedules a state refresh for
// completed actions.
func (c *Core) actionFinished(s queue.Snapshot) {
	c.publishAction(s)
	if c.telemetry != nil && s.Status != queue.StatusIgnored {
		c.telemetry.WriteActionMetric(s.ItemID, s.Queue, string(s.Status), s.Duration())
	}
	if s.Status == queue.StatusCompleted {
		c.requestRefresh(s.ItemID)
	}
}
