package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-dispatch/internal/driver"
)

// mockExecutor records execution order. Actions whose item is "block" wait
// on the gate channel (or their context).
type mockExecutor struct {
	mu      sync.Mutex
	order   []string
	gate    chan struct{}
	started chan string
	fn      func(ctx context.Context, a Snapshot) (any, error)
}

func newMockExecutor() *mockExecutor {
	return &mockExecutor{
		gate:    make(chan struct{}),
		started: make(chan string, 16),
	}
}

func (m *mockExecutor) Execute(ctx context.Context, a Snapshot) (any, error) {
	m.mu.Lock()
	m.order = append(m.order, a.ItemID)
	m.mu.Unlock()
	m.started <- a.ItemID

	if a.ItemID == "block" {
		select {
		case <-m.gate:
		case <-ctx.Done():
			return nil, driver.Checkpoint(ctx)
		}
	}
	if m.fn != nil {
		return m.fn(ctx, a)
	}
	return a.Params["value"], nil
}

func (m *mockExecutor) Order() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.order...)
}

// waitStarted waits for the executor to pick up an action for item.
func (m *mockExecutor) waitStarted(t *testing.T, item string) {
	t.Helper()
	select {
	case got := <-m.started:
		if got != item {
			t.Fatalf("started %q, want %q", got, item)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("action for %q never started", item)
	}
}

func startQueue(t *testing.T, cfg Config, exec Executor) *Queue {
	t.Helper()
	q := New(cfg, exec)
	if err := q.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { q.Stop(true) })
	return q
}

func mustPut(t *testing.T, q *Queue, req Request) string {
	t.Helper()
	id, err := q.Put(req)
	if err != nil {
		t.Fatalf("Put(%+v) error = %v", req, err)
	}
	return id
}

func waitFinal(t *testing.T, q *Queue, id string) Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s, err := q.Wait(ctx, id)
	if err != nil {
		t.Fatalf("Wait(%s) error = %v", id, err)
	}
	return s
}

func TestNew_Defaults(t *testing.T) {
	q := New(Config{}, nil)
	if q.Name() != "default" {
		t.Errorf("Name() = %q", q.Name())
	}
	if q.cfg.DefaultPriority != DefaultPriority || q.cfg.HistorySize != DefaultHistorySize {
		t.Errorf("cfg = %+v", q.cfg)
	}
	if q.cfg.Preemption != PreemptQueue {
		t.Errorf("Preemption = %q, want %q", q.cfg.Preemption, PreemptQueue)
	}
	if q.Running() {
		t.Error("new queue is running")
	}
}

func TestPut_Validation(t *testing.T) {
	q := New(Config{Name: "q"}, newMockExecutor())

	if _, err := q.Put(Request{ItemID: "lamp"}); !errors.Is(err, ErrQueueStopped) {
		t.Errorf("Put on stopped queue error = %v, want ErrQueueStopped", err)
	}

	if err := q.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer q.Stop(true)

	tests := []struct {
		name string
		req  Request
	}{
		{"missing item", Request{}},
		{"negative priority", Request{ItemID: "x", Priority: -1}},
		{"negative timeout", Request{ItemID: "x", Timeout: -time.Second}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := q.Put(tt.req); !errors.Is(err, ErrInvalidAction) {
				t.Errorf("Put() error = %v, want ErrInvalidAction", err)
			}
		})
	}
}

func TestPut_DefaultPriority(t *testing.T) {
	exec := newMockExecutor()
	q := startQueue(t, Config{Name: "q", DefaultPriority: 42}, exec)

	id := mustPut(t, q, Request{ItemID: "lamp"})
	s := waitFinal(t, q, id)
	if s.Priority != 42 {
		t.Errorf("Priority = %d, want 42", s.Priority)
	}
	if s.Status != StatusCompleted {
		t.Errorf("Status = %q, want completed", s.Status)
	}
}

func TestPriorityOrdering(t *testing.T) {
	exec := newMockExecutor()
	q := startQueue(t, Config{Name: "q"}, exec)

	blocker := mustPut(t, q, Request{ItemID: "block"})
	exec.waitStarted(t, "block")

	low := mustPut(t, q, Request{ItemID: "p50", Priority: 50})
	high := mustPut(t, q, Request{ItemID: "p10", Priority: 10})

	pending := q.Pending()
	if len(pending) != 2 || pending[0].ID != high || pending[1].ID != low {
		t.Errorf("Pending() order = %v", pending)
	}

	close(exec.gate)
	waitFinal(t, q, blocker)
	waitFinal(t, q, low)
	waitFinal(t, q, high)

	order := exec.Order()
	want := []string{"block", "p10", "p50"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("execution order = %v, want %v", order, want)
		}
	}
}

func TestFIFOWithinPriority(t *testing.T) {
	exec := newMockExecutor()
	q := startQueue(t, Config{Name: "q"}, exec)

	mustPut(t, q, Request{ItemID: "block"})
	exec.waitStarted(t, "block")

	var last string
	for _, item := range []string{"a", "b", "c", "d"} {
		last = mustPut(t, q, Request{ItemID: item, Priority: 5})
	}
	close(exec.gate)
	waitFinal(t, q, last)

	order := exec.Order()
	want := []string{"block", "a", "b", "c", "d"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestSingleRunningAction(t *testing.T) {
	var running, maxRunning int
	var mu sync.Mutex

	exec := ExecutorFunc(func(context.Context, Snapshot) (any, error) {
		mu.Lock()
		running++
		if running > maxRunning {
			maxRunning = running
		}
		mu.Unlock()
		time.Sleep(2 * time.Millisecond)
		mu.Lock()
		running--
		mu.Unlock()
		return nil, nil
	})
	q := startQueue(t, Config{Name: "q"}, exec)

	var wg sync.WaitGroup
	ids := make(chan string, 20)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := q.Put(Request{ItemID: "lamp"})
			if err == nil {
				ids <- id
			}
		}()
	}
	wg.Wait()
	close(ids)
	for id := range ids {
		waitFinal(t, q, id)
	}

	if maxRunning != 1 {
		t.Errorf("max concurrent executions = %d, want 1", maxRunning)
	}
}

func TestDriverErrorDoesNotStopWorker(t *testing.T) {
	exec := newMockExecutor()
	exec.fn = func(_ context.Context, a Snapshot) (any, error) {
		switch a.ItemID {
		case "fail":
			return nil, driver.ErrResourceBusy
		case "panic":
			panic("driver exploded")
		}
		return "ok", nil
	}
	q := startQueue(t, Config{Name: "q"}, exec)

	failed := waitFinal(t, q, mustPut(t, q, Request{ItemID: "fail"}))
	if failed.Status != StatusFailed || !errors.Is(failed.Err, driver.ErrResourceBusy) {
		t.Errorf("failed action = %q, %v", failed.Status, failed.Err)
	}

	panicked := waitFinal(t, q, mustPut(t, q, Request{ItemID: "panic"}))
	if panicked.Status != StatusFailed || !errors.Is(panicked.Err, driver.ErrDriverError) {
		t.Errorf("panicked action = %q, %v", panicked.Status, panicked.Err)
	}

	ok := waitFinal(t, q, mustPut(t, q, Request{ItemID: "fine"}))
	if ok.Status != StatusCompleted || ok.Result != "ok" {
		t.Errorf("action after failures = %q, %v", ok.Status, ok.Result)
	}
	if !q.worker.Active() {
		t.Error("worker stopped after driver failure")
	}
}

func TestHistoryBounded(t *testing.T) {
	q := startQueue(t, Config{Name: "q", HistorySize: 3}, newMockExecutor())

	var ids []string
	for range 5 {
		id := mustPut(t, q, Request{ItemID: "lamp"})
		waitFinal(t, q, id)
		ids = append(ids, id)
	}

	for _, id := range ids[:2] {
		if _, err := q.GetResult(id); !errors.Is(err, ErrActionNotFound) {
			t.Errorf("GetResult(aged out) error = %v, want ErrActionNotFound", err)
		}
	}
	for _, id := range ids[2:] {
		if s, err := q.GetResult(id); err != nil || s.Status != StatusCompleted {
			t.Errorf("GetResult(%s) = %q, %v", id, s.Status, err)
		}
	}
	if _, err := q.GetResult("no-such-id"); !errors.Is(err, ErrActionNotFound) {
		t.Errorf("GetResult(unknown) error = %v", err)
	}
	if h := q.Stats().History; h != 3 {
		t.Errorf("Stats().History = %d, want 3", h)
	}
}

func TestTerminate(t *testing.T) {
	exec := newMockExecutor()
	q := startQueue(t, Config{Name: "q"}, exec)

	running := mustPut(t, q, Request{ItemID: "block"})
	exec.waitStarted(t, "block")
	queued := mustPut(t, q, Request{ItemID: "later"})

	if err := q.Terminate(queued); err != nil {
		t.Fatalf("Terminate(queued) error = %v", err)
	}
	s, _ := q.GetResult(queued)
	if s.Status != StatusTerminated {
		t.Errorf("queued action status = %q, want terminated", s.Status)
	}

	if err := q.Terminate(running); err != nil {
		t.Fatalf("Terminate(running) error = %v", err)
	}
	s = waitFinal(t, q, running)
	if s.Status != StatusTerminated || !errors.Is(s.Err, driver.ErrTerminated) {
		t.Errorf("running action = %q, %v; want terminated", s.Status, s.Err)
	}

	if err := q.Terminate(running); !errors.Is(err, ErrActionFinished) {
		t.Errorf("Terminate(finished) error = %v, want ErrActionFinished", err)
	}
	if err := q.Terminate("nope"); !errors.Is(err, ErrActionNotFound) {
		t.Errorf("Terminate(unknown) error = %v, want ErrActionNotFound", err)
	}

	for _, item := range exec.Order() {
		if item == "later" {
			t.Error("terminated queued action was executed")
		}
	}
}

func TestPreemption(t *testing.T) {
	tests := []struct {
		policy     Preemption
		wantStatus Status
	}{
		{PreemptQueue, StatusCompleted},
		{PreemptRunning, StatusTerminated},
	}

	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			exec := newMockExecutor()
			q := startQueue(t, Config{Name: "q", Preemption: tt.policy}, exec)

			first := mustPut(t, q, Request{ItemID: "block"})
			exec.waitStarted(t, "block")

			// Another item never pre-empts.
			other := mustPut(t, q, Request{ItemID: "other"})
			time.Sleep(20 * time.Millisecond)
			if s, _ := q.GetResult(first); s.Status != StatusRunning {
				t.Fatalf("action for another item changed running status to %q", s.Status)
			}

			second := mustPut(t, q, Request{ItemID: "block", Params: map[string]any{"value": 2}})
			if tt.policy == PreemptQueue {
				close(exec.gate)
			}

			s := waitFinal(t, q, first)
			if s.Status != tt.wantStatus {
				t.Errorf("first action status = %q, want %q", s.Status, tt.wantStatus)
			}
			if tt.policy == PreemptRunning && !errors.Is(s.Err, driver.ErrPreempted) {
				t.Errorf("first action err = %v, want ErrPreempted", s.Err)
			}

			if tt.policy == PreemptRunning {
				close(exec.gate)
			}
			waitFinal(t, q, other)
			if s := waitFinal(t, q, second); s.Status != StatusCompleted {
				t.Errorf("second action status = %q, want completed", s.Status)
			}
		})
	}
}

func TestStopIgnoresPending(t *testing.T) {
	exec := newMockExecutor()
	q := New(Config{Name: "q"}, exec)
	if err := q.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	running := mustPut(t, q, Request{ItemID: "block"})
	exec.waitStarted(t, "block")

	var pending []string
	for _, item := range []string{"a", "b", "c"} {
		pending = append(pending, mustPut(t, q, Request{ItemID: item}))
	}

	stopped := make(chan struct{})
	go func() {
		q.Stop(true)
		close(stopped)
	}()

	// All pending actions are ignored promptly, while the running one is
	// still in progress.
	deadline := time.Now().Add(time.Second)
	for _, id := range pending {
		for {
			s, err := q.GetResult(id)
			if err != nil {
				t.Fatalf("GetResult(%s) error = %v", id, err)
			}
			if s.Status == StatusIgnored {
				break
			}
			if time.Now().After(deadline) {
				t.Fatalf("pending action %s status = %q, want ignored", id, s.Status)
			}
			time.Sleep(5 * time.Millisecond)
		}
	}

	select {
	case <-stopped:
		t.Fatal("Stop(true) returned while an action was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(exec.gate)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop(true) did not return after worker finished")
	}

	if s, _ := q.GetResult(running); s.Status != StatusCompleted {
		t.Errorf("running action status = %q, want completed", s.Status)
	}
	if q.worker.Active() {
		t.Error("worker still active after Stop(true)")
	}
	for _, item := range exec.Order() {
		if item != "block" {
			t.Errorf("ignored action %q was executed", item)
		}
	}
	if _, err := q.Put(Request{ItemID: "x"}); !errors.Is(err, ErrQueueStopped) {
		t.Errorf("Put after Stop error = %v, want ErrQueueStopped", err)
	}
}

func TestRestartAfterStop(t *testing.T) {
	q := New(Config{Name: "q"}, newMockExecutor())
	ctx := context.Background()

	for range 2 {
		if err := q.Start(ctx); err != nil {
			t.Fatalf("Start() error = %v", err)
		}
		id := mustPut(t, q, Request{ItemID: "lamp"})
		if s := waitFinal(t, q, id); s.Status != StatusCompleted {
			t.Errorf("status = %q", s.Status)
		}
		q.Stop(true)
	}
}

type recordingObserver struct {
	mu                        sync.Mutex
	queued, started, finished int
}

func (o *recordingObserver) ActionQueued(Snapshot) {
	o.mu.Lock()
	o.queued++
	o.mu.Unlock()
}

func (o *recordingObserver) ActionStarted(Snapshot) {
	o.mu.Lock()
	o.started++
	o.mu.Unlock()
}

func (o *recordingObserver) ActionFinished(Snapshot) {
	o.mu.Lock()
	o.finished++
	o.mu.Unlock()
}

func TestObserverAndOnFinished(t *testing.T) {
	obs := &recordingObserver{}
	finished := make(chan Snapshot, 4)

	q := New(Config{Name: "q"}, newMockExecutor())
	q.SetObserver(obs)
	q.OnFinished(func(s Snapshot) { finished <- s })
	if err := q.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer q.Stop(true)

	id := mustPut(t, q, Request{ItemID: "lamp", Params: map[string]any{"value": 7}})

	select {
	case s := <-finished:
		if s.ID != id || s.Result != 7 || s.Queue != "q" {
			t.Errorf("OnFinished snapshot = %+v", s)
		}
		if s.Duration() < 0 {
			t.Errorf("Duration() = %v", s.Duration())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnFinished not called")
	}

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if obs.queued != 1 || obs.started != 1 || obs.finished != 1 {
		t.Errorf("observer = %d/%d/%d, want 1/1/1", obs.queued, obs.started, obs.finished)
	}
}

func TestStatusFinal(t *testing.T) {
	final := map[Status]bool{
		StatusCreated:    false,
		StatusQueued:     false,
		StatusRunning:    false,
		StatusCompleted:  true,
		StatusFailed:     true,
		StatusTerminated: true,
		StatusIgnored:    true,
	}
	for s, want := range final {
		if s.Final() != want {
			t.Errorf("%q.Final() = %v, want %v", s, s.Final(), want)
		}
	}
}

func TestRestartAfterNoWaitStop(t *testing.T) {
	exec := newMockExecutor()
	q := New(Config{Name: "q"}, exec)
	if err := q.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { q.Stop(true) })

	first := mustPut(t, q, Request{ItemID: "block"})
	exec.waitStarted(t, "block")

	q.Stop(false)

	restarted := make(chan error, 1)
	go func() { restarted <- q.Start(context.Background()) }()

	select {
	case err := <-restarted:
		t.Fatalf("Start() returned %v while an action was still running", err)
	case <-time.After(50 * time.Millisecond):
	}
	if _, err := q.Put(Request{ItemID: "block"}); !errors.Is(err, ErrQueueStopped) {
		t.Errorf("Put during restart error = %v, want ErrQueueStopped", err)
	}

	close(exec.gate)
	select {
	case err := <-restarted:
		if err != nil {
			t.Fatalf("Start() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start() did not return after the running action finished")
	}

	second := mustPut(t, q, Request{ItemID: "block"})
	exec.waitStarted(t, "block")

	s1 := waitFinal(t, q, first)
	s2 := waitFinal(t, q, second)
	if s1.Status != StatusCompleted || s2.Status != StatusCompleted {
		t.Fatalf("statuses = %q, %q, want both completed", s1.Status, s2.Status)
	}
	if s2.Started.Before(s1.Finished) {
		t.Errorf("second action started at %v before first finished at %v", s2.Started, s1.Finished)
	}
}

func TestContextCancelStopsIntake(t *testing.T) {
	exec := newMockExecutor()
	q := New(Config{Name: "q"}, exec)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := q.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { q.Stop(true) })

	running := mustPut(t, q, Request{ItemID: "block"})
	exec.waitStarted(t, "block")
	queued := mustPut(t, q, Request{ItemID: "lamp"})

	cancel()
	close(exec.gate)

	if s := waitFinal(t, q, running); s.Status != StatusCompleted {
		t.Errorf("running action status = %q, want completed", s.Status)
	}
	if s := waitFinal(t, q, queued); s.Status != StatusIgnored {
		t.Errorf("queued action status = %q, want ignored", s.Status)
	}
	if q.Running() {
		t.Error("Running() = true after the queue context ended")
	}
	if _, err := q.Put(Request{ItemID: "lamp"}); !errors.Is(err, ErrQueueStopped) {
		t.Errorf("Put after context end error = %v, want ErrQueueStopped", err)
	}
}
