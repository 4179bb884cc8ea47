package queue

import (
	"context"
	"maps"
	"time"
)

// Status is the lifecycle state of an action.
type Status string

const (
	StatusCreated    Status = "created"
	StatusQueued     Status = "queued"
	StatusRunning    Status = "running"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusTerminated Status = "terminated"
	StatusIgnored    Status = "ignored"
)

// Final reports whether s is a terminal status.
func (s Status) Final() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTerminated, StatusIgnored:
		return true
	}
	return false
}

// Request is a command submitted to a queue.
type Request struct {
	ItemID string
	Params map[string]any
	// Priority orders execution; lower runs first. Zero selects the
	// queue's default priority.
	Priority int
	// Timeout bounds the driver call; zero defers to the driver's default.
	Timeout time.Duration
}

// Snapshot is a point-in-time copy of an action.
type Snapshot struct {
	ID       string         `json:"id"`
	Queue    string         `json:"queue"`
	ItemID   string         `json:"item_id"`
	Priority int            `json:"priority"`
	Status   Status         `json:"status"`
	Params   map[string]any `json:"params,omitempty"`
	Timeout  time.Duration  `json:"timeout,omitempty"`
	Created  time.Time      `json:"created"`
	Started  time.Time      `json:"started,omitzero"`
	Finished time.Time      `json:"finished,omitzero"`
	Result   any            `json:"result,omitempty"`
	Err      error          `json:"-"`
}

// ErrText returns the captured error message, or "".
func (s Snapshot) ErrText() string {
	if s.Err == nil {
		return ""
	}
	return s.Err.Error()
}

// Duration returns the execution time of a started action.
func (s Snapshot) Duration() time.Duration {
	if s.Started.IsZero() || s.Finished.IsZero() {
		return 0
	}
	return s.Finished.Sub(s.Started)
}

// action is the queue-owned mutable record. All fields are guarded by the
// owning queue's mutex.
type action struct {
	id       string
	item     string
	priority int
	seq      uint64
	params   map[string]any
	timeout  time.Duration

	status   Status
	created  time.Time
	started  time.Time
	finished time.Time
	result   any
	err      error

	cancel context.CancelCauseFunc
	done   chan struct{}
	index  int
}

func (a *action) snapshot(queue string) Snapshot {
	return Snapshot{
		ID:       a.id,
		Queue:    queue,
		ItemID:   a.item,
		Priority: a.priority,
		Status:   a.status,
		Params:   maps.Clone(a.params),
		Timeout:  a.timeout,
		Created:  a.created,
		Started:  a.started,
		Finished: a.finished,
		Result:   a.result,
		Err:      a.err,
	}
}

// actionHeap orders pending actions by (priority, seq).
type actionHeap []*action

func (h actionHeap) Len() int { return len(h) }

func (h actionHeap) Less(i, j int) bool { return runsBefore(h[i], h[j]) }

// runsBefore reports whether a is dispatched before b.
func runsBefore(a, b *action) bool {
	if a.priority != b.priority {
		return a.priority < b.priority
	}
	return a.seq < b.seq
}

func (h actionHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *actionHeap) Push(x any) {
	a := x.(*action)
	a.index = len(*h)
	*h = append(*h, a)
}

func (h *actionHeap) Pop() any {
	old := *h
	n := len(old)
	a := old[n-1]
	old[n-1] = nil
	a.index = -1
	*h = old[:n-1]
	return a
}
