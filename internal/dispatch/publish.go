package dispatch

import (
	"encoding/json"
	"time"

	"github.com/nerrad567/gray-logic-dispatch/internal/driver"
	"github.com/nerrad567/gray-logic-dispatch/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-dispatch/internal/item"
	"github.com/nerrad567/gray-logic-dispatch/internal/queue"
)

// ActionPayload is published when an action reaches a final status.
type ActionPayload struct {
	ActionID   string    `json:"action_id"`
	Item       string    `json:"item"`
	Queue      string    `json:"queue"`
	Status     string    `json:"status"`
	Priority   int       `json:"priority"`
	Result     any       `json:"result,omitempty"`
	Error      string    `json:"error,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	Timestamp  time.Time `json:"timestamp"`
}

// StatePayload is published when an item's state changes.
type StatePayload struct {
	Item      string    `json:"item"`
	Status    string    `json:"status"`
	Value     any       `json:"value,omitempty"`
	Valid     bool      `json:"valid"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// EventPayload is published for every PHI change event.
type EventPayload struct {
	PHI       string    `json:"phi"`
	Port      string    `json:"port"`
	Value     any       `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// StatusPayload is the retained core status.
type StatusPayload struct {
	Status    string    `json:"status"`
	Queues    int       `json:"queues"`
	Timestamp time.Time `json:"timestamp"`
}

func (c *Core) publishAction(s queue.Snapshot) {
	c.publish(mqtt.Topics{}.ActionResult(s.ItemID), ActionPayload{
		ActionID:   s.ID,
		Item:       s.ItemID,
		Queue:      s.Queue,
		Status:     string(s.Status),
		Priority:   s.Priority,
		Result:     s.Result,
		Error:      s.ErrText(),
		DurationMS: s.Duration().Milliseconds(),
		Timestamp:  s.Finished.UTC(),
	}, false)
}

func (c *Core) publishState(itemID string, st item.State) {
	ts := time.Now().UTC()
	if st.UpdatedAt != nil {
		ts = *st.UpdatedAt
	}
	c.publish(mqtt.Topics{}.ItemState(itemID), StatePayload{
		Item:      itemID,
		Status:    st.Status,
		Value:     st.Value,
		Valid:     st.Valid,
		Error:     st.Error,
		Timestamp: ts,
	}, true)
}

func (c *Core) publishEvent(ev driver.Event) {
	c.publish(mqtt.Topics{}.PHIEvent(ev.PHI), EventPayload{
		PHI:       ev.PHI,
		Port:      ev.Port,
		Value:     ev.Value,
		Timestamp: ev.Time.UTC(),
	}, false)
}

func (c *Core) publishStatus(status string) {
	c.publish(mqtt.Topics{}.Status(), StatusPayload{
		Status:    status,
		Queues:    c.QueueCount(),
		Timestamp: time.Now().UTC(),
	}, true)
}

// publish marshals v and sends it. Failures are logged only.
func (c *Core) publish(topic string, v any, retained bool) {
	if c.pub == nil {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		c.logger.Warn("encoding notification failed", "topic", topic, "error", err)
		return
	}
	if err := c.pub.Publish(topic, payload, c.cfg.QoS, retained); err != nil {
		c.logger.Debug("notification not published", "topic", topic, "error", err)
	}
}
