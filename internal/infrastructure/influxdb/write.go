package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementAction    = "dispatch_action"
	MeasurementItemState = "item_state"
)

// WriteActionMetric records one finished action: its final status and how
// long it took from start to finish.
func (c *Client) WriteActionMetric(itemID, queueName, status string, d time.Duration) {
	c.WritePoint(actionPoint(itemID, queueName, status, d, time.Now()))
}

// WriteItemState records a numeric item state value.
func (c *Client) WriteItemState(itemID string, value float64) {
	c.WritePoint(statePoint(itemID, value, time.Now()))
}

// WritePoint queues a prebuilt point. Points written while disconnected
// are dropped.
func (c *Client) WritePoint(p *write.Point) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(p)
}

func actionPoint(itemID, queueName, status string, d time.Duration, at time.Time) *write.Point {
	return write.NewPoint(MeasurementAction,
		map[string]string{
			"item_id": itemID,
			"queue":   queueName,
			"status":  status,
		},
		map[string]any{
			"duration_ms": float64(d) / float64(time.Millisecond),
		},
		at)
}

func statePoint(itemID string, value float64, at time.Time) *write.Point {
	return write.NewPoint(MeasurementItemState,
		map[string]string{"item_id": itemID},
		map[string]any{"value": value},
		at)
}
