package dispatch

import (
	"time"

	"github.com/nerrad567/gray-logic-dispatch/internal/queue"
)

// Routing selects how items map onto queues.
type Routing string

const (
	// RouteItem gives every item its own queue.
	RouteItem Routing = "item"
	// RouteGroup shares one queue between the items of a group. Items
	// without a group use DefaultQueue.
	RouteGroup Routing = "group"
)

// Defaults applied to zero-valued Config fields.
const (
	DefaultQueueName       = "default"
	DefaultStateTimeout    = 5 * time.Second
	DefaultPollConcurrency = 4
	DefaultEventBuffer     = 256
)

// Config holds the dispatch core settings.
type Config struct {
	Routing      Routing
	DefaultQueue string

	// Queue is the template for every queue; Name is set per queue.
	Queue queue.Config

	// PollInterval enables the state poller when positive.
	PollInterval    time.Duration
	PollConcurrency int

	// StateTimeout bounds one LPI state evaluation.
	StateTimeout time.Duration

	// EventBuffer sizes the PHI event and refresh channels. Events beyond
	// it are dropped and counted.
	EventBuffer int

	// QoS is the MQTT QoS used for notifications.
	QoS byte
}

func (c Config) withDefaults() Config {
	if c.Routing == "" {
		c.Routing = RouteItem
	}
	if c.DefaultQueue == "" {
		c.DefaultQueue = DefaultQueueName
	}
	if c.PollConcurrency <= 0 {
		c.PollConcurrency = DefaultPollConcurrency
	}
	if c.StateTimeout <= 0 {
		c.StateTimeout = DefaultStateTimeout
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = DefaultEventBuffer
	}
	return c
}
