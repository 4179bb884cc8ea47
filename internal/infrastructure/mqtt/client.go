package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-dispatch/internal/infrastructure/config"
)

// Logger receives connection and delivery events.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// broker is the subset of pahomqtt.Client the sender uses.
type broker interface {
	Publish(topic string, qos byte, retained bool, payload any) pahomqtt.Token
	IsConnected() bool
	Disconnect(quiesce uint)
}

type message struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// Client publishes dispatch notifications to an MQTT broker.
//
// Publish never waits for the broker: messages go to a bounded outbox that a
// single sender goroutine drains in order. When the outbox is full the
// message is dropped and counted.
//
// Thread Safety: all methods are safe for concurrent use.
type Client struct {
	conn     broker
	clientID string
	qos      byte

	outbox chan message
	sendMu sync.RWMutex // guards closed against sends on outbox
	closed bool
	done   chan struct{}

	connected atomic.Bool
	sent      atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64

	hookMu       sync.RWMutex
	onConnect    func()
	onDisconnect func(error)
	logger       Logger
}

// Connect dials the broker and starts the sender. The retained status topic
// reports online on every (re)connect and offline through the Last Will.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := newClient(cfg.Broker.ClientID, byte(cfg.QoS), defaultOutboxSize)

	opts := clientOptions(cfg)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.connectionUp() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.connectionDown(err) })

	pc := pahomqtt.NewClient(opts)
	c.conn = pc // set before dialing: the connect handler publishes through it
	token := pc.Connect()
	if !token.WaitTimeout(connectTimeout) {
		pc.Disconnect(0)
		return nil, fmt.Errorf("%w: no answer from %s within %v", ErrConnectionFailed, brokerURL(cfg.Broker), connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c.connected.Store(true)
	go c.send()
	return c, nil
}

func newClient(clientID string, qos byte, outbox int) *Client {
	return &Client{
		clientID: clientID,
		qos:      qos,
		outbox:   make(chan message, outbox),
		done:     make(chan struct{}),
		logger:   noopLogger{},
	}
}

// send drains the outbox until Close closes it.
func (c *Client) send() {
	defer close(c.done)
	for m := range c.outbox {
		token := c.conn.Publish(m.topic, m.qos, m.retained, m.payload)
		if !token.WaitTimeout(publishTimeout) {
			c.failed.Add(1)
			c.log().Warn("mqtt publish timed out", "topic", m.topic)
			continue
		}
		if err := token.Error(); err != nil {
			c.failed.Add(1)
			c.log().Warn("mqtt publish failed", "topic", m.topic, "error", err)
			continue
		}
		c.sent.Add(1)
	}
}

// Publish queues a message for delivery.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := validatePublish(topic, payload, qos); err != nil {
		return err
	}

	c.sendMu.RLock()
	defer c.sendMu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	select {
	case c.outbox <- message{topic: topic, payload: payload, qos: qos, retained: retained}:
		return nil
	default:
		c.dropped.Add(1)
		return fmt.Errorf("%w: %s", ErrOutboxFull, topic)
	}
}

// Close stops accepting messages, flushes the outbox for up to the drain
// timeout, publishes the offline status and disconnects.
func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}

	c.sendMu.Lock()
	if c.closed {
		c.sendMu.Unlock()
		return nil
	}
	c.closed = true
	close(c.outbox)
	c.sendMu.Unlock()

	select {
	case <-c.done:
	case <-time.After(drainTimeout):
		c.log().Warn("mqtt outbox not drained before close", "pending", len(c.outbox))
	}

	if c.conn.IsConnected() {
		c.conn.Publish(Topics{}.Status(), c.qos, true, statusPayload(statusOffline, c.clientID, reasonShutdown)).
			WaitTimeout(publishTimeout)
	}
	c.conn.Disconnect(disconnectQuiesceMS)
	c.connected.Store(false)
	return nil
}

// HealthCheck reports ErrNotConnected while the broker link is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected returns the last known connection state.
func (c *Client) IsConnected() bool {
	if c == nil || c.conn == nil {
		return false
	}
	return c.connected.Load() && c.conn.IsConnected()
}

// Stats holds delivery counters.
type Stats struct {
	Sent    uint64
	Dropped uint64
	Failed  uint64
	Pending int
}

// Stats returns delivery counters since Connect.
func (c *Client) Stats() Stats {
	return Stats{
		Sent:    c.sent.Load(),
		Dropped: c.dropped.Load(),
		Failed:  c.failed.Load(),
		Pending: len(c.outbox),
	}
}

// SetOnConnect sets a callback invoked on every (re)connect.
func (c *Client) SetOnConnect(fn func()) {
	c.hookMu.Lock()
	c.onConnect = fn
	c.hookMu.Unlock()
}

// SetOnDisconnect sets a callback invoked when the connection is lost.
func (c *Client) SetOnDisconnect(fn func(error)) {
	c.hookMu.Lock()
	c.onDisconnect = fn
	c.hookMu.Unlock()
}

// SetLogger sets the logger for connection and delivery events.
func (c *Client) SetLogger(logger Logger) {
	c.hookMu.Lock()
	c.logger = logger
	c.hookMu.Unlock()
}

func (c *Client) log() Logger {
	c.hookMu.RLock()
	defer c.hookMu.RUnlock()
	return c.logger
}

// connectionUp runs on paho's callback goroutine after every connect.
func (c *Client) connectionUp() {
	c.connected.Store(true)

	// Status goes straight to the broker so it is never stuck behind a
	// full outbox.
	if c.conn != nil {
		c.conn.Publish(Topics{}.Status(), c.qos, true, statusPayload(statusOnline, c.clientID, ""))
	}
	c.log().Info("mqtt connected", "client_id", c.clientID)

	c.hookMu.RLock()
	fn := c.onConnect
	c.hookMu.RUnlock()
	if fn != nil {
		fn()
	}
}

func (c *Client) connectionDown(err error) {
	c.connected.Store(false)
	c.log().Warn("mqtt connection lost", "error", err)

	c.hookMu.RLock()
	fn := c.onDisconnect
	c.hookMu.RUnlock()
	if fn != nil {
		fn(err)
	}
}
