package knx

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-dispatch/internal/driver"
)

// knxd connection defaults.
const (
	defaultConnectTimeout    = 10 * time.Second
	defaultIdleReadTimeout   = 30 * time.Second
	defaultWriteTimeout      = 5 * time.Second
	defaultReconnectInterval = 5 * time.Second
	maxReconnectInterval     = 2 * time.Minute

	// maxFrameSize bounds a single knxd message; anything larger means
	// the stream is out of step.
	maxFrameSize = 256
)

// Connector is the knxd transport used by the PHI.
type Connector interface {
	Write(ctx context.Context, ga GroupAddress, data []byte, short bool) error
	RequestRead(ctx context.Context, ga GroupAddress) error
	SetOnTelegram(fn func(Telegram))
	IsConnected() bool
	Close() error
}

var _ Connector = (*Client)(nil)

// ClientConfig holds knxd connection settings.
type ClientConfig struct {
	// Connection is "unix:///run/knxd" or "tcp://host:6720".
	Connection        string
	ConnectTimeout    time.Duration
	ReconnectInterval time.Duration
}

// ClientStats holds connection counters.
type ClientStats struct {
	TelegramsTx uint64 `json:"telegrams_tx"`
	TelegramsRx uint64 `json:"telegrams_rx"`
	Errors      uint64 `json:"errors"`
	Reconnects  uint64 `json:"reconnects"`
	Connected   bool   `json:"connected"`
}

// Client is a group-socket connection to knxd with automatic reconnection.
//
// Thread Safety: all methods are safe for concurrent use. The telegram
// callback runs on the receive goroutine and must not block.
type Client struct {
	cfg              ClientConfig
	network, address string
	logger           driver.Logger

	connMu    sync.RWMutex
	conn      net.Conn
	connected bool

	writeMu sync.Mutex

	cbMu       sync.RWMutex
	onTelegram func(Telegram)

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	tx, rx, errs, reconnects atomic.Uint64
}

// Dial connects to knxd, opens a group socket and starts receiving.
func Dial(ctx context.Context, cfg ClientConfig, logger driver.Logger) (*Client, error) {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.ReconnectInterval == 0 {
		cfg.ReconnectInterval = defaultReconnectInterval
	}
	if logger == nil {
		logger = driver.NoopLogger{}
	}

	network, address, err := parseConnectionURL(cfg.Connection)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c := &Client{
		cfg:     cfg,
		network: network,
		address: address,
		logger:  logger,
		done:    make(chan struct{}),
	}

	conn, err := c.open(ctx)
	if err != nil {
		return nil, err
	}
	c.setConn(conn)

	c.wg.Add(1)
	go c.receiveLoop()

	return c, nil
}

// parseConnectionURL maps a knxd URL onto a dial network and address.
func parseConnectionURL(raw string) (network, address string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("invalid URL: %w", err)
	}
	switch u.Scheme {
	case "unix":
		return "unix", u.Path, nil
	case "tcp":
		if u.Host == "" {
			return "tcp", "localhost:6720", nil
		}
		return "tcp", u.Host, nil
	}
	return "", "", fmt.Errorf("unsupported scheme %q (use unix or tcp)", u.Scheme)
}

// open dials knxd and performs the group socket handshake.
func (c *Client) open(ctx context.Context) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, c.network, c.address)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s://%s: %w", ErrConnectionFailed, c.network, c.address, err)
	}

	if err := handshake(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: handshake: %w", ErrConnectionFailed, err)
	}
	return conn, nil
}

// handshake sends EIB_OPEN_GROUPCON (read+write) and waits for the echo.
func handshake(ctx context.Context, conn net.Conn) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultConnectTimeout)
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return err
	}
	defer conn.SetDeadline(time.Time{}) //nolint:errcheck // best effort reset

	if _, err := conn.Write(frame(msgOpenGroupCon, []byte{0x00, 0x00, 0x00})); err != nil {
		return fmt.Errorf("write: %w", err)
	}

	buf := make([]byte, maxFrameSize)
	msgType, _, err := readFrame(conn, buf)
	if err != nil {
		return err
	}
	if msgType != msgOpenGroupCon {
		return fmt.Errorf("unexpected response type 0x%04X", msgType)
	}
	return nil
}

// readFrame reads one length-prefixed knxd message into buf.
func readFrame(r io.Reader, buf []byte) (uint16, []byte, error) {
	if _, err := io.ReadFull(r, buf[:2]); err != nil {
		return 0, nil, err
	}
	size := int(binary.BigEndian.Uint16(buf[:2]))
	if size < 2 {
		return 0, nil, fmt.Errorf("%w: size %d", ErrInvalidFrame, size)
	}
	if 2+size > len(buf) {
		return 0, nil, fmt.Errorf("%w: size %d exceeds %d", errProtocolDesync, size, len(buf))
	}
	if _, err := io.ReadFull(r, buf[2:2+size]); err != nil {
		return 0, nil, err
	}
	return unframe(buf[:2+size])
}

// receiveLoop delivers group telegrams until Close, reconnecting with
// backoff when the connection drops.
func (c *Client) receiveLoop() {
	defer c.wg.Done()

	buf := make([]byte, maxFrameSize)
	for !c.closed() {
		conn := c.currentConn()
		if conn == nil {
			if !c.reconnect() {
				return
			}
			continue
		}

		_ = conn.SetReadDeadline(time.Now().Add(defaultIdleReadTimeout))
		msgType, payload, err := readFrame(conn, buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if c.closed() {
				return
			}
			if errors.Is(err, ErrInvalidFrame) {
				c.errs.Add(1)
				continue
			}
			c.errs.Add(1)
			c.logger.Warn("knxd connection lost", "connection", c.cfg.Connection, "error", err)
			c.dropConn(conn)
			continue
		}

		if msgType != msgGroupPacket {
			continue
		}
		t, err := decodeGroupPacket(payload)
		if err != nil {
			c.errs.Add(1)
			continue
		}
		c.rx.Add(1)
		c.deliver(t)
	}
}

// deliver invokes the telegram callback, recovering panics.
func (c *Client) deliver(t Telegram) {
	c.cbMu.RLock()
	fn := c.onTelegram
	c.cbMu.RUnlock()
	if fn == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("telegram callback panic", "panic", r, "ga", t.Destination.String())
		}
	}()
	fn(t)
}

// reconnect re-dials with exponential backoff. It returns false when the
// client was closed meanwhile.
func (c *Client) reconnect() bool {
	backoff := c.cfg.ReconnectInterval
	for attempt := 1; ; attempt++ {
		if c.closed() {
			return false
		}

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			select {
			case <-c.done:
				cancel()
			case <-ctx.Done():
			}
		}()
		conn, err := c.open(ctx)
		cancel()

		if err == nil {
			c.setConn(conn)
			c.reconnects.Add(1)
			c.logger.Info("knxd reconnected", "connection", c.cfg.Connection, "attempt", attempt)
			return true
		}

		c.errs.Add(1)
		c.logger.Warn("knxd reconnect failed", "attempt", attempt, "backoff", backoff.String(), "error", err)

		select {
		case <-c.done:
			return false
		case <-time.After(backoff):
		}
		backoff = min(time.Duration(float64(backoff)*1.5), maxReconnectInterval)
	}
}

// Write sends a group write telegram.
func (c *Client) Write(ctx context.Context, ga GroupAddress, data []byte, short bool) error {
	return c.send(ctx, encodeGroupPacket(ga, apciWrite, data, short))
}

// RequestRead sends a group read request; the answer arrives as a
// response telegram through the callback.
func (c *Client) RequestRead(ctx context.Context, ga GroupAddress) error {
	return c.send(ctx, encodeGroupPacket(ga, apciRead, nil, true))
}

func (c *Client) send(ctx context.Context, packet []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	conn := c.currentConn()
	if conn == nil {
		return ErrNotConnected
	}

	deadline := time.Now().Add(defaultWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if _, err := conn.Write(frame(msgGroupPacket, packet)); err != nil {
		c.errs.Add(1)
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
		}
		return fmt.Errorf("write telegram: %w", err)
	}
	c.tx.Add(1)
	return nil
}

// SetOnTelegram sets the callback for received group telegrams.
func (c *Client) SetOnTelegram(fn func(Telegram)) {
	c.cbMu.Lock()
	c.onTelegram = fn
	c.cbMu.Unlock()
}

// IsConnected reports whether the group socket is up.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected
}

// Stats returns connection counters.
func (c *Client) Stats() ClientStats {
	return ClientStats{
		TelegramsTx: c.tx.Load(),
		TelegramsRx: c.rx.Load(),
		Errors:      c.errs.Load(),
		Reconnects:  c.reconnects.Load(),
		Connected:   c.IsConnected(),
	}
}

// Close stops the receive loop and closes the connection. Safe to call
// more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.connMu.Lock()
		if c.conn != nil {
			c.conn.Close()
		}
		c.conn = nil
		c.connected = false
		c.connMu.Unlock()
	})
	c.wg.Wait()
	return nil
}

func (c *Client) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Client) currentConn() net.Conn {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.conn
}

func (c *Client) setConn(conn net.Conn) {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.closed() {
		conn.Close()
		return
	}
	c.conn = conn
	c.connected = true
}

// dropConn closes conn if it is still the current connection.
func (c *Client) dropConn(conn net.Conn) {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == conn {
		c.conn.Close()
		c.conn = nil
		c.connected = false
	}
}
