package connection

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Transport is a single WebSocket connection to the venue. All occurrences
// (open, inbound frames, closes, errors, pings, pongs) surface as one ordered
// event stream; after a Close or Error event the stream ends and the events
// channel is closed.
type Transport interface {
	// Connect establishes the WebSocket connection and emits EventOpen.
	Connect() error

	// Close gracefully closes the connection.
	Close() error

	// Send writes a text frame to the connection.
	Send(data []byte) error

	// Events returns the ordered event stream for this connection.
	Events() <-chan Event
}

// Factory builds a new transport for a connection key. Tests substitute fakes.
type Factory func(cfg ClientConfig, logger *slog.Logger) Transport

// client implements Transport over gorilla/websocket.
type client struct {
	cfg    ClientConfig
	logger *slog.Logger

	conn *websocket.Conn

	events chan Event
	done   chan struct{}

	// Write serialization
	writeMu sync.Mutex

	// State
	mu         sync.Mutex
	connected  bool
	closed     bool
	lastPingAt time.Time

	loops sync.WaitGroup

	// Only the first terminal event (close or error) is delivered.
	terminal sync.Once
}

// NewClient creates a WebSocket transport. It satisfies Factory.
func NewClient(cfg ClientConfig, logger *slog.Logger) Transport {
	if logger == nil {
		logger = slog.Default()
	}
	return &client{
		cfg:    cfg,
		logger: logger,
		events: make(chan Event, cfg.BufferSize),
		done:   make(chan struct{}),
	}
}

// Connect dials the venue and starts the read and heartbeat loops.
func (c *client) Connect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrAlreadyClosed
	}
	c.mu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.Dial(c.cfg.URL, http.Header{})
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.lastPingAt = time.Now()
	c.mu.Unlock()

	// The venue answers pings at the protocol level; the application only
	// observes them.
	conn.SetPingHandler(func(data string) error {
		c.mu.Lock()
		c.lastPingAt = time.Now()
		c.mu.Unlock()

		err := conn.WriteControl(
			websocket.PongMessage,
			[]byte(data),
			time.Now().Add(time.Second),
		)
		c.emit(Event{Type: EventPing})
		return err
	})

	conn.SetPongHandler(func(data string) error {
		c.mu.Lock()
		c.lastPingAt = time.Now()
		c.mu.Unlock()
		c.emit(Event{Type: EventPong})
		return nil
	})

	c.loops.Add(2)
	go c.readLoop()
	go c.heartbeatLoop()

	// Close the event stream once both loops have stopped so consumers see a
	// definite end after the terminal event.
	go func() {
		c.loops.Wait()
		close(c.events)
	}()

	c.emit(Event{Type: EventOpen})
	c.logger.Debug("websocket connected", "url", c.cfg.URL)

	return nil
}

// Close gracefully closes the connection. Safe to call more than once.
func (c *client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.connected = false
	conn := c.conn
	c.mu.Unlock()

	close(c.done)

	if conn != nil {
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		return conn.Close()
	}

	return nil
}

// Send writes a text frame.
func (c *client) Send(data []byte) error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return ErrNotConnected
	}
	conn := c.conn
	c.mu.Unlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Events returns the event stream.
func (c *client) Events() <-chan Event {
	return c.events
}

// readLoop reads frames and emits message events until the connection ends.
func (c *client) readLoop() {
	defer c.loops.Done()
	defer func() {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
	}()

	for {
		select {
		case <-c.done:
			return
		default:
		}

		_, data, err := c.conn.ReadMessage()
		receivedAt := time.Now()

		if err != nil {
			// Errors after Close() are the expected teardown noise.
			select {
			case <-c.done:
				return
			default:
			}

			if closeErr, ok := err.(*websocket.CloseError); ok {
				c.emitTerminal(Event{Type: EventClose, Code: closeErr.Code})
			} else {
				c.emitTerminal(Event{Type: EventError, Err: err})
			}
			return
		}

		c.emit(Event{Type: EventMessage, Data: data, ReceivedAt: receivedAt})
	}
}

// heartbeatLoop sends keepalive pings and watches for staleness.
func (c *client) heartbeatLoop() {
	defer c.loops.Done()

	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.Lock()
			conn := c.conn
			lastPing := c.lastPingAt
			c.mu.Unlock()

			if conn != nil {
				deadline := time.Now().Add(c.cfg.WriteTimeout)
				if err := conn.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline); err != nil {
					c.logger.Debug("failed to send ping", "error", err)
				}
			}

			if time.Since(lastPing) > c.cfg.PingInterval+c.cfg.PingTimeout {
				c.logger.Warn("no ping activity, connection stale",
					"last_ping", lastPing,
					"timeout", c.cfg.PingTimeout,
				)
				c.emitTerminal(Event{Type: EventError, Err: ErrStaleConnection})
				return
			}
		}
	}
}

// emit delivers a non-terminal event, blocking until the consumer takes it
// or the transport is closed. Per-connection ordering depends on this never
// dropping.
func (c *client) emit(ev Event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

// emitTerminal delivers at most one close/error event for the lifetime of
// the transport.
func (c *client) emitTerminal(ev Event) {
	c.terminal.Do(func() {
		c.emit(ev)
	})
}
