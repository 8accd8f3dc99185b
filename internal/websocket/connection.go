package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"supportchat/pkg/types"
)

// ConnectionOptions tunes a single socket.
type ConnectionOptions struct {
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
	PingInterval time.Duration
	BufferSize   int
}

func (o ConnectionOptions) withDefaults() ConnectionOptions {
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 60 * time.Second
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 25 * time.Second
	}
	if o.BufferSize <= 0 {
		o.BufferSize = 100
	}
	return o
}

type completion struct {
	err error
}

// Connection wraps one dialed socket
// ARCHITECTURAL DISCOVERY: WebSocket writes must be serialized to prevent race conditions
// Each reconnect produces a fresh Connection; the Channel above it stays stable
type Connection struct {
	conn      *websocket.Conn
	opts      ConnectionOptions
	writeCh   chan []byte                // drained by the single writer goroutine
	events    chan<- *types.Event        // owned by the Channel
	pending   map[string]chan completion // invocation id -> waiter
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	err       error
	closeOnce sync.Once
	mu        sync.Mutex
}

// NewConnection starts the reader, writer and ping goroutines for conn.
// Inbound events are forwarded to events.
func NewConnection(conn *websocket.Conn, events chan<- *types.Event, opts ConnectionOptions) *Connection {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:    conn,
		opts:    opts,
		writeCh: make(chan []byte, opts.BufferSize),
		events:  events,
		pending: make(map[string]chan completion),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	go c.writeLoop()
	go c.readLoop()
	go c.pingLoop()

	return c
}

// ARCHITECTURAL DISCOVERY: Single writer goroutine pattern eliminates races
func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
				c.fail(err)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.fail(err)
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Connection) readLoop() {
	defer c.fail(ErrConnectionClosed)

	if err := c.conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout)); err != nil {
		log.Printf("Failed to set read deadline: %v", err)
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("WebSocket read error: %v", err)
			}
			c.fail(err)
			return
		}
		// Any traffic proves liveness
		_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))

		if messageType != websocket.TextMessage {
			continue
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			log.Printf("Discarding malformed frame: %v", err)
			continue
		}

		switch frame.Type {
		case FrameCompletion:
			c.complete(frame.ID, frame.Error)
		case FrameEvent:
			event := &types.Event{
				Name:       frame.Target,
				Arguments:  frame.Arguments,
				ReceivedAt: time.Now(),
			}
			select {
			case c.events <- event:
			case <-c.ctx.Done():
				return
			}
		case FramePing:
			_ = c.WriteJSON(&Frame{Type: FramePing})
		case FrameClose:
			if frame.Error != "" {
				log.Printf("Server closed channel: %s", frame.Error)
			}
			return
		default:
			log.Printf("Ignoring frame with unknown type %q", frame.Type)
		}
	}
}

func (c *Connection) pingLoop() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(c.opts.WriteTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, []byte{}, deadline); err != nil {
				c.fail(err)
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// WriteJSON queues v for the writer goroutine.
func (c *Connection) WriteJSON(v interface{}) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidJSON
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-time.After(c.opts.WriteTimeout):
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// Invoke sends an invocation frame and waits for the matching completion.
func (c *Connection) Invoke(ctx context.Context, method string, args ...interface{}) error {
	id := uuid.New().String()
	frame, err := newInvocation(id, method, args)
	if err != nil {
		return err
	}

	waiter := make(chan completion, 1)
	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return ErrConnectionClosed
	}
	c.pending[id] = waiter
	c.mu.Unlock()

	if err := c.WriteJSON(frame); err != nil {
		c.forget(id)
		return err
	}

	select {
	case result := <-waiter:
		var invErr *InvocationError
		if errors.As(result.err, &invErr) {
			invErr.Method = method
		}
		return result.err
	case <-ctx.Done():
		c.forget(id)
		return ctx.Err()
	}
}

func (c *Connection) complete(id, errText string) {
	c.mu.Lock()
	waiter, ok := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()

	if !ok {
		return
	}
	if errText != "" {
		waiter <- completion{err: &InvocationError{Message: errText}}
		return
	}
	waiter <- completion{}
}

func (c *Connection) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// fail records the first terminal error and tears the socket down.
func (c *Connection) fail(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.mu.Unlock()
	_ = c.Close()
}

// Done is closed once the connection is unusable.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Err returns the error that terminated the connection, if any.
func (c *Connection) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close stops all goroutines and closes the socket. Safe to call repeatedly.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()

		deadline := time.Now().Add(time.Second)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		err = c.conn.Close()

		c.mu.Lock()
		if c.err == nil {
			c.err = ErrConnectionClosed
		}
		waiters := c.pending
		c.pending = make(map[string]chan completion)
		c.mu.Unlock()

		// Outstanding invocations can never complete on this socket
		for _, waiter := range waiters {
			waiter <- completion{err: ErrConnectionClosed}
		}
		close(c.done)
	})
	return err
}
