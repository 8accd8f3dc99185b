package websocket

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"supportchat/internal/metrics"
	"supportchat/pkg/interfaces"
	"supportchat/pkg/types"
)

// ChannelOptions configures the reconnecting channel.
type ChannelOptions struct {
	URL         string
	Role        types.Role
	Credentials interfaces.CredentialProvider

	HandshakeTimeout     time.Duration
	ReconnectInitial     time.Duration
	ReconnectMaxInterval time.Duration
	ReconnectMaxElapsed  time.Duration // zero retries until Stop
	InvokeTimeout        time.Duration
	EventBuffer          int

	Connection ConnectionOptions
}

// Channel is the reconnecting transport behind the chat client
// ARCHITECTURAL DISCOVERY: The Channel owns the only event stream; sockets come and go
// beneath it, so the hub subscribes exactly once per channel lifecycle
type Channel struct {
	opts   ChannelOptions
	dialer *websocket.Dialer
	events chan *types.Event

	// newBackOff is swapped by tests for a fast policy
	newBackOff func() backoff.BackOff

	state      types.TransportState
	conn       *Connection
	generation uint64
	cancel     context.CancelFunc
	// cancelDial aborts the handshake of an in-flight Start
	cancelDial context.CancelFunc
	mu         sync.RWMutex
	wg         sync.WaitGroup
}

// NewChannel validates options and returns a stopped channel.
func NewChannel(opts ChannelOptions) (*Channel, error) {
	if opts.Credentials == nil {
		return nil, ErrNoCredentials
	}
	if !types.IsValidRole(opts.Role) {
		return nil, types.ErrInvalidRole
	}
	endpoint, err := url.Parse(opts.URL)
	if err != nil || (endpoint.Scheme != "ws" && endpoint.Scheme != "wss") || endpoint.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidEndpoint, opts.URL)
	}

	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	if opts.ReconnectInitial <= 0 {
		opts.ReconnectInitial = 500 * time.Millisecond
	}
	if opts.ReconnectMaxInterval <= 0 {
		opts.ReconnectMaxInterval = 30 * time.Second
	}
	if opts.InvokeTimeout <= 0 {
		opts.InvokeTimeout = 10 * time.Second
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 256
	}

	c := &Channel{
		opts: opts,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.HandshakeTimeout,
		},
		events: make(chan *types.Event, opts.EventBuffer),
		state:  types.StateDisconnected,
	}
	c.newBackOff = c.defaultBackOff
	return c, nil
}

func (c *Channel) defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.ReconnectInitial
	b.MaxInterval = c.opts.ReconnectMaxInterval
	b.MaxElapsedTime = c.opts.ReconnectMaxElapsed
	return b
}

// EndpointURL returns the channel URL with the role flag applied.
func (c *Channel) EndpointURL() string {
	endpoint, _ := url.Parse(c.opts.URL)
	query := endpoint.Query()
	if c.opts.Role == types.RoleAdmin {
		query.Set("isAdmin", "true")
	} else {
		query.Set("isAdmin", "false")
	}
	query.Set("role", string(c.opts.Role))
	endpoint.RawQuery = query.Encode()
	return endpoint.String()
}

// dial evaluates the credential provider and opens one socket.
func (c *Channel) dial(ctx context.Context) (*Connection, error) {
	token, err := c.opts.Credentials(ctx)
	if err != nil {
		return nil, fmt.Errorf("credential provider: %w", err)
	}

	endpoint, _ := url.Parse(c.EndpointURL())
	header := http.Header{}
	if token != "" {
		// Browser clients cannot set headers on upgrade, so servers accept both
		query := endpoint.Query()
		query.Set("access_token", token)
		endpoint.RawQuery = query.Encode()
		header.Set("Authorization", "Bearer "+token)
	}

	ws, resp, err := c.dialer.DialContext(ctx, endpoint.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("handshake status %d: %w", resp.StatusCode, err)
		}
		return nil, err
	}
	return NewConnection(ws, c.events, c.opts.Connection), nil
}

// Start dials once. Failure leaves the channel disconnected and is returned to the caller.
func (c *Channel) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != types.StateDisconnected {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.generation++
	gen := c.generation
	dialCtx, cancelDial := context.WithCancel(ctx)
	c.cancelDial = cancelDial
	c.setStateLocked(types.StateConnecting)
	c.mu.Unlock()

	conn, err := c.dial(dialCtx)
	cancelDial()
	metrics.ConnectAttempts.WithLabelValues("initial", metrics.Result(err)).Inc()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.generation != gen {
		// Stopped while dialing
		if conn != nil {
			_ = conn.Close()
		}
		return ErrConnectionClosed
	}
	c.cancelDial = nil
	if err != nil {
		c.setStateLocked(types.StateDisconnected)
		return fmt.Errorf("%w: %v", ErrDialFailed, err)
	}

	lifeCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.conn = conn
	c.setStateLocked(types.StateConnected)

	c.wg.Add(1)
	go c.supervise(lifeCtx, gen, conn)

	return nil
}

// supervise waits for the socket to drop and drives the reconnect policy
// FUNCTIONAL DISCOVERY: Reconnect is the only automatic retry in the client;
// individual invocations are never retried
func (c *Channel) supervise(ctx context.Context, gen uint64, conn *Connection) {
	defer c.wg.Done()

	for {
		select {
		case <-conn.Done():
		case <-ctx.Done():
			return
		}
		if ctx.Err() != nil {
			return
		}

		log.Printf("Channel dropped: role=%s err=%v", c.opts.Role, conn.Err())
		if !c.transition(gen, types.StateReconnecting) {
			return
		}

		policy := backoff.WithContext(c.newBackOff(), ctx)
		next, err := backoff.RetryNotifyWithData(func() (*Connection, error) {
			newConn, dialErr := c.dial(ctx)
			metrics.ConnectAttempts.WithLabelValues("reconnect", metrics.Result(dialErr)).Inc()
			return newConn, dialErr
		}, policy, func(err error, wait time.Duration) {
			log.Printf("Reconnect failed: %v (next attempt in %s)", err, wait)
		})

		if err != nil {
			if ctx.Err() == nil {
				log.Printf("Giving up reconnect: role=%s err=%v", c.opts.Role, err)
				c.mu.Lock()
				if c.generation == gen {
					c.conn = nil
					if c.cancel != nil {
						c.cancel()
						c.cancel = nil
					}
					c.setStateLocked(types.StateDisconnected)
				}
				c.mu.Unlock()
			}
			return
		}

		c.mu.Lock()
		if c.generation != gen {
			c.mu.Unlock()
			_ = next.Close()
			return
		}
		c.conn = next
		c.setStateLocked(types.StateConnected)
		c.mu.Unlock()

		log.Printf("Channel reconnected: role=%s", c.opts.Role)
		conn = next
	}
}

// transition sets state if gen is still the live lifecycle.
func (c *Channel) transition(gen uint64, state types.TransportState) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != gen {
		return false
	}
	c.setStateLocked(state)
	return true
}

// setStateLocked records state and publishes a StateChanged event. Caller holds mu.
func (c *Channel) setStateLocked(state types.TransportState) {
	if c.state == state {
		return
	}
	c.state = state
	metrics.SetConnectionState(string(state))

	event, _ := types.NewEvent(types.EventStateChanged, state)
	select {
	case c.events <- event:
	default:
		log.Printf("Event buffer full, dropping state change to %s", state)
	}
}

// Stop closes the socket and cancels any dial or reconnect in progress.
func (c *Channel) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.state == types.StateDisconnected && c.cancel == nil {
		c.mu.Unlock()
		return nil
	}
	c.generation++
	if c.cancelDial != nil {
		c.cancelDial()
		c.cancelDial = nil
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	conn := c.conn
	c.conn = nil
	c.setStateLocked(types.StateDisconnected)
	c.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

// Invoke calls a remote procedure on the live socket.
func (c *Channel) Invoke(ctx context.Context, method string, args ...interface{}) error {
	c.mu.RLock()
	conn := c.conn
	state := c.state
	c.mu.RUnlock()

	if state != types.StateConnected || conn == nil {
		metrics.Invocations.WithLabelValues(method, "not_connected").Inc()
		return ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.InvokeTimeout)
	defer cancel()

	err := conn.Invoke(ctx, method, args...)
	metrics.Invocations.WithLabelValues(method, metrics.Result(err)).Inc()
	return err
}

// Events returns the stable inbound stream.
func (c *Channel) Events() <-chan *types.Event {
	return c.events
}

// State returns the current transport state.
func (c *Channel) State() types.TransportState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}
