package client

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"supportchat/internal/hub"
	"supportchat/internal/router"
	"supportchat/internal/session"
	"supportchat/internal/typing"
	"supportchat/internal/websocket"
	"supportchat/pkg/interfaces"
	"supportchat/pkg/types"
)

// ChannelFactory builds the transport for one connection lifecycle.
type ChannelFactory func(opts websocket.ChannelOptions) (interfaces.Channel, error)

// Options configures a Client.
type Options struct {
	Role        types.Role
	Credentials interfaces.CredentialProvider

	// Self is the local participant name; own typing echoes are ignored.
	Self string

	// Channel is the transport template. Role and Credentials are filled in.
	Channel    websocket.ChannelOptions
	NewChannel ChannelFactory

	// Directory receives NewSession announcements on admin connections.
	Directory router.DirectoryNotifier

	TypingDebounce    time.Duration
	TypingVisibility  time.Duration
	OnTypingChange    func()
	MessagesPerMinute int
}

func defaultChannelFactory(opts websocket.ChannelOptions) (interfaces.Channel, error) {
	return websocket.NewChannel(opts)
}

// Client is the chat connection manager
// ARCHITECTURAL DISCOVERY: One client per role per process. It owns the session
// registry, typing tracker and event hub; the channel is replaced per lifecycle
type Client struct {
	role        types.Role
	credentials interfaces.CredentialProvider
	channelOpts websocket.ChannelOptions
	newChannel  ChannelFactory

	registry *session.Registry
	tracker  *typing.Tracker
	router   *router.Router
	hub      *hub.Hub
	limiter  *router.RateLimiter

	// lifecycleMu serializes channel replacement in InitializeConnection,
	// Disconnect and Close. It is not held during the dial.
	lifecycleMu sync.Mutex

	mu      sync.RWMutex
	channel interfaces.Channel
	dialing interfaces.Channel
	lastErr error
	closed  bool
}

// New creates a disconnected client.
func New(opts Options) (*Client, error) {
	if !types.IsValidRole(opts.Role) {
		return nil, types.ErrInvalidRole
	}
	if opts.Credentials == nil {
		return nil, ErrNoCredentials
	}
	if opts.NewChannel == nil {
		opts.NewChannel = defaultChannelFactory
	}
	if opts.MessagesPerMinute == 0 {
		opts.MessagesPerMinute = router.DefaultMessagesPerMinute
	}

	c := &Client{
		role:        opts.Role,
		credentials: opts.Credentials,
		channelOpts: opts.Channel,
		newChannel:  opts.NewChannel,
		registry:    session.NewRegistry(),
		limiter:     router.NewRateLimiter(opts.MessagesPerMinute),
	}
	c.channelOpts.Role = opts.Role
	c.channelOpts.Credentials = opts.Credentials

	c.tracker = typing.NewTracker(typing.Options{
		Invoker:    invokerFunc(c.invoke),
		Debounce:   opts.TypingDebounce,
		Visibility: opts.TypingVisibility,
		Self:       opts.Self,
		OnChange:   opts.OnTypingChange,
	})
	c.router = router.NewRouter(router.Options{
		Role:      opts.Role,
		Sessions:  c.registry,
		Typing:    c.tracker,
		Directory: opts.Directory,
		State:     c,
	})
	c.hub = hub.NewHub(c.router)

	return c, nil
}

// invokerFunc adapts a method to interfaces.Invoker.
type invokerFunc func(ctx context.Context, method string, args ...interface{}) error

func (f invokerFunc) Invoke(ctx context.Context, method string, args ...interface{}) error {
	return f(ctx, method, args...)
}

// InitializeConnection connects the channel
// FUNCTIONAL DISCOVERY: Idempotent while connecting, connected or reconnecting;
// a call made during another call's dial returns nil at once. The hub is
// attached to the event stream before Start so no early event is lost
func (c *Client) InitializeConnection(ctx context.Context) error {
	ch, err := c.prepareChannel(ctx)
	if err != nil || ch == nil {
		return err
	}

	// lifecycleMu is released for the dial so Disconnect and Close can abort it
	log.Printf("Initializing chat connection: role=%s", c.role)
	err = ch.Start(ctx)

	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	c.mu.Lock()
	if c.dialing == ch {
		c.dialing = nil
	}
	current := c.channel
	c.mu.Unlock()

	if current != ch {
		// Disconnect or Close retired this attempt while it was dialing
		_ = ch.Stop(ctx)
		log.Printf("Chat connection aborted: role=%s", c.role)
		return ErrConnectAborted
	}
	if err != nil {
		c.detach(ctx, ch)
		c.setLastError(err)
		log.Printf("Chat connection failed: role=%s err=%v", c.role, err)
		return err
	}

	c.mu.Lock()
	c.lastErr = nil
	c.mu.Unlock()
	log.Printf("Chat connection established: role=%s", c.role)
	return nil
}

// prepareChannel publishes a fresh channel with the hub attached, or returns
// nil when a lifecycle is already live or dialing.
func (c *Client) prepareChannel(ctx context.Context) (interfaces.Channel, error) {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	c.mu.RLock()
	closed := c.closed
	previous := c.channel
	dialing := c.dialing
	c.mu.RUnlock()

	if closed {
		return nil, ErrClientClosed
	}
	if previous != nil {
		if previous == dialing || previous.State() != types.StateDisconnected {
			return nil, nil
		}
		// Reconnect gave up; retire that lifecycle before dialing again
		c.detach(ctx, previous)
	}

	ch, err := c.newChannel(c.channelOpts)
	if err != nil {
		c.setLastError(err)
		return nil, err
	}

	c.mu.Lock()
	c.channel = ch
	c.dialing = ch
	c.mu.Unlock()

	if err := c.hub.Start(context.Background(), ch.Events()); err != nil {
		c.mu.Lock()
		c.channel = nil
		c.dialing = nil
		c.mu.Unlock()
		c.setLastError(err)
		return nil, err
	}
	return ch, nil
}

// detach stops ch and the hub pump reading from it. Caller holds lifecycleMu.
func (c *Client) detach(ctx context.Context, ch interfaces.Channel) {
	c.mu.Lock()
	if c.channel == ch {
		c.channel = nil
	}
	if c.dialing == ch {
		c.dialing = nil
	}
	c.mu.Unlock()

	if err := ch.Stop(ctx); err != nil {
		log.Printf("Failed to stop channel: %v", err)
	}
	if err := c.hub.Stop(); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
		log.Printf("Failed to stop event hub: %v", err)
	}
}

// Disconnect stops the channel and clears all session and typing state.
// It is a no-op when already disconnected.
func (c *Client) Disconnect(ctx context.Context) error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()
	return c.disconnectLocked(ctx)
}

func (c *Client) disconnectLocked(ctx context.Context) error {
	c.mu.RLock()
	ch := c.channel
	c.mu.RUnlock()

	if ch == nil {
		return nil
	}

	log.Printf("Disconnecting chat connection: role=%s", c.role)
	c.detach(ctx, ch)
	c.registry.Reset()
	c.tracker.Reset()
	return nil
}

// Close tears the client down. Safe to call repeatedly.
func (c *Client) Close() error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := c.disconnectLocked(ctx)
	c.tracker.Close()
	c.hub.Close()
	return err
}

// SetState follows transport transitions published on the event stream
// TECHNICAL DISCOVERY: The channel is the source of truth for state; this hook
// only reacts to the transitions that need client-side cleanup
func (c *Client) SetState(state types.TransportState) {
	c.mu.RLock()
	// A failed initial dial is reported by InitializeConnection itself
	attached := c.channel != nil && c.channel != c.dialing
	c.mu.RUnlock()

	switch state {
	case types.StateReconnecting:
		log.Printf("Chat connection lost, reconnecting: role=%s", c.role)
		c.tracker.Reset()
	case types.StateDisconnected:
		if attached {
			// Only the transport's own give-up reaches here while attached
			c.setLastError(websocket.ErrReconnectExhausted)
			c.tracker.Reset()
		}
	}
}

// State returns the current transport state.
func (c *Client) State() types.TransportState {
	c.mu.RLock()
	ch := c.channel
	c.mu.RUnlock()

	if ch == nil {
		return types.StateDisconnected
	}
	return ch.State()
}

// Role returns the connection role.
func (c *Client) Role() types.Role {
	return c.role
}

// LastError returns the most recent connection or invocation failure.
func (c *Client) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

func (c *Client) setLastError(err error) {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
}

// usable reports whether remote calls may be issued.
func (c *Client) usable() error {
	if c.State() != types.StateConnected {
		return ErrNotConnected
	}
	return nil
}

// invoke issues one remote call and records failures.
func (c *Client) invoke(ctx context.Context, method string, args ...interface{}) error {
	c.mu.RLock()
	ch := c.channel
	c.mu.RUnlock()

	if ch == nil {
		return ErrNotConnected
	}
	if err := ch.Invoke(ctx, method, args...); err != nil {
		log.Printf("Remote call failed: method=%s err=%v", method, err)
		c.setLastError(err)
		return fmt.Errorf("%s: %w", method, err)
	}
	return nil
}

// SendMessage sends text to a session
// FUNCTIONAL DISCOVERY: An admin with a target uses the session-targeted call;
// everyone else sends to the current session. A customer without a session yet
// adopts a locally generated id so the first message has somewhere to go.
// Sends beyond the per-session rate budget return ErrRateLimited without a remote call
func (c *Client) SendMessage(ctx context.Context, text, targetSessionID string) error {
	if err := c.usable(); err != nil {
		return err
	}
	if types.IsBlank(text) {
		return ErrEmptyMessage
	}

	method := types.MethodSendMessage
	sessionID := c.registry.Current()
	switch {
	case c.role == types.RoleAdmin && targetSessionID != "":
		method = types.MethodSendMessageToSession
		sessionID = targetSessionID
	case sessionID == "" && c.role == types.RoleCustomer:
		sessionID = uuid.New().String()
		if err := c.registry.SetCurrent(sessionID); err != nil {
			return err
		}
		log.Printf("No session assigned yet, using local session id=%s", sessionID)
	case sessionID == "":
		return ErrNoActiveSession
	}

	msg := types.Message{SessionID: sessionID, Text: text}
	if err := msg.Validate(); err != nil {
		return err
	}
	if !c.limiter.Allow(sessionID) {
		return ErrRateLimited
	}

	if err := c.tracker.Idle(ctx); err != nil {
		log.Printf("Failed to clear typing before send: %v", err)
	}
	return c.invoke(ctx, method, sessionID, text)
}

// JoinSession joins sessionID and makes it current on success.
func (c *Client) JoinSession(ctx context.Context, sessionID string) error {
	if err := c.usable(); err != nil {
		return err
	}
	if !types.IsValidSessionID(sessionID) {
		return session.ErrInvalidSessionID
	}
	if err := c.invoke(ctx, types.MethodJoinSession, sessionID); err != nil {
		return err
	}
	log.Printf("Joined session: id=%s role=%s", sessionID, c.role)
	return c.registry.SetCurrent(sessionID)
}

// LeaveSession leaves the current session and drops its buffer
// FUNCTIONAL DISCOVERY: The local clear happens even when the remote leave fails;
// leaving is destructive and nothing is kept for a re-join
func (c *Client) LeaveSession(ctx context.Context) error {
	if err := c.usable(); err != nil {
		return err
	}
	sessionID := c.registry.Current()
	if sessionID == "" {
		return ErrNoActiveSession
	}

	err := c.invoke(ctx, types.MethodLeaveSession, sessionID)
	c.forget(ctx, sessionID)
	log.Printf("Left session: id=%s", sessionID)
	return err
}

// EndSession terminates sessionID, or the current session when empty.
// Local state is cleared only after the remote call succeeds.
func (c *Client) EndSession(ctx context.Context, sessionID string) error {
	if err := c.usable(); err != nil {
		return err
	}
	current := c.registry.Current()
	if sessionID == "" {
		sessionID = current
	}
	if sessionID == "" {
		return ErrNoActiveSession
	}

	if err := c.invoke(ctx, types.MethodEndSession, sessionID); err != nil {
		return err
	}
	if sessionID == current {
		c.forget(ctx, sessionID)
	} else {
		c.registry.MarkEnded(sessionID)
	}
	log.Printf("Ended session: id=%s", sessionID)
	return nil
}

func (c *Client) forget(ctx context.Context, sessionID string) {
	if err := c.tracker.Idle(ctx); err != nil {
		log.Printf("Failed to clear typing: %v", err)
	}
	c.registry.Clear(sessionID)
	c.limiter.Forget(sessionID)
	c.limiter.Cleanup()
}

// NotifyTyping records a local keystroke in sessionID, or the current session when empty.
func (c *Client) NotifyTyping(ctx context.Context, sessionID string) error {
	if err := c.usable(); err != nil {
		return err
	}
	if sessionID == "" {
		sessionID = c.registry.Current()
	}
	if sessionID == "" {
		return ErrNoActiveSession
	}
	return c.tracker.KeyPress(ctx, sessionID)
}

// StopTyping returns local typing state to idle immediately.
func (c *Client) StopTyping(ctx context.Context) error {
	return c.tracker.Idle(ctx)
}

// CurrentSession returns the current session id, or "".
func (c *Client) CurrentSession() string {
	return c.registry.Current()
}

// Messages returns a copy of a session's buffer; "" means the current session.
func (c *Client) Messages(sessionID string) []types.Message {
	if sessionID == "" {
		sessionID = c.registry.Current()
	}
	return c.registry.Messages(sessionID)
}

// Sessions returns snapshots of every held session.
func (c *Client) Sessions() []*types.Session {
	return c.registry.Sessions()
}

// TypingUsers returns who is typing in sessionID; "" means the current session.
func (c *Client) TypingUsers(sessionID string) []string {
	if sessionID == "" {
		sessionID = c.registry.Current()
	}
	if sessionID == "" {
		return nil
	}
	return c.tracker.Participants(sessionID)
}

// Subscribe returns a stream of events after they have been applied locally.
func (c *Client) Subscribe(buffer int) (*hub.Subscription, error) {
	return c.hub.Subscribe(buffer)
}

// Unsubscribe releases a subscription.
func (c *Client) Unsubscribe(sub *hub.Subscription) {
	c.hub.Unsubscribe(sub)
}

// GetStats returns client statistics
func (c *Client) GetStats() map[string]int {
	stats := c.registry.GetStats()
	for k, v := range c.hub.GetStats() {
		stats["hub_"+k] = v
	}
	stats["rate_limited_sessions"] = c.limiter.Len()
	stats["local_typing"] = 0
	if c.tracker.IsTyping() {
		stats["local_typing"] = 1
	}
	return stats
}
