package client

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"supportchat/internal/websocket"
	"supportchat/internal/websocket/wstest"
	"supportchat/pkg/interfaces"
	"supportchat/pkg/types"
)

const eventually = 3 * time.Second
const tick = 5 * time.Millisecond

func staticToken(context.Context) (string, error) { return "test-token", nil }

type recordingDirectory struct {
	mu      sync.Mutex
	entries []types.DirectoryEntry
}

func (d *recordingDirectory) Announce(entry types.DirectoryEntry) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = append(d.entries, entry)
}

func (d *recordingDirectory) ids() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var ids []string
	for _, e := range d.entries {
		ids = append(ids, e.ID)
	}
	return ids
}

// echoMessages makes the server push every sent message back as ReceiveMessage.
func echoMessages(s *wstest.Server, inv wstest.Invocation) {
	switch inv.Method {
	case types.MethodSendMessage, types.MethodSendMessageToSession:
		sessionID := inv.StringArg(0)
		_ = s.Push(types.EventReceiveMessage, sessionID, types.Message{
			SessionID: sessionID,
			Sender:    "customer",
			Text:      inv.StringArg(1),
			Timestamp: time.Now(),
		})
	}
}

func newTestClient(t *testing.T, server *wstest.Server, role types.Role, mutate func(*Options)) *Client {
	t.Helper()
	url := "ws://127.0.0.1:1/hubs/chat"
	if server != nil {
		url = server.URL()
	}
	opts := Options{
		Role:        role,
		Credentials: staticToken,
		Self:        "me",
		Channel: websocket.ChannelOptions{
			URL:                  url,
			HandshakeTimeout:     time.Second,
			ReconnectInitial:     10 * time.Millisecond,
			ReconnectMaxInterval: 20 * time.Millisecond,
			ReconnectMaxElapsed:  300 * time.Millisecond,
			InvokeTimeout:        2 * time.Second,
		},
		TypingDebounce:   60 * time.Millisecond,
		TypingVisibility: 80 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&opts)
	}
	c, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func connect(t *testing.T, c *Client, server *wstest.Server) {
	t.Helper()
	require.NoError(t, c.InitializeConnection(context.Background()))
	require.True(t, server.WaitForConnections(1, eventually))
}

// Functional Validation Tests - Connection lifecycle

func TestNew_Validation(t *testing.T) {
	_, err := New(Options{Role: "guest", Credentials: staticToken})
	assert.ErrorIs(t, err, types.ErrInvalidRole)

	_, err = New(Options{Role: types.RoleCustomer})
	assert.ErrorIs(t, err, ErrNoCredentials)
}

func TestClient_InitializeConnectionIdempotent(t *testing.T) {
	server := wstest.NewServer()
	defer server.Close()
	c := newTestClient(t, server, types.RoleCustomer, nil)

	connect(t, c, server)
	require.NoError(t, c.InitializeConnection(context.Background()))

	assert.Equal(t, types.StateConnected, c.State())
	assert.Len(t, server.Dials(), 1)
	assert.Equal(t, "customer", server.Dials()[0].Role)
	assert.NoError(t, c.LastError())
}

func TestClient_InitializeFailureIsRetryable(t *testing.T) {
	server := wstest.NewServer()
	defer server.Close()
	server.RejectNextDials(1)
	c := newTestClient(t, server, types.RoleCustomer, nil)

	err := c.InitializeConnection(context.Background())
	require.ErrorIs(t, err, websocket.ErrDialFailed)
	assert.Equal(t, types.StateDisconnected, c.State())
	assert.ErrorIs(t, c.LastError(), websocket.ErrDialFailed)

	require.NoError(t, c.InitializeConnection(context.Background()))
	assert.Equal(t, types.StateConnected, c.State())
	assert.NoError(t, c.LastError())
}

func slowHandshakeClient(t *testing.T, server *wstest.Server, delay time.Duration) *Client {
	t.Helper()
	server.SetHandshakeDelay(delay)
	return newTestClient(t, server, types.RoleCustomer, func(o *Options) {
		o.Channel.HandshakeTimeout = 5 * time.Second
	})
}

func TestClient_InitializeConnectionReturnsWhileDialing(t *testing.T) {
	server := wstest.NewServer()
	defer server.Close()
	c := slowHandshakeClient(t, server, 500*time.Millisecond)

	first := make(chan error, 1)
	go func() { first <- c.InitializeConnection(context.Background()) }()
	require.Eventually(t, func() bool { return c.State() == types.StateConnecting }, eventually, tick)

	start := time.Now()
	require.NoError(t, c.InitializeConnection(context.Background()))
	assert.Less(t, time.Since(start), 100*time.Millisecond, "second call must not wait for the handshake")

	select {
	case err := <-first:
		require.NoError(t, err)
	case <-time.After(eventually):
		t.Fatal("first InitializeConnection never returned")
	}
	assert.Equal(t, types.StateConnected, c.State())
	assert.Len(t, server.Dials(), 1)
}

func TestClient_DisconnectAbortsPendingDial(t *testing.T) {
	server := wstest.NewServer()
	defer server.Close()
	c := slowHandshakeClient(t, server, 2*time.Second)

	first := make(chan error, 1)
	go func() { first <- c.InitializeConnection(context.Background()) }()
	require.Eventually(t, func() bool { return c.State() == types.StateConnecting }, eventually, tick)

	start := time.Now()
	require.NoError(t, c.Disconnect(context.Background()))
	assert.Less(t, time.Since(start), 500*time.Millisecond, "disconnect must not queue behind the dial")

	select {
	case err := <-first:
		assert.ErrorIs(t, err, ErrConnectAborted)
	case <-time.After(time.Second):
		t.Fatal("pending dial was not aborted")
	}
	assert.Equal(t, types.StateDisconnected, c.State())
	assert.Equal(t, 0, server.Connections())

	// A fresh attempt works once the server answers promptly
	server.SetHandshakeDelay(0)
	require.NoError(t, c.InitializeConnection(context.Background()))
	assert.Equal(t, types.StateConnected, c.State())
}

func TestClient_DisconnectResetsState(t *testing.T) {
	server := wstest.NewServer()
	defer server.Close()
	c := newTestClient(t, server, types.RoleCustomer, nil)
	connect(t, c, server)

	require.NoError(t, server.Push(types.EventSessionCreated, "S1"))
	require.NoError(t, server.Push(types.EventReceiveMessage, "S1", "hi"))
	require.Eventually(t, func() bool { return len(c.Messages("S1")) == 1 }, eventually, tick)

	require.NoError(t, c.Disconnect(context.Background()))
	assert.Equal(t, types.StateDisconnected, c.State())
	assert.Equal(t, "", c.CurrentSession())
	assert.Empty(t, c.Sessions())
	assert.True(t, server.WaitForConnections(0, eventually))

	// Second disconnect is a no-op
	assert.NoError(t, c.Disconnect(context.Background()))
}

func TestClient_ReconnectExhaustedSurfacesError(t *testing.T) {
	server := wstest.NewServer()
	defer server.Close()
	c := newTestClient(t, server, types.RoleCustomer, nil)
	connect(t, c, server)

	server.RejectNextDials(1000)
	server.DropAll()

	require.Eventually(t, func() bool { return c.State() == types.StateDisconnected }, eventually, tick)
	assert.Eventually(t, func() bool { return c.LastError() == websocket.ErrReconnectExhausted }, eventually, tick)

	// Caller may start a fresh lifecycle
	server.RejectNextDials(0)
	require.NoError(t, c.InitializeConnection(context.Background()))
	assert.Equal(t, types.StateConnected, c.State())
}

func TestClient_CloseIdempotent(t *testing.T) {
	server := wstest.NewServer()
	defer server.Close()
	c := newTestClient(t, server, types.RoleCustomer, nil)
	connect(t, c, server)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.True(t, server.WaitForConnections(0, eventually))
	assert.ErrorIs(t, c.InitializeConnection(context.Background()), ErrClientClosed)
}

// Functional Validation Tests - Session operations

func TestClient_SendMessageNoopWhenNotConnected(t *testing.T) {
	server := wstest.NewServer()
	defer server.Close()
	c := newTestClient(t, server, types.RoleCustomer, nil)

	assert.ErrorIs(t, c.SendMessage(context.Background(), "hello", ""), ErrNotConnected)
	assert.ErrorIs(t, c.JoinSession(context.Background(), "S1"), ErrNotConnected)
	assert.ErrorIs(t, c.LeaveSession(context.Background()), ErrNotConnected)
	assert.ErrorIs(t, c.EndSession(context.Background(), "S1"), ErrNotConnected)
	assert.ErrorIs(t, c.NotifyTyping(context.Background(), "S1"), ErrNotConnected)
	assert.Empty(t, server.Invocations(""))
}

func TestClient_SendMessageNoopWhenBlank(t *testing.T) {
	server := wstest.NewServer()
	defer server.Close()
	c := newTestClient(t, server, types.RoleCustomer, nil)
	connect(t, c, server)

	for _, text := range []string{"", "   ", "\n\t"} {
		assert.ErrorIs(t, c.SendMessage(context.Background(), text, ""), ErrEmptyMessage)
	}
	assert.Empty(t, server.Invocations(""))
}

func TestClient_CustomerScenario(t *testing.T) {
	server := wstest.NewServer()
	defer server.Close()
	server.OnInvoke = echoMessages
	c := newTestClient(t, server, types.RoleCustomer, nil)
	connect(t, c, server)

	require.NoError(t, server.Push(types.EventSessionCreated, "S1"))
	require.Eventually(t, func() bool { return c.CurrentSession() == "S1" }, eventually, tick)

	require.NoError(t, c.SendMessage(context.Background(), "hello", ""))

	require.Eventually(t, func() bool { return len(c.Messages("S1")) == 1 }, eventually, tick)
	assert.Equal(t, "hello", c.Messages("")[0].Text)

	calls := server.Invocations(types.MethodSendMessage)
	require.Len(t, calls, 1)
	assert.Equal(t, "S1", calls[0].StringArg(0))
}

func TestClient_CustomerWithoutSessionAdoptsLocalID(t *testing.T) {
	server := wstest.NewServer()
	defer server.Close()
	c := newTestClient(t, server, types.RoleCustomer, nil)
	connect(t, c, server)

	require.NoError(t, c.SendMessage(context.Background(), "anyone there?", ""))

	current := c.CurrentSession()
	require.NotEmpty(t, current)
	calls := server.Invocations(types.MethodSendMessage)
	require.Len(t, calls, 1)
	assert.Equal(t, current, calls[0].StringArg(0))
}

func TestClient_RoleBasedSendDispatch(t *testing.T) {
	server := wstest.NewServer()
	defer server.Close()

	admin := newTestClient(t, server, types.RoleAdmin, nil)
	customer := newTestClient(t, server, types.RoleCustomer, nil)
	require.NoError(t, admin.InitializeConnection(context.Background()))
	require.NoError(t, customer.InitializeConnection(context.Background()))
	require.True(t, server.WaitForConnections(2, eventually))
	ctx := context.Background()

	require.NoError(t, admin.SendMessage(ctx, "agent here", "S9"))
	assert.ErrorIs(t, admin.SendMessage(ctx, "no target", ""), ErrNoActiveSession)

	require.NoError(t, customer.JoinSession(ctx, "S1"))
	// A customer's target is ignored
	require.NoError(t, customer.SendMessage(ctx, "hi", "S9"))

	targeted := server.Invocations(types.MethodSendMessageToSession)
	require.Len(t, targeted, 1)
	assert.Equal(t, "S9", targeted[0].StringArg(0))
	assert.Equal(t, "agent here", targeted[0].StringArg(1))

	plain := server.Invocations(types.MethodSendMessage)
	require.Len(t, plain, 1)
	assert.Equal(t, "S1", plain[0].StringArg(0))
}

func TestClient_AdminMultiSessionIsolation(t *testing.T) {
	server := wstest.NewServer()
	defer server.Close()
	c := newTestClient(t, server, types.RoleAdmin, nil)
	connect(t, c, server)
	ctx := context.Background()

	require.NoError(t, c.JoinSession(ctx, "S1"))
	require.NoError(t, c.JoinSession(ctx, "S2"))
	assert.Equal(t, "S2", c.CurrentSession())

	require.NoError(t, server.Push(types.EventReceiveMessage, "S2", types.Message{Text: "m"}))

	require.Eventually(t, func() bool { return len(c.Messages("S2")) == 1 }, eventually, tick)
	assert.Empty(t, c.Messages("S1"))
	assert.Len(t, c.Sessions(), 2)
}

func TestClient_LeaveSessionClearsEvenOnRemoteFailure(t *testing.T) {
	server := wstest.NewServer()
	defer server.Close()
	server.FailMethod(types.MethodLeaveSession, "session locked")
	c := newTestClient(t, server, types.RoleCustomer, nil)
	connect(t, c, server)
	ctx := context.Background()

	require.NoError(t, c.JoinSession(ctx, "S1"))
	require.NoError(t, server.Push(types.EventReceiveMessage, "S1", "hello"))
	require.Eventually(t, func() bool { return len(c.Messages("S1")) == 1 }, eventually, tick)

	err := c.LeaveSession(ctx)
	var invErr *websocket.InvocationError
	require.ErrorAs(t, err, &invErr)
	assert.Equal(t, "session locked", invErr.Message)

	assert.Equal(t, "", c.CurrentSession())
	assert.Empty(t, c.Messages("S1"))
	assert.Error(t, c.LastError())

	assert.ErrorIs(t, c.LeaveSession(ctx), ErrNoActiveSession)
}

func TestClient_EndSession(t *testing.T) {
	server := wstest.NewServer()
	defer server.Close()
	c := newTestClient(t, server, types.RoleAdmin, nil)
	connect(t, c, server)
	ctx := context.Background()

	require.NoError(t, c.JoinSession(ctx, "S1"))
	require.NoError(t, c.JoinSession(ctx, "S2"))

	// Ending a non-current session marks it ended but keeps the buffer
	require.NoError(t, c.EndSession(ctx, "S1"))
	assert.Equal(t, "S2", c.CurrentSession())
	require.Len(t, c.Sessions(), 2)
	assert.Equal(t, types.SessionEnded, c.Sessions()[0].Status)

	// Failure leaves local state untouched
	server.FailMethod(types.MethodEndSession, "forbidden")
	assert.Error(t, c.EndSession(ctx, ""))
	assert.Equal(t, "S2", c.CurrentSession())

	server.FailMethod(types.MethodEndSession, "")
	require.NoError(t, c.EndSession(ctx, ""))
	assert.Equal(t, "", c.CurrentSession())

	ends := server.Invocations(types.MethodEndSession)
	require.Len(t, ends, 3)
	assert.Equal(t, "S2", ends[2].StringArg(0))
}

func TestClient_RateLimitedSend(t *testing.T) {
	server := wstest.NewServer()
	defer server.Close()
	c := newTestClient(t, server, types.RoleCustomer, func(o *Options) { o.MessagesPerMinute = 2 })
	connect(t, c, server)
	ctx := context.Background()
	require.NoError(t, c.JoinSession(ctx, "S1"))

	require.NoError(t, c.SendMessage(ctx, "one", ""))
	require.NoError(t, c.SendMessage(ctx, "two", ""))
	assert.ErrorIs(t, c.SendMessage(ctx, "three", ""), ErrRateLimited)
	assert.Len(t, server.Invocations(types.MethodSendMessage), 2)
}

func TestClient_StatsTrackSessionsAndLimiter(t *testing.T) {
	server := wstest.NewServer()
	defer server.Close()
	c := newTestClient(t, server, types.RoleCustomer, func(o *Options) { o.TypingDebounce = 5 * time.Second })
	connect(t, c, server)
	ctx := context.Background()
	require.NoError(t, c.JoinSession(ctx, "S1"))
	require.NoError(t, c.SendMessage(ctx, "one", ""))

	stats := c.GetStats()
	assert.Equal(t, 1, stats["sessions"])
	assert.Equal(t, 1, stats["rate_limited_sessions"])
	assert.Contains(t, stats, "hub_routed")
	assert.Equal(t, 1, stats["hub_running"])
	assert.Equal(t, 0, stats["local_typing"])

	require.NoError(t, c.NotifyTyping(ctx, ""))
	assert.Equal(t, 1, c.GetStats()["local_typing"])
	require.NoError(t, c.StopTyping(ctx))
	assert.Equal(t, 0, c.GetStats()["local_typing"])

	require.NoError(t, c.LeaveSession(ctx))
	stats = c.GetStats()
	assert.Equal(t, 0, stats["sessions"])
	assert.Equal(t, 0, stats["rate_limited_sessions"])
}

// Functional Validation Tests - Typing and events

func TestClient_TypingDebounceOverChannel(t *testing.T) {
	server := wstest.NewServer()
	defer server.Close()
	c := newTestClient(t, server, types.RoleCustomer, nil)
	connect(t, c, server)
	ctx := context.Background()
	require.NoError(t, c.JoinSession(ctx, "S1"))

	for i := 0; i < 5; i++ {
		require.NoError(t, c.NotifyTyping(ctx, ""))
		time.Sleep(10 * time.Millisecond)
	}
	assert.Len(t, server.Invocations(types.MethodStartTyping), 1)

	assert.Eventually(t, func() bool { return len(server.Invocations(types.MethodStopTyping)) == 1 }, eventually, tick)
}

func TestClient_SendMessageStopsTyping(t *testing.T) {
	server := wstest.NewServer()
	defer server.Close()
	c := newTestClient(t, server, types.RoleCustomer, func(o *Options) { o.TypingDebounce = time.Minute })
	connect(t, c, server)
	ctx := context.Background()
	require.NoError(t, c.JoinSession(ctx, "S1"))

	require.NoError(t, c.NotifyTyping(ctx, ""))
	require.NoError(t, c.SendMessage(ctx, "done typing", ""))

	assert.Len(t, server.Invocations(types.MethodStopTyping), 1)
}

func TestClient_RemoteTypingVisibleThenExpires(t *testing.T) {
	server := wstest.NewServer()
	defer server.Close()
	c := newTestClient(t, server, types.RoleCustomer, nil)
	connect(t, c, server)
	require.NoError(t, c.JoinSession(context.Background(), "S1"))

	require.NoError(t, server.Push(types.EventUserTyping, "S1", "agent"))
	require.NoError(t, server.Push(types.EventUserTyping, "S2", "other"))

	require.Eventually(t, func() bool { return len(c.TypingUsers("")) == 1 }, eventually, tick)
	assert.Equal(t, []string{"agent"}, c.TypingUsers(""))

	assert.Eventually(t, func() bool { return len(c.TypingUsers("")) == 0 }, eventually, tick)
}

func TestClient_AdminNewSessionAnnounced(t *testing.T) {
	server := wstest.NewServer()
	defer server.Close()
	dir := &recordingDirectory{}
	c := newTestClient(t, server, types.RoleAdmin, func(o *Options) { o.Directory = dir })
	connect(t, c, server)

	require.NoError(t, server.Push(types.EventNewSession, types.DirectoryEntry{ID: "S5", CustomerName: "Ada"}))

	assert.Eventually(t, func() bool { return len(dir.ids()) == 1 }, eventually, tick)
	assert.Equal(t, []string{"S5"}, dir.ids())
	assert.Equal(t, "", c.CurrentSession())
}

func TestClient_SubscribeSeesAppliedEvents(t *testing.T) {
	server := wstest.NewServer()
	defer server.Close()
	c := newTestClient(t, server, types.RoleCustomer, nil)
	sub, err := c.Subscribe(32)
	require.NoError(t, err)
	connect(t, c, server)

	require.NoError(t, server.Push(types.EventSessionCreated, "S1"))

	deadline := time.After(eventually)
	for {
		select {
		case event := <-sub.C:
			if event.Name != types.EventSessionCreated {
				continue
			}
			// Applied before fan-out
			assert.Equal(t, "S1", c.CurrentSession())
			return
		case <-deadline:
			t.Fatal("Timed out waiting for SessionCreated")
		}
	}
}

// fakeChannel exercises the factory seam without a socket.
type fakeChannel struct {
	events chan *types.Event
	state  types.TransportState
	mu     sync.Mutex
}

func (f *fakeChannel) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = types.StateConnected
	return nil
}

func (f *fakeChannel) Stop(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = types.StateDisconnected
	return nil
}

func (f *fakeChannel) Invoke(ctx context.Context, method string, args ...interface{}) error {
	return nil
}

func (f *fakeChannel) Events() <-chan *types.Event { return f.events }

func (f *fakeChannel) State() types.TransportState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func TestClient_ChannelFactoryReceivesRoleAndCredentials(t *testing.T) {
	var got websocket.ChannelOptions
	c := newTestClient(t, nil, types.RoleAdmin, func(o *Options) {
		o.NewChannel = func(opts websocket.ChannelOptions) (interfaces.Channel, error) {
			got = opts
			return &fakeChannel{events: make(chan *types.Event, 1), state: types.StateDisconnected}, nil
		}
	})

	require.NoError(t, c.InitializeConnection(context.Background()))
	assert.Equal(t, types.RoleAdmin, got.Role)
	require.NotNil(t, got.Credentials)
	token, err := got.Credentials(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "test-token", token)
	assert.Equal(t, types.StateConnected, c.State())
}
