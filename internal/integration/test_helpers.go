package integration

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"supportchat/internal/app"
	"supportchat/internal/config"
	"supportchat/internal/websocket/wstest"
	"supportchat/pkg/types"
)

const (
	customerName = "ada"
	agentName    = "sam"
)

func staticToken(context.Context) (string, error) { return "integration-token", nil }

// relayHub answers sends and typing signals the way the production hub does:
// every participant connected to the server sees them.
func relayHub(t *testing.T) *wstest.Server {
	t.Helper()
	hub := wstest.NewServer()
	hub.OnInvoke = func(s *wstest.Server, inv wstest.Invocation) {
		sessionID := inv.StringArg(0)
		switch inv.Method {
		case types.MethodSendMessage:
			_ = s.Push(types.EventReceiveMessage, sessionID, types.Message{
				SessionID: sessionID, Sender: customerName, SenderRole: types.RoleCustomer,
				Text: inv.StringArg(1), Timestamp: time.Now(),
			})
		case types.MethodSendMessageToSession:
			_ = s.Push(types.EventReceiveMessage, sessionID, types.Message{
				SessionID: sessionID, Sender: agentName, SenderRole: types.RoleAdmin,
				Text: inv.StringArg(1), Timestamp: time.Now(),
			})
		case types.MethodJoinSession:
			_ = s.Push(types.EventUserJoined, sessionID, agentName)
		case types.MethodStartTyping:
			_ = s.Push(types.EventUserTyping, sessionID, customerName)
		case types.MethodStopTyping:
			_ = s.Push(types.EventUserStoppedTyping, sessionID, customerName)
		case types.MethodEndSession:
			_ = s.Push(types.EventSessionEnded, sessionID)
		}
	}
	t.Cleanup(hub.Close)
	return hub
}

// InitializeTestConfig returns a config pointed at hubURL with fast reconnects.
func InitializeTestConfig(t *testing.T, hubURL string, role types.Role) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Channel.URL = hubURL
	cfg.Channel.Role = string(role)
	cfg.Channel.HandshakeTimeout = time.Second
	cfg.Channel.ReconnectInitial = 10 * time.Millisecond
	cfg.Channel.ReconnectMaxInterval = 50 * time.Millisecond
	cfg.Channel.ReconnectMaxElapsed = 5 * time.Second
	cfg.Directory.PollInterval = time.Hour
	cfg.Typing.Debounce = 300 * time.Millisecond
	cfg.Typing.Visibility = time.Second
	cfg.Archive.Path = filepath.Join(t.TempDir(), "archive.db")
	return cfg
}

// startApplication builds and starts an application, stopping it on cleanup.
func startApplication(t *testing.T, cfg *config.Config, self string) *app.Application {
	t.Helper()
	application, err := app.NewApplication(cfg, app.Options{Credentials: staticToken, Self: self})
	if err != nil {
		t.Fatalf("Failed to create application: %v", err)
	}
	if err := application.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start application: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := application.Stop(ctx); err != nil {
			t.Logf("Failed to stop application: %v", err)
		}
	})
	return application
}

// waitFor polls cond until it holds or the timeout passes.
func waitFor(t *testing.T, what string, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !cond() {
		t.Fatalf("Timed out after %v waiting for %s", timeout, what)
	}
}
