package main

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"supportchat/internal/app"
	"supportchat/internal/client"
	"supportchat/internal/hub"
	"supportchat/internal/router"
	"supportchat/pkg/types"
)

const chatHelp = `Commands:
  /join <id>        join a session (agent)
  /leave            leave the current session
  /end [id]         end a session (defaults to the current one)
  /to <id> <text>   send to a specific session (agent)
  /typing           tell the session you are typing
  /sessions         list sessions held locally
  /history          show the current session
  /stats            show connection counters
  /quit             disconnect and exit
Anything else is sent as a message.`

func newChatCmd(opts *cliOptions) *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Open an interactive support conversation",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig(cmd, map[string]string{"channel.role": "role"})
			if err != nil {
				return err
			}
			creds, err := opts.credentials()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := &syncWriter{w: cmd.OutOrStdout()}
			session := &chatSession{out: out, self: name, admin: cfg.IsAdmin()}

			application, err := app.NewApplication(cfg, app.Options{
				Credentials:    creds,
				Self:           name,
				OnTypingChange: session.typingChanged,
			})
			if err != nil {
				return err
			}
			session.client = application.Client()
			session.ready.Store(true)

			// Subscribed before Start so events routed during the handshake are printed
			sub, err := session.client.Subscribe(128)
			if err != nil {
				return err
			}
			printed := make(chan struct{})
			go func() {
				defer close(printed)
				session.printEvents(sub)
			}()
			defer func() {
				session.client.Unsubscribe(sub)
				<-printed
			}()

			if err := application.Start(ctx); err != nil {
				_ = application.Stop(context.Background())
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = application.Stop(shutdownCtx)
			}()

			return session.run(ctx, cmd.InOrStdin())
		},
	}

	cmd.Flags().String("role", "", "connect as customer or admin")
	cmd.Flags().StringVar(&name, "name", os.Getenv("USER"), "display name; your own typing echoes are hidden")
	return cmd
}

// chatSession drives one interactive conversation.
type chatSession struct {
	out    *syncWriter
	self   string
	admin  bool
	client *client.Client
	ready  atomic.Bool
}

func (s *chatSession) run(ctx context.Context, in io.Reader) error {
	role := "customer"
	if s.admin {
		role = "agent"
	}
	renderNotice(s.out, "connected as %s; /help for commands", role)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := s.handle(ctx, line); quit {
				return nil
			}
		}
	}
}

// handle executes one input line and reports whether the user asked to quit.
func (s *chatSession) handle(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		s.report(s.client.SendMessage(ctx, line, ""))
		return false
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true
	case "/help":
		s.out.Printf("%s\n", chatHelp)
	case "/join":
		if len(fields) < 2 {
			renderNotice(s.out, "usage: /join <id>")
			return false
		}
		if err := s.client.JoinSession(ctx, fields[1]); err != nil {
			s.report(err)
			return false
		}
		renderNotice(s.out, "joined %s", fields[1])
	case "/leave":
		s.report(s.client.LeaveSession(ctx))
	case "/end":
		id := ""
		if len(fields) > 1 {
			id = fields[1]
		}
		s.report(s.client.EndSession(ctx, id))
	case "/to":
		if len(fields) < 3 {
			renderNotice(s.out, "usage: /to <id> <text>")
			return false
		}
		rest := strings.TrimSpace(strings.TrimPrefix(line, fields[0]))
		text := strings.TrimSpace(strings.TrimPrefix(rest, fields[1]))
		s.report(s.client.SendMessage(ctx, text, fields[1]))
	case "/typing":
		s.report(s.client.NotifyTyping(ctx, s.client.CurrentSession()))
	case "/sessions":
		s.listSessions()
	case "/stats":
		s.printStats()
	case "/history":
		s.out.mu.Lock()
		renderTranscript(s.out.w, s.client.Messages(""), s.self, time.Now())
		s.out.mu.Unlock()
	default:
		renderNotice(s.out, "unknown command %s; /help for commands", fields[0])
	}
	return false
}

// report prints failures; blank input and the disconnected no-op stay quiet.
func (s *chatSession) report(err error) {
	if err == nil || errors.Is(err, client.ErrEmptyMessage) {
		return
	}
	renderError(s.out, err)
}

func (s *chatSession) listSessions() {
	sessions := s.client.Sessions()
	if len(sessions) == 0 {
		renderNotice(s.out, "no sessions")
		return
	}
	current := s.client.CurrentSession()
	for _, sess := range sessions {
		marker := " "
		if sess.ID == current {
			marker = "*"
		}
		s.out.Printf("%s %s  %s  %d messages\n", marker, sess.ID, sess.Status, len(sess.Messages))
	}
}

func (s *chatSession) printStats() {
	stats := s.client.GetStats()
	keys := make([]string, 0, len(stats))
	for k := range stats {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	s.out.Printf("state=%s\n", s.client.State())
	for _, k := range keys {
		s.out.Printf("%s=%d\n", k, stats[k])
	}
}

func (s *chatSession) printEvents(sub *hub.Subscription) {
	for event := range sub.C {
		var sessionID string
		_ = event.Arg(0, &sessionID)

		switch event.Name {
		case types.EventReceiveMessage:
			msg, err := router.DecodeMessage(event)
			if err != nil {
				continue
			}
			renderMessageLine(s.out, sessionID, msg, s.self, s.admin)
		case types.EventUserJoined, types.EventUserLeft:
			var user string
			_ = event.Arg(1, &user)
			verb := "joined"
			if event.Name == types.EventUserLeft {
				verb = "left"
			}
			renderNotice(s.out, "%s %s %s", user, verb, sessionID)
		case types.EventSessionCreated:
			renderNotice(s.out, "session %s started", sessionID)
		case types.EventNewSession:
			var entry types.DirectoryEntry
			if err := event.Arg(0, &entry); err == nil && entry.ID != "" {
				sessionID = entry.ID
			}
			renderNotice(s.out, "new session waiting: %s", sessionID)
		case types.EventSessionEnded:
			renderNotice(s.out, "session %s ended", sessionID)
		case types.EventStateChanged:
			var state types.TransportState
			_ = event.Arg(0, &state)
			renderNotice(s.out, "connection %s", state)
		}
	}
}

func (s *chatSession) typingChanged() {
	if !s.ready.Load() {
		return
	}
	users := s.client.TypingUsers("")
	if len(users) == 0 {
		return
	}
	renderNotice(s.out, "%s typing...", strings.Join(users, ", "))
}
