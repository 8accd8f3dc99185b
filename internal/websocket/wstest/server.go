// Package wstest provides an in-process messaging hub for channel tests.
package wstest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Invocation is one remote call received by the server.
type Invocation struct {
	Method string
	Args   []json.RawMessage
}

// StringArg decodes argument i as a string, or returns "".
func (inv Invocation) StringArg(i int) string {
	if i >= len(inv.Args) {
		return ""
	}
	var s string
	_ = json.Unmarshal(inv.Args[i], &s)
	return s
}

// Dial records what a client presented on the upgrade request.
type Dial struct {
	Role        string
	IsAdmin     string
	AccessToken string
	AuthHeader  string
}

type frame struct {
	Type      string            `json:"type"`
	ID        string            `json:"id,omitempty"`
	Target    string            `json:"target,omitempty"`
	Arguments []json.RawMessage `json:"arguments,omitempty"`
	Error     string            `json:"error,omitempty"`
}

type peer struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (p *peer) write(f frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn.WriteJSON(f)
}

// Server is a scriptable messaging hub
// FUNCTIONAL DISCOVERY: Records every dial and invocation so tests assert on
// what crossed the wire rather than on client internals
type Server struct {
	*httptest.Server

	// OnInvoke, when set, runs after a successful completion is written.
	OnInvoke func(s *Server, inv Invocation)

	mu          sync.Mutex
	peers       map[*peer]struct{}
	dials       []Dial
	invocations []Invocation
	failMethods map[string]string
	rejectDials int
	silent      bool
	delay       time.Duration
}

// NewServer starts a hub on a loopback listener.
func NewServer() *Server {
	s := &Server{
		peers:       make(map[*peer]struct{}),
		failMethods: make(map[string]string),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// URL returns the ws:// endpoint.
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.Server.URL, "http") + "/hubs/chat"
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	s.mu.Lock()
	s.dials = append(s.dials, Dial{
		Role:        query.Get("role"),
		IsAdmin:     query.Get("isAdmin"),
		AccessToken: query.Get("access_token"),
		AuthHeader:  r.Header.Get("Authorization"),
	})
	if s.rejectDials > 0 {
		s.rejectDials--
		s.mu.Unlock()
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	delay := s.delay
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	p := &peer{conn: conn}

	s.mu.Lock()
	s.peers[p] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.peers, p)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}
		if f.Type != "invocation" {
			continue
		}

		inv := Invocation{Method: f.Target, Args: f.Arguments}
		s.mu.Lock()
		s.invocations = append(s.invocations, inv)
		errText := s.failMethods[f.Target]
		silent := s.silent
		s.mu.Unlock()

		if silent {
			continue
		}
		if err := p.write(frame{Type: "completion", ID: f.ID, Error: errText}); err != nil {
			return
		}
		if errText == "" && s.OnInvoke != nil {
			s.OnInvoke(s, inv)
		}
	}
}

// Push sends an event to every connected client.
func (s *Server) Push(name string, args ...interface{}) error {
	raw := make([]json.RawMessage, 0, len(args))
	for _, arg := range args {
		data, err := json.Marshal(arg)
		if err != nil {
			return err
		}
		raw = append(raw, data)
	}

	for _, p := range s.livePeers() {
		if err := p.write(frame{Type: "event", Target: name, Arguments: raw}); err != nil {
			return err
		}
	}
	return nil
}

// DropAll closes every socket without a close handshake.
func (s *Server) DropAll() {
	for _, p := range s.livePeers() {
		_ = p.conn.UnderlyingConn().Close()
	}
}

// FailMethod makes every call to method complete with errText.
func (s *Server) FailMethod(method, errText string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failMethods[method] = errText
}

// RejectNextDials answers the next n upgrade requests with 401.
func (s *Server) RejectNextDials(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectDials = n
}

// SetHandshakeDelay holds every upgrade request for d before answering.
func (s *Server) SetHandshakeDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

// SetSilent stops the server from answering invocations.
func (s *Server) SetSilent(silent bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.silent = silent
}

// Dials returns every upgrade attempt seen so far.
func (s *Server) Dials() []Dial {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Dial(nil), s.dials...)
}

// Invocations returns calls to method, or all calls when method is "".
func (s *Server) Invocations(method string) []Invocation {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Invocation
	for _, inv := range s.invocations {
		if method == "" || inv.Method == method {
			out = append(out, inv)
		}
	}
	return out
}

// Connections returns the number of live sockets.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

// WaitForConnections polls until n sockets are live or timeout passes.
func (s *Server) WaitForConnections(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if s.Connections() == n {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return s.Connections() == n
}

func (s *Server) livePeers() []*peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	peers := make([]*peer, 0, len(s.peers))
	for p := range s.peers {
		peers = append(peers, p)
	}
	return peers
}
