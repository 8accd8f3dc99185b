package types

import (
	"encoding/json"
	"time"
)

// Role identifies which side of a support conversation a connection speaks for.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
)

// TransportState is the lifecycle state of the persistent channel.
// ARCHITECTURAL DISCOVERY: States mirror the transport exactly so the client
// never has to infer connectivity from side effects
type TransportState string

const (
	StateDisconnected TransportState = "disconnected"
	StateConnecting   TransportState = "connecting"
	StateConnected    TransportState = "connected"
	StateReconnecting TransportState = "reconnecting"
)

// SessionStatus is the lifecycle status of a live session buffer.
type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionEnded  SessionStatus = "ended"
)

// Directory statuses as reported by the REST backend
const (
	DirectoryStatusActive  = "active"
	DirectoryStatusWaiting = "waiting"
	DirectoryStatusClosed  = "closed"
	DirectoryStatusEnded   = "ended"
)

// Server-pushed event names
// FUNCTIONAL DISCOVERY: Names are the exact targets the messaging hub pushes,
// so routing is a plain string switch with no translation table
const (
	EventReceiveMessage    = "ReceiveMessage"
	EventUserJoined        = "UserJoined"
	EventUserLeft          = "UserLeft"
	EventSessionCreated    = "SessionCreated"
	EventNewSession        = "NewSession"
	EventSessionEnded      = "SessionEnded"
	EventUserTyping        = "UserTyping"
	EventUserStoppedTyping = "UserStoppedTyping"

	// EventStateChanged is synthesized locally by the transport on every
	// transport state transition; the server never sends it.
	EventStateChanged = "StateChanged"
)

// Remote procedures invoked by the client
const (
	MethodSendMessage          = "SendMessage"
	MethodSendMessageToSession = "SendMessageToSession"
	MethodJoinSession          = "JoinSession"
	MethodLeaveSession         = "LeaveSession"
	MethodEndSession           = "EndSession"
	MethodStartTyping          = "StartTyping"
	MethodStopTyping           = "StopTyping"
)

// Message is one chat line. Immutable once appended to a session buffer.
type Message struct {
	ID         string    `json:"id,omitempty"`
	SessionID  string    `json:"sessionId"`
	Sender     string    `json:"senderName"`
	SenderRole Role      `json:"senderRole,omitempty"`
	Text       string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
}

// timestampLayouts are tried in order. Layouts without an offset are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseTimestamp reads a backend timestamp, returning the zero time when the
// value is absent or in no known layout.
func ParseTimestamp(value string) time.Time {
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts
		}
	}
	return time.Time{}
}

func decodeTimestamp(raw json.RawMessage) time.Time {
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return time.Time{}
	}
	return ParseTimestamp(value)
}

// UnmarshalJSON decodes a message leniently
// TECHNICAL DISCOVERY: Older hubs send "text" instead of "message", numeric ids,
// and .NET backends send timestamps without an offset. A timestamp that cannot
// be read is left zero so the receiver stamps its own time instead of losing the line
func (m *Message) UnmarshalJSON(data []byte) error {
	type plain Message
	var wire struct {
		plain
		ID        json.RawMessage `json:"id"`
		AltText   string          `json:"text"`
		Timestamp json.RawMessage `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	*m = Message(wire.plain)
	if m.Text == "" {
		m.Text = wire.AltText
	}
	if len(wire.ID) > 0 && string(wire.ID) != "null" {
		if err := json.Unmarshal(wire.ID, &m.ID); err != nil {
			m.ID = string(wire.ID)
		}
	}
	m.Timestamp = decodeTimestamp(wire.Timestamp)
	return nil
}

// Session is a point-in-time copy of one live session buffer.
type Session struct {
	ID       string        `json:"id"`
	Status   SessionStatus `json:"status"`
	Messages []Message     `json:"messages"`
}

// TypingSignal records that a participant is composing in a session.
// It is never persisted and expires at ExpiresAt.
type TypingSignal struct {
	SessionID   string    `json:"sessionId"`
	Participant string    `json:"userName"`
	ExpiresAt   time.Time `json:"-"`
}

// DirectoryEntry is the admin-facing REST summary of a session.
// FUNCTIONAL DISCOVERY: Entries are replaced wholesale on every poll, so the
// struct carries no version or diff metadata
type DirectoryEntry struct {
	ID           string     `json:"id"`
	CustomerID   string     `json:"customerId,omitempty"`
	CustomerName string     `json:"customerName,omitempty"`
	Status       string     `json:"status"`
	LastMessage  string     `json:"lastMessage,omitempty"`
	LastActivity *time.Time `json:"lastActivity,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UnreadCount  int        `json:"unreadCount,omitempty"`
}

// UnmarshalJSON reads entry timestamps with the same leniency as messages.
func (e *DirectoryEntry) UnmarshalJSON(data []byte) error {
	type plain DirectoryEntry
	var wire struct {
		plain
		LastActivity json.RawMessage `json:"lastActivity"`
		CreatedAt    json.RawMessage `json:"createdAt"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	*e = DirectoryEntry(wire.plain)
	e.CreatedAt = decodeTimestamp(wire.CreatedAt)
	if ts := decodeTimestamp(wire.LastActivity); !ts.IsZero() {
		e.LastActivity = &ts
	}
	return nil
}

// Event is one inbound push from the channel.
// ARCHITECTURAL DISCOVERY: Arguments stay raw until the router decodes them,
// keeping the transport ignorant of payload shapes
type Event struct {
	Name       string            `json:"target"`
	Arguments  []json.RawMessage `json:"arguments,omitempty"`
	ReceivedAt time.Time         `json:"-"`
}

// NewEvent builds an event from already-encoded argument values.
func NewEvent(name string, args ...interface{}) (*Event, error) {
	raw := make([]json.RawMessage, 0, len(args))
	for _, arg := range args {
		data, err := json.Marshal(arg)
		if err != nil {
			return nil, err
		}
		raw = append(raw, data)
	}
	return &Event{Name: name, Arguments: raw, ReceivedAt: time.Now()}, nil
}

// Arg decodes argument i into v.
func (e *Event) Arg(i int, v interface{}) error {
	if i < 0 || i >= len(e.Arguments) {
		return ErrMissingArgument
	}
	if err := json.Unmarshal(e.Arguments[i], v); err != nil {
		return ErrMalformedArgument
	}
	return nil
}
