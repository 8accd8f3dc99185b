package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"supportchat/internal/metrics"
	"supportchat/pkg/types"
)

// SessionStore is the registry surface the router writes to.
type SessionStore interface {
	Append(sessionID string, msg types.Message) error
	SetCurrent(sessionID string) error
	MarkEnded(sessionID string) bool
}

// TypingSink receives remote typing signals.
type TypingSink interface {
	RemoteTyping(sessionID, participant string)
	RemoteStopped(sessionID, participant string)
}

// DirectoryNotifier is told about sessions announced over the channel.
type DirectoryNotifier interface {
	Announce(entry types.DirectoryEntry)
}

// StateSink follows the transport state.
type StateSink interface {
	SetState(state types.TransportState)
}

// Router applies inbound channel events to local state
// ARCHITECTURAL DISCOVERY: Pure event routing logic without connection handling;
// every sink is optional so customer and admin clients share one table
type Router struct {
	role      types.Role
	sessions  SessionStore
	typing    TypingSink
	directory DirectoryNotifier
	state     StateSink
}

// Options wires the router's sinks. Sessions is required.
type Options struct {
	Role      types.Role
	Sessions  SessionStore
	Typing    TypingSink
	Directory DirectoryNotifier
	State     StateSink
}

// NewRouter creates a new event router
// FUNCTIONAL DISCOVERY: Dependency injection enables testing with mock sinks
func NewRouter(opts Options) *Router {
	return &Router{
		role:      opts.Role,
		sessions:  opts.Sessions,
		typing:    opts.Typing,
		directory: opts.Directory,
		state:     opts.State,
	}
}

// Route applies one event
// FUNCTIONAL DISCOVERY: Errors are returned for the caller to log; none of them
// should stop the event stream
func (r *Router) Route(ctx context.Context, event *types.Event) error {
	if event == nil {
		return ErrNilEvent
	}
	metrics.EventsReceived.WithLabelValues(event.Name).Inc()

	var err error
	switch event.Name {
	case types.EventReceiveMessage:
		err = r.receiveMessage(event)
	case types.EventUserJoined, types.EventUserLeft:
		err = r.presence(event)
	case types.EventSessionCreated:
		err = r.sessionCreated(event)
	case types.EventNewSession:
		err = r.newSession(event)
	case types.EventSessionEnded:
		err = r.sessionEnded(event)
	case types.EventUserTyping, types.EventUserStoppedTyping:
		err = r.typingSignal(event)
	case types.EventStateChanged:
		err = r.stateChanged(event)
	default:
		err = fmt.Errorf("%w: %s", ErrUnknownEvent, event.Name)
	}

	if err != nil {
		metrics.EventsRejected.WithLabelValues(rejectReason(err)).Inc()
	}
	return err
}

func (r *Router) receiveMessage(event *types.Event) error {
	var sessionID string
	if err := event.Arg(0, &sessionID); err != nil {
		return malformed(event, err)
	}
	msg, err := DecodeMessage(event)
	if err != nil {
		return malformed(event, err)
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = event.ReceivedAt
	}
	return r.sessions.Append(sessionID, msg)
}

// DecodeMessage extracts the message argument of a ReceiveMessage event.
// It accepts either a message object or a bare text string.
func DecodeMessage(event *types.Event) (types.Message, error) {
	if len(event.Arguments) < 2 {
		return types.Message{}, types.ErrMissingArgument
	}
	var msg types.Message
	if err := json.Unmarshal(event.Arguments[1], &msg); err == nil {
		return msg, nil
	}
	var text string
	if err := json.Unmarshal(event.Arguments[1], &text); err != nil {
		return types.Message{}, types.ErrMalformedArgument
	}
	return types.Message{Text: text}, nil
}

func (r *Router) presence(event *types.Event) error {
	var sessionID, userName string
	if err := event.Arg(0, &sessionID); err != nil {
		return malformed(event, err)
	}
	_ = event.Arg(1, &userName)
	log.Printf("Participant %s: session=%s user=%s", presenceVerb(event.Name), sessionID, userName)
	return nil
}

func (r *Router) sessionCreated(event *types.Event) error {
	var sessionID string
	if err := event.Arg(0, &sessionID); err != nil {
		return malformed(event, err)
	}
	log.Printf("Session assigned: id=%s role=%s", sessionID, r.role)
	return r.sessions.SetCurrent(sessionID)
}

func (r *Router) newSession(event *types.Event) error {
	if r.role != types.RoleAdmin {
		log.Printf("Ignoring %s on %s connection", event.Name, r.role)
		return ErrAdminOnlyEvent
	}

	var entry types.DirectoryEntry
	if err := event.Arg(0, &entry); err != nil {
		// A bare session id is also accepted
		var id string
		if idErr := event.Arg(0, &id); idErr != nil {
			return malformed(event, err)
		}
		entry = types.DirectoryEntry{ID: id}
	}
	if !types.IsValidSessionID(entry.ID) {
		return malformed(event, types.ErrInvalidSessionID)
	}
	if entry.Status == "" {
		entry.Status = types.DirectoryStatusWaiting
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = event.ReceivedAt
	}

	log.Printf("New session announced: id=%s customer=%s", entry.ID, entry.CustomerName)
	if r.directory != nil {
		r.directory.Announce(entry)
	}
	return nil
}

func (r *Router) sessionEnded(event *types.Event) error {
	if r.role != types.RoleAdmin {
		log.Printf("Ignoring %s on %s connection", event.Name, r.role)
		return ErrAdminOnlyEvent
	}
	var sessionID string
	if err := event.Arg(0, &sessionID); err != nil {
		return malformed(event, err)
	}
	held := r.sessions.MarkEnded(sessionID)
	log.Printf("Session ended: id=%s held=%t", sessionID, held)
	return nil
}

func (r *Router) typingSignal(event *types.Event) error {
	var sessionID, participant string
	if err := event.Arg(0, &sessionID); err != nil {
		return malformed(event, err)
	}
	if err := event.Arg(1, &participant); err != nil {
		return malformed(event, err)
	}
	if r.typing == nil {
		return nil
	}
	if event.Name == types.EventUserTyping {
		r.typing.RemoteTyping(sessionID, participant)
	} else {
		r.typing.RemoteStopped(sessionID, participant)
	}
	return nil
}

func (r *Router) stateChanged(event *types.Event) error {
	var state types.TransportState
	if err := event.Arg(0, &state); err != nil {
		return malformed(event, err)
	}
	if !types.IsValidTransportState(state) {
		return malformed(event, types.ErrInvalidTransportState)
	}
	if r.state != nil {
		r.state.SetState(state)
	}
	return nil
}

func malformed(event *types.Event, err error) error {
	log.Printf("Dropping malformed %s event: %v", event.Name, err)
	return fmt.Errorf("%w: %s: %v", ErrMalformedEvent, event.Name, err)
}

func presenceVerb(name string) string {
	if name == types.EventUserJoined {
		return "joined"
	}
	return "left"
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrAdminOnlyEvent):
		return "admin_only"
	case errors.Is(err, ErrUnknownEvent):
		return "unknown"
	case errors.Is(err, ErrMalformedEvent):
		return "malformed"
	default:
		return "store"
	}
}
