package session

import (
	"log"
	"sort"
	"sync"

	"supportchat/internal/metrics"
	"supportchat/pkg/types"
)

type buffer struct {
	status   types.SessionStatus
	messages []types.Message
}

// Registry maps session identifiers to ordered message buffers
// ARCHITECTURAL DISCOVERY: One registry per client instance; the event router is the
// only writer and UI readers always receive copies
type Registry struct {
	buffers map[string]*buffer
	current string
	mu      sync.RWMutex
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		buffers: make(map[string]*buffer),
	}
}

// Append adds msg to the end of the session's buffer in arrival order
// FUNCTIONAL DISCOVERY: Unknown session ids create a buffer instead of failing;
// the channel and the REST directory are only eventually consistent
func (r *Registry) Append(sessionID string, msg types.Message) error {
	if !types.IsValidSessionID(sessionID) {
		return ErrInvalidSessionID
	}
	msg.SessionID = sessionID

	r.mu.Lock()
	defer r.mu.Unlock()

	b, exists := r.buffers[sessionID]
	if !exists {
		b = &buffer{status: types.SessionActive}
		r.buffers[sessionID] = b
		metrics.ImplicitSessions.Inc()
		log.Printf("Created buffer for unannounced session: id=%s", sessionID)
	}
	b.messages = append(b.messages, msg)
	return nil
}

// SetCurrent records the caller's current session and opens its buffer,
// reactivating it if it had ended
func (r *Registry) SetCurrent(sessionID string) error {
	if !types.IsValidSessionID(sessionID) {
		return ErrInvalidSessionID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.current = sessionID
	if b, exists := r.buffers[sessionID]; exists {
		b.status = types.SessionActive
		return nil
	}
	r.buffers[sessionID] = &buffer{status: types.SessionActive}
	return nil
}

// Current returns the current session id, or "" when there is none
func (r *Registry) Current() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Messages returns a copy of the session's buffer
func (r *Registry) Messages(sessionID string) []types.Message {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, exists := r.buffers[sessionID]
	if !exists {
		return nil
	}
	out := make([]types.Message, len(b.messages))
	copy(out, b.messages)
	return out
}

// Get returns a snapshot of one session
func (r *Registry) Get(sessionID string) (*types.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, exists := r.buffers[sessionID]
	if !exists {
		return nil, ErrSessionNotFound
	}
	return snapshot(sessionID, b), nil
}

// Sessions returns snapshots of every held session ordered by id
func (r *Registry) Sessions() []*types.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*types.Session, 0, len(r.buffers))
	for id, b := range r.buffers {
		out = append(out, snapshot(id, b))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// MarkEnded flags a held session as ended. Unknown ids are ignored.
func (r *Registry) MarkEnded(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, exists := r.buffers[sessionID]
	if !exists {
		return false
	}
	b.status = types.SessionEnded
	return true
}

// Clear drops the session's buffer, and the current id if it matches
// FUNCTIONAL DISCOVERY: Leaving is destructive; nothing is
// cached for a later re-join
func (r *Registry) Clear(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.buffers, sessionID)
	if r.current == sessionID {
		r.current = ""
	}
}

// Reset empties the registry
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buffers = make(map[string]*buffer)
	r.current = ""
}

// GetStats returns registry statistics
func (r *Registry) GetStats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := 0
	active := 0
	for _, b := range r.buffers {
		total += len(b.messages)
		if b.status == types.SessionActive {
			active++
		}
	}
	return map[string]int{
		"sessions":        len(r.buffers),
		"active_sessions": active,
		"messages":        total,
	}
}

func snapshot(id string, b *buffer) *types.Session {
	msgs := make([]types.Message, len(b.messages))
	copy(msgs, b.messages)
	return &types.Session{ID: id, Status: b.status, Messages: msgs}
}
