package typing

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"supportchat/internal/metrics"
	"supportchat/pkg/interfaces"
	"supportchat/pkg/types"
)

const (
	// DefaultDebounce is how long local input may pause before StopTyping is sent.
	DefaultDebounce = 2 * time.Second
	// DefaultVisibility is how long a remote typing signal stays visible without a refresh.
	DefaultVisibility = 3 * time.Second

	stopTimeout = 5 * time.Second
)

// Options configures a Tracker.
type Options struct {
	Invoker    interfaces.Invoker
	Debounce   time.Duration
	Visibility time.Duration
	// Self is the local participant name; remote signals carrying it are ignored.
	Self string
	// OnChange runs after the visible remote set changes. It must not block.
	OnChange func()
}

type signalKey struct {
	sessionID   string
	participant string
}

type remoteSignal struct {
	signal types.TypingSignal
	timer  *time.Timer
}

// Tracker holds local typing state and the remote presence set
// ARCHITECTURAL DISCOVERY: Local state is edge-triggered (one StartTyping per burst)
// while remote signals are level-triggered with a hard expiry
type Tracker struct {
	invoker    interfaces.Invoker
	debounce   time.Duration
	visibility time.Duration
	self       string
	onChange   func()

	mu           sync.Mutex
	typing       bool
	localSession string
	debounceGen  uint64
	debounceStop *time.Timer
	remote       map[signalKey]*remoteSignal
	closed       bool
}

// NewTracker creates a tracker with defaults applied.
func NewTracker(opts Options) *Tracker {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Visibility <= 0 {
		opts.Visibility = DefaultVisibility
	}
	return &Tracker{
		invoker:    opts.Invoker,
		debounce:   opts.Debounce,
		visibility: opts.Visibility,
		self:       opts.Self,
		onChange:   opts.OnChange,
		remote:     make(map[signalKey]*remoteSignal),
	}
}

// KeyPress records local input in sessionID
// FUNCTIONAL DISCOVERY: StartTyping goes out only on the idle->typing edge; every
// call pushes the debounce deadline forward
func (t *Tracker) KeyPress(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return ErrNoSession
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrTrackerClosed
	}

	var previous string
	if t.typing && t.localSession != sessionID {
		// Switching sessions mid-burst closes out the old one first
		previous = t.localSession
		t.typing = false
	}
	start := !t.typing
	t.typing = true
	t.localSession = sessionID
	t.armDebounceLocked(sessionID)
	t.mu.Unlock()

	if previous != "" {
		_ = t.invoke(ctx, types.MethodStopTyping, previous)
	}
	if !start {
		return nil
	}

	metrics.TypingSignals.WithLabelValues("local", "start").Inc()
	if err := t.invoke(ctx, types.MethodStartTyping, sessionID); err != nil {
		t.mu.Lock()
		if t.localSession == sessionID {
			t.typing = false
			t.stopDebounceLocked()
		}
		t.mu.Unlock()
		return err
	}
	return nil
}

// Idle returns local state to idle immediately, sending StopTyping if typing.
// Sending a message calls this.
func (t *Tracker) Idle(ctx context.Context) error {
	t.mu.Lock()
	if !t.typing {
		t.mu.Unlock()
		return nil
	}
	sessionID := t.localSession
	t.typing = false
	t.stopDebounceLocked()
	t.mu.Unlock()

	metrics.TypingSignals.WithLabelValues("local", "stop").Inc()
	return t.invoke(ctx, types.MethodStopTyping, sessionID)
}

// IsTyping reports the local state.
func (t *Tracker) IsTyping() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.typing
}

func (t *Tracker) armDebounceLocked(sessionID string) {
	t.stopDebounceLocked()
	gen := t.debounceGen
	t.debounceStop = time.AfterFunc(t.debounce, func() {
		t.debounceFired(gen, sessionID)
	})
}

func (t *Tracker) stopDebounceLocked() {
	t.debounceGen++
	if t.debounceStop != nil {
		t.debounceStop.Stop()
		t.debounceStop = nil
	}
}

// debounceFired ignores timers superseded by a later keystroke or reset.
func (t *Tracker) debounceFired(gen uint64, sessionID string) {
	t.mu.Lock()
	if gen != t.debounceGen || !t.typing || t.closed {
		t.mu.Unlock()
		return
	}
	t.typing = false
	t.debounceStop = nil
	t.mu.Unlock()

	metrics.TypingSignals.WithLabelValues("local", "stop").Inc()
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := t.invoke(ctx, types.MethodStopTyping, sessionID); err != nil {
		log.Printf("Failed to send stop typing: session=%s err=%v", sessionID, err)
	}
}

func (t *Tracker) invoke(ctx context.Context, method, sessionID string) error {
	if t.invoker == nil {
		return nil
	}
	return t.invoker.Invoke(ctx, method, sessionID)
}

// RemoteTyping shows participant as typing in sessionID for the visibility window
// TECHNICAL DISCOVERY: A repeated signal replaces the expiry timer, so the window
// is measured from the latest signal
func (t *Tracker) RemoteTyping(sessionID, participant string) {
	if participant == "" || (t.self != "" && participant == t.self) {
		return
	}

	key := signalKey{sessionID, participant}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	existing, refreshed := t.remote[key]
	if refreshed {
		existing.timer.Stop()
	}
	entry := &remoteSignal{signal: types.TypingSignal{
		SessionID:   sessionID,
		Participant: participant,
		ExpiresAt:   time.Now().Add(t.visibility),
	}}
	entry.timer = time.AfterFunc(t.visibility, func() { t.expire(key, entry) })
	t.remote[key] = entry
	t.mu.Unlock()

	metrics.TypingSignals.WithLabelValues("remote", "start").Inc()
	if !refreshed {
		t.notify()
	}
}

// RemoteStopped removes a remote signal ahead of its expiry.
func (t *Tracker) RemoteStopped(sessionID, participant string) {
	key := signalKey{sessionID, participant}

	t.mu.Lock()
	entry, exists := t.remote[key]
	if exists {
		entry.timer.Stop()
		delete(t.remote, key)
	}
	t.mu.Unlock()

	if exists {
		metrics.TypingSignals.WithLabelValues("remote", "stop").Inc()
		t.notify()
	}
}

func (t *Tracker) expire(key signalKey, entry *remoteSignal) {
	t.mu.Lock()
	current, exists := t.remote[key]
	if !exists || current != entry {
		t.mu.Unlock()
		return
	}
	delete(t.remote, key)
	t.mu.Unlock()

	metrics.TypingSignals.WithLabelValues("remote", "expire").Inc()
	t.notify()
}

func (t *Tracker) notify() {
	if t.onChange != nil {
		t.onChange()
	}
}

// Visible returns the signals for sessionID ordered by participant.
// Signals for other sessions are kept but not returned.
func (t *Tracker) Visible(sessionID string) []types.TypingSignal {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []types.TypingSignal
	for key, entry := range t.remote {
		if key.sessionID == sessionID {
			out = append(out, entry.signal)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Participant < out[j].Participant })
	return out
}

// Participants returns the names typing in sessionID.
func (t *Tracker) Participants(sessionID string) []string {
	signals := t.Visible(sessionID)
	names := make([]string, len(signals))
	for i, s := range signals {
		names[i] = s.Participant
	}
	return names
}

// Reset stops every timer and clears all state without remote calls.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.typing = false
	t.localSession = ""
	t.stopDebounceLocked()
	changed := len(t.remote) > 0
	for key, entry := range t.remote {
		entry.timer.Stop()
		delete(t.remote, key)
	}
	t.mu.Unlock()

	if changed {
		t.notify()
	}
}

// Close resets the tracker and rejects further local input.
func (t *Tracker) Close() {
	t.Reset()
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
}
