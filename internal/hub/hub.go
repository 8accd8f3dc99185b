package hub

import (
	"context"
	"log"
	"sync"
	"sync/atomic"

	"supportchat/pkg/interfaces"
	"supportchat/pkg/types"
)

// DefaultSubscriberBuffer is used when Subscribe is given a non-positive size.
const DefaultSubscriberBuffer = 64

// Hub pumps channel events through the router and fans them out to subscribers
// ARCHITECTURAL DISCOVERY: Central coordination point for all inbound event flow;
// one goroutine applies events so the session registry has a single writer
type Hub struct {
	router interfaces.EventRouter

	// State
	// TECHNICAL DISCOVERY: RWMutex allows concurrent reads of running state
	running         bool
	shutdownChannel chan struct{}
	done            chan struct{}
	mu              sync.RWMutex

	// Subscribers outlive individual pump runs so UI readers attach once
	subscribers map[*Subscription]struct{}
	closed      bool
	subMu       sync.RWMutex

	routed   atomic.Uint64
	rejected atomic.Uint64
}

// Subscription is one reader of routed events.
type Subscription struct {
	// C delivers events after the router applied them. Closed by Hub.Close.
	C       <-chan *types.Event
	ch      chan *types.Event
	dropped atomic.Uint64
}

// Dropped returns how many events were discarded because C was full.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// NewHub creates a new hub
// ARCHITECTURAL DISCOVERY: Constructor pattern with dependency injection
// enables clean testing with a mock router
func NewHub(router interfaces.EventRouter) *Hub {
	return &Hub{
		router:      router,
		subscribers: make(map[*Subscription]struct{}),
	}
}

// Start begins pumping events from source
// FUNCTIONAL DISCOVERY: Must be called before the channel starts so no early
// event is dropped; the pump ends on Stop, ctx cancellation or source close
func (h *Hub) Start(ctx context.Context, source <-chan *types.Event) error {
	if source == nil {
		return ErrNilSource
	}

	h.subMu.RLock()
	closed := h.closed
	h.subMu.RUnlock()
	if closed {
		return ErrHubClosed
	}

	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.shutdownChannel = make(chan struct{})
	h.done = make(chan struct{})
	shutdown, done := h.shutdownChannel, h.done
	h.mu.Unlock()

	log.Println("Starting event hub...")
	go h.run(ctx, source, shutdown, done)
	return nil
}

// Stop ends the pump and waits for it to exit
// TECHNICAL DISCOVERY: Waiting on done guarantees no event is applied after Stop
// returns, which the client relies on when it resets the registry
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	shutdown, done := h.shutdownChannel, h.done
	h.mu.Unlock()

	log.Println("Stopping event hub...")

	select {
	case <-shutdown:
	default:
		close(shutdown)
	}
	<-done
	return nil
}

// IsRunning reports whether the pump is active.
func (h *Hub) IsRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

// Subscribe registers a reader with the given buffer size.
func (h *Hub) Subscribe(buffer int) (*Subscription, error) {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}

	h.subMu.Lock()
	defer h.subMu.Unlock()

	if h.closed {
		return nil, ErrHubClosed
	}
	ch := make(chan *types.Event, buffer)
	sub := &Subscription{C: ch, ch: ch}
	h.subscribers[sub] = struct{}{}
	return sub, nil
}

// Unsubscribe removes sub and closes its channel.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.subMu.Lock()
	defer h.subMu.Unlock()

	if _, exists := h.subscribers[sub]; exists {
		delete(h.subscribers, sub)
		close(sub.ch)
	}
}

// Close stops the pump if needed and closes every subscription.
func (h *Hub) Close() {
	_ = h.Stop()

	h.subMu.Lock()
	defer h.subMu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subscribers {
		close(sub.ch)
		delete(h.subscribers, sub)
	}
}

// run is the main pump loop
// TECHNICAL DISCOVERY: Single select loop handles all coordination
// preventing race conditions on registry writes
func (h *Hub) run(ctx context.Context, source <-chan *types.Event, shutdown, done chan struct{}) {
	defer func() {
		h.mu.Lock()
		if h.done == done {
			h.running = false
		}
		h.mu.Unlock()
		close(done)
		log.Println("Event hub stopped")
	}()

	for {
		select {
		case event, ok := <-source:
			if !ok {
				log.Println("Event source closed")
				return
			}
			h.handleEvent(ctx, event)

		case <-shutdown:
			return

		case <-ctx.Done():
			log.Println("Event hub context cancelled")
			return
		}
	}
}

// handleEvent routes one event, then fans it out
// FUNCTIONAL DISCOVERY: Router errors are logged and the event is withheld from
// subscribers; the pump itself never stops on a bad event
func (h *Hub) handleEvent(ctx context.Context, event *types.Event) {
	if err := h.router.Route(ctx, event); err != nil {
		h.rejected.Add(1)
		name := "<nil>"
		if event != nil {
			name = event.Name
		}
		log.Printf("Event routing failed: event=%s err=%v", name, err)
		return
	}
	h.routed.Add(1)
	h.broadcast(event)
}

// broadcast never blocks on a slow reader.
func (h *Hub) broadcast(event *types.Event) {
	h.subMu.RLock()
	defer h.subMu.RUnlock()

	for sub := range h.subscribers {
		select {
		case sub.ch <- event:
		default:
			sub.dropped.Add(1)
		}
	}
}

// GetStats returns hub statistics
func (h *Hub) GetStats() map[string]int {
	h.subMu.RLock()
	subscribers := len(h.subscribers)
	var dropped uint64
	for sub := range h.subscribers {
		dropped += sub.Dropped()
	}
	h.subMu.RUnlock()

	running := 0
	if h.IsRunning() {
		running = 1
	}

	return map[string]int{
		"subscribers": subscribers,
		"routed":      int(h.routed.Load()),
		"rejected":    int(h.rejected.Load()),
		"dropped":     int(dropped),
		"running":     running,
	}
}
