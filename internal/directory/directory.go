package directory

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

// DefaultPollInterval is the fixed refresh period.
const DefaultPollInterval = 30 * time.Second

// Options configures a Directory.
type Options struct {
	API          interfaces.DirectoryAPI
	PollInterval time.Duration
	// Archiver, when set, receives every successful poll and transcript fetch.
	Archiver interfaces.Archiver
	// OnChange runs after the snapshot changes. It must not block.
	OnChange func()
}

// Directory is the admin overview of all sessions
// ARCHITECTURAL DISCOVERY: Decoupled from the live channel; it stays correct
// while the admin's socket is down because every poll replaces the snapshot
type Directory struct {
	api      interfaces.DirectoryAPI
	interval time.Duration
	archiver interfaces.Archiver
	onChange func()

	mu          sync.RWMutex
	entries     []types.DirectoryEntry
	lastRefresh time.Time
	lastErr     error

	// refreshMu keeps one poll or status change in flight so a slow response
	// cannot overwrite a newer snapshot
	refreshMu sync.Mutex

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a stopped directory.
func New(opts Options) (*Directory, error) {
	if opts.API == nil {
		return nil, ErrNoAPI
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	return &Directory{
		api:      opts.API,
		interval: opts.PollInterval,
		archiver: opts.Archiver,
		onChange: opts.OnChange,
	}, nil
}

// Start polls once immediately, then on every interval until Stop
// FUNCTIONAL DISCOVERY: The first poll runs inside the loop goroutine; Start
// never blocks on the network
func (d *Directory) Start(ctx context.Context) error {
	d.runMu.Lock()
	defer d.runMu.Unlock()

	if d.cancel != nil {
		return ErrAlreadyStarted
	}
	pollCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})

	go d.run(pollCtx, d.done)
	log.Printf("Session directory polling every %s", d.interval)
	return nil
}

// Stop ends polling and waits for an in-flight poll to return.
func (d *Directory) Stop() {
	d.runMu.Lock()
	cancel, done := d.cancel, d.done
	d.cancel = nil
	d.done = nil
	d.runMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (d *Directory) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		if err := d.Refresh(ctx); err != nil && ctx.Err() == nil {
			log.Printf("Session directory refresh failed: %v", err)
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

// Refresh fetches the full list and replaces the snapshot
// FUNCTIONAL DISCOVERY: On failure the last good snapshot is kept and the error
// is exposed through Err
func (d *Directory) Refresh(ctx context.Context) error {
	d.refreshMu.Lock()
	defer d.refreshMu.Unlock()

	entries, err := d.api.ListSessions(ctx)
	metrics.DirectoryPolls.WithLabelValues(metrics.Result(err)).Inc()

	if err != nil {
		d.mu.Lock()
		d.lastErr = err
		d.mu.Unlock()
		return err
	}

	snapshot := make([]types.DirectoryEntry, len(entries))
	copy(snapshot, entries)

	d.mu.Lock()
	d.entries = snapshot
	d.lastRefresh = time.Now()
	d.lastErr = nil
	d.mu.Unlock()

	metrics.DirectoryEntries.Set(float64(len(snapshot)))
	d.notify()

	if d.archiver != nil {
		if err := d.archiver.SaveDirectory(ctx, snapshot); err != nil {
			log.Printf("Failed to archive session directory: %v", err)
		}
	}
	return nil
}

// Transcript fetches a session's messages directly from the backend.
func (d *Directory) Transcript(ctx context.Context, sessionID string) ([]types.Message, error) {
	messages, err := d.api.GetTranscript(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if d.archiver != nil {
		if err := d.archiver.SaveTranscript(ctx, sessionID, messages); err != nil {
			log.Printf("Failed to archive transcript: session=%s err=%v", sessionID, err)
		}
	}
	return messages, nil
}

// UpdateStatus changes a session's status on the backend
// FUNCTIONAL DISCOVERY: On success the held entry is patched at once instead of
// waiting for the next poll; the poll stays authoritative. It waits out an
// in-flight poll so a response fetched before the change cannot undo the patch
func (d *Directory) UpdateStatus(ctx context.Context, sessionID, status string) error {
	d.refreshMu.Lock()
	defer d.refreshMu.Unlock()

	if err := d.api.UpdateStatus(ctx, sessionID, status); err != nil {
		d.mu.Lock()
		d.lastErr = err
		d.mu.Unlock()
		return err
	}

	d.mu.Lock()
	patched := false
	next := make([]types.DirectoryEntry, len(d.entries))
	copy(next, d.entries)
	for i := range next {
		if next[i].ID == sessionID {
			next[i].Status = status
			patched = true
		}
	}
	d.entries = next
	d.mu.Unlock()

	log.Printf("Session status updated: id=%s status=%s patched=%t", sessionID, status, patched)
	if patched {
		d.notify()
	}
	return nil
}

// Announce inserts a session pushed over the channel if it is not already held.
// The next poll confirms or replaces it.
func (d *Directory) Announce(entry types.DirectoryEntry) {
	d.mu.Lock()
	for _, existing := range d.entries {
		if existing.ID == entry.ID {
			d.mu.Unlock()
			return
		}
	}
	// Copy on write; the archiver may still be reading the previous slice
	next := make([]types.DirectoryEntry, 0, len(d.entries)+1)
	next = append(next, entry)
	next = append(next, d.entries...)
	d.entries = next
	d.mu.Unlock()

	d.notify()
}

// Snapshot returns a copy of the held entries.
func (d *Directory) Snapshot() []types.DirectoryEntry {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]types.DirectoryEntry, len(d.entries))
	copy(out, d.entries)
	return out
}

// Entry returns one held entry.
func (d *Directory) Entry(sessionID string) (types.DirectoryEntry, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, e := range d.entries {
		if e.ID == sessionID {
			return e, true
		}
	}
	return types.DirectoryEntry{}, false
}

// ByStatus returns held entries with the given status, newest activity first.
func (d *Directory) ByStatus(status string) []types.DirectoryEntry {
	var out []types.DirectoryEntry
	for _, e := range d.Snapshot() {
		if e.Status == status {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return activity(out[i]).After(activity(out[j])) })
	return out
}

func activity(e types.DirectoryEntry) time.Time {
	if e.LastActivity != nil {
		return *e.LastActivity
	}
	return e.CreatedAt
}

// LastRefresh returns when the last successful poll completed.
func (d *Directory) LastRefresh() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastRefresh
}

// Err returns the most recent REST failure, cleared by a successful poll.
func (d *Directory) Err() error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastErr
}

func (d *Directory) notify() {
	if d.onChange != nil {
		d.onChange()
	}
}
