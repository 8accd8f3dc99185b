package router

import (
	"sync"
	"time"
)

// DefaultMessagesPerMinute is the outbound send budget per session.
const DefaultMessagesPerMinute = 100

// RateLimiter implements per-session outbound rate limiting
// ARCHITECTURAL DISCOVERY: Per-key state tracking with periodic cleanup prevents
// buffers of long-gone admin sessions from accumulating
type RateLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	keys   map[string]*keyLimit
	now    func() time.Time
}

// keyLimit tracks the fixed window for a single session
type keyLimit struct {
	count       int
	windowStart time.Time
}

// NewRateLimiter creates a limiter allowing limit sends per minute per key.
// A non-positive limit disables limiting.
func NewRateLimiter(limit int) *RateLimiter {
	return &RateLimiter{
		limit:  limit,
		window: time.Minute,
		keys:   make(map[string]*keyLimit),
		now:    time.Now,
	}
}

// Allow reports whether key may send another message and records it
// FUNCTIONAL DISCOVERY: First message always allowed; the window resets exactly
// one minute after it opened
func (rl *RateLimiter) Allow(key string) bool {
	if rl.limit <= 0 {
		return true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()

	limit, exists := rl.keys[key]
	if !exists {
		rl.keys[key] = &keyLimit{count: 1, windowStart: now}
		return true
	}

	if now.Sub(limit.windowStart) >= rl.window {
		limit.count = 1
		limit.windowStart = now
		return true
	}

	if limit.count >= rl.limit {
		return false
	}

	limit.count++
	return true
}

// Forget drops tracking for key, used when a session is left or ended.
func (rl *RateLimiter) Forget(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.keys, key)
}

// Cleanup removes entries idle for five windows.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for key, limit := range rl.keys {
		if now.Sub(limit.windowStart) > 5*rl.window {
			delete(rl.keys, key)
		}
	}
}

// Len returns the number of tracked keys.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.keys)
}
