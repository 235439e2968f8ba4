// Package dedup suppresses re-deliveries of the same logical event within a
// time window. The tracker delivers webhooks at least once; dispatch effects
// are made idempotent by rejecting repeat keys here before dispatch runs.
package dedup

import (
	"sync"
	"time"
)

// Guard is the deduplication contract. Seen records key on first sight and
// returns false; repeat sightings within the window return true without
// refreshing the timestamp.
type Guard interface {
	Seen(key string) bool
}

const (
	// DefaultWindow suits fast webhook sources.
	DefaultWindow = 30 * time.Second

	// SlowSourceWindow suits trackers that redeliver over minutes.
	SlowSourceWindow = 5 * time.Minute

	// sweepThreshold is the map size past which an insert triggers a lazy
	// sweep of expired entries. Keeps memory bounded without a background
	// timer.
	sweepThreshold = 1000
)

// MemoryGuard is an in-process windowed guard. Safe for concurrent use.
type MemoryGuard struct {
	mu      sync.Mutex
	window  time.Duration
	entries map[string]time.Time
	now     func() time.Time
}

// NewMemoryGuard creates a guard with the given window. A zero window
// falls back to DefaultWindow.
func NewMemoryGuard(window time.Duration) *MemoryGuard {
	if window <= 0 {
		window = DefaultWindow
	}
	return &MemoryGuard{
		window:  window,
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

// Seen implements Guard.
func (g *MemoryGuard) Seen(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if at, ok := g.entries[key]; ok && now.Sub(at) < g.window {
		return true
	}
	if len(g.entries) >= sweepThreshold {
		g.sweep(now)
	}
	g.entries[key] = now
	return false
}

// sweep removes expired entries. Caller holds the lock.
func (g *MemoryGuard) sweep(now time.Time) {
	for k, at := range g.entries {
		if now.Sub(at) >= g.window {
			delete(g.entries, k)
		}
	}
}

// Len returns the number of tracked keys, expired or not.
func (g *MemoryGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}
