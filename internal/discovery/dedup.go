package discovery

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// dedupCache suppresses repeat candidate emissions for a room within a rolling window, so the
// same room discovered by multiple notifiers (or re-announced) doesn't trigger a claim attempt
// per channel.
type dedupCache struct {
	window time.Duration

	mu   sync.Mutex
	seen map[uuid.UUID]time.Time
}

func newDedupCache(window time.Duration) *dedupCache {
	return &dedupCache{window: window, seen: make(map[uuid.UUID]time.Time)}
}

// shouldEmit reports whether id has not been seen within the window, recording it if so.
func (c *dedupCache) shouldEmit(id uuid.UUID) bool {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if last, ok := c.seen[id]; ok && now.Sub(last) < c.window {
		return false
	}
	c.seen[id] = now
	c.prune(now)
	return true
}

// prune drops entries older than 2x the window; called opportunistically from shouldEmit so the
// map doesn't grow unbounded across a long-lived worker process.
func (c *dedupCache) prune(now time.Time) {
	cutoff := 2 * c.window
	for id, t := range c.seen {
		if now.Sub(t) > cutoff {
			delete(c.seen, id)
		}
	}
}

// clear forgets id, so the room can be legitimately re-announced once its processing completes.
func (c *dedupCache) clear(id uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.seen, id)
}
