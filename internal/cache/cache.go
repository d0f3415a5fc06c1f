// Package cache provides an in-memory TTL set used to claim dispatch minutes.
package cache

import (
	"sync"
	"time"
)

// DefaultTTL keeps a claimed minute long enough to absorb a retried trigger.
const DefaultTTL = 10 * time.Minute

// Guard is a thread-safe set of keys that expire after a TTL.
type Guard struct {
	mu      sync.Mutex
	entries map[string]time.Time // key -> expiry
	ttl     time.Duration
	now     func() time.Time
}

// New creates a guard. A non-positive ttl uses DefaultTTL.
func New(ttl time.Duration) *Guard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Guard{
		entries: make(map[string]time.Time),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Claim marks key as taken. It returns false if key is already held and
// not yet expired.
func (g *Guard) Claim(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if exp, ok := g.entries[key]; ok && now.Before(exp) {
		return false
	}
	g.entries[key] = now.Add(g.ttl)
	return true
}

// Release drops key so the next Claim succeeds.
func (g *Guard) Release(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.entries, key)
}

// Stats returns guard statistics.
func (g *Guard) Stats() map[string]interface{} {
	g.mu.Lock()
	defer g.mu.Unlock()

	active := 0
	now := g.now()
	for _, exp := range g.entries {
		if now.Before(exp) {
			active++
		}
	}
	return map[string]interface{}{
		"ttl":          g.ttl.String(),
		"total_keys":   len(g.entries),
		"active_keys":  active,
		"expired_keys": len(g.entries) - active,
	}
}

// Evict removes expired keys.
func (g *Guard) Evict() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	n := 0
	for key, exp := range g.entries {
		if !now.Before(exp) {
			delete(g.entries, key)
			n++
		}
	}
	return n
}

// EvictLoop periodically removes expired keys until done is closed.
func (g *Guard) EvictLoop(done <-chan struct{}, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			g.Evict()
		case <-done:
			return
		}
	}
}
