package quota

import (
	"context"
	"sync"
	"time"
)

// sweepEvery bounds how often the memory counter walks its map to drop
// expired windows.
const sweepEvery = 10 * time.Minute

// MemoryCounter is a mutex-protected in-memory Counter with lazy TTL
// eviction, for single-process deployments and tests.
type MemoryCounter struct {
	mu        sync.Mutex
	entries   map[string]*windowEntry
	lastSweep time.Time
	now       func() time.Time // injectable clock for tests
}

type windowEntry struct {
	start time.Time
	count int64
}

// NewMemoryCounter creates an empty in-memory counter store.
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{
		entries: make(map[string]*windowEntry),
		now:     time.Now,
	}
}

// IncrAndGet implements Counter. The mutex makes read-increment-compare a
// single atomic operation across concurrent handlers.
func (c *MemoryCounter) IncrAndGet(_ context.Context, key string, window time.Duration) (int64, time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.sweep(now, window)

	e, ok := c.entries[key]
	if !ok || now.Sub(e.start) >= window {
		e = &windowEntry{start: now}
		c.entries[key] = e
	}
	e.count++

	return e.count, e.start.Add(window), nil
}

// Peek implements Counter.
func (c *MemoryCounter) Peek(_ context.Context, key string, window time.Duration) (int64, time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	e, ok := c.entries[key]
	if !ok || now.Sub(e.start) >= window {
		return 0, now.Add(window), nil
	}
	return e.count, e.start.Add(window), nil
}

// sweep drops expired windows. Called under the mutex.
func (c *MemoryCounter) sweep(now time.Time, window time.Duration) {
	if now.Sub(c.lastSweep) < sweepEvery {
		return
	}
	c.lastSweep = now
	for k, e := range c.entries {
		if now.Sub(e.start) >= window {
			delete(c.entries, k)
		}
	}
}
