// Package cache is a small TTL cache for read-side payloads.
package cache

import (
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
)

// Cache stores values for ttl. Entries are grouped by owner so one owner's
// entries can be invalidated together.
type Cache struct {
	c   *ristretto.Cache
	ttl time.Duration

	mu          sync.Mutex
	generations map[string]uint64
}

// New creates a cache holding at most maxCost entries.
func New(maxCost int64, ttl time.Duration) (*Cache, error) {
	if maxCost <= 0 {
		maxCost = 1000
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxCost * 10,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Cache{c: c, ttl: ttl, generations: map[string]uint64{}}, nil
}

// Key resolves (owner, key) against the owner's current generation. Resolve
// the key before loading the value so an Invalidate during the load makes
// the stored entry unreachable.
func (c *Cache) Key(owner, key string) string {
	if c == nil {
		return ""
	}
	c.mu.Lock()
	gen := c.generations[owner]
	c.mu.Unlock()
	return fmt.Sprintf("%s|%d|%s", owner, gen, key)
}

// Get returns the value stored under a key from Key.
func (c *Cache) Get(key string) (any, bool) {
	if c == nil || c.ttl <= 0 {
		return nil, false
	}
	return c.c.Get(key)
}

// Set stores val under a key from Key. Writes are applied asynchronously.
func (c *Cache) Set(key string, val any) {
	if c == nil || c.ttl <= 0 {
		return
	}
	c.c.SetWithTTL(key, val, 1, c.ttl)
}

// Invalidate drops every entry of owner.
func (c *Cache) Invalidate(owner string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.generations[owner]++
	c.mu.Unlock()
}

// Wait blocks until pending writes are applied.
func (c *Cache) Wait() {
	if c != nil {
		c.c.Wait()
	}
}

// Close stops the cache's background goroutines.
func (c *Cache) Close() {
	if c != nil {
		c.c.Close()
	}
}
