package store

import "sync"

// SeenCache is the volatile in-process set of post identifiers. It is the
// fast path checked before the ledger and the fallback when the ledger is
// unreachable. Entries grow monotonically for the life of the process; the
// only removal is the rollback after a failed delivery.
type SeenCache struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

// NewSeenCache returns an empty cache.
func NewSeenCache() *SeenCache {
	return &SeenCache{ids: make(map[string]struct{})}
}

// Contains reports whether the id is in the cache.
func (c *SeenCache) Contains(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.ids[id]
	return ok
}

// Add inserts the id. Adding an existing id is a no-op.
func (c *SeenCache) Add(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids[id] = struct{}{}
}

// Remove deletes the id so a later cycle can retry delivery.
func (c *SeenCache) Remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.ids, id)
}

// Len returns the number of cached ids.
func (c *SeenCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ids)
}
