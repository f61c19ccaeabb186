// Package replay guards mutating requests against resubmission of a nonce that was
// already seen.
package replay

import (
	"container/list"
	"sync"
)

// DefaultCapacity is the number of nonces remembered when no capacity is configured.
const DefaultCapacity = 1024

// NonceCache is a bounded least-recently-used set of nonces. Entries never expire on their
// own; the oldest entry is evicted once capacity is reached.
type NonceCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	entries  map[string]*list.Element
}

// NewNonceCache constructs a cache holding at most capacity nonces.
func NewNonceCache(capacity int) *NonceCache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &NonceCache{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[string]*list.Element, capacity),
	}
}

// Remember records nonce and reports whether it was new. A nonce already present is
// refreshed and reported as a replay.
func (c *NonceCache) Remember(nonce string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if element, ok := c.entries[nonce]; ok {
		c.order.MoveToFront(element)
		return false
	}
	c.entries[nonce] = c.order.PushFront(nonce)
	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(string))
	}
	return true
}

// Contains reports whether nonce is currently remembered without refreshing it.
func (c *NonceCache) Contains(nonce string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[nonce]
	return ok
}

// Len returns the number of remembered nonces.
func (c *NonceCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
