package cache

import (
	"sync"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// LRU is a concurrency-safe least-recently-used map. A capacity of zero or
// less means unbounded. Values are stored as given.
type LRU[V any] struct {
	mu       sync.Mutex
	entries  *orderedmap.OrderedMap[string, V]
	capacity int
}

func NewLRU[V any](capacity int) *LRU[V] {
	return &LRU[V]{
		entries:  orderedmap.New[string, V](),
		capacity: capacity,
	}
}

// Get returns the value for key and marks it most recently used.
func (c *LRU[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.entries.Get(key)
	if ok {
		_ = c.entries.MoveToBack(key)
	}
	return v, ok
}

// Put stores v and returns how many entries were evicted to make room.
func (c *LRU[V]) Put(key string, v V) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries.Set(key, v)
	_ = c.entries.MoveToBack(key)

	evicted := 0
	for c.capacity > 0 && c.entries.Len() > c.capacity {
		c.entries.Delete(c.entries.Oldest().Key)
		evicted++
	}
	return evicted
}

func (c *LRU[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}
