package expr

import (
	"container/list"
	"sync"
)

// DefaultCacheCapacity bounds the compiled-expression cache when no explicit
// capacity is configured.
const DefaultCacheCapacity = 100

// Cache is a bounded, thread-safe mapping from expression source text to its
// compiled form. Eviction is least-recently-used; the bound holds after every
// insertion regardless of how many distinct expression texts flow through.
// Callers must not depend on eviction order.
type Cache struct {
	mu      sync.Mutex
	max     int
	order   *list.List
	entries map[string]*list.Element

	hits   uint64
	misses uint64
}

type cacheItem struct {
	key   string
	value *Compiled
}

// NewCache constructs a Cache holding at most capacity compiled expressions.
// A non-positive capacity selects DefaultCacheCapacity.
func NewCache(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	return &Cache{
		max:     capacity,
		order:   list.New(),
		entries: make(map[string]*list.Element, capacity),
	}
}

// GetOrCompile returns the cached compiled form of src, compiling and
// inserting it on miss. A compilation error leaves the cache untouched.
//
// Compilation happens outside the lock, so two goroutines racing on the same
// new source text may both compile it; the first insertion wins and the loser
// discards its copy. Compiled expressions are immutable, so the race is benign.
func (c *Cache) GetOrCompile(src string) (*Compiled, error) {
	c.mu.Lock()
	if elem, ok := c.entries[src]; ok {
		c.order.MoveToFront(elem)
		c.hits++
		c.mu.Unlock()
		return elem.Value.(cacheItem).value, nil
	}
	c.misses++
	c.mu.Unlock()

	compiled, err := Compile(src)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[src]; ok {
		return elem.Value.(cacheItem).value, nil
	}

	elem := c.order.PushFront(cacheItem{key: src, value: compiled})
	c.entries[src] = elem

	if c.order.Len() > c.max {
		tail := c.order.Back()
		if tail != nil {
			c.order.Remove(tail)
			delete(c.entries, tail.Value.(cacheItem).key)
		}
	}

	return compiled, nil
}

// Len reports the current number of cached expressions.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Capacity reports the configured bound.
func (c *Cache) Capacity() int {
	return c.max
}

// Stats reports cumulative hit and miss counts since construction.
func (c *Cache) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}
