// Package dedup tracks which events have already been processed across
// overlapping polls and providers.
package dedup

import (
	"container/list"

	"github.com/couchcryptid/quake-monitor-service/internal/domain"
)

// DefaultCapacity bounds the cache when the caller passes a non-positive size.
const DefaultCapacity = 50000

// Cache is a bounded set of seen keys. When full, the key inserted earliest is
// evicted. A Cache is owned by a single loop and is not safe for concurrent use.
type Cache struct {
	cap   int
	ll    *list.List // oldest at back
	items map[string]*list.Element
}

// New returns a Cache holding at most capacity keys.
func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{cap: capacity, ll: list.New(), items: make(map[string]*list.Element, min(capacity, 4096))}
}

// ShouldProcess reports whether key has not been seen, marking it seen.
func (c *Cache) ShouldProcess(key string) bool {
	if _, ok := c.items[key]; ok {
		return false
	}
	c.mark(key)
	return true
}

// ShouldProcessEvent checks both the event's external id key and its
// composite key. It returns false if either was already seen, and marks both.
func (c *Cache) ShouldProcessEvent(ev domain.CanonicalEvent) bool {
	keys := []string{"c:" + ev.CompositeKey()}
	if ev.ID != "" {
		keys = append(keys, "id:"+ev.ID)
	}
	fresh := true
	for _, k := range keys {
		if _, ok := c.items[k]; ok {
			fresh = false
		}
	}
	for _, k := range keys {
		if _, ok := c.items[k]; !ok {
			c.mark(k)
		}
	}
	return fresh
}

// Len returns the number of keys held.
func (c *Cache) Len() int { return c.ll.Len() }

func (c *Cache) mark(key string) {
	c.items[key] = c.ll.PushFront(key)
	for c.ll.Len() > c.cap {
		tail := c.ll.Back()
		c.ll.Remove(tail)
		delete(c.items, tail.Value.(string))
	}
}
