package metrics

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

type ttlEntry[T any] struct {
	value      T
	capturedAt time.Time
}

// ttlCache holds lazily computed values that stay fresh for ttl. Concurrent
// misses on the same key share a single load.
type ttlCache[K comparable, T any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[K]ttlEntry[T]
	flight  singleflight.Group
}

func newTTLCache[K comparable, T any](ttl time.Duration, now func() time.Time) *ttlCache[K, T] {
	return &ttlCache[K, T]{
		ttl:     ttl,
		now:     now,
		entries: make(map[K]ttlEntry[T]),
	}
}

func (c *ttlCache[K, T]) fresh(e ttlEntry[T], now time.Time) bool {
	return now.Sub(e.capturedAt) <= c.ttl
}

// get returns the cached value for key if it is still fresh.
func (c *ttlCache[K, T]) get(key K) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || !c.fresh(e, c.now()) {
		var zero T
		return zero, false
	}
	return e.value, true
}

// getOrLoad returns the fresh value for key, calling load when there is none.
// load runs without the cache lock held.
func (c *ttlCache[K, T]) getOrLoad(key K, load func() T) T {
	if v, ok := c.get(key); ok {
		return v
	}
	v, _, _ := c.flight.Do(fmt.Sprint(key), func() (any, error) {
		if v, ok := c.get(key); ok {
			return v, nil
		}
		v := load()
		c.mu.Lock()
		c.entries[key] = ttlEntry[T]{value: v, capturedAt: c.now()}
		c.mu.Unlock()
		return v, nil
	})
	return v.(T)
}

// sweep drops expired entries and reports how many were removed.
func (c *ttlCache[K, T]) sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	removed := 0
	for k, e := range c.entries {
		if !c.fresh(e, now) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

func (c *ttlCache[K, T]) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
