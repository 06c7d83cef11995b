package bridge

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Cache memoises the result of an expensive load for up to ttl. A zero ttl
// keeps the value until Invalidate or Refresh is called. Concurrent loads are
// collapsed into one.
type Cache[T any] struct {
	ttl  time.Duration
	load func(ctx context.Context) (T, error)
	now  func() time.Time

	mu       sync.RWMutex
	value    T
	loadedAt time.Time
	valid    bool
	group    singleflight.Group
}

// NewCache creates a Cache around load
func NewCache[T any](ttl time.Duration, load func(ctx context.Context) (T, error)) *Cache[T] {
	return &Cache[T]{
		ttl:  ttl,
		load: load,
		now:  time.Now,
	}
}

// Get returns the cached value, loading it when missing or stale
func (c *Cache[T]) Get(ctx context.Context) (T, error) {
	c.mu.RLock()
	if c.valid && (c.ttl == 0 || c.now().Sub(c.loadedAt) < c.ttl) {
		v := c.value
		c.mu.RUnlock()
		return v, nil
	}
	c.mu.RUnlock()
	return c.Refresh(ctx)
}

// Refresh loads the value unconditionally and stores it
func (c *Cache[T]) Refresh(ctx context.Context) (T, error) {
	res, err, _ := c.group.Do("load", func() (interface{}, error) {
		v, err := c.load(ctx)
		if err != nil {
			return v, err
		}
		c.mu.Lock()
		c.value = v
		c.loadedAt = c.now()
		c.valid = true
		c.mu.Unlock()
		return v, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	v, _ := res.(T)
	return v, nil
}

// Invalidate drops the cached value, the next Get loads it again
func (c *Cache[T]) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	var zero T
	c.value = zero
	c.valid = false
}
