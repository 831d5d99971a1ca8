// Package cache is a small in-process TTL cache with single-flight loading.
package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

type Options struct {
	TTL time.Duration
	// NegativeTTL caches loader errors for this long. Zero disables it.
	NegativeTTL time.Duration
	// MaxEntries bounds the cache; the oldest key is evicted first. Zero is unbounded.
	MaxEntries int
}

// Hooks are optional callbacks for metrics.
type Hooks struct {
	OnHit  func(key string)
	OnMiss func(key string)
}

type entry[V any] struct {
	value     V
	err       error
	expiresAt time.Time
}

// Cache maps string keys to values of type V. Safe for concurrent use.
type Cache[V any] struct {
	mu    sync.RWMutex
	items map[string]*entry[V]
	order []string
	opts  Options
	hooks Hooks
	sf    singleflight.Group
	now   func() time.Time
}

func New[V any](opts Options, hooks Hooks) *Cache[V] {
	return &Cache[V]{
		items: make(map[string]*entry[V]),
		opts:  opts,
		hooks: hooks,
		now:   time.Now,
	}
}

// Loader produces the value for a key on a miss.
type Loader[V any] func(ctx context.Context) (V, error)

// Get returns the cached value for key, calling load on a miss. Concurrent
// misses for the same key share one load.
func (c *Cache[V]) Get(ctx context.Context, key string, load Loader[V]) (V, error) {
	c.mu.RLock()
	e, ok := c.items[key]
	c.mu.RUnlock()
	if ok && c.now().Before(e.expiresAt) {
		if c.hooks.OnHit != nil {
			c.hooks.OnHit(key)
		}
		return e.value, e.err
	}

	if c.hooks.OnMiss != nil {
		c.hooks.OnMiss(key)
	}
	res, err, _ := c.sf.Do(key, func() (any, error) {
		v, err := load(ctx)
		c.store(key, v, err)
		return v, err
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return res.(V), nil
}

func (c *Cache[V]) store(key string, v V, err error) {
	ttl := c.opts.TTL
	if err != nil {
		if c.opts.NegativeTTL <= 0 {
			return
		}
		ttl = c.opts.NegativeTTL
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.items[key]; !exists {
		c.order = append(c.order, key)
	}
	c.items[key] = &entry[V]{value: v, err: err, expiresAt: c.now().Add(ttl)}
	c.evictIfNeeded()
}

func (c *Cache[V]) evictIfNeeded() {
	if c.opts.MaxEntries <= 0 {
		return
	}
	for len(c.items) > c.opts.MaxEntries && len(c.order) > 0 {
		victim := c.order[0]
		c.order = c.order[1:]
		delete(c.items, victim)
	}
}

// Peek returns a live cached value without loading.
func (c *Cache[V]) Peek(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.items[key]
	if !ok || e.err != nil || !c.now().Before(e.expiresAt) {
		var zero V
		return zero, false
	}
	return e.value, true
}

func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

// Purge drops every entry.
func (c *Cache[V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*entry[V])
	c.order = nil
}

func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
