// Package cache holds the results of remote reads keyed by query name and
// entity id, with explicit staleness marking.
package cache

import (
	"context"
	"sync"
	"time"
)

// Key identifies a cached read. ID is empty for collection queries.
type Key struct {
	Name string
	ID   string
}

func (k Key) String() string {
	if k.ID == "" {
		return k.Name
	}
	return k.Name + "/" + k.ID
}

// FetchFunc performs the remote read for a key.
type FetchFunc func(ctx context.Context) (any, error)

type QueryCache struct {
	mu    sync.RWMutex
	items map[Key]*cacheItem
	// gens counts invalidations per key; a read that started under an
	// older generation must not land as fresh.
	gens map[Key]uint64
	opts *options
}

type cacheItem struct {
	value     any
	fetchedAt time.Time
	stale     bool
}

type options struct {
	staleTime time.Duration
	maxSize   int
	now       func() time.Time
}

type Option func(*options)

// WithStaleTime makes entries stale once they are older than d. Zero keeps
// entries fresh until they are invalidated.
func WithStaleTime(d time.Duration) Option {
	return func(o *options) {
		o.staleTime = d
	}
}

func WithMaxSize(maxSize int) Option {
	return func(o *options) {
		o.maxSize = maxSize
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func New(opts ...Option) *QueryCache {
	o := &options{now: time.Now}
	for _, opt := range opts {
		opt(o)
	}
	return &QueryCache{
		items: make(map[Key]*cacheItem),
		gens:  make(map[Key]uint64),
		opts:  o,
	}
}

// Fetch returns the cached value for key when it is fresh, otherwise runs
// fetch and stores its result. A failed fetch leaves the old entry as is,
// and so does a fetch overtaken by Invalidate.
func (c *QueryCache) Fetch(ctx context.Context, key Key, fetch FetchFunc) (any, error) {
	c.mu.RLock()
	item, found := c.items[key]
	fresh := found && !c.isStaleLocked(item)
	var value any
	if fresh {
		value = item.value
	}
	gen := c.gens[key]
	c.mu.RUnlock()

	if fresh {
		return value, nil
	}

	v, err := fetch(ctx)
	if err != nil {
		return nil, err
	}
	c.SetIfCurrent(key, v, gen)
	return v, nil
}

// Generation returns the invalidation count of key. Capture it before a
// remote read and pass it to SetIfCurrent.
func (c *QueryCache) Generation(key Key) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gens[key]
}

// SetIfCurrent stores value as fresh only if key has not been invalidated
// since gen was read. It reports whether the value was stored.
func (c *QueryCache) SetIfCurrent(key Key, value any, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.gens[key] != gen {
		return false
	}
	c.setLocked(key, value)
	return true
}

// Peek returns the cached value regardless of staleness.
func (c *QueryCache) Peek(key Key) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, found := c.items[key]
	if !found {
		return nil, false
	}
	return item.value, true
}

// Set stores a fresh value for key.
func (c *QueryCache) Set(key Key, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(key, value)
}

func (c *QueryCache) setLocked(key Key, value any) {
	if _, exists := c.items[key]; !exists && c.opts.maxSize > 0 && len(c.items) >= c.opts.maxSize {
		c.evictOldest()
	}

	c.items[key] = &cacheItem{
		value:     value,
		fetchedAt: c.opts.now(),
	}
}

// Update rewrites a cached value in place without changing its freshness.
// It reports false when key is not cached.
func (c *QueryCache) Update(key Key, fn func(old any) any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, found := c.items[key]
	if !found {
		return false
	}
	item.value = fn(item.value)
	return true
}

// Invalidate marks key stale so the next Fetch goes remote, including
// reads already in flight. It does not trigger a fetch and reports whether
// key was cached.
func (c *QueryCache) Invalidate(key Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gens[key]++
	item, found := c.items[key]
	if !found {
		return false
	}
	item.stale = true
	return true
}

// IsStale reports whether the next Fetch of key would go remote.
func (c *QueryCache) IsStale(key Key) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, found := c.items[key]
	if !found {
		return true
	}
	return c.isStaleLocked(item)
}

func (c *QueryCache) Delete(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gens[key]++
	delete(c.items, key)
}

func (c *QueryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.items {
		c.gens[key]++
	}
	c.items = make(map[Key]*cacheItem)
}

func (c *QueryCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Keys returns every cached key, stale or not.
func (c *QueryCache) Keys() []Key {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]Key, 0, len(c.items))
	for k := range c.items {
		keys = append(keys, k)
	}
	return keys
}

func (c *QueryCache) isStaleLocked(item *cacheItem) bool {
	if item.stale {
		return true
	}
	if c.opts.staleTime > 0 && c.opts.now().Sub(item.fetchedAt) > c.opts.staleTime {
		return true
	}
	return false
}

func (c *QueryCache) evictOldest() {
	var oldestKey Key
	var oldestTime time.Time
	found := false

	for key, item := range c.items {
		if !found || item.fetchedAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = item.fetchedAt
			found = true
		}
	}

	if found {
		delete(c.items, oldestKey)
	}
}
