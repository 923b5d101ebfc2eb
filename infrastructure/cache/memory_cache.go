package cache

import (
	"context"
	"sync"
	"time"

	"communitysync/application/ports"
)

// EvictFunc is called, outside the cache lock, for every entry removed by
// expiry or by Delete.
type EvictFunc func(key string, value interface{})

// InMemoryCache provides a simple in-memory cache implementation
type InMemoryCache struct {
	mu      sync.RWMutex
	items   map[string]cacheItem
	onEvict EvictFunc
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once
}

type cacheItem struct {
	value     interface{}
	expiresAt time.Time
}

var _ ports.Cache = (*InMemoryCache)(nil)

// NewInMemoryCache creates a cache that sweeps expired entries every
// cleanupInterval until Close is called.
func NewInMemoryCache(cleanupInterval time.Duration, onEvict EvictFunc) *InMemoryCache {
	c := &InMemoryCache{
		items:   make(map[string]cacheItem),
		onEvict: onEvict,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	if cleanupInterval > 0 {
		go c.cleanupLoop(cleanupInterval)
	}
	return c
}

// Get retrieves a value from cache
func (c *InMemoryCache) Get(ctx context.Context, key string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, exists := c.items[key]
	if !exists || c.now().After(item.expiresAt) {
		return nil, false
	}
	return item.value, true
}

// Set stores a value in cache with TTL in seconds
func (c *InMemoryCache) Set(ctx context.Context, key string, value interface{}, ttl int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[key] = cacheItem{
		value:     value,
		expiresAt: c.now().Add(time.Duration(ttl) * time.Second),
	}
	return nil
}

// Delete removes a value from cache
func (c *InMemoryCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	item, exists := c.items[key]
	delete(c.items, key)
	c.mu.Unlock()

	if exists && c.onEvict != nil {
		c.onEvict(key, item.value)
	}
	return nil
}

// Clear removes all values from cache without eviction callbacks
func (c *InMemoryCache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]cacheItem)
	return nil
}

// Len counts entries, expired ones not yet swept included
func (c *InMemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Close stops the cleanup goroutine
func (c *InMemoryCache) Close() {
	c.once.Do(func() { close(c.stop) })
}

// Sweep removes expired entries now
func (c *InMemoryCache) Sweep() {
	type evicted struct {
		key   string
		value interface{}
	}
	var removed []evicted

	c.mu.Lock()
	now := c.now()
	for key, item := range c.items {
		if now.After(item.expiresAt) {
			delete(c.items, key)
			removed = append(removed, evicted{key, item.value})
		}
	}
	c.mu.Unlock()

	if c.onEvict != nil {
		for _, e := range removed {
			c.onEvict(e.key, e.value)
		}
	}
}

func (c *InMemoryCache) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Sweep()
		case <-c.stop:
			return
		}
	}
}
