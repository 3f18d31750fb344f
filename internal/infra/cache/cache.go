// Package cache provides a simple in-memory TTL cache.
// The ledger uses it for owner-existence lookups.
package cache

import (
	"sync"
	"time"

	"github.com/boddenberg/bank-ledger-go/internal/port"
)

type entry[T any] struct {
	value     T
	expiresAt time.Time
}

// InMemory is a thread-safe in-memory cache with TTL.
type InMemory[T any] struct {
	mu    sync.RWMutex
	items map[string]entry[T]
	ttl   time.Duration

	stop      chan struct{}
	closeOnce sync.Once
}

var _ port.Cache[bool] = (*InMemory[bool])(nil)

// New creates a new in-memory cache with the given TTL and starts its
// cleanup loop. Call Close to stop it.
func New[T any](ttl time.Duration) *InMemory[T] {
	c := &InMemory[T]{
		items: make(map[string]entry[T]),
		ttl:   ttl,
		stop:  make(chan struct{}),
	}
	if ttl > 0 {
		go c.cleanup()
	}
	return c
}

// Get retrieves a value from the cache. Returns false if not found or expired.
func (c *InMemory[T]) Get(key string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.items[key]
	if !ok || time.Now().After(e.expiresAt) {
		var zero T
		return zero, false
	}
	return e.value, true
}

// Set stores a value in the cache with the configured TTL.
func (c *InMemory[T]) Set(key string, value T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[key] = entry[T]{
		value:     value,
		expiresAt: time.Now().Add(c.ttl),
	}
}

// Delete removes a value from the cache.
func (c *InMemory[T]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.items, key)
}

// Len returns the number of stored entries, expired ones included until cleanup runs.
func (c *InMemory[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Close stops the cleanup loop. It is safe to call more than once.
func (c *InMemory[T]) Close() {
	c.closeOnce.Do(func() { close(c.stop) })
}

// cleanup periodically removes expired entries.
func (c *InMemory[T]) cleanup() {
	ticker := time.NewTicker(c.ttl)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.evictExpired()
		}
	}
}

func (c *InMemory[T]) evictExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for k, v := range c.items {
		if now.After(v.expiresAt) {
			delete(c.items, k)
		}
	}
}
