// Package hostcache implements the Gateway's ContainerHostCache (spec §4.2):
// a bounded, TTL-scoped map from function name to warm worker address.
// Structurally grounded on the teacher's dataplane.ConnPool (map + RWMutex,
// double-checked locking on insert), adapted to carry an expiry instead of
// a live connection.
package hostcache

import (
	"sync"
	"time"
)

type entry struct {
	address   string
	expiresAt time.Time
}

// Cache is safe for concurrent readers with infrequent writers.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	ttl     time.Duration
	now     func() time.Time
}

// New builds a Cache with the given TTL (spec default: CONTAINER_CACHE_TTL,
// 30s).
func New(ttl time.Duration) *Cache {
	return &Cache{
		entries: make(map[string]entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the cached address for name, only if it has not expired
// (invariant: Get never returns an address whose expiresAt <= now).
func (c *Cache) Get(name string) (string, bool) {
	c.mu.RLock()
	e, ok := c.entries[name]
	c.mu.RUnlock()
	if !ok {
		return "", false
	}
	if !c.now().Before(e.expiresAt) {
		return "", false
	}
	return e.address, true
}

// Put records addr as the warm address for name, resetting its TTL.
func (c *Cache) Put(name, addr string) {
	c.mu.Lock()
	c.entries[name] = entry{address: addr, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

// Invalidate removes name's entry, e.g. on observed failure against its
// address or when the Orchestrator reports the container gone.
func (c *Cache) Invalidate(name string) {
	c.mu.Lock()
	delete(c.entries, name)
	c.mu.Unlock()
}
