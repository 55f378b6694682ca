// Package cache provides the response cache used for similarity lookups.
package cache

import (
	"strings"
	"sync"
	"time"
)

// DefaultTTL is the lifetime of a cached response unless configured otherwise.
const DefaultTTL = 24 * time.Hour

// Key builds the normalized composite cache key for a lookup mode and its parts.
// Parts are trimmed and case-folded so "Muse" and " MUSE" share an entry.
func Key(mode string, parts ...string) string {
	normalized := make([]string, 0, len(parts)+1)
	normalized = append(normalized, strings.ToLower(strings.TrimSpace(mode)))
	for _, p := range parts {
		normalized = append(normalized, strings.ToLower(strings.TrimSpace(p)))
	}
	return strings.Join(normalized, "|")
}

type entry[V any] struct {
	value    V
	storedAt time.Time
}

// TTL is an in-memory cache whose entries expire after a fixed lifetime.
// It is safe for concurrent use.
type TTL[V any] struct {
	ttl     time.Duration
	mu      sync.RWMutex
	entries map[string]entry[V]
	now     func() time.Time
}

// NewTTL creates a TTL cache. A non-positive ttl selects DefaultTTL.
func NewTTL[V any](ttl time.Duration) *TTL[V] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &TTL[V]{
		ttl:     ttl,
		entries: make(map[string]entry[V]),
		now:     time.Now,
	}
}

// SetClock replaces the time source.
func (c *TTL[V]) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Get returns the cached value for key if it is younger than the TTL.
func (c *TTL[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	now := c.now()
	c.mu.RUnlock()

	if !ok || now.Sub(e.storedAt) >= c.ttl {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Put stores value under key.
func (c *TTL[V]) Put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry[V]{value: value, storedAt: c.now()}
}

// InvalidateAll drops every entry.
func (c *TTL[V]) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry[V])
}

// Len returns the number of stored entries, expired ones included.
func (c *TTL[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
