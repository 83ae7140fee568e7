package gateway

import (
	"sync"
	"time"

	"github.com/zen-systems/concierge/pkg/adapter"
)

// CacheEntry is one stored gateway response. Expiry is checked by the
// gateway against its own clock, so stores stay free of time logic.
type CacheEntry struct {
	Key       string        `json:"key"`
	Category  string        `json:"category"`
	Backend   string        `json:"backend"`
	Model     string        `json:"model"`
	Text      string        `json:"text"`
	Usage     adapter.Usage `json:"usage"`
	CreatedAt time.Time     `json:"created_at"`
	ExpiresAt time.Time     `json:"expires_at"`
}

// Cache stores gateway responses by key.
type Cache interface {
	// Get returns the entry for a key, expired or not.
	Get(key string) (*CacheEntry, bool)

	// Put stores an entry under its key.
	Put(entry *CacheEntry) error

	// Delete removes an entry.
	Delete(key string)
}

// MemoryCache is the default in-process cache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]*CacheEntry
}

// NewMemoryCache creates an empty memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]*CacheEntry)}
}

// Get returns the entry for a key.
func (c *MemoryCache) Get(key string) (*CacheEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	cp := *entry
	return &cp, true
}

// Put stores an entry.
func (c *MemoryCache) Put(entry *CacheEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *entry
	c.entries[entry.Key] = &cp
	return nil
}

// Delete removes an entry.
func (c *MemoryCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Len returns the number of stored entries.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
