package gateway

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// DiskCache persists entries as JSON files sharded by the first two key
// characters, so CLI invocations share cached responses across processes.
type DiskCache struct {
	basePath string
}

// NewDiskCache creates a cache rooted at basePath.
func NewDiskCache(basePath string) (*DiskCache, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, err
	}
	return &DiskCache{basePath: basePath}, nil
}

// Get reads the entry for a key.
func (c *DiskCache) Get(key string) (*CacheEntry, bool) {
	data, err := os.ReadFile(c.entryPath(key))
	if err != nil {
		return nil, false
	}

	var entry CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		// Unreadable entries are dropped rather than surfaced.
		_ = os.Remove(c.entryPath(key))
		return nil, false
	}
	return &entry, true
}

// Put writes the entry to its sharded path.
func (c *DiskCache) Put(entry *CacheEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	path := c.entryPath(entry.Key)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Delete removes the entry for a key.
func (c *DiskCache) Delete(key string) {
	_ = os.Remove(c.entryPath(key))
}

func (c *DiskCache) entryPath(key string) string {
	shard := "00"
	if len(key) >= 2 {
		shard = key[:2]
	}
	return filepath.Join(c.basePath, shard, key+".json")
}
