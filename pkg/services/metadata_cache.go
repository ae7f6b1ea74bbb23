// Package services implements the gateway's business logic: datasource
// lifecycle, schema caching, ad-hoc queries, and the table-data engine.
package services

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sqlbridge-io/sqlbridge/pkg/models"
)

// MetadataCache caches decrypted datasource metadata per (datasource, user)
// so the hot path avoids a store read and a decrypt on every request.
// Entries expire after a TTL; Invalidate and InvalidateAll are called
// synchronously by the datasource service whenever config changes, so a
// caller can never observe stale credentials after an update returns.
type MetadataCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	ttl     time.Duration

	hits      int64
	misses    int64
	evictions int64
}

type cacheEntry struct {
	ds        *models.Datasource
	expiresAt time.Time
}

// NewMetadataCache creates a cache with the given entry TTL.
func NewMetadataCache(ttl time.Duration) *MetadataCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &MetadataCache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
	}
}

func cacheKey(datasourceID uuid.UUID, userID string) string {
	return fmt.Sprintf("%s:%s", datasourceID, userID)
}

// Get returns the cached datasource for this user, or nil on miss.
func (c *MetadataCache) Get(datasourceID uuid.UUID, userID string) *models.Datasource {
	key := cacheKey(datasourceID, userID)

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		c.mu.Lock()
		c.misses++
		c.mu.Unlock()
		return nil
	}

	if time.Now().After(entry.expiresAt) {
		c.mu.Lock()
		// Recheck under the write lock; another goroutine may have
		// refreshed the entry in the meantime.
		if current, still := c.entries[key]; still && time.Now().After(current.expiresAt) {
			delete(c.entries, key)
			c.evictions++
		}
		c.misses++
		c.mu.Unlock()
		return nil
	}

	c.mu.Lock()
	c.hits++
	c.mu.Unlock()
	return entry.ds
}

// Put stores the datasource for this user.
func (c *MetadataCache) Put(datasourceID uuid.UUID, userID string, ds *models.Datasource) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey(datasourceID, userID)] = cacheEntry{
		ds:        ds,
		expiresAt: time.Now().Add(c.ttl),
	}
}

// Invalidate removes one user's entry for a datasource.
func (c *MetadataCache) Invalidate(datasourceID uuid.UUID, userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := cacheKey(datasourceID, userID)
	if _, ok := c.entries[key]; ok {
		delete(c.entries, key)
		c.evictions++
	}
}

// InvalidateAll removes every user's entry for a datasource.
func (c *MetadataCache) InvalidateAll(datasourceID uuid.UUID) {
	prefix := datasourceID.String() + ":"

	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
			c.evictions++
		}
	}
}

// CacheStats is a point-in-time snapshot of cache effectiveness.
type CacheStats struct {
	Entries   int   `json:"entries"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}

// Stats returns hit/miss/eviction counters and the live entry count.
func (c *MetadataCache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return CacheStats{
		Entries:   len(c.entries),
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}
