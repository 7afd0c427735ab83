// Package cache holds content samples read from the asset store so that
// several collectors inspecting the same asset share one range read.
// It uses patrickmn/go-cache for TTL-based expiry.
package cache

import (
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Cache is a TTL cache of byte samples keyed by object key and etag.
type Cache struct {
	store  *gocache.Cache
	hits   atomic.Int64
	misses atomic.Int64
}

// New creates a new cache with the given TTL and cleanup interval.
func New(defaultTTL, cleanupInterval time.Duration) *Cache {
	return &Cache{
		store: gocache.New(defaultTTL, cleanupInterval),
	}
}

// Key builds the cache key for an object version.
func Key(objectKey, etag string) string {
	return objectKey + "@" + etag
}

// Get retrieves a sample from the cache.
func (c *Cache) Get(key string) ([]byte, bool) {
	v, ok := c.store.Get(key)
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	b, ok := v.([]byte)
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return b, true
}

// Set stores a sample with the default TTL.
func (c *Cache) Set(key string, sample []byte) {
	c.store.Set(key, sample, gocache.DefaultExpiration)
}

// SetWithTTL stores a sample with a custom TTL.
func (c *Cache) SetWithTTL(key string, sample []byte, ttl time.Duration) {
	c.store.Set(key, sample, ttl)
}

// Delete removes a sample from the cache.
func (c *Cache) Delete(key string) {
	c.store.Delete(key)
}

// Clear removes all items from the cache.
func (c *Cache) Clear() {
	c.store.Flush()
}

// ItemCount returns the number of items in the cache.
func (c *Cache) ItemCount() int {
	return c.store.ItemCount()
}

// Stats holds cache statistics.
type Stats struct {
	ItemCount int   `json:"item_count"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
}

// GetStats returns current cache statistics.
func (c *Cache) GetStats() Stats {
	return Stats{
		ItemCount: c.store.ItemCount(),
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
	}
}
