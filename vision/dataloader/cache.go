package dataloader

import (
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/tsawler/go-dsne/metrics"
)

// Cache is an LRU cache of resolved samples keyed by dataset position. It can be
// shared between loaders reading the same dataset. A cache with a non-positive
// size stores nothing and counts every lookup as a miss.
//
// Cached samples are handed out as is; callers must treat them as read-only.
type Cache[S any] struct {
	samples *lru.Cache[int, S]
	maxSize int

	hits   atomic.Int64
	misses atomic.Int64
}

// NewCache creates a cache holding at most maxSize samples
func NewCache[S any](maxSize int) *Cache[S] {
	c := &Cache[S]{maxSize: maxSize}
	if maxSize > 0 {
		// lru.New only fails for a non-positive size
		c.samples, _ = lru.New[int, S](maxSize)
	}
	return c
}

// Get retrieves a sample from the cache
func (c *Cache[S]) Get(position int) (S, bool) {
	if c.samples != nil {
		if sample, ok := c.samples.Get(position); ok {
			c.hits.Add(1)
			metrics.CacheRequests.WithLabelValues("hit").Inc()
			return sample, true
		}
	}

	c.misses.Add(1)
	metrics.CacheRequests.WithLabelValues("miss").Inc()
	var zero S
	return zero, false
}

// Put adds a sample to the cache. A position already cached keeps its sample.
func (c *Cache[S]) Put(position int, sample S) {
	if c.samples == nil {
		return
	}
	c.samples.ContainsOrAdd(position, sample)
}

// Len returns the number of cached samples.
func (c *Cache[S]) Len() int {
	if c.samples == nil {
		return 0
	}
	return c.samples.Len()
}

// Stats returns cache statistics
func (c *Cache[S]) Stats() CacheStats {
	hits, misses := c.hits.Load(), c.misses.Load()
	return CacheStats{
		Size:    c.Len(),
		MaxSize: c.maxSize,
		Hits:    hits,
		Misses:  misses,
		HitRate: hitRate(hits, misses),
	}
}

func hitRate(hits, misses int64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total) * 100
}

// Clear empties the cache. Statistics are cumulative and survive.
func (c *Cache[S]) Clear() {
	if c.samples != nil {
		c.samples.Purge()
	}
}

// ResetStats resets the statistics
func (c *Cache[S]) ResetStats() {
	c.hits.Store(0)
	c.misses.Store(0)
}

// CacheStats holds cache statistics
type CacheStats struct {
	Size    int
	MaxSize int
	Hits    int64
	Misses  int64
	HitRate float64
}

// String returns a string representation of cache stats
func (cs CacheStats) String() string {
	return fmt.Sprintf("Cache: %d/%d items, Hits: %d, Misses: %d, Hit Rate: %.1f%%",
		cs.Size, cs.MaxSize, cs.Hits, cs.Misses, cs.HitRate)
}
