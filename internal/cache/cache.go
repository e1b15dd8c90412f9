// Package cache provides the fingerprint-keyed response cache used by the
// worker pool. The default backend is an in-process LRU with TTL expiry;
// a Redis backend can be selected by configuration.
package cache

import "inferd/pkg/types"

// Store is the response-cache contract consumed by the serving core.
type Store interface {
	// Get returns the cached result for key. Expired entries are purged and
	// reported as a miss. A hit refreshes recency order.
	Get(key string) (types.GenerateResult, bool)
	// Put inserts or replaces the result for key.
	Put(key string, res types.GenerateResult)
	// Invalidate removes one entry.
	Invalidate(key string)
	// Clear removes all entries and resets counters.
	Clear()
	// SweepExpired removes all entries older than the TTL and returns how
	// many were removed. Safe to call concurrently with reads and writes.
	SweepExpired() int
	// Stats reports counters for the status surface.
	Stats() types.CacheStats
}

func hitRate(hits, misses uint64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}
