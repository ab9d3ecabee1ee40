// Package cache provides the process-local TTL caches of the smart alerts
// subsystem: models and baselines per (device, metric) and device topology.
//
// Entries expire after a fixed TTL and can be invalidated explicitly, e.g.
// after a retrain. Absent values may be cached too so that a (device, metric)
// pair without a model does not hit the database on every sample.
package cache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/saashqdev/ops-center-sub002/internal/metrics"
)

// DefaultSize bounds the number of entries when no size is given.
const DefaultSize = 10000

// TTL is a size-bounded LRU whose entries expire after a fixed duration.
// Safe for concurrent use.
type TTL[V any] struct {
	name string
	lru  *expirable.LRU[string, V]
}

// New returns a cache reporting hit/miss metrics under name. size <= 0 uses
// DefaultSize; ttl <= 0 disables expiry.
func New[V any](name string, size int, ttl time.Duration) *TTL[V] {
	if size <= 0 {
		size = DefaultSize
	}
	return &TTL[V]{
		name: name,
		lru:  expirable.NewLRU[string, V](size, nil, ttl),
	}
}

// Get returns the cached value and whether it was present and fresh.
func (c *TTL[V]) Get(key string) (V, bool) {
	v, ok := c.lru.Get(key)
	if ok {
		metrics.CacheHitsTotal.WithLabelValues(c.name).Inc()
	} else {
		metrics.CacheMissesTotal.WithLabelValues(c.name).Inc()
	}
	return v, ok
}

// Set stores v under key, resetting its TTL.
func (c *TTL[V]) Set(key string, v V) {
	c.lru.Add(key, v)
}

// Invalidate drops key. It reports whether an entry was present.
func (c *TTL[V]) Invalidate(key string) bool {
	return c.lru.Remove(key)
}

// Purge drops every entry.
func (c *TTL[V]) Purge() {
	c.lru.Purge()
}

// Len returns the number of entries, including ones not yet reaped.
func (c *TTL[V]) Len() int {
	return c.lru.Len()
}
