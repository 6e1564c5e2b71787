// Package cache provides a read-through key/value cache with per-entry TTL,
// a background sweep, and single-flight miss coalescing. Each worker process
// owns its own instances; nothing here is shared across processes.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"
)

var (
	hitsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "licenseserver_cache_hits_total",
		Help: "Cache lookups served from memory.",
	}, []string{"cache"})

	missesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "licenseserver_cache_misses_total",
		Help: "Cache lookups that invoked the loader.",
	}, []string{"cache"})
)

func init() {
	prometheus.MustRegister(hitsTotal, missesTotal)
}

type entry[V any] struct {
	value    V
	storedAt time.Time
}

// Cache maps string keys to values of type V. A value older than the TTL is
// treated as absent and removed by the sweeper.
type Cache[V any] struct {
	name string
	ttl  time.Duration

	mu      sync.RWMutex
	entries map[string]entry[V]

	group singleflight.Group
	stop  chan struct{}
	once  sync.Once
}

// New creates a cache and starts its sweep goroutine. Call Stop when done.
func New[V any](name string, ttl, sweepInterval time.Duration) *Cache[V] {
	c := &Cache[V]{
		name:    name,
		ttl:     ttl,
		entries: make(map[string]entry[V]),
		stop:    make(chan struct{}),
	}
	go c.sweep(sweepInterval)
	return c
}

// Get returns the cached value for key, invoking load on a miss. Concurrent
// callers for the same missing key share a single load; its result is
// delivered to all of them. Load errors are never cached, so a failed load
// can be retried immediately.
func (c *Cache[V]) Get(ctx context.Context, key string, load func(ctx context.Context) (V, error)) (V, error) {
	if v, ok := c.lookup(key); ok {
		hitsTotal.WithLabelValues(c.name).Inc()
		return v, nil
	}

	missesTotal.WithLabelValues(c.name).Inc()
	res, err, _ := c.group.Do(key, func() (any, error) {
		// Re-check under the flight: another caller may have just stored it.
		if v, ok := c.lookup(key); ok {
			return v, nil
		}
		v, err := load(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[key] = entry[V]{value: v, storedAt: time.Now()}
		c.mu.Unlock()
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return res.(V), nil
}

// Delete removes an entry.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Len returns the number of live entries.
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stop terminates the sweep goroutine.
func (c *Cache[V]) Stop() {
	c.once.Do(func() { close(c.stop) })
}

func (c *Cache[V]) lookup(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || time.Since(e.storedAt) >= c.ttl {
		var zero V
		return zero, false
	}
	return e.value, true
}

func (c *Cache[V]) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-c.ttl)
			c.mu.Lock()
			for k, e := range c.entries {
				if e.storedAt.Before(cutoff) {
					delete(c.entries, k)
				}
			}
			c.mu.Unlock()
		}
	}
}
