package core

import (
	"fmt"
	"math"
	"sync"
)

// PropagationCache memoizes pure functions of distance, quantized to
// a configurable resolution. Distances that round to the same bucket
// share one cached value, so the expensive path-loss computation runs
// at most once per bucket until eviction or Clear.
//
// The cache is the only part of the simulation core that must be safe
// for concurrent use: cached values may be read from a monitoring
// goroutine while the simulation goroutine populates them. The
// check-and-return and compute-and-insert paths are separate critical
// sections; losing the race costs one duplicate computation, never a
// corrupted entry.
type PropagationCache struct {
	mu         sync.Mutex
	resolution float64
	maxEntries int

	values map[int64]float64
	// order holds bucket keys from least to most recently used.
	order []int64

	hits, misses uint64
}

// NewPropagationCache creates a cache quantizing distances to the
// given resolution in metres, holding at most maxEntries buckets.
func NewPropagationCache(resolution float64, maxEntries int) (*PropagationCache, error) {
	if resolution <= 0 {
		return nil, fmt.Errorf("%w: cache resolution must be positive, got %g", ErrInvalidInput, resolution)
	}
	if maxEntries <= 0 {
		return nil, fmt.Errorf("%w: cache capacity must be positive, got %d", ErrInvalidInput, maxEntries)
	}
	return &PropagationCache{
		resolution: resolution,
		maxEntries: maxEntries,
		values:     make(map[int64]float64),
	}, nil
}

// Get returns the cached value for the distance's quantization bucket,
// invoking compute and inserting its result on a miss.
func (c *PropagationCache) Get(distance float64, compute func(distance float64) float64) (float64, error) {
	if distance <= 0 {
		return 0, fmt.Errorf("%w: distance must be positive, got %g", ErrInvalidInput, distance)
	}
	key := int64(math.Round(distance / c.resolution))

	c.mu.Lock()
	if v, ok := c.values[key]; ok {
		c.hits++
		c.touchLocked(key)
		c.mu.Unlock()
		return v, nil
	}
	c.misses++
	c.mu.Unlock()

	// Computed outside the lock; a racing caller may compute the same
	// bucket once more, which is acceptable.
	v := compute(distance)

	c.mu.Lock()
	if _, ok := c.values[key]; !ok {
		c.values[key] = v
		c.order = append(c.order, key)
		if len(c.values) > c.maxEntries {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.values, oldest)
		}
	}
	c.mu.Unlock()
	return v, nil
}

// touchLocked moves key to the most-recently-used end of the order
// list. Caller holds the lock.
func (c *PropagationCache) touchLocked(key int64) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			c.order = append(c.order, key)
			return
		}
	}
}

// Clear empties the cache without touching resolution or capacity.
func (c *PropagationCache) Clear() {
	c.mu.Lock()
	c.values = make(map[int64]float64)
	c.order = nil
	c.mu.Unlock()
}

// Len returns the number of cached buckets.
func (c *PropagationCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.values)
}

// Stats returns cumulative hit and miss counts.
func (c *PropagationCache) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}
