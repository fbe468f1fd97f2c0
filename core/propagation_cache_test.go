package core

import (
	"errors"
	"sync"
	"testing"
)

// TestCacheComputesOnce verifies that repeated lookups for the same
// quantized distance hit the cache.
func TestCacheComputesOnce(t *testing.T) {
	cache, err := NewPropagationCache(1.0, 16)
	if err != nil {
		t.Fatalf("NewPropagationCache: %v", err)
	}

	calls := 0
	compute := func(d float64) float64 {
		calls++
		return d * 2
	}

	v1, err := cache.Get(100, compute)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	v2, err := cache.Get(100, compute)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if calls != 1 {
		t.Fatalf("compute called %d times, want 1", calls)
	}
	if v1 != 200 || v2 != 200 {
		t.Fatalf("values = %g, %g, want 200", v1, v2)
	}

	hits, misses := cache.Stats()
	if hits != 1 || misses != 1 {
		t.Fatalf("stats = (%d, %d), want (1, 1)", hits, misses)
	}
}

// TestCacheQuantization verifies that distances rounding to the same
// bucket share an entry while neighbours do not.
func TestCacheQuantization(t *testing.T) {
	cache, err := NewPropagationCache(1.0, 16)
	if err != nil {
		t.Fatalf("NewPropagationCache: %v", err)
	}

	calls := 0
	compute := func(d float64) float64 {
		calls++
		return d
	}

	// 39.6 and 40.4 both round to bucket 40; 40.6 rounds to 41.
	if _, err := cache.Get(39.6, compute); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, err := cache.Get(40.4, compute); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if calls != 1 {
		t.Fatalf("same-bucket lookups computed %d times, want 1", calls)
	}
	if _, err := cache.Get(40.6, compute); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if calls != 2 {
		t.Fatalf("next-bucket lookup computed %d times total, want 2", calls)
	}
}

// TestCacheEvictsOldest verifies LRU eviction at capacity.
func TestCacheEvictsOldest(t *testing.T) {
	cache, err := NewPropagationCache(1.0, 2)
	if err != nil {
		t.Fatalf("NewPropagationCache: %v", err)
	}

	calls := map[float64]int{}
	compute := func(d float64) float64 {
		calls[d]++
		return d
	}

	mustGet := func(d float64) {
		t.Helper()
		if _, err := cache.Get(d, compute); err != nil {
			t.Fatalf("Get(%g): %v", d, err)
		}
	}

	mustGet(10)
	mustGet(20)
	mustGet(10) // refresh 10 so 20 is the LRU entry
	mustGet(30) // evicts 20
	if cache.Len() != 2 {
		t.Fatalf("cache length = %d, want 2", cache.Len())
	}

	mustGet(20)
	if calls[20] != 2 {
		t.Fatalf("evicted entry recomputed %d times, want 2", calls[20])
	}
	mustGet(10)
	if calls[10] != 1 {
		t.Fatalf("refreshed entry recomputed %d times, want 1", calls[10])
	}
}

func TestCacheClear(t *testing.T) {
	cache, err := NewPropagationCache(1.0, 4)
	if err != nil {
		t.Fatalf("NewPropagationCache: %v", err)
	}
	if _, err := cache.Get(5, func(d float64) float64 { return d }); err != nil {
		t.Fatalf("Get: %v", err)
	}
	cache.Clear()
	if cache.Len() != 0 {
		t.Fatalf("length after Clear = %d, want 0", cache.Len())
	}
}

func TestCacheRejectsBadInput(t *testing.T) {
	if _, err := NewPropagationCache(0, 16); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("zero resolution error = %v, want ErrInvalidInput", err)
	}
	if _, err := NewPropagationCache(1, 0); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("zero capacity error = %v, want ErrInvalidInput", err)
	}

	cache, err := NewPropagationCache(1, 16)
	if err != nil {
		t.Fatalf("NewPropagationCache: %v", err)
	}
	if _, err := cache.Get(-1, func(d float64) float64 { return d }); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("negative distance error = %v, want ErrInvalidInput", err)
	}
}

// TestCacheConcurrentAccess exercises the cache from many goroutines;
// run under -race this catches lock misuse.
func TestCacheConcurrentAccess(t *testing.T) {
	cache, err := NewPropagationCache(1.0, 32)
	if err != nil {
		t.Fatalf("NewPropagationCache: %v", err)
	}

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 1; i <= 100; i++ {
				d := float64(1 + (g+i)%40)
				if _, err := cache.Get(d, func(d float64) float64 { return d * 3 }); err != nil {
					t.Errorf("Get(%g): %v", d, err)
					return
				}
			}
		}(g)
	}
	wg.Wait()

	if cache.Len() > 32 {
		t.Fatalf("cache length %d exceeds capacity 32", cache.Len())
	}
}
