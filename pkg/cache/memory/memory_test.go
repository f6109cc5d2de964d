package memory

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(costLimit int64, countLimit int) *Cache[string] {
	return New[string](Config{CostLimit: costLimit, CountLimit: countLimit}, nil)
}

func TestGetSet(t *testing.T) {
	c := newTestCache(100, 10)

	c.Set("a", "alpha", 10)
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, "alpha", v)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestSetReplacesAndAdjustsCost(t *testing.T) {
	c := newTestCache(100, 10)

	c.Set("a", "v1", 10)
	c.Set("a", "v2", 30)

	assert.Equal(t, int64(30), c.TotalCost())
	assert.Equal(t, 1, c.Len())

	v, _ := c.Get("a")
	assert.Equal(t, "v2", v)
}

func TestCostLimitEvictsLRU(t *testing.T) {
	c := newTestCache(30, 10)

	c.Set("a", "a", 10)
	c.Set("b", "b", 10)
	c.Set("c", "c", 10)

	// Read "a" so "b" becomes least recently used.
	_, ok := c.Get("a")
	require.True(t, ok)

	c.Set("d", "d", 10)

	_, ok = c.Get("b")
	assert.False(t, ok, "least recently used entry must be evicted first")
	for _, k := range []string{"a", "c", "d"} {
		_, ok := c.Get(k)
		assert.True(t, ok, "entry %q should survive", k)
	}
	assert.LessOrEqual(t, c.TotalCost(), int64(30))
}

func TestCountLimit(t *testing.T) {
	c := newTestCache(1000, 3)

	for i := 0; i < 5; i++ {
		c.Set(fmt.Sprintf("k%d", i), "v", 1)
	}
	assert.Equal(t, 3, c.Len())

	// Oldest two evicted.
	_, ok := c.Get("k0")
	assert.False(t, ok)
	_, ok = c.Get("k4")
	assert.True(t, ok)
}

func TestOversizedEntryIsDroppedImmediately(t *testing.T) {
	c := newTestCache(10, 10)

	c.Set("big", "big", 50)
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, int64(0), c.TotalCost())
}

func TestTrim(t *testing.T) {
	c := newTestCache(100, 10)
	for i := 0; i < 5; i++ {
		c.Set(fmt.Sprintf("k%d", i), "v", 10)
	}

	c.Trim(20)
	assert.LessOrEqual(t, c.TotalCost(), int64(20))
	assert.Equal(t, 2, c.Len())

	// Most recent entries survive.
	_, ok := c.Get("k4")
	assert.True(t, ok)
	_, ok = c.Get("k3")
	assert.True(t, ok)
}

func TestTrimToCount(t *testing.T) {
	c := newTestCache(100, 10)
	for i := 0; i < 5; i++ {
		c.Set(fmt.Sprintf("k%d", i), "v", 10)
	}

	c.TrimToCount(1)
	assert.Equal(t, 1, c.Len())
	_, ok := c.Get("k4")
	assert.True(t, ok)
}

func TestRemoveAll(t *testing.T) {
	c := newTestCache(100, 10)
	c.Set("a", "a", 10)
	c.Set("b", "b", 10)

	c.RemoveAll()
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, int64(0), c.TotalCost())
	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestHandleMemoryPressure(t *testing.T) {
	c := New[string](Config{CostLimit: 100, CountLimit: 100, PressureRatio: 0.25}, nil)
	for i := 0; i < 10; i++ {
		c.Set(fmt.Sprintf("k%d", i), "v", 10)
	}

	c.HandleMemoryPressure()
	assert.LessOrEqual(t, c.TotalCost(), int64(25))
}

func TestConcurrentAccess(t *testing.T) {
	c := newTestCache(1000, 100)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("k%d", i%20)
				if i%3 == 0 {
					c.Set(key, fmt.Sprintf("v%d-%d", g, i), 5)
				} else {
					c.Get(key)
				}
			}
		}(g)
	}
	wg.Wait()

	assert.LessOrEqual(t, c.TotalCost(), int64(1000))
	assert.LessOrEqual(t, c.Len(), 100)
}
