// Package memory implements the cost-bounded in-memory cache tier.
//
// Entries carry a caller-declared cost (typically the decoded artifact's byte
// size). The cache keeps total cost under CostLimit and entry count under
// CountLimit, evicting least-recently-used entries first; both reads and
// writes count as use.
package memory

import (
	"container/list"
	"sync"

	"github.com/marmos91/pixelpipe/internal/logger"
	"github.com/marmos91/pixelpipe/pkg/cache"
)

// DefaultCostLimit is the default total cost bound (256 MiB).
const DefaultCostLimit = 256 << 20

// DefaultCountLimit is the default entry count bound.
const DefaultCountLimit = 1000

// defaultPressureRatio is the fraction of CostLimit retained after a
// memory-pressure trim.
const defaultPressureRatio = 0.25

// Config holds memory cache configuration.
type Config struct {
	// CostLimit bounds the total resident cost in bytes. 0 = default.
	CostLimit int64

	// CountLimit bounds the number of entries. 0 = default.
	CountLimit int

	// PressureRatio is the fraction of CostLimit kept when the host reports
	// memory pressure. 0 = default (0.25).
	PressureRatio float64
}

type entry[V any] struct {
	key   string
	value V
	cost  int64
}

// Cache is an LRU cache bounded by total cost and entry count.
//
// All operations are serialized under a single mutex; concurrent readers of
// the same key never observe a torn value because values are stored and
// returned whole.
type Cache[V any] struct {
	mu            sync.Mutex
	costLimit     int64
	countLimit    int
	pressureRatio float64
	totalCost     int64
	order         *list.List               // front = most recently used
	entries       map[string]*list.Element // key -> element holding *entry[V]
	metrics       cache.MemoryMetrics
}

// New creates a memory cache. metrics may be nil for zero-overhead operation.
func New[V any](cfg Config, metrics cache.MemoryMetrics) *Cache[V] {
	if cfg.CostLimit <= 0 {
		cfg.CostLimit = DefaultCostLimit
	}
	if cfg.CountLimit <= 0 {
		cfg.CountLimit = DefaultCountLimit
	}
	if cfg.PressureRatio <= 0 || cfg.PressureRatio > 1 {
		cfg.PressureRatio = defaultPressureRatio
	}
	return &Cache[V]{
		costLimit:     cfg.CostLimit,
		countLimit:    cfg.CountLimit,
		pressureRatio: cfg.PressureRatio,
		order:         list.New(),
		entries:       make(map[string]*list.Element),
	}
}

// Get returns the cached value for key, marking the entry as recently used.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		if c.metrics != nil {
			c.metrics.RecordMiss()
		}
		var zero V
		return zero, false
	}

	c.order.MoveToFront(el)
	if c.metrics != nil {
		c.metrics.RecordHit()
	}
	return el.Value.(*entry[V]).value, true
}

// Set inserts or replaces the value for key with the declared cost, then
// evicts LRU entries until both limits hold again.
func (c *Cache[V]) Set(key string, value V, cost int64) {
	if cost < 0 {
		cost = 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		e := el.Value.(*entry[V])
		c.totalCost += cost - e.cost
		e.value = value
		e.cost = cost
		c.order.MoveToFront(el)
	} else {
		c.entries[key] = c.order.PushFront(&entry[V]{key: key, value: value, cost: cost})
		c.totalCost += cost
	}

	c.trimLocked(c.costLimit, c.countLimit)
	c.recordUsageLocked()
}

// Remove deletes the entry for key, if present.
func (c *Cache[V]) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return
	}
	c.removeLocked(el)
	c.recordUsageLocked()
}

// RemoveAll clears the cache.
func (c *Cache[V]) RemoveAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.order.Init()
	c.entries = make(map[string]*list.Element)
	c.totalCost = 0
	c.recordUsageLocked()
}

// Trim evicts LRU entries until total cost is at most toCost.
func (c *Cache[V]) Trim(toCost int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.trimLocked(toCost, c.countLimit)
	c.recordUsageLocked()
}

// TrimToCount evicts LRU entries until at most n remain.
func (c *Cache[V]) TrimToCount(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.trimLocked(c.costLimit, n)
	c.recordUsageLocked()
}

// HandleMemoryPressure is the hook for the host environment's memory
// pressure signal. It trims the cache to PressureRatio of CostLimit.
func (c *Cache[V]) HandleMemoryPressure() {
	target := int64(float64(c.costLimit) * c.pressureRatio)
	logger.Debug("memory cache trimming on pressure signal", "target_cost", target)
	c.Trim(target)
}

// TotalCost returns the current resident cost.
func (c *Cache[V]) TotalCost() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalCost
}

// Len returns the current entry count.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// trimLocked evicts from the LRU tail until cost <= maxCost and
// count <= maxCount. Caller holds c.mu.
func (c *Cache[V]) trimLocked(maxCost int64, maxCount int) {
	evicted := 0
	for (c.totalCost > maxCost || c.order.Len() > maxCount) && c.order.Len() > 0 {
		c.removeLocked(c.order.Back())
		evicted++
	}
	if evicted > 0 && c.metrics != nil {
		c.metrics.RecordEviction(evicted)
	}
}

func (c *Cache[V]) removeLocked(el *list.Element) {
	e := el.Value.(*entry[V])
	c.order.Remove(el)
	delete(c.entries, e.key)
	c.totalCost -= e.cost
}

func (c *Cache[V]) recordUsageLocked() {
	if c.metrics != nil {
		c.metrics.RecordUsage(c.totalCost, c.order.Len())
	}
}
