// Package cache defines the shared contracts for the two cache tiers: the
// cost-bounded in-memory artifact cache and the persistent key-value byte
// store. Concrete implementations live in the memory and disk subpackages.
package cache

import "time"

// Key namespace prefixes for the disk tier. Original (unprocessed) bytes are
// keyed by load key, processed bytes by cache key; disjoint prefixes
// guarantee the namespaces never collide.
const (
	OriginalPrefix  = "o/"
	ProcessedPrefix = "p/"
)

// MemoryMetrics collects metrics for the in-memory tier. Implementations
// must be safe for concurrent use. A nil MemoryMetrics means no collection
// with zero overhead.
type MemoryMetrics interface {
	RecordHit()
	RecordMiss()
	RecordEviction(count int)
	RecordUsage(totalCost int64, count int)
}

// StoreMetrics collects metrics for the persistent tier. A nil StoreMetrics
// means no collection with zero overhead.
type StoreMetrics interface {
	ObserveRead(bytes int64, d time.Duration)
	ObserveWrite(bytes int64, d time.Duration)
	RecordFlush(d time.Duration)
	RecordSweep(removed int, bytesFreed int64)
}
