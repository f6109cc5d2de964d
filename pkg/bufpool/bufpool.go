// Package bufpool pools byte slices used as streaming read chunks, cutting
// per-read allocations on hot download paths.
//
// Two size classes are pooled: chunk-sized buffers for body reads and large
// buffers for bulk copies. Requests above the large class are allocated
// directly so oversized buffers never linger in the pool.
package bufpool

import "sync"

const (
	// DefaultChunkSize is the read granularity for streaming bodies (64KB).
	DefaultChunkSize = 64 << 10

	// DefaultLargeSize is the upper bound for pooled buffers (1MB).
	DefaultLargeSize = 1 << 20
)

// Pool manages byte slices organized by size class. Safe for concurrent use.
type Pool struct {
	chunk     sync.Pool
	large     sync.Pool
	chunkSize int
	largeSize int
}

// NewPool creates a pool with the given size classes. Non-positive sizes
// fall back to the defaults.
func NewPool(chunkSize, largeSize int) *Pool {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if largeSize <= chunkSize {
		largeSize = DefaultLargeSize
	}
	p := &Pool{chunkSize: chunkSize, largeSize: largeSize}
	p.chunk.New = func() any {
		buf := make([]byte, chunkSize)
		return &buf
	}
	p.large.New = func() any {
		buf := make([]byte, largeSize)
		return &buf
	}
	return p
}

// Get returns a buffer of exactly size bytes. Buffers within a pooled size
// class are reused; anything larger is allocated fresh.
func (p *Pool) Get(size int) []byte {
	switch {
	case size <= p.chunkSize:
		buf := p.chunk.Get().(*[]byte)
		return (*buf)[:size]
	case size <= p.largeSize:
		buf := p.large.Get().(*[]byte)
		return (*buf)[:size]
	default:
		return make([]byte, size)
	}
}

// Put returns a buffer obtained from Get to its pool. Buffers that do not
// match a pooled size class are dropped for the GC to reclaim.
func (p *Pool) Put(buf []byte) {
	full := buf[:cap(buf)]
	switch cap(buf) {
	case p.chunkSize:
		p.chunk.Put(&full)
	case p.largeSize:
		p.large.Put(&full)
	}
}

var defaultPool = NewPool(DefaultChunkSize, DefaultLargeSize)

// Get returns a buffer from the default pool.
func Get(size int) []byte { return defaultPool.Get(size) }

// Put returns a buffer to the default pool.
func Put(buf []byte) { defaultPool.Put(buf) }
