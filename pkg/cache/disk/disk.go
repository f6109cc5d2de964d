// Package disk implements the persistent cache tier: a key-to-bytes store
// backed by BadgerDB with buffered asynchronous writes.
//
// Writes are staged in memory and committed by a background writer, so the
// pipeline's cache-write side effects never block delivery. Reads consult
// the staging area first, which makes a write immediately visible to a
// subsequent read of the same key. Flush blocks until everything accepted
// before the call is durable.
package disk

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/marmos91/pixelpipe/internal/logger"
	"github.com/marmos91/pixelpipe/pkg/cache"
)

// Configuration defaults.
const (
	// DefaultSizeLimit bounds the on-disk footprint (1 GiB).
	DefaultSizeLimit = 1 << 30

	// defaultFlushInterval is how often staged writes are committed when no
	// explicit Flush arrives.
	defaultFlushInterval = 1 * time.Second

	// defaultSweepInterval is how often the size-limit sweep runs.
	defaultSweepInterval = 30 * time.Second

	// sweepTargetRatio is the fraction of SizeLimit kept after a sweep.
	// Slightly below 1 so the sweep does not retrigger immediately.
	sweepTargetRatio = 0.9

	// headerLen is the per-value header: 8-byte big-endian unix-nano write
	// timestamp, used by the sweep to evict oldest-written entries first.
	headerLen = 8
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("disk cache is closed")

// Config holds disk store configuration.
type Config struct {
	// Path is the BadgerDB directory.
	Path string

	// SizeLimit bounds the total stored payload bytes. 0 = default (1 GiB).
	SizeLimit int64

	// FlushInterval is the background commit cadence. 0 = default (1s).
	FlushInterval time.Duration

	// SweepInterval is the size-sweep cadence. 0 = default (30s).
	SweepInterval time.Duration
}

// staged is a buffered mutation: data == nil means a pending delete.
type staged struct {
	data []byte
}

// Store is the persistent tier. All public methods are safe for concurrent
// use; operations on distinct keys do not serialize beyond the staging map
// lock, and read/write on the same key is linearizable through it.
type Store struct {
	db        *badger.DB
	sizeLimit int64
	metrics   cache.StoreMetrics

	mu         sync.Mutex
	cond       *sync.Cond
	pending    map[string]*staged // accepted, not yet handed to the writer
	committing map[string]*staged // handed to the writer, not yet durable
	closed     bool

	wake chan struct{}
	done chan struct{}
	wg   sync.WaitGroup
}

// Open opens (or creates) the store at cfg.Path and starts the background
// writer and sweep goroutines. metrics may be nil.
func Open(cfg Config, metrics cache.StoreMetrics) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("disk cache path is required")
	}
	if cfg.SizeLimit <= 0 {
		cfg.SizeLimit = DefaultSizeLimit
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}

	opts := badger.DefaultOptions(cfg.Path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", cfg.Path, err)
	}

	s := &Store{
		db:        db,
		sizeLimit: cfg.SizeLimit,
		metrics:   metrics,
		pending:   make(map[string]*staged),
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)

	s.wg.Add(2)
	go s.writeLoop(cfg.FlushInterval)
	go s.sweepLoop(cfg.SweepInterval)

	return s, nil
}

// Data returns the payload stored for key. The staging area is consulted
// first so a SetData is visible to an immediate Data on the same key.
func (s *Store) Data(key string) ([]byte, bool) {
	start := time.Now()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, false
	}
	if w, ok := s.stagedLocked(key); ok {
		s.mu.Unlock()
		if w.data == nil {
			return nil, false // pending delete
		}
		out := make([]byte, len(w.data))
		copy(out, w.data)
		s.observeRead(int64(len(out)), start)
		return out, true
	}
	s.mu.Unlock()

	var payload []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) < headerLen {
				return fmt.Errorf("corrupt cache value for %q", key)
			}
			payload = make([]byte, len(val)-headerLen)
			copy(payload, val[headerLen:])
			return nil
		})
	})
	if err != nil {
		if !errors.Is(err, badger.ErrKeyNotFound) {
			logger.Warn("disk cache read failed", "key", key, "error", err)
		}
		return nil, false
	}

	s.observeRead(int64(len(payload)), start)
	return payload, true
}

// SetData stages a write of data under key. The call returns once the write
// is accepted; durability comes from the background writer (or Flush).
func (s *Store) SetData(key string, data []byte) {
	buf := make([]byte, len(data))
	copy(buf, data)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.pending[key] = &staged{data: buf}
	s.mu.Unlock()

	s.signal()
}

// RemoveData stages a delete of key.
func (s *Store) RemoveData(key string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.pending[key] = &staged{}
	s.mu.Unlock()

	s.signal()
}

// Flush blocks until every write accepted before the call is durable.
func (s *Store) Flush() error {
	start := time.Now()

	s.mu.Lock()
	for !s.closed && (len(s.pending) > 0 || s.committing != nil) {
		s.signal()
		s.cond.Wait()
	}
	closed := s.closed
	s.mu.Unlock()

	if closed {
		return ErrClosed
	}
	if err := s.db.Sync(); err != nil {
		return fmt.Errorf("sync badger: %w", err)
	}
	if s.metrics != nil {
		s.metrics.RecordFlush(time.Since(start))
	}
	return nil
}

// Close flushes outstanding writes and closes the database. Idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()

	close(s.done)
	s.wg.Wait()

	// Commit whatever the writer did not pick up before shutdown.
	s.mu.Lock()
	leftover := s.pending
	s.pending = map[string]*staged{}
	s.mu.Unlock()
	if len(leftover) > 0 {
		if err := s.commit(leftover); err != nil {
			logger.Error("disk cache final commit failed", "error", err)
		}
	}

	return s.db.Close()
}

// stagedLocked looks up key in both staging generations. Caller holds s.mu.
func (s *Store) stagedLocked(key string) (*staged, bool) {
	if w, ok := s.pending[key]; ok {
		return w, true
	}
	if s.committing != nil {
		if w, ok := s.committing[key]; ok {
			return w, true
		}
	}
	return nil, false
}

func (s *Store) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// writeLoop commits staged mutations in batches until Close.
func (s *Store) writeLoop(interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		case <-ticker.C:
		}
		s.commitPending()
	}
}

// commitPending swaps the pending generation out and writes it. The swapped
// map stays visible to readers as s.committing until the commit lands.
func (s *Store) commitPending() {
	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return
	}
	batch := s.pending
	s.pending = make(map[string]*staged)
	s.committing = batch
	s.mu.Unlock()

	if err := s.commit(batch); err != nil {
		// Cache persistence is a side effect: losing it is logged, never
		// surfaced to subscribers.
		logger.Error("disk cache commit failed", "entries", len(batch), "error", err)
	}

	s.mu.Lock()
	s.committing = nil
	s.cond.Broadcast()
	s.mu.Unlock()
}

// commit writes one batch to badger.
func (s *Store) commit(batch map[string]*staged) error {
	start := time.Now()
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	var written int64
	now := time.Now().UnixNano()
	for key, w := range batch {
		if w.data == nil {
			if err := wb.Delete([]byte(key)); err != nil {
				return fmt.Errorf("batch delete %q: %w", key, err)
			}
			continue
		}
		val := make([]byte, headerLen+len(w.data))
		binary.BigEndian.PutUint64(val, uint64(now))
		copy(val[headerLen:], w.data)
		if err := wb.Set([]byte(key), val); err != nil {
			return fmt.Errorf("batch set %q: %w", key, err)
		}
		written += int64(len(w.data))
	}

	if err := wb.Flush(); err != nil {
		return fmt.Errorf("flush write batch: %w", err)
	}
	if s.metrics != nil && written > 0 {
		s.metrics.ObserveWrite(written, time.Since(start))
	}
	return nil
}

// sweepLoop periodically evicts oldest-written entries once the stored
// payload exceeds the size limit.
func (s *Store) sweepLoop(interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.sweep(); err != nil {
				logger.Warn("disk cache sweep failed", "error", err)
			}
		}
	}
}

type sweepCandidate struct {
	key       string
	size      int64
	writtenAt int64
}

// sweep scans the store and deletes oldest-written entries until total
// payload size drops to sweepTargetRatio of the limit.
func (s *Store) sweep() error {
	var candidates []sweepCandidate
	var total int64

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			size := item.ValueSize() - headerLen
			if size < 0 {
				size = 0
			}
			var writtenAt int64
			err := item.Value(func(val []byte) error {
				if len(val) >= headerLen {
					writtenAt = int64(binary.BigEndian.Uint64(val))
				}
				return nil
			})
			if err != nil {
				return err
			}
			candidates = append(candidates, sweepCandidate{
				key:       string(item.KeyCopy(nil)),
				size:      size,
				writtenAt: writtenAt,
			})
			total += size
		}
		return nil
	})
	if err != nil {
		return err
	}

	if total <= s.sizeLimit {
		return nil
	}
	target := int64(float64(s.sizeLimit) * sweepTargetRatio)

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].writtenAt < candidates[j].writtenAt
	})

	removed := 0
	var freed int64
	for _, c := range candidates {
		if total <= target {
			break
		}
		if err := s.db.Update(func(txn *badger.Txn) error {
			return txn.Delete([]byte(c.key))
		}); err != nil {
			return err
		}
		total -= c.size
		freed += c.size
		removed++
	}

	logger.Info("disk cache sweep evicted entries", "removed", removed, "bytes_freed", freed)
	if s.metrics != nil {
		s.metrics.RecordSweep(removed, freed)
	}
	return nil
}

func (s *Store) observeRead(bytes int64, start time.Time) {
	if s.metrics != nil {
		s.metrics.ObserveRead(bytes, time.Since(start))
	}
}
