package resume

import (
	"container/list"
	"sync"
)

// DefaultStorageCount is the default number of partial transfers retained.
const DefaultStorageCount = 32

// Storage retains ResumableData per load key between attempts, bounded by
// entry count with least-recently-stored eviction. Safe for concurrent use.
type Storage struct {
	mu      sync.Mutex
	limit   int
	order   *list.List               // front = most recent
	entries map[string]*list.Element // key -> element whose Value is *storageEntry
}

type storageEntry struct {
	key  string
	data *ResumableData
}

// NewStorage creates a storage bounded to limit entries (DefaultStorageCount
// when limit <= 0).
func NewStorage(limit int) *Storage {
	if limit <= 0 {
		limit = DefaultStorageCount
	}
	return &Storage{
		limit:   limit,
		order:   list.New(),
		entries: make(map[string]*list.Element),
	}
}

// Store saves data for key, replacing any previous entry.
func (s *Storage) Store(key string, data *ResumableData) {
	if data == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.entries[key]; ok {
		el.Value.(*storageEntry).data = data
		s.order.MoveToFront(el)
		return
	}

	s.entries[key] = s.order.PushFront(&storageEntry{key: key, data: data})
	for s.order.Len() > s.limit {
		oldest := s.order.Back()
		s.order.Remove(oldest)
		delete(s.entries, oldest.Value.(*storageEntry).key)
	}
}

// Take removes and returns the stored data for key, or nil. Removal on read
// guarantees a stale buffer is never resumed twice.
func (s *Storage) Take(key string) *ResumableData {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.entries[key]
	if !ok {
		return nil
	}
	s.order.Remove(el)
	delete(s.entries, key)
	return el.Value.(*storageEntry).data
}

// Len returns the number of retained entries.
func (s *Storage) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}
