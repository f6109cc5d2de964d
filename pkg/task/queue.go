package task

import (
	"container/heap"
	"sync"
)

// Queue is a bounded-concurrency worker pool ordered by priority. Each
// pipeline stage owns one Queue so CPU-bound stages never starve I/O-bound
// ones. Queued items keep a stable handle whose priority can be updated in
// place, which is how a node's aggregate priority reaches the execution
// primitive currently backing it.
type Queue struct {
	mu      sync.Mutex
	limit   int
	running int
	items   itemHeap
	seq     uint64
}

// Item is a handle to queued (or already dispatched) work.
type Item struct {
	fn       func()
	priority Priority
	seq      uint64
	index    int // heap index; -1 once dispatched
}

// NewQueue creates a queue running at most limit items concurrently.
func NewQueue(limit int) *Queue {
	if limit <= 0 {
		limit = 1
	}
	return &Queue{limit: limit}
}

// Add enqueues fn at the given priority and returns its handle. Dispatch is
// by priority, FIFO within a priority level.
func (q *Queue) Add(p Priority, fn func()) *Item {
	q.mu.Lock()
	it := &Item{fn: fn, priority: p, seq: q.seq, index: -1}
	q.seq++
	heap.Push(&q.items, it)
	q.dispatchLocked()
	q.mu.Unlock()
	return it
}

// SetPriority changes the priority of a queued item. A no-op for items
// already dispatched.
func (q *Queue) SetPriority(it *Item, p Priority) {
	if it == nil {
		return
	}
	q.mu.Lock()
	if it.priority != p {
		it.priority = p
		if it.index >= 0 {
			heap.Fix(&q.items, it.index)
		}
	}
	q.mu.Unlock()
}

// Len returns the number of items waiting for a worker.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// Running returns the number of items currently executing.
func (q *Queue) Running() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

// dispatchLocked starts queued items while worker slots are free.
// Caller holds q.mu.
func (q *Queue) dispatchLocked() {
	for q.running < q.limit && q.items.Len() > 0 {
		it := heap.Pop(&q.items).(*Item)
		q.running++
		go q.work(it)
	}
}

func (q *Queue) work(it *Item) {
	it.fn()

	q.mu.Lock()
	q.running--
	q.dispatchLocked()
	q.mu.Unlock()
}

// itemHeap orders by priority (highest first), then FIFO.
type itemHeap []*Item

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h itemHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *itemHeap) Push(x any) {
	it := x.(*Item)
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}
