package task

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueRespectsConcurrencyLimit(t *testing.T) {
	q := NewQueue(2)

	var active, peak atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		q.Add(PriorityNormal, func() {
			defer wg.Done()
			n := active.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			active.Add(-1)
		})
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestQueueDispatchesByPriority(t *testing.T) {
	q := NewQueue(1)

	var mu sync.Mutex
	var order []string
	record := func(name string) func() {
		return func() {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		}
	}

	// Block the single worker so the rest queue up.
	gate := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	q.Add(PriorityNormal, func() { <-gate; wg.Done() })

	q.Add(PriorityLow, record("low"))
	q.Add(PriorityVeryHigh, record("very_high"))
	q.Add(PriorityNormal, record("normal"))
	close(gate)
	wg.Wait()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 3
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"very_high", "normal", "low"}, order)
}

func TestQueueFIFOWithinPriority(t *testing.T) {
	q := NewQueue(1)

	var mu sync.Mutex
	var order []int

	gate := make(chan struct{})
	q.Add(PriorityNormal, func() { <-gate })

	for i := 0; i < 5; i++ {
		i := i
		q.Add(PriorityNormal, func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}
	close(gate)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 5
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestQueueSetPriorityReordersQueuedItem(t *testing.T) {
	q := NewQueue(1)

	var mu sync.Mutex
	var order []string

	gate := make(chan struct{})
	q.Add(PriorityNormal, func() { <-gate })

	q.Add(PriorityHigh, func() {
		mu.Lock()
		order = append(order, "first")
		mu.Unlock()
	})
	promoted := q.Add(PriorityLow, func() {
		mu.Lock()
		order = append(order, "promoted")
		mu.Unlock()
	})

	q.SetPriority(promoted, PriorityVeryHigh)
	close(gate)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"promoted", "first"}, order)
}

func TestQueueSetPriorityOnDispatchedItemIsNoop(t *testing.T) {
	q := NewQueue(1)

	done := make(chan struct{})
	it := q.Add(PriorityNormal, func() { close(done) })
	<-done

	q.SetPriority(it, PriorityVeryHigh) // must not panic
	q.SetPriority(nil, PriorityVeryHigh)
}
