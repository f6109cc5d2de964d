package task

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/pixelpipe/pkg/token"
)

// recorder collects events for one subscriber.
type recorder struct {
	mu     sync.Mutex
	events []Event[string]
	done   chan struct{}
}

func newRecorder() *recorder {
	return &recorder{done: make(chan struct{})}
}

func (r *recorder) cb(ev Event[string]) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	if ev.Terminal() {
		close(r.done)
	}
}

func (r *recorder) wait(t *testing.T) Event[string] {
	t.Helper()
	select {
	case <-r.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for terminal event")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

func (r *recorder) terminalCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Terminal() {
			n++
		}
	}
	return n
}

func TestSubscribeCoalescesEquivalentWork(t *testing.T) {
	g := NewGraph[string](NewQueue(4))

	var starts atomic.Int32
	release := make(chan struct{})
	start := func(p *Producer[string]) {
		starts.Add(1)
		go func() {
			<-release
			p.Deliver("result")
		}()
	}

	a, b := newRecorder(), newRecorder()
	_, isNewA := g.Subscribe("k", PriorityNormal, token.Noop, a.cb, start)
	_, isNewB := g.Subscribe("k", PriorityNormal, token.Noop, b.cb, start)
	assert.True(t, isNewA)
	assert.False(t, isNewB, "second subscriber must join the existing node")

	close(release)

	evA, evB := a.wait(t), b.wait(t)
	assert.Equal(t, EventCompleted, evA.Kind)
	assert.Equal(t, "result", evA.Value)
	assert.Equal(t, EventCompleted, evB.Kind)
	assert.Equal(t, "result", evB.Value)
	assert.Equal(t, int32(1), starts.Load(), "exactly one underlying execution per key")
}

func TestSiblingSurvivesCancellation(t *testing.T) {
	g := NewGraph[string](NewQueue(4))

	release := make(chan struct{})
	var workCancelled atomic.Bool
	start := func(p *Producer[string]) {
		p.Token().OnCancel(func() { workCancelled.Store(true) })
		go func() {
			<-release
			p.Deliver("ok")
		}()
	}

	a, b := newRecorder(), newRecorder()
	srcA := token.NewSource()
	g.Subscribe("k", PriorityNormal, srcA.Token(), a.cb, start)
	g.Subscribe("k", PriorityNormal, token.Noop, b.cb, start)

	srcA.Cancel()
	assert.Equal(t, EventCancelled, a.wait(t).Kind)
	assert.False(t, workCancelled.Load(), "work must continue while a subscriber remains")

	close(release)
	assert.Equal(t, EventCompleted, b.wait(t).Kind)
	assert.Equal(t, 1, a.terminalCount())
	assert.Equal(t, 1, b.terminalCount())
}

func TestLastUnsubscribeCancelsWork(t *testing.T) {
	g := NewGraph[string](NewQueue(4))

	started := make(chan struct{})
	var workCancelled atomic.Bool
	start := func(p *Producer[string]) {
		p.Token().OnCancel(func() { workCancelled.Store(true) })
		close(started)
	}

	a, b := newRecorder(), newRecorder()
	subA, _ := g.Subscribe("k", PriorityNormal, token.Noop, a.cb, start)
	subB, _ := g.Subscribe("k", PriorityNormal, token.Noop, b.cb, start)
	<-started

	subA.Unsubscribe()
	assert.False(t, workCancelled.Load())

	subB.Unsubscribe()
	assert.True(t, workCancelled.Load(), "cancelling the last subscriber must cancel the node's work")

	assert.Equal(t, EventCancelled, a.wait(t).Kind)
	assert.Equal(t, EventCancelled, b.wait(t).Kind)
}

func TestUnsubscribeAfterDeliveryDoesNotCancel(t *testing.T) {
	g := NewGraph[string](NewQueue(4))

	var workCancelled atomic.Bool
	start := func(p *Producer[string]) {
		p.Token().OnCancel(func() { workCancelled.Store(true) })
		p.Deliver("done")
	}

	a := newRecorder()
	sub, _ := g.Subscribe("k", PriorityNormal, token.Noop, a.cb, start)
	assert.Equal(t, EventCompleted, a.wait(t).Kind)

	sub.Unsubscribe()
	assert.False(t, workCancelled.Load(), "a delivered node must not be retroactively cancelled")
	assert.Equal(t, 1, a.terminalCount(), "exactly one terminal event per subscriber")
}

func TestAggregatePriorityIsMaxOverSubscribers(t *testing.T) {
	g := NewGraph[string](NewQueue(4))

	started := make(chan struct{})
	var node *Node[string]
	start := func(p *Producer[string]) {
		node = p.node
		close(started)
	}

	a, b := newRecorder(), newRecorder()
	subA, _ := g.Subscribe("k", PriorityLow, token.Noop, a.cb, start)
	g.Subscribe("k", PriorityHigh, token.Noop, b.cb, start)
	<-started

	g.mu.Lock()
	agg := node.aggregateLocked()
	g.mu.Unlock()
	assert.Equal(t, PriorityHigh, agg)

	subA.SetPriority(PriorityVeryHigh)
	g.mu.Lock()
	agg = node.aggregateLocked()
	g.mu.Unlock()
	assert.Equal(t, PriorityVeryHigh, agg, "aggregate must track priority updates")
}

func TestDeliveryIsAlwaysAsynchronous(t *testing.T) {
	g := NewGraph[string](NewQueue(4))

	delivered := make(chan struct{})
	var subscribeReturned atomic.Bool

	start := func(p *Producer[string]) {
		p.Deliver("immediate")
	}

	g.Subscribe("k", PriorityNormal, token.Noop, func(ev Event[string]) {
		if ev.Terminal() {
			assert.True(t, subscribeReturned.Load(),
				"events must never be delivered reentrantly on the Subscribe call stack")
			close(delivered)
		}
	}, start)
	subscribeReturned.Store(true)

	select {
	case <-delivered:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
}

func TestProgressMonotonicAndFinalSampleSurvives(t *testing.T) {
	g := NewGraph[string](NewQueue(4))

	start := func(p *Producer[string]) {
		go func() {
			for i := int64(1); i <= 100; i++ {
				p.Progress(i*10, 1000)
			}
			p.Deliver("done")
		}()
	}

	var mu sync.Mutex
	var samples []int64
	done := make(chan struct{})
	g.Subscribe("k", PriorityNormal, token.Noop, func(ev Event[string]) {
		switch ev.Kind {
		case EventProgress:
			mu.Lock()
			samples = append(samples, ev.Progress.Completed)
			mu.Unlock()
		case EventCompleted:
			close(done)
		}
	}, start)

	<-done
	mu.Lock()
	defer mu.Unlock()

	require.NotEmpty(t, samples, "bursts are coalesced but samples must still arrive")
	for i := 1; i < len(samples); i++ {
		assert.Greater(t, samples[i], samples[i-1], "progress must be monotonic")
	}
}

func TestFailureFansOutToAllSubscribers(t *testing.T) {
	g := NewGraph[string](NewQueue(4))

	boom := errors.New("boom")
	start := func(p *Producer[string]) {
		p.Fail(boom)
	}

	a, b := newRecorder(), newRecorder()
	g.Subscribe("k", PriorityNormal, token.Noop, a.cb, start)
	g.Subscribe("k", PriorityNormal, token.Noop, b.cb, start)

	evA, evB := a.wait(t), b.wait(t)
	assert.Equal(t, EventFailed, evA.Kind)
	assert.ErrorIs(t, evA.Err, boom)
	assert.Equal(t, EventFailed, evB.Kind)
	assert.ErrorIs(t, evB.Err, boom)
}

func TestNodeTornDownAfterAllNotified(t *testing.T) {
	g := NewGraph[string](NewQueue(4))

	a := newRecorder()
	g.Subscribe("k", PriorityNormal, token.Noop, a.cb, func(p *Producer[string]) {
		p.Deliver("v")
	})
	a.wait(t)

	require.Eventually(t, func() bool { return g.NodeCount() == 0 },
		time.Second, time.Millisecond, "completed node must be removed once subscribers are notified")

	// A fresh subscribe after teardown creates a new node.
	var starts atomic.Int32
	b := newRecorder()
	_, isNew := g.Subscribe("k", PriorityNormal, token.Noop, b.cb, func(p *Producer[string]) {
		starts.Add(1)
		p.Deliver("v2")
	})
	assert.True(t, isNew)
	assert.Equal(t, "v2", b.wait(t).Value)
}

func TestSubscribeDuringCancelledDrainStartsFreshWork(t *testing.T) {
	g := NewGraph[string](NewQueue(4))

	var starts atomic.Int32
	started := make(chan struct{}, 2)
	release := make(chan struct{})
	start := func(p *Producer[string]) {
		starts.Add(1)
		started <- struct{}{}
		go func() {
			<-release
			p.Deliver("fresh")
		}()
	}

	// The first subscriber's callback blocks inside its cancelled terminal,
	// holding the cancelled node in the map mid-drain.
	entered := make(chan struct{})
	gate := make(chan struct{})
	var aTerminals atomic.Int32
	src := token.NewSource()
	g.Subscribe("k", PriorityNormal, src.Token(), func(ev Event[string]) {
		if ev.Kind == EventCancelled {
			aTerminals.Add(1)
			close(entered)
			<-gate
		}
	}, start)
	<-started

	src.Cancel()
	<-entered

	b := newRecorder()
	_, isNew := g.Subscribe("k", PriorityNormal, token.Noop, b.cb, start)
	assert.True(t, isNew, "a cancelled node mid-drain must be replaced, not joined")

	close(release)
	ev := b.wait(t)
	assert.Equal(t, EventCompleted, ev.Kind,
		"a subscriber that never cancelled must not see another subscriber's cancellation")
	assert.Equal(t, "fresh", ev.Value)
	assert.Equal(t, int32(2), starts.Load(), "fresh work must run for the new node")

	close(gate)
	assert.Equal(t, int32(1), aTerminals.Load())
}

func TestScheduleSkipsWorkWhenCancelled(t *testing.T) {
	g := NewGraph[string](NewQueue(1))
	stage := NewQueue(1)

	hopped := make(chan struct{})
	var stageRan atomic.Bool

	a := newRecorder()
	src := token.NewSource()
	gate := make(chan struct{})

	g.Subscribe("k", PriorityNormal, src.Token(), a.cb, func(p *Producer[string]) {
		// Block the stage queue, then hop onto it; cancel before it drains.
		stage.Add(PriorityNormal, func() { <-gate })
		p.Schedule(stage, func() {
			stageRan.Store(true)
			p.Deliver("never")
		})
		close(hopped)
	})

	<-hopped
	src.Cancel()
	assert.Equal(t, EventCancelled, a.wait(t).Kind)

	close(gate)
	time.Sleep(50 * time.Millisecond)
	assert.False(t, stageRan.Load(), "stage work must be skipped after cancellation")
}
