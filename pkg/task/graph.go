// Package task implements the request-coalescing task graph: equivalent
// in-flight requests share one underlying execution whose results fan out to
// every subscriber, with priority aggregation and cancellation fan-in.
package task

import (
	"sync"

	"github.com/marmos91/pixelpipe/pkg/token"
)

// State is a node's position in its lifecycle. Terminal states are final.
type State int

const (
	StatePending State = iota
	StateRunning
	StateCompleted
	StateFailed
	StateCancelled
)

// Terminal reports whether the state is final.
func (s State) Terminal() bool {
	return s >= StateCompleted
}

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// StartFunc runs a node's underlying work. It is invoked at most once per
// node, on the graph's queue, and must eventually call exactly one of
// Producer.Deliver or Producer.Fail unless the node is cancelled first.
type StartFunc[T any] func(p *Producer[T])

// subscriber is an arena entry owned by the node; subscriber-side handles
// index into the node's table instead of holding back-references.
type subscriber[T any] struct {
	handle   int
	priority Priority
	pump     *pump[T]
}

// Node coalesces all equivalent subscribers of one unit of work.
//
// Lifecycle: created on first subscription for a key; removed from the
// coalescing map once a terminal result has been delivered to every
// subscriber (so subscribers racing with delivery are replayed the stored
// result), or immediately when the subscriber set empties pre-terminal,
// which cancels the underlying work. Only completed and failed results are
// replayable: a cancelled node still draining is replaced on the next
// subscription, since its cancellation belongs to subscribers who opted out.
type Node[T any] struct {
	graph *Graph[T]
	key   string

	state      State
	source     *token.Source
	subs       map[int]*subscriber[T]
	order      []int // insertion order, for deterministic fan-out
	nextHandle int

	// Current execution primitive backing the node; replaced as the work
	// hops across stage queues. Aggregate priority changes land here.
	queue *Queue
	item  *Item

	result   *Event[T] // stored terminal event for replay
	attached int       // pumps that have not yet delivered their terminal

	lastAgg    Priority
	onPriority func(Priority) // observer for aggregate changes, set by the work
}

// Subscription is a lightweight handle for one subscriber of a node.
type Subscription[T any] struct {
	node   *Node[T]
	handle int
}

// Graph coalesces work by key. One underlying execution exists per live key
// at any time. All graph and node state is guarded by a single mutex.
type Graph[T any] struct {
	mu    sync.Mutex
	queue *Queue
	nodes map[string]*Node[T]
}

// NewGraph creates a graph whose node work is scheduled on q.
func NewGraph[T any](q *Queue) *Graph[T] {
	return &Graph[T]{
		queue: q,
		nodes: make(map[string]*Node[T]),
	}
}

// Subscribe attaches a subscriber to the node for key, creating the node
// (and scheduling start) when no live node exists. The returned bool is true
// when this call created the node.
//
// Events are delivered to cb in order, always asynchronously relative to
// Subscribe, ending with exactly one terminal event. If tok cancels, the
// subscriber is detached and receives a cancelled event; the node's work is
// cancelled only when its last subscriber detaches pre-terminal.
func (g *Graph[T]) Subscribe(key string, pri Priority, tok token.Token, cb func(Event[T]), start StartFunc[T]) (*Subscription[T], bool) {
	if tok == nil {
		tok = token.Noop
	}

	g.mu.Lock()

	node, ok := g.nodes[key]
	if ok && node.state == StateCancelled {
		// A cancelled node lingers only to drain its departed subscribers'
		// pumps. Its stored cancellation must never reach a subscriber that
		// did not cancel, so the new subscriber gets a fresh node and fresh
		// work; release's identity check keeps the drain from removing it.
		delete(g.nodes, key)
		ok = false
	}
	isNew := !ok
	if isNew {
		node = &Node[T]{
			graph:  g,
			key:    key,
			source: token.NewSource(),
			subs:   make(map[int]*subscriber[T]),
			queue:  g.queue,
		}
		g.nodes[key] = node
	}

	handle := node.nextHandle
	node.nextHandle++
	sub := &subscriber[T]{handle: handle, priority: pri}
	sub.pump = newPump(func(ev Event[T]) {
		cb(ev)
		if ev.Terminal() {
			g.release(node)
		}
	})
	node.attached++

	if node.state.Terminal() {
		// Raced with delivery: replay the stored result to this subscriber
		// without re-running anything.
		sub.pump.sendTerminal(*node.result)
		g.mu.Unlock()
		return &Subscription[T]{node: node, handle: handle}, false
	}

	node.subs[handle] = sub
	node.order = append(node.order, handle)
	notify, agg := g.applyPriorityLocked(node)

	var item *Item
	if isNew {
		item = g.queue.Add(node.aggregateLocked(), func() { g.runNode(node, start) })
		node.item = item
	}
	g.mu.Unlock()

	if notify != nil {
		notify(agg)
	}
	s := &Subscription[T]{node: node, handle: handle}
	tok.OnCancel(func() { g.unsubscribe(node, handle) })
	return s, isNew
}

// Unsubscribe detaches this subscriber. The subscriber receives a cancelled
// terminal event; when it was the node's last pre-terminal subscriber the
// node's underlying work is cancelled.
func (s *Subscription[T]) Unsubscribe() {
	s.node.graph.unsubscribe(s.node, s.handle)
}

// SetPriority updates this subscriber's priority. The node's aggregate is
// recomputed and pushed to whatever execution primitive currently backs it.
func (s *Subscription[T]) SetPriority(p Priority) {
	g := s.node.graph
	g.mu.Lock()
	var notify func(Priority)
	var agg Priority
	if sub, ok := s.node.subs[s.handle]; ok {
		sub.priority = p
		notify, agg = g.applyPriorityLocked(s.node)
	}
	g.mu.Unlock()
	if notify != nil {
		notify(agg)
	}
}

// runNode is the queue-scheduled entry for a node's work.
func (g *Graph[T]) runNode(node *Node[T], start StartFunc[T]) {
	g.mu.Lock()
	if node.state != StatePending {
		g.mu.Unlock()
		return
	}
	node.state = StateRunning
	g.mu.Unlock()

	start(&Producer[T]{node: node})
}

func (g *Graph[T]) unsubscribe(node *Node[T], handle int) {
	g.mu.Lock()
	sub, ok := node.subs[handle]
	if !ok {
		g.mu.Unlock()
		return
	}
	delete(node.subs, handle)

	sub.pump.sendTerminal(Event[T]{Kind: EventCancelled})

	var cancelSource *token.Source
	var notify func(Priority)
	var agg Priority
	if len(node.subs) == 0 && !node.state.Terminal() {
		// Last subscriber gone before completion: the node's work is
		// cancelled. A node that already delivered is never retroactively
		// cancelled by a late unsubscribe.
		node.state = StateCancelled
		node.result = &Event[T]{Kind: EventCancelled}
		cancelSource = node.source
	} else {
		notify, agg = g.applyPriorityLocked(node)
	}
	g.mu.Unlock()

	if notify != nil {
		notify(agg)
	}
	if cancelSource != nil {
		// Outside the graph lock: cancellation callbacks may re-enter other
		// components.
		cancelSource.Cancel()
	}
}

// release is called after a pump delivers its terminal event; the node is
// torn down once every subscriber has been notified.
func (g *Graph[T]) release(node *Node[T]) {
	g.mu.Lock()
	node.attached--
	if node.attached == 0 && node.state.Terminal() {
		if current, ok := g.nodes[node.key]; ok && current == node {
			delete(g.nodes, node.key)
		}
	}
	g.mu.Unlock()
}

// aggregateLocked computes max priority across live subscribers.
// Caller holds g.mu.
func (n *Node[T]) aggregateLocked() Priority {
	agg := PriorityVeryLow
	for _, sub := range n.subs {
		if sub.priority > agg {
			agg = sub.priority
		}
	}
	return agg
}

// applyPriorityLocked recomputes the node's aggregate, pushes it to the
// backing execution primitive, and returns the observer to notify (outside
// the lock) when the aggregate changed. Caller holds g.mu.
func (g *Graph[T]) applyPriorityLocked(node *Node[T]) (func(Priority), Priority) {
	agg := node.aggregateLocked()
	if node.queue != nil && node.item != nil {
		node.queue.SetPriority(node.item, agg)
	}
	var notify func(Priority)
	if agg != node.lastAgg {
		node.lastAgg = agg
		notify = node.onPriority
	}
	return notify, agg
}

// terminate stores ev as the node's terminal result and fans it out to all
// subscribers in insertion order. Only the first terminal wins.
func (g *Graph[T]) terminate(node *Node[T], ev Event[T], st State) {
	g.mu.Lock()
	if node.state.Terminal() {
		g.mu.Unlock()
		return
	}
	node.state = st
	node.result = &ev
	for _, handle := range node.order {
		if sub, ok := node.subs[handle]; ok {
			sub.pump.sendTerminal(ev)
		}
	}
	node.subs = make(map[int]*subscriber[T])
	node.order = nil

	removable := node.attached == 0
	if removable {
		if current, ok := g.nodes[node.key]; ok && current == node {
			delete(g.nodes, node.key)
		}
	}
	g.mu.Unlock()
}

// NodeCount returns the number of live nodes; used by tests and metrics.
func (g *Graph[T]) NodeCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.nodes)
}

// Producer is the work-side handle to a node, given to its StartFunc.
type Producer[T any] struct {
	node *Node[T]
}

// Token returns the node's cancellation token. It cancels when the node's
// subscriber set empties pre-terminal.
func (p *Producer[T]) Token() token.Token {
	return p.node.source.Token()
}

// Cancelled reports whether the node has been cancelled. Stage boundaries
// use this as their cooperative check point.
func (p *Producer[T]) Cancelled() bool {
	return p.node.source.IsCancelling()
}

// Progress broadcasts a progress sample to all live subscribers. Bursts are
// coalesced per subscriber; the latest sample always survives.
func (p *Producer[T]) Progress(completed, total int64) {
	g := p.node.graph
	g.mu.Lock()
	for _, handle := range p.node.order {
		if sub, ok := p.node.subs[handle]; ok {
			sub.pump.sendProgress(Progress{Completed: completed, Total: total})
		}
	}
	g.mu.Unlock()
}

// Deliver completes the node with value, notifying every subscriber.
// At most one terminal call (Deliver or Fail) takes effect per node.
func (p *Producer[T]) Deliver(value T) {
	p.node.graph.terminate(p.node, Event[T]{Kind: EventCompleted, Value: value}, StateCompleted)
}

// Fail completes the node with an error, notifying every subscriber.
func (p *Producer[T]) Fail(err error) {
	p.node.graph.terminate(p.node, Event[T]{Kind: EventFailed, Err: err}, StateFailed)
}

// Priority returns the node's current aggregate priority.
func (p *Producer[T]) Priority() Priority {
	g := p.node.graph
	g.mu.Lock()
	defer g.mu.Unlock()
	return p.node.lastAgg
}

// ObservePriority registers fn to be invoked whenever the node's aggregate
// priority changes. Work that subscribes to downstream graphs uses this to
// forward its own priority. At most one observer per node.
func (p *Producer[T]) ObservePriority(fn func(Priority)) {
	g := p.node.graph
	g.mu.Lock()
	p.node.onPriority = fn
	g.mu.Unlock()
}

// Schedule hops the node's work onto another stage queue at the node's
// current aggregate priority, and points priority updates at the new item.
// The work is skipped if the node is cancelled by the time it runs.
func (p *Producer[T]) Schedule(q *Queue, fn func()) {
	node := p.node
	g := node.graph

	g.mu.Lock()
	pri := node.aggregateLocked()
	item := q.Add(pri, func() {
		if node.source.IsCancelling() {
			return
		}
		fn()
	})
	node.queue = q
	node.item = item
	g.mu.Unlock()
}
