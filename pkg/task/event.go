package task

import "sync"

// EventKind discriminates subscriber events. Each subscriber receives zero
// or more progress events followed by exactly one terminal event.
type EventKind int

const (
	EventProgress EventKind = iota
	EventCompleted
	EventFailed
	EventCancelled
)

func (k EventKind) String() string {
	switch k {
	case EventProgress:
		return "progress"
	case EventCompleted:
		return "completed"
	case EventFailed:
		return "failed"
	case EventCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Progress is a byte-level progress sample. Total is -1 when unknown.
type Progress struct {
	Completed int64
	Total     int64
}

// Event is a single notification delivered to a subscriber.
type Event[T any] struct {
	Kind     EventKind
	Progress Progress // valid when Kind == EventProgress
	Value    T        // valid when Kind == EventCompleted
	Err      error    // valid when Kind == EventFailed
}

func (e Event[T]) Terminal() bool {
	return e.Kind != EventProgress
}

// pump serializes event delivery for one subscriber. Events are always
// delivered asynchronously relative to the call that produced them, in
// order, with progress bursts coalesced to the latest sample. The terminal
// event is delivered exactly once, after any pending progress sample.
type pump[T any] struct {
	mu       sync.Mutex
	progress *Progress
	terminal *Event[T]
	signal   chan struct{}
}

func newPump[T any](cb func(Event[T])) *pump[T] {
	p := &pump[T]{signal: make(chan struct{}, 1)}
	go p.loop(cb)
	return p
}

func (p *pump[T]) loop(cb func(Event[T])) {
	for range p.signal {
		for {
			p.mu.Lock()
			prog := p.progress
			p.progress = nil
			term := p.terminal
			p.mu.Unlock()

			if prog != nil {
				cb(Event[T]{Kind: EventProgress, Progress: *prog})
			}
			if term != nil {
				cb(*term)
				return
			}
			if prog == nil {
				break
			}
		}
	}
}

// sendProgress queues a progress sample, replacing any sample not yet
// consumed. This is the flood-control point for progress reporting.
func (p *pump[T]) sendProgress(prog Progress) {
	p.mu.Lock()
	if p.terminal != nil {
		p.mu.Unlock()
		return
	}
	p.progress = &prog
	p.mu.Unlock()
	p.wake()
}

// sendTerminal queues the terminal event. Only the first terminal wins;
// later calls are ignored, which keeps the one-terminal-per-subscriber
// contract under unsubscribe/deliver races.
func (p *pump[T]) sendTerminal(ev Event[T]) bool {
	p.mu.Lock()
	if p.terminal != nil {
		p.mu.Unlock()
		return false
	}
	p.terminal = &ev
	p.mu.Unlock()
	p.wake()
	return true
}

func (p *pump[T]) wake() {
	select {
	case p.signal <- struct{}{}:
	default:
	}
}
