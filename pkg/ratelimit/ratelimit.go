// Package ratelimit implements the token-bucket admission control that
// throttles how often the transport stage may start new work.
//
// The bucket refills continuously at a configured rate and is capped at a
// burst capacity. Work admitted through the limiter declares whether it
// actually executed; a unit that declines to run (for example because its
// subscriber was already cancelled) does not consume a bucket token.
package ratelimit

import (
	"sync"
	"time"

	"github.com/marmos91/pixelpipe/pkg/token"
)

// DefaultRate is the default refill rate in units per second.
const DefaultRate = 80.0

// DefaultBurst is the default bucket capacity.
const DefaultBurst = 25

// Work is a unit of admitted work. It is invoked with a finish signal that
// the work must call exactly once, passing whether it actually executed.
// Only work that reports ran=true consumes a bucket token.
type Work func(finish func(ran bool))

type pendingItem struct {
	tok  token.Token
	work Work
}

// Limiter is a token-bucket rate limiter with a FIFO overflow queue.
//
// Admission is synchronous when a token is available; otherwise the work is
// queued and retried on a timer (never busy-spun). Cancelling a token for a
// queued item removes it without running it.
type Limiter struct {
	mu         sync.Mutex
	rate       float64 // units per second
	burst      float64
	available  float64
	lastRefill time.Time
	pending    []*pendingItem
	timerSet   bool

	// QueueDepthFn, when set, is called with the pending-queue depth after
	// every mutation. Used for metrics.
	QueueDepthFn func(depth int)

	// now is replaceable for tests.
	now func() time.Time
}

// New creates a limiter refilling at rate units/second with the given burst
// capacity. The bucket starts full.
func New(rate float64, burst int) *Limiter {
	if rate <= 0 {
		rate = DefaultRate
	}
	if burst <= 0 {
		burst = DefaultBurst
	}
	return &Limiter{
		rate:       rate,
		burst:      float64(burst),
		available:  float64(burst),
		lastRefill: time.Now(),
		now:        time.Now,
	}
}

// Execute admits work through the bucket.
//
// If tok is already cancelling the work never runs. If a bucket token is
// available the work is invoked immediately on the calling goroutine
// (the work itself may complete asynchronously via finish). Otherwise the
// work is queued FIFO and retried after 1/rate.
func (l *Limiter) Execute(tok token.Token, work Work) {
	if tok == nil {
		tok = token.Noop
	}
	if tok.IsCancelling() {
		return
	}

	l.mu.Lock()
	l.refillLocked()
	if len(l.pending) == 0 && l.available >= 1 {
		l.available--
		l.mu.Unlock()
		l.run(work)
		return
	}

	l.pending = append(l.pending, &pendingItem{tok: tok, work: work})
	l.reportDepthLocked()
	l.scheduleRetryLocked()
	l.mu.Unlock()
}

// run invokes work with a finish signal that refunds the optimistically
// consumed token when the work reports it did not execute.
func (l *Limiter) run(work Work) {
	var once sync.Once
	work(func(ran bool) {
		once.Do(func() {
			if ran {
				return
			}
			l.mu.Lock()
			l.available = min(l.burst, l.available+1)
			l.mu.Unlock()
		})
	})
}

// refillLocked accrues fractional tokens since the last refill, capped at
// burst. Caller holds l.mu.
func (l *Limiter) refillLocked() {
	now := l.now()
	elapsed := now.Sub(l.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	l.lastRefill = now
	l.available = min(l.burst, l.available+elapsed*l.rate)
}

// scheduleRetryLocked arms a single retry timer for the pending queue.
// Caller holds l.mu.
func (l *Limiter) scheduleRetryLocked() {
	if l.timerSet || len(l.pending) == 0 {
		return
	}
	l.timerSet = true
	time.AfterFunc(l.retryDelay(), l.retry)
}

func (l *Limiter) retryDelay() time.Duration {
	return time.Duration(float64(time.Second) / l.rate)
}

// retry drains as much of the pending queue as the bucket allows, dropping
// cancelled items, then re-arms the timer if work remains.
func (l *Limiter) retry() {
	var admitted []Work

	l.mu.Lock()
	l.timerSet = false
	l.refillLocked()

	keep := l.pending[:0]
	for _, item := range l.pending {
		if item.tok.IsCancelling() {
			continue // removed without running
		}
		if l.available >= 1 {
			l.available--
			admitted = append(admitted, item.work)
			continue
		}
		keep = append(keep, item)
	}
	l.pending = keep
	l.reportDepthLocked()
	l.scheduleRetryLocked()
	l.mu.Unlock()

	for _, work := range admitted {
		l.run(work)
	}
}

func (l *Limiter) reportDepthLocked() {
	if l.QueueDepthFn != nil {
		l.QueueDepthFn(len(l.pending))
	}
}

// PendingCount returns the number of queued work items.
func (l *Limiter) PendingCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}
