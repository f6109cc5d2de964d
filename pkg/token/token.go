// Package token implements the cooperative cancellation primitive used
// throughout the pipeline.
//
// A Source owns the cancellation state; Tokens are read-only capabilities
// derived from it. One Source may back many Tokens (one per subscriber), and
// cancelling a Source affects exactly its own Tokens.
package token

import (
	"context"
	"sync"
)

// Token is a read-only view of a cancellation Source.
type Token interface {
	// IsCancelling reports whether the backing Source has been cancelled.
	IsCancelling() bool

	// OnCancel registers a callback to run when the Source is cancelled.
	// Callbacks fire exactly once, in registration order. Registering after
	// cancellation fires the callback synchronously on the calling goroutine.
	OnCancel(fn func())
}

// Source owns a cancellation flag and the set of registered callbacks.
//
// Cancel is idempotent and safe to call concurrently with OnCancel from any
// goroutine: a callback registered while Cancel is firing either joins the
// firing set or fires immediately afterwards, never both, never neither.
type Source struct {
	mu        sync.Mutex
	cancelled bool
	callbacks []func()
}

// NewSource creates a new cancellation source.
func NewSource() *Source {
	return &Source{}
}

// Token returns a Token backed by this source.
func (s *Source) Token() Token {
	return sourceToken{s}
}

// Cancel marks the source as cancelling and fires registered callbacks in
// registration order. Subsequent calls are no-ops.
func (s *Source) Cancel() {
	s.mu.Lock()
	if s.cancelled {
		s.mu.Unlock()
		return
	}
	s.cancelled = true
	cbs := s.callbacks
	s.callbacks = nil
	s.mu.Unlock()

	// Fired outside the lock so a callback may register further callbacks
	// (which then fire synchronously) without deadlocking.
	for _, cb := range cbs {
		cb()
	}
}

// IsCancelling reports whether Cancel has been called.
func (s *Source) IsCancelling() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

func (s *Source) register(fn func()) {
	s.mu.Lock()
	if s.cancelled {
		s.mu.Unlock()
		fn()
		return
	}
	s.callbacks = append(s.callbacks, fn)
	s.mu.Unlock()
}

type sourceToken struct {
	s *Source
}

func (t sourceToken) IsCancelling() bool { return t.s.IsCancelling() }
func (t sourceToken) OnCancel(fn func()) { t.s.register(fn) }

// Noop is a Token that is never cancelling and ignores OnCancel. Used when a
// subscriber opts out of cancellation.
var Noop Token = noopToken{}

type noopToken struct{}

func (noopToken) IsCancelling() bool { return false }
func (noopToken) OnCancel(func())    {}

// Context returns a child context of parent that is cancelled when tok is
// cancelled. The returned stop function releases the registration's context
// resources; callers should invoke it once the operation completes.
func Context(parent context.Context, tok Token) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	tok.OnCancel(cancel)
	return ctx, cancel
}
