package cloudcall

import (
	"context"
	"errors"
	"sync"
	"time"
)

type promiseState int

const (
	statePending promiseState = iota
	stateClaimed
	stateDone
)

// Promise is a one-shot, cancellable, awaitable outcome. It resolves exactly
// once with either a value or an error.
//
// A pending promise can be cancelled or expired. Once the producer has
// claimed it (the work has completed and only bookkeeping remains),
// cancellation no longer applies.
type Promise[T any] struct {
	mu     sync.Mutex
	state  promiseState
	value  T
	err    error
	done   chan struct{}
	cancel context.CancelFunc
}

// Future is the caller-visible outcome of an invocation.
type Future = Promise[*Result]

// NewPromise creates a pending promise. cancel, if non-nil, is invoked when
// the promise is cancelled or expires.
func NewPromise[T any](cancel context.CancelFunc) *Promise[T] {
	return &Promise[T]{
		done:   make(chan struct{}),
		cancel: cancel,
	}
}

// Resolved returns a promise that is already complete.
func Resolved[T any](value T, err error) *Promise[T] {
	p := NewPromise[T](nil)
	p.Resolve(value, err)

	return p
}

// Claim moves a pending promise to the claimed state. It returns false when
// the promise was already cancelled or resolved.
func (p *Promise[T]) Claim() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != statePending {
		return false
	}

	p.state = stateClaimed

	return true
}

// Guard runs fn only while the promise is pending and holds off cancellation
// until fn returns. fn must not call methods on p.
func (p *Promise[T]) Guard(fn func()) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != statePending {
		return false
	}

	fn()

	return true
}

// Resolve completes the promise. It returns false if it was already done.
func (p *Promise[T]) Resolve(value T, err error) bool {
	p.mu.Lock()

	if p.state == stateDone {
		p.mu.Unlock()

		return false
	}

	p.value = value
	p.err = err
	p.state = stateDone
	close(p.done)
	p.mu.Unlock()

	return true
}

// Cancel resolves a pending promise with KindCancelled and aborts the work.
func (p *Promise[T]) Cancel() bool {
	return p.abort(&Error{Kind: KindCancelled, Detail: "call cancelled"})
}

// Expire resolves a pending promise with KindTimeout and aborts the work.
func (p *Promise[T]) Expire() bool {
	return p.abort(&Error{Kind: KindTimeout, Detail: "call timed out"})
}

func (p *Promise[T]) abort(err *Error) bool {
	p.mu.Lock()

	if p.state != statePending {
		p.mu.Unlock()

		return false
	}

	var zero T

	p.value = zero
	p.err = err
	p.state = stateDone
	close(p.done)
	p.mu.Unlock()

	if p.cancel != nil {
		p.cancel()
	}

	return true
}

// Await blocks until the promise completes. A positive timeout bounds the
// wait; when it elapses first the promise expires with KindTimeout.
func (p *Promise[T]) Await(timeout time.Duration) (T, error) {
	if timeout <= 0 {
		<-p.done

		return p.value, p.err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-p.done:
	case <-timer.C:
		p.Expire()
		<-p.done
	}

	return p.value, p.err
}

// Wait blocks until the promise completes or ctx ends. An ended context
// cancels the promise, or expires it when the deadline passed.
func (p *Promise[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-p.done:
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			p.Expire()
		} else {
			p.Cancel()
		}

		<-p.done
	}

	return p.value, p.err
}

// Peek returns the outcome without blocking; ok is false while pending.
func (p *Promise[T]) Peek() (value T, ok bool, err error) {
	select {
	case <-p.done:
		return p.value, true, p.err
	default:
		var zero T

		return zero, false, nil
	}
}

// IsDone reports whether the promise has resolved.
func (p *Promise[T]) IsDone() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Done is closed when the promise resolves.
func (p *Promise[T]) Done() <-chan struct{} {
	return p.done
}
