package ble

import (
	"context"
	"sync"
	"time"
)

// waiter is a one-shot slot that bridges a hardware callback into a
// blocking wait. The callback side calls resolve, the waiting side calls
// wait; whichever of callback, timeout, or cancellation fires first wins
// and every later resolution is a no-op.
type waiter[T any] struct {
	mu   sync.Mutex
	done bool
	ch   chan waitResult[T]
}

type waitResult[T any] struct {
	value T
	err   error
}

func newWaiter[T any]() *waiter[T] {
	return &waiter[T]{ch: make(chan waitResult[T], 1)}
}

// resolve completes the waiter exactly once. Returns false if it was
// already resolved.
func (w *waiter[T]) resolve(value T, err error) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return false
	}
	w.done = true
	w.ch <- waitResult[T]{value: value, err: err}
	return true
}

// wait blocks until the waiter resolves, the timeout elapses, or ctx is
// cancelled. A timeout or cancellation resolves the waiter itself so a
// late hardware callback cannot double-complete.
func (w *waiter[T]) wait(ctx context.Context, timeout time.Duration, timeoutErr error) (T, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-w.ch:
		return res.value, res.err
	case <-timer.C:
		var zero T
		if w.resolve(zero, timeoutErr) {
			return zero, timeoutErr
		}
		// Lost the race: the callback resolved between the timer firing
		// and our claim. Use its result.
		res := <-w.ch
		return res.value, res.err
	case <-ctx.Done():
		var zero T
		if w.resolve(zero, ctx.Err()) {
			return zero, ctx.Err()
		}
		res := <-w.ch
		return res.value, res.err
	}
}
