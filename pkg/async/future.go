package async

import (
	"context"
	"time"
)

// Future is the pending result of an asynchronous computation.
type Future[U any] struct {
	val  U
	err  error
	done chan struct{}
}

// Async runs fn(ctx, param) in its own goroutine. A context cancelled before
// fn starts completes the future with the context error without calling fn.
func Async[T, U any](ctx context.Context, param T, fn func(context.Context, T) (U, error)) *Future[U] {
	f := &Future[U]{done: make(chan struct{})}

	go func() {
		defer close(f.done)

		if err := ctx.Err(); err != nil {
			f.err = err
			return
		}
		f.val, f.err = fn(ctx, param)
	}()

	return f
}

// Await blocks until the computation completes.
func (f *Future[U]) Await() (U, error) {
	<-f.done
	return f.val, f.err
}

// AwaitWithTimeout is Await bounded by timeout; it returns ErrTimeout when
// the computation is still running.
func (f *Future[U]) AwaitWithTimeout(timeout time.Duration) (U, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case <-f.done:
		return f.val, f.err
	case <-t.C:
		var zero U
		return zero, ErrTimeout
	}
}

// IsComplete reports whether the computation has finished.
func (f *Future[U]) IsComplete() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// WaitAll waits for every future and returns their values in order. The
// first error encountered, in future order, is returned alongside.
func WaitAll[U any](futures ...*Future[U]) ([]U, error) {
	out := make([]U, len(futures))
	var firstErr error
	for i, f := range futures {
		v, err := f.Await()
		out[i] = v
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return out, firstErr
}

// WaitAny returns the index, value and error of the first future to finish.
func WaitAny[U any](futures ...*Future[U]) (int, U, error) {
	if len(futures) == 0 {
		var zero U
		return -1, zero, ErrNoFutures
	}

	type result struct {
		index int
		val   U
		err   error
	}
	done := make(chan result, len(futures))
	for i, f := range futures {
		go func() {
			v, err := f.Await()
			done <- result{index: i, val: v, err: err}
		}()
	}

	r := <-done
	return r.index, r.val, r.err
}
