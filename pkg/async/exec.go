package async

import (
	"context"
	"errors"
	"time"
)

// ExecFuture is a Future for computations that only report an error.
type ExecFuture struct {
	f *Future[struct{}]
}

// Exec runs fn(ctx, param) asynchronously.
func Exec[T any](ctx context.Context, param T, fn func(context.Context, T) error) *ExecFuture {
	return &ExecFuture{f: Async(ctx, param, func(ctx context.Context, p T) (struct{}, error) {
		return struct{}{}, fn(ctx, p)
	})}
}

// Await blocks until the computation completes and returns its error.
func (e *ExecFuture) Await() error {
	_, err := e.f.Await()
	return err
}

// AwaitWithTimeout is Await bounded by timeout.
func (e *ExecFuture) AwaitWithTimeout(timeout time.Duration) error {
	_, err := e.f.AwaitWithTimeout(timeout)
	return err
}

// IsComplete reports whether the computation has finished.
func (e *ExecFuture) IsComplete() bool {
	return e.f.IsComplete()
}

// ExecAll waits for every future and joins their errors.
func ExecAll(futures ...*ExecFuture) error {
	var errs []error
	for _, f := range futures {
		if err := f.Await(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ExecAny returns the index and error of the first future to finish.
func ExecAny(futures ...*ExecFuture) (int, error) {
	inner := make([]*Future[struct{}], len(futures))
	for i, f := range futures {
		inner[i] = f.f
	}
	i, _, err := WaitAny(inner...)
	return i, err
}
