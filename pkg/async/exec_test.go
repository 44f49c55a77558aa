package async_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/unitctl/pkg/async"
)

func TestAsyncValue(t *testing.T) {
	t.Parallel()

	f := async.Async(context.Background(), 21, func(_ context.Context, n int) (int, error) {
		return n * 2, nil
	})
	v, err := f.Await()
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.True(t, f.IsComplete())
}

func TestAsyncPreCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var called atomic.Bool
	_, err := async.Async(ctx, 1, func(context.Context, int) (int, error) {
		called.Store(true)
		return 0, nil
	}).Await()
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called.Load())
}

func TestAwaitWithTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	f := async.Async(context.Background(), 0, func(context.Context, int) (int, error) {
		<-release
		return 1, nil
	})

	_, err := f.AwaitWithTimeout(10 * time.Millisecond)
	assert.ErrorIs(t, err, async.ErrTimeout)
	assert.False(t, f.IsComplete())

	close(release)
	v, err := f.AwaitWithTimeout(time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestWaitAll(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	ctx := context.Background()
	square := func(_ context.Context, n int) (int, error) {
		if n == 3 {
			return 0, boom
		}
		return n * n, nil
	}

	var futures []*async.Future[int]
	for i := 1; i <= 4; i++ {
		futures = append(futures, async.Async(ctx, i, square))
	}

	vals, err := async.WaitAll(futures...)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []int{1, 4, 0, 16}, vals)
}

func TestWaitAny(t *testing.T) {
	t.Parallel()

	_, _, err := async.WaitAny[int]()
	assert.ErrorIs(t, err, async.ErrNoFutures)

	ctx := context.Background()
	slow := async.Async(ctx, 0, func(ctx context.Context, _ int) (string, error) {
		time.Sleep(200 * time.Millisecond)
		return "slow", nil
	})
	fast := async.Async(ctx, 0, func(context.Context, int) (string, error) {
		return "fast", nil
	})

	i, v, err := async.WaitAny(slow, fast)
	require.NoError(t, err)
	assert.Equal(t, 1, i)
	assert.Equal(t, "fast", v)
}

func TestExecAllJoinsErrors(t *testing.T) {
	t.Parallel()

	first, second := errors.New("first"), errors.New("second")
	ctx := context.Background()
	var ran atomic.Int32

	fail := func(err error) func(context.Context, int) error {
		return func(context.Context, int) error {
			ran.Add(1)
			return err
		}
	}

	err := async.ExecAll(
		async.Exec(ctx, 0, fail(first)),
		async.Exec(ctx, 0, fail(nil)),
		async.Exec(ctx, 0, fail(second)),
	)
	assert.ErrorIs(t, err, first)
	assert.ErrorIs(t, err, second)
	assert.Equal(t, int32(3), ran.Load(), "every future is awaited")
}

func TestExecCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := async.Exec(ctx, 0, func(ctx context.Context, _ int) error {
		select {
		case <-time.After(time.Second):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}).Await()
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestExecAny(t *testing.T) {
	t.Parallel()

	_, err := async.ExecAny()
	assert.ErrorIs(t, err, async.ErrNoFutures)

	boom := errors.New("boom")
	i, err := async.ExecAny(async.Exec(context.Background(), 0, func(context.Context, int) error { return boom }))
	assert.Equal(t, 0, i)
	assert.ErrorIs(t, err, boom)
}
