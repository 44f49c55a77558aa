package async

import "errors"

var (
	// ErrTimeout is returned by AwaitWithTimeout when the computation is still running.
	ErrTimeout = errors.New("async: timeout waiting for result")

	// ErrNoFutures is returned by WaitAny and ExecAny when called without futures.
	ErrNoFutures = errors.New("async: no futures provided")
)
