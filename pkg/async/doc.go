// Package async runs functions in goroutines and hands back futures.
//
//	f := async.Async(ctx, host, lookup)
//	// ...
//	info, err := f.Await()
//
// Exec is the error-only variant. WaitAll and ExecAll wait for every future
// so that one failure never leaves siblings running unobserved; ExecAll joins
// all errors with errors.Join.
//
// A context cancelled before a function starts completes its future with the
// context error and the function is never called.
package async
