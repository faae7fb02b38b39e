// Package completion provides a single-shot completion primitive for
// asynchronous platform calls.
package completion

import (
	"context"
	"sync"
)

// Future is resolved or rejected exactly once. Later attempts are ignored.
type Future[T any] struct {
	once sync.Once
	done chan struct{}
	val  T
	err  error
}

func New[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolved returns an already completed future.
func Resolved[T any](v T) *Future[T] {
	f := New[T]()
	f.Resolve(v)
	return f
}

// Rejected returns an already failed future.
func Rejected[T any](err error) *Future[T] {
	f := New[T]()
	f.Reject(err)
	return f
}

// Resolve completes the future with v. It reports whether this call won.
func (f *Future[T]) Resolve(v T) bool {
	return f.complete(v, nil)
}

// Reject completes the future with err. It reports whether this call won.
func (f *Future[T]) Reject(err error) bool {
	var zero T
	return f.complete(zero, err)
}

func (f *Future[T]) complete(v T, err error) bool {
	won := false
	f.once.Do(func() {
		f.val, f.err = v, err
		won = true
		close(f.done)
	})
	return won
}

// Done is closed once the future completes.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until completion or until ctx ends.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
