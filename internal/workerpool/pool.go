// Package workerpool provides the bounded pool every potentially blocking
// handler operation is submitted to. The pool caps how many operations run at
// once; callers wait for a result with a bound and may abandon the wait
// without stopping the work.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrTimeout classifies errors returned when a bounded wait expires.
var ErrTimeout = errors.New("execution timed out")

// TimeoutError is returned by Run when the bound elapses before fn returns.
type TimeoutError struct {
	Bound time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("execution >%s", e.Bound)
}

// Is makes errors.Is(err, ErrTimeout) hold for every TimeoutError.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// PanicError wraps a panic raised by submitted work.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Result is the outcome of one submitted function.
type Result[T any] struct {
	Value T
	Err   error
}

// Pool is a bounded worker pool.
type Pool struct {
	size int64
	sem  *semaphore.Weighted
}

// New creates a pool running at most size functions concurrently.
func New(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		size: int64(size),
		sem:  semaphore.NewWeighted(int64(size)),
	}
}

// Size returns the pool capacity.
func (p *Pool) Size() int {
	return int(p.size)
}

// Go waits for a free slot and runs fn on it. The returned channel receives
// exactly one Result and is buffered, so nobody has to read it.
func Go[T any](ctx context.Context, p *Pool, fn func(ctx context.Context) (T, error)) <-chan Result[T] {
	out := make(chan Result[T], 1)
	if err := p.sem.Acquire(ctx, 1); err != nil {
		out <- Result[T]{Err: err}
		return out
	}

	go func() {
		defer p.sem.Release(1)
		var res Result[T]
		defer func() {
			if r := recover(); r != nil {
				res = Result[T]{Err: &PanicError{Value: r, Stack: debug.Stack()}}
			}
			out <- res
		}()
		res.Value, res.Err = fn(ctx)
	}()
	return out
}

// Run submits fn and waits at most timeout for its result. On expiry a
// *TimeoutError is returned together with a channel delivering the eventual
// result. fn is not stopped, but the context passed to it is cancelled once
// Run returns. The channel is nil unless Run gave up waiting.
func Run[T any](ctx context.Context, p *Pool, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, <-chan Result[T], error) {
	var zero T

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := Go(waitCtx, p, fn)
	select {
	case res := <-done:
		if res.Err != nil && errors.Is(res.Err, context.DeadlineExceeded) && waitCtx.Err() != nil && ctx.Err() == nil {
			return zero, replay(res), &TimeoutError{Bound: timeout}
		}
		return res.Value, nil, res.Err
	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return zero, done, ctx.Err()
		}
		return zero, done, &TimeoutError{Bound: timeout}
	}
}

func replay[T any](res Result[T]) <-chan Result[T] {
	out := make(chan Result[T], 1)
	out <- res
	return out
}
