// Package deadline bounds a single external call by a timeout.
package deadline

import (
	"context"
	"errors"
	"time"
)

var ErrTimeout = errors.New("operation timed out")

type result[T any] struct {
	v   T
	err error
}

// Do runs fn and returns its result, or ErrTimeout once d elapses. The
// context handed to fn is cancelled on timeout, but Do does not wait for fn
// to notice: a call that ignores its context is simply abandoned.
// A non-positive d disables the timeout.
func Do[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if d <= 0 {
		return fn(ctx)
	}

	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	ch := make(chan result[T], 1)
	go func() {
		v, err := fn(ctx)
		ch <- result[T]{v, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return r.v, ErrTimeout
		}
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, ErrTimeout
		}
		return zero, ctx.Err()
	}
}
