package device

import (
	"context"
	"errors"
	"fmt"
)

// Call runs a blocking backend operation and returns early when ctx ends.
// The operation keeps running in the background after a timeout; its result
// is discarded.
func Call[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		val T
		err error
	}
	resultCh := make(chan result, 1)

	go func() {
		v, err := fn()
		resultCh <- result{val: v, err: err}
	}()

	select {
	case r := <-resultCh:
		return r.val, r.err
	case <-ctx.Done():
		var zero T
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
		}
		return zero, ctx.Err()
	}
}

// Do is Call for operations without a result value.
func Do(ctx context.Context, fn func() error) error {
	_, err := Call(ctx, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}
