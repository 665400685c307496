package stream

import (
	"context"
	"time"

	"github.com/samber/ro"
)

// Coalesce groups values from ch into batches, emitting when window elapses
// or maxItems values are pending. Empty windows are dropped. The stream
// completes once ch is closed and the final batch is flushed.
func Coalesce[T any](ch <-chan T, window time.Duration, maxItems int) ro.Observable[[]T] {
	if maxItems <= 0 {
		maxItems = 1
	}
	return ro.Pipe2(
		ro.FromChannel(ch),
		ro.BufferWithTimeOrCount[T](maxItems, window),
		ro.Filter(func(batch []T) bool { return len(batch) > 0 }),
	)
}

// Each subscribes fn to every value of source and blocks until the stream
// completes, errors or ctx ends.
func Each[T any](ctx context.Context, source ro.Observable[T], fn func(T)) error {
	done := make(chan error, 1)
	sub := source.SubscribeWithContext(ctx, ro.NewObserverWithContext(
		func(_ context.Context, v T) { fn(v) },
		func(_ context.Context, err error) { done <- err },
		func(context.Context) { done <- nil },
	))
	defer sub.Unsubscribe()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
