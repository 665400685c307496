// Package stream holds the relay's reactive plumbing on samber/ro: the
// shutdown signal stream and event coalescing for file watchers.
package stream

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/samber/ro"
)

// ShutdownSignals are the OS signals that trigger graceful shutdown.
var ShutdownSignals = []os.Signal{
	syscall.SIGINT,
	syscall.SIGTERM,
}

// Signals emits the first of the given signals received, then completes.
// It errors with the subscriber's context error if that ends first.
func Signals(signals ...os.Signal) ro.Observable[os.Signal] {
	return ro.NewObservableWithContext(func(ctx context.Context, observer ro.Observer[os.Signal]) ro.Teardown {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, signals...)
		done := make(chan struct{})

		go func() {
			select {
			case sig := <-ch:
				observer.NextWithContext(ctx, sig)
				observer.CompleteWithContext(ctx)
			case <-ctx.Done():
				observer.ErrorWithContext(ctx, ctx.Err())
			case <-done:
			}
		}()

		return func() {
			signal.Stop(ch)
			close(done)
		}
	})
}

// WaitForShutdown blocks until SIGINT or SIGTERM arrives or ctx ends.
func WaitForShutdown(ctx context.Context) (os.Signal, error) {
	results, _, err := ro.CollectWithContext(ctx, Signals(ShutdownSignals...))
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, ctx.Err()
	}
	return results[0], nil
}
