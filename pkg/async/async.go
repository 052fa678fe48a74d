package async

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmitrymomot/notifykit/pkg/logger"
)

// Future represents the result of an asynchronous computation.
type Future[U any] struct {
	result U
	err    error
	done   chan struct{}
}

// Await waits for the computation to complete and returns its result and error.
func (f *Future[U]) Await() (U, error) {
	<-f.done
	return f.result, f.err
}

// AwaitWithTimeout waits at most timeout for the computation.
// Returns ErrTimeout if it has not finished by then.
func (f *Future[U]) AwaitWithTimeout(timeout time.Duration) (U, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-time.After(timeout):
		var zero U
		return zero, ErrTimeout
	}
}

// IsComplete reports whether the computation has finished without blocking.
func (f *Future[U]) IsComplete() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Run executes fn in its own goroutine and returns a Future for its result.
// A panic inside fn completes the Future with an error wrapping ErrPanic.
func Run[U any](ctx context.Context, fn func(context.Context) (U, error)) *Future[U] {
	f := &Future[U]{done: make(chan struct{})}

	go func() {
		defer close(f.done)
		defer func() {
			if r := recover(); r != nil {
				var zero U
				f.result = zero
				f.err = fmt.Errorf("%w: %v", ErrPanic, r)
			}
		}()

		if err := ctx.Err(); err != nil {
			f.err = err
			return
		}

		f.result, f.err = fn(ctx)
	}()

	return f
}

// Go starts a best-effort background task that nobody waits for.
// Errors and panics are logged and never propagated to the caller.
// The task runs with a context detached from the caller's cancellation.
func Go(ctx context.Context, log *slog.Logger, name string, fn func(context.Context) error) {
	if log == nil {
		log = slog.Default()
	}
	ctx = context.WithoutCancel(ctx)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.LogAttrs(ctx, slog.LevelError, "background task panicked",
					logger.Component(name),
					slog.Any("panic", r),
				)
			}
		}()

		if err := fn(ctx); err != nil {
			log.LogAttrs(ctx, slog.LevelWarn, "background task failed",
				logger.Component(name),
				logger.Error(err),
			)
		}
	}()
}
