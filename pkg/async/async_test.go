package async_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/notifykit/pkg/async"
)

func TestRun(t *testing.T) {
	t.Parallel()

	t.Run("returns result", func(t *testing.T) {
		t.Parallel()

		f := async.Run(context.Background(), func(ctx context.Context) (int, error) {
			time.Sleep(10 * time.Millisecond)
			return 42, nil
		})
		v, err := f.Await()
		require.NoError(t, err)
		assert.Equal(t, 42, v)
		assert.True(t, f.IsComplete())
	})

	t.Run("propagates error", func(t *testing.T) {
		t.Parallel()

		boom := errors.New("boom")
		_, err := async.Run(context.Background(), func(ctx context.Context) (int, error) {
			return 0, boom
		}).Await()
		assert.ErrorIs(t, err, boom)
	})

	t.Run("recovers panic", func(t *testing.T) {
		t.Parallel()

		_, err := async.Run(context.Background(), func(ctx context.Context) (string, error) {
			panic("bad")
		}).Await()
		assert.ErrorIs(t, err, async.ErrPanic)
	})

	t.Run("canceled context", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		called := false
		_, err := async.Run(ctx, func(ctx context.Context) (int, error) {
			called = true
			return 1, nil
		}).Await()
		assert.ErrorIs(t, err, context.Canceled)
		assert.False(t, called)
	})

	t.Run("await timeout", func(t *testing.T) {
		t.Parallel()

		release := make(chan struct{})
		defer close(release)

		f := async.Run(context.Background(), func(ctx context.Context) (int, error) {
			<-release
			return 1, nil
		})
		_, err := f.AwaitWithTimeout(10 * time.Millisecond)
		assert.ErrorIs(t, err, async.ErrTimeout)
	})
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestGo(t *testing.T) {
	t.Parallel()

	t.Run("runs detached from cancellation", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		done := make(chan error, 1)
		async.Go(ctx, nil, "test", func(ctx context.Context) error {
			done <- ctx.Err()
			return nil
		})

		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("task did not run")
		}
	})

	t.Run("contains panics and errors", func(t *testing.T) {
		t.Parallel()

		out := &syncBuffer{}
		log := slog.New(slog.NewTextHandler(out, nil))

		async.Go(context.Background(), log, "panicker", func(ctx context.Context) error {
			panic("kaboom")
		})
		async.Go(context.Background(), log, "failer", func(ctx context.Context) error {
			return errors.New("nope")
		})

		assert.Eventually(t, func() bool {
			s := out.String()
			return bytes.Contains([]byte(s), []byte("background task panicked")) &&
				bytes.Contains([]byte(s), []byte("background task failed"))
		}, time.Second, 5*time.Millisecond)
	})
}
