package retry_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/notifykit/pkg/retry"
)

func fast() []retry.Option {
	return []retry.Option{retry.WithBaseDelay(time.Millisecond), retry.WithMaxDelay(5 * time.Millisecond)}
}

func TestDo(t *testing.T) {
	t.Parallel()

	t.Run("succeeds after transient failures", func(t *testing.T) {
		t.Parallel()

		calls := 0
		err := retry.Do(context.Background(), func(ctx context.Context) error {
			calls++
			if calls < 3 {
				return errors.New("connection reset")
			}
			return nil
		}, fast()...)
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("returns last error unchanged when exhausted", func(t *testing.T) {
		t.Parallel()

		last := &retry.StatusError{StatusCode: http.StatusBadGateway}
		calls := 0
		err := retry.Do(context.Background(), func(ctx context.Context) error {
			calls++
			if calls == 3 {
				return last
			}
			return &retry.StatusError{StatusCode: http.StatusServiceUnavailable}
		}, fast()...)
		assert.Same(t, last, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("terminal errors consume no extra attempts", func(t *testing.T) {
		t.Parallel()

		terminal := []error{
			fmt.Errorf("bad payload: %w", retry.ErrValidation),
			retry.ErrUnauthorized,
			&retry.StatusError{StatusCode: http.StatusForbidden},
			&retry.StatusError{StatusCode: http.StatusBadRequest},
			retry.Terminal(errors.New("invalid token")),
		}
		for _, want := range terminal {
			calls := 0
			err := retry.Do(context.Background(), func(ctx context.Context) error {
				calls++
				return want
			}, fast()...)
			assert.ErrorIs(t, err, want)
			assert.Equal(t, 1, calls, "error %v", want)
		}
	})

	t.Run("rate limits are retried", func(t *testing.T) {
		t.Parallel()

		calls := 0
		err := retry.Do(context.Background(), func(ctx context.Context) error {
			calls++
			return &retry.StatusError{StatusCode: http.StatusTooManyRequests}
		}, append(fast(), retry.WithMaxAttempts(4))...)
		assert.Error(t, err)
		assert.Equal(t, 4, calls)
	})

	t.Run("on retry hook", func(t *testing.T) {
		t.Parallel()

		var attempts []int
		_ = retry.Do(context.Background(), func(ctx context.Context) error {
			return context.DeadlineExceeded
		}, append(fast(), retry.WithOnRetry(func(attempt int, _ time.Duration, _ error) {
			attempts = append(attempts, attempt)
		}))...)
		assert.Equal(t, []int{1, 2}, attempts)
	})

	t.Run("stops on canceled context", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		err := retry.Do(ctx, func(ctx context.Context) error {
			calls++
			cancel()
			return errors.New("network down")
		}, retry.WithBaseDelay(time.Hour))
		assert.EqualError(t, err, "network down")
		assert.Equal(t, 1, calls)
	})

	t.Run("custom classifier", func(t *testing.T) {
		t.Parallel()

		calls := 0
		_ = retry.Do(context.Background(), func(ctx context.Context) error {
			calls++
			return errors.New("anything")
		}, retry.WithClassifier(func(error) bool { return false }))
		assert.Equal(t, 1, calls)
	})
}

func TestDoValue(t *testing.T) {
	t.Parallel()

	calls := 0
	v, err := retry.DoValue(context.Background(), func(ctx context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("timeout")
		}
		return "msg-1", nil
	}, fast()...)
	require.NoError(t, err)
	assert.Equal(t, "msg-1", v)
}

func TestBackoff(t *testing.T) {
	t.Parallel()

	base := time.Second
	max := 30 * time.Second

	assert.Equal(t, time.Second, retry.ExponentialDelay(0, base, max))
	assert.Equal(t, 2*time.Second, retry.ExponentialDelay(1, base, max))
	assert.Equal(t, 16*time.Second, retry.ExponentialDelay(4, base, max))
	assert.Equal(t, max, retry.ExponentialDelay(5, base, max))
	assert.Equal(t, max, retry.ExponentialDelay(62, base, max))

	for attempt := range 10 {
		nominal := float64(retry.ExponentialDelay(attempt, base, max))
		for range 200 {
			d := float64(retry.Backoff(attempt, base, max))
			assert.GreaterOrEqual(t, d, 0.75*nominal)
			assert.LessOrEqual(t, d, 1.25*nominal)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err      error
		terminal bool
	}{
		{nil, false},
		{errors.New("dial tcp: i/o timeout"), false},
		{context.DeadlineExceeded, false},
		{&retry.StatusError{StatusCode: 500}, false},
		{&retry.StatusError{StatusCode: 408}, false},
		{&retry.StatusError{StatusCode: 425}, false},
		{&retry.StatusError{StatusCode: 429}, false},
		{&retry.StatusError{StatusCode: 401}, true},
		{&retry.StatusError{StatusCode: 404}, true},
		{fmt.Errorf("wrapped: %w", retry.ErrForbidden), true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.terminal, retry.IsTerminal(tt.err), "%v", tt.err)
	}

	assert.ErrorIs(t, &retry.StatusError{StatusCode: 401}, retry.ErrUnauthorized)
	assert.Nil(t, retry.Terminal(nil))
}
