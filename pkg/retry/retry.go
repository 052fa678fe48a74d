package retry

import (
	"context"
	"time"
)

// Config defines retry defaults loadable from the environment.
type Config struct {
	MaxAttempts int           `env:"RETRY_MAX_ATTEMPTS" envDefault:"3"`
	BaseDelay   time.Duration `env:"RETRY_BASE_DELAY" envDefault:"1s"`
	MaxDelay    time.Duration `env:"RETRY_MAX_DELAY" envDefault:"30s"`
}

// Hook observes a failed attempt that is about to be retried after delay.
type Hook func(attempt int, delay time.Duration, err error)

type options struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	retryable   func(error) bool
	onRetry     Hook
}

// Option configures a single Do call.
type Option func(*options)

// WithConfig applies all non-zero values of cfg.
func WithConfig(cfg Config) Option {
	return func(o *options) {
		WithMaxAttempts(cfg.MaxAttempts)(o)
		WithBaseDelay(cfg.BaseDelay)(o)
		WithMaxDelay(cfg.MaxDelay)(o)
	}
}

// WithMaxAttempts sets the total number of attempts, including the first one.
func WithMaxAttempts(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

func WithBaseDelay(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.baseDelay = d
		}
	}
}

func WithMaxDelay(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.maxDelay = d
		}
	}
}

// WithClassifier replaces the default IsRetryable classifier.
func WithClassifier(retryable func(error) bool) Option {
	return func(o *options) {
		if retryable != nil {
			o.retryable = retryable
		}
	}
}

// WithOnRetry registers a hook invoked before each backoff sleep.
func WithOnRetry(h Hook) Option {
	return func(o *options) {
		o.onRetry = h
	}
}

func defaultOptions() *options {
	return &options{
		maxAttempts: 3,
		baseDelay:   time.Second,
		maxDelay:    30 * time.Second,
		retryable:   IsRetryable,
	}
}

// Do runs op until it succeeds, fails with a terminal error, or the attempt
// budget is spent. Terminal errors return immediately. After the last attempt
// the last error is returned as is so callers can still classify it.
func Do(ctx context.Context, op func(ctx context.Context) error, opts ...Option) error {
	_, err := DoValue(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	}, opts...)
	return err
}

// DoValue is Do for operations that return a value.
func DoValue[T any](ctx context.Context, op func(ctx context.Context) (T, error), opts ...Option) (T, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	var (
		zero    T
		lastErr error
	)
	for attempt := range o.maxAttempts {
		res, err := op(ctx)
		if err == nil {
			return res, nil
		}
		lastErr = err

		if !o.retryable(err) || attempt == o.maxAttempts-1 {
			return zero, err
		}
		if ctx.Err() != nil {
			return zero, err
		}

		delay := Backoff(attempt, o.baseDelay, o.maxDelay)
		if o.onRetry != nil {
			o.onRetry(attempt+1, delay, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, err
		case <-timer.C:
		}
	}

	return zero, lastErr
}
