package queue

import (
	"log/slog"
	"time"
)

// WorkerOption configures a Worker.
type WorkerOption func(*workerOptions)

type workerOptions struct {
	queues             []string
	pullInterval       time.Duration
	lockTimeout        time.Duration
	maxConcurrentTasks int
	defaultPolicy      RetryPolicy
	policies           map[string]RetryPolicy
	now                func() time.Time
	logger             *slog.Logger
}

// WithWorkerConfig applies poll interval, lock timeout and concurrency from cfg.
func WithWorkerConfig(cfg Config) WorkerOption {
	return func(o *workerOptions) {
		if cfg.PollInterval > 0 {
			o.pullInterval = cfg.PollInterval
		}
		if cfg.LockTimeout > 0 {
			o.lockTimeout = cfg.LockTimeout
		}
		if cfg.MaxConcurrentTasks > 0 {
			o.maxConcurrentTasks = cfg.MaxConcurrentTasks
		}
	}
}

func WithQueues(queues ...string) WorkerOption {
	return func(o *workerOptions) {
		if len(queues) > 0 {
			o.queues = queues
		}
	}
}

func WithPullInterval(d time.Duration) WorkerOption {
	return func(o *workerOptions) {
		if d > 0 {
			o.pullInterval = d
		}
	}
}

// WithLockTimeout sets how long a claimed task stays locked. It also bounds
// the handler's run time.
func WithLockTimeout(d time.Duration) WorkerOption {
	return func(o *workerOptions) {
		if d > 0 {
			o.lockTimeout = d
		}
	}
}

func WithMaxConcurrentTasks(n int) WorkerOption {
	return func(o *workerOptions) {
		if n > 0 {
			o.maxConcurrentTasks = n
		}
	}
}

// WithRetryPolicy sets the retry delays for tasks named taskName.
func WithRetryPolicy(taskName string, p RetryPolicy) WorkerOption {
	return func(o *workerOptions) {
		o.policies[taskName] = p
	}
}

// WithDefaultRetryPolicy replaces DefaultRetryPolicy for tasks without their own.
func WithDefaultRetryPolicy(p RetryPolicy) WorkerOption {
	return func(o *workerOptions) {
		o.defaultPolicy = p
	}
}

// WithWorkerClock sets the clock used to compute retry times.
func WithWorkerClock(now func() time.Time) WorkerOption {
	return func(o *workerOptions) {
		if now != nil {
			o.now = now
		}
	}
}

func WithWorkerLogger(logger *slog.Logger) WorkerOption {
	return func(o *workerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}
