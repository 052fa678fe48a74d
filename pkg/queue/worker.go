package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/notifykit/pkg/logger"
	"github.com/dmitrymomot/notifykit/pkg/retry"
)

// Worker claims tasks for its registered handlers and runs them. It can poll
// on its own (Start, Run) or be driven one task at a time with ProcessNext.
type Worker struct {
	repo     WorkerRepository
	handlers map[string]Handler
	policies map[string]RetryPolicy
	queues   []string
	workerID uuid.UUID
	sem      chan struct{}
	wg       sync.WaitGroup
	mu       sync.RWMutex
	stopMu   sync.Mutex

	pullInterval  time.Duration
	lockTimeout   time.Duration
	defaultPolicy RetryPolicy
	now           func() time.Time
	logger        *slog.Logger

	ctx      context.Context
	cancel   context.CancelFunc
	stopping atomic.Bool
}

func NewWorker(repo WorkerRepository, opts ...WorkerOption) (*Worker, error) {
	if repo == nil {
		return nil, ErrRepositoryNil
	}

	options := &workerOptions{
		queues:             []string{DefaultQueueName},
		pullInterval:       5 * time.Second,
		lockTimeout:        5 * time.Minute,
		maxConcurrentTasks: 1,
		defaultPolicy:      DefaultRetryPolicy,
		policies:           make(map[string]RetryPolicy),
		now:                time.Now,
		logger:             slog.Default(),
	}
	for _, opt := range opts {
		opt(options)
	}
	if !options.defaultPolicy.Valid() {
		return nil, ErrInvalidRetryPolicy
	}
	for _, p := range options.policies {
		if !p.Valid() {
			return nil, ErrInvalidRetryPolicy
		}
	}

	return &Worker{
		repo:          repo,
		handlers:      make(map[string]Handler),
		policies:      options.policies,
		queues:        options.queues,
		workerID:      uuid.New(),
		sem:           make(chan struct{}, options.maxConcurrentTasks),
		pullInterval:  options.pullInterval,
		lockTimeout:   options.lockTimeout,
		defaultPolicy: options.defaultPolicy,
		now:           options.now,
		logger:        options.logger.With(logger.Component("queue.worker")),
	}, nil
}

// RegisterHandler registers h under h.Name(), replacing any previous handler.
func (w *Worker) RegisterHandler(h Handler) error {
	if h == nil {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.handlers[h.Name()] = h
	return nil
}

func (w *Worker) RegisterHandlers(handlers ...Handler) error {
	for _, h := range handlers {
		if err := w.RegisterHandler(h); err != nil {
			return err
		}
	}
	return nil
}

// Start launches the polling loop in the background.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.cancel != nil {
		w.mu.Unlock()
		return ErrWorkerStarted
	}
	if len(w.handlers) == 0 {
		w.mu.Unlock()
		return ErrNoHandlers
	}
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.mu.Unlock()

	w.stopping.Store(false)
	go w.run()

	w.logger.LogAttrs(ctx, slog.LevelInfo, "worker started",
		slog.String("worker_id", w.workerID.String()),
		slog.Any("queues", w.queues),
		slog.Int("max_concurrent", cap(w.sem)))

	return nil
}

// Stop cancels polling and waits for in-flight tasks.
func (w *Worker) Stop() error {
	w.mu.Lock()
	if w.cancel == nil {
		w.mu.Unlock()
		return ErrWorkerNotStarted
	}

	w.stopMu.Lock()
	w.stopping.Store(true)
	w.stopMu.Unlock()

	cancel := w.cancel
	w.cancel = nil
	w.mu.Unlock()

	cancel()
	w.wg.Wait()

	w.logger.LogAttrs(context.Background(), slog.LevelInfo, "worker stopped",
		slog.String("worker_id", w.workerID.String()))

	return nil
}

// Run returns a function for errgroup-style supervisors: it starts the
// worker, blocks until ctx ends, then stops it.
func (w *Worker) Run(ctx context.Context) func() error {
	return func() error {
		if err := w.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		return w.Stop()
	}
}

func (w *Worker) run() {
	ticker := time.NewTicker(w.pullInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			select {
			case w.sem <- struct{}{}:
				w.stopMu.Lock()
				if w.stopping.Load() {
					w.stopMu.Unlock()
					<-w.sem
					return
				}
				w.wg.Add(1)
				w.stopMu.Unlock()

				go func() {
					defer w.wg.Done()
					defer func() { <-w.sem }()

					if _, err := w.ProcessNext(w.ctx); err != nil && !errors.Is(err, context.Canceled) {
						w.logger.LogAttrs(w.ctx, slog.LevelError, "failed to process task",
							slog.String("worker_id", w.workerID.String()),
							logger.Error(err))
					}
				}()
			default:
				w.logger.LogAttrs(w.ctx, slog.LevelDebug, "all worker slots busy, skipping tick",
					slog.String("worker_id", w.workerID.String()))
			}
		}
	}
}

// ProcessNext claims one due task among the registered handler names, runs
// it and records the outcome. It reports false when nothing was due.
// Handler failures are recorded on the task and do not produce an error.
func (w *Worker) ProcessNext(ctx context.Context) (bool, error) {
	names := w.handlerNames()
	if len(names) == 0 {
		return false, ErrNoHandlers
	}

	task, err := w.repo.ClaimTask(ctx, w.workerID, w.queues, names, w.lockTimeout)
	if err != nil {
		if errors.Is(err, ErrNoTaskToClaim) {
			return false, nil
		}
		return false, errors.Join(ErrFailedToClaimTask, err)
	}
	if task == nil {
		return false, nil
	}

	w.logger.LogAttrs(ctx, slog.LevelDebug, "claimed task",
		logger.TaskID(task.ID),
		logger.TaskName(task.TaskName),
		slog.String("queue", task.Queue))

	return true, w.processTask(ctx, task)
}

func (w *Worker) handlerNames() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return slices.Sorted(maps.Keys(w.handlers))
}

func (w *Worker) processTask(ctx context.Context, task *Task) (retErr error) {
	start := time.Now()
	// Bookkeeping must land even when the caller is shutting down.
	bg := context.WithoutCancel(ctx)

	defer func() {
		if r := recover(); r != nil {
			w.logger.LogAttrs(bg, slog.LevelError, "handler panicked",
				logger.TaskID(task.ID),
				logger.TaskName(task.TaskName),
				slog.Any("panic", r))
			retErr = w.handleTaskFailure(bg, task, fmt.Errorf("panic in handler: %v", r), time.Since(start))
		}
	}()

	w.mu.RLock()
	handler, ok := w.handlers[task.TaskName]
	w.mu.RUnlock()
	if !ok {
		w.logger.LogAttrs(bg, slog.LevelError, "no handler registered for task",
			logger.TaskID(task.ID),
			logger.TaskName(task.TaskName))
		if err := w.handleTaskFailure(bg, task, retry.Terminal(ErrHandlerNotFound), time.Since(start)); err != nil {
			return err
		}
		return ErrHandlerNotFound
	}

	hctx, cancel := context.WithTimeout(bg, w.lockTimeout)
	defer cancel()

	if err := handler.Handle(hctx, task.Payload); err != nil {
		return w.handleTaskFailure(bg, task, err, time.Since(start))
	}

	if err := w.repo.CompleteTask(bg, task.ID); err != nil {
		return errors.Join(ErrFailedToUpdateTask, fmt.Errorf("complete task %s: %w", task.ID, err))
	}

	w.logger.LogAttrs(bg, slog.LevelInfo, "task completed",
		logger.TaskID(task.ID),
		logger.TaskName(task.TaskName),
		logger.Duration(time.Since(start)))

	return nil
}

// handleTaskFailure reschedules the task per its retry policy, or fails it
// and moves it to the dead letter queue when retries are exhausted or the
// error is terminal.
func (w *Worker) handleTaskFailure(ctx context.Context, task *Task, execErr error, duration time.Duration) error {
	var nextRunAt *time.Time
	if task.CanRetry() && !retry.IsTerminal(execErr) {
		at := w.now().Add(w.policyFor(task.TaskName).Delay(int(task.RetryCount)))
		nextRunAt = &at
	}

	if err := w.repo.FailTask(ctx, task.ID, execErr.Error(), nextRunAt); err != nil {
		return errors.Join(ErrFailedToUpdateTask, fmt.Errorf("fail task %s: %w", task.ID, err))
	}

	if nextRunAt != nil {
		w.logger.LogAttrs(ctx, slog.LevelWarn, "task failed, retry scheduled",
			logger.TaskID(task.ID),
			logger.TaskName(task.TaskName),
			logger.RetryCount(int(task.RetryCount)+1),
			logger.Duration(duration),
			slog.Time("next_run_at", *nextRunAt),
			logger.Error(execErr))
		return nil
	}

	if err := w.repo.MoveToDLQ(ctx, task.ID); err != nil {
		return errors.Join(ErrFailedToMoveToDLQ, fmt.Errorf("task %s: %w", task.ID, err))
	}

	w.logger.LogAttrs(ctx, slog.LevelError, "task moved to dead letter queue",
		logger.TaskID(task.ID),
		logger.TaskName(task.TaskName),
		logger.RetryCount(int(task.RetryCount)+1),
		logger.Duration(duration),
		logger.Error(execErr))

	return nil
}

func (w *Worker) policyFor(name string) RetryPolicy {
	if p, ok := w.policies[name]; ok {
		return p
	}
	return w.defaultPolicy
}

// ExtendLockForTask pushes out the lock of a long-running task.
func (w *Worker) ExtendLockForTask(ctx context.Context, taskID uuid.UUID, extension time.Duration) error {
	return w.repo.ExtendLock(ctx, taskID, extension)
}

// WorkerInfo returns the worker id, host name and process id.
func (w *Worker) WorkerInfo() (id string, hostname string, pid int) {
	hostname, _ = os.Hostname()
	return w.workerID.String(), hostname, os.Getpid()
}
