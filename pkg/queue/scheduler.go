package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/notifykit/pkg/logger"
)

// Scheduler turns registered periodic tasks into pending tasks when they
// come due. At most one pending instance per task name exists at a time.
type Scheduler struct {
	repo     SchedulerRepository
	tasks    map[string]*scheduledTask
	mu       sync.RWMutex
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

type scheduledTask struct {
	name            string
	schedule        Schedule
	queue           string
	priority        Priority
	maxRetries      int8
	lastScheduledAt *time.Time
}

func NewScheduler(repo SchedulerRepository, opts ...SchedulerOption) (*Scheduler, error) {
	if repo == nil {
		return nil, ErrRepositoryNil
	}

	options := &schedulerOptions{
		checkInterval: 30 * time.Second,
		now:           time.Now,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(options)
	}

	return &Scheduler{
		repo:     repo,
		tasks:    make(map[string]*scheduledTask),
		interval: options.checkInterval,
		now:      options.now,
		logger:   options.logger.With(logger.Component("queue.scheduler")),
	}, nil
}

// AddTask registers a periodic task. The name must match a handler created
// with NewPeriodicTaskHandler.
func (s *Scheduler) AddTask(name string, schedule Schedule, opts ...SchedulerTaskOption) error {
	if schedule == nil {
		return ErrInvalidSchedule
	}

	taskOpts := &schedulerTaskOptions{
		queue:      DefaultQueueName,
		priority:   PriorityDefault,
		maxRetries: 3,
	}
	for _, opt := range opts {
		opt(taskOpts)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[name]; exists {
		return ErrTaskAlreadyRegistered
	}

	s.tasks[name] = &scheduledTask{
		name:       name,
		schedule:   schedule,
		queue:      taskOpts.queue,
		priority:   taskOpts.priority,
		maxRetries: taskOpts.maxRetries,
	}

	s.logger.LogAttrs(context.Background(), slog.LevelInfo, "registered periodic task",
		logger.TaskName(name),
		slog.String("schedule", schedule.String()))

	return nil
}

// Start checks due tasks immediately and then on every interval until ctx ends.
func (s *Scheduler) Start(ctx context.Context) error {
	if len(s.ListTasks()) == 0 {
		return ErrSchedulerNotConfigured
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.CheckTasks(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.LogAttrs(context.WithoutCancel(ctx), slog.LevelInfo, "scheduler shutting down")
			return ctx.Err()
		case <-ticker.C:
			s.CheckTasks(ctx)
		}
	}
}

// CheckTasks creates every periodic task that is due. Hosts without a
// long-lived process call it from their external trigger.
func (s *Scheduler) CheckTasks(ctx context.Context) {
	s.mu.RLock()
	tasks := slices.Collect(maps.Values(s.tasks))
	s.mu.RUnlock()

	now := s.now()
	for _, task := range tasks {
		if err := s.scheduleTaskIfNeeded(ctx, task, now); err != nil {
			s.logger.LogAttrs(ctx, slog.LevelError, "failed to schedule task",
				logger.TaskName(task.name),
				logger.Error(err))
		}
	}
}

func (s *Scheduler) scheduleTaskIfNeeded(ctx context.Context, task *scheduledTask, now time.Time) error {
	s.mu.RLock()
	last := task.lastScheduledAt
	s.mu.RUnlock()

	var nextRun time.Time
	if last == nil {
		nextRun = task.schedule.Next(now)
	} else {
		nextRun = task.schedule.Next(*last)
		if nextRun.After(now) {
			return nil
		}
	}

	existing, err := s.repo.GetPendingTaskByName(ctx, task.name)
	switch {
	case err == nil && existing != nil:
		s.setLastScheduled(task.name, existing.ScheduledAt)
		return nil
	case err != nil && !errors.Is(err, ErrTaskNotFound):
		return fmt.Errorf("lookup pending %q: %w", task.name, err)
	}

	if err := s.repo.CreateTask(ctx, &Task{
		ID:          uuid.New(),
		Queue:       task.queue,
		TaskType:    TaskTypePeriodic,
		TaskName:    task.name,
		Status:      TaskStatusPending,
		Priority:    task.priority,
		MaxRetries:  task.maxRetries,
		ScheduledAt: nextRun,
		CreatedAt:   now,
	}); err != nil {
		return errors.Join(ErrTaskCreate, err)
	}
	s.setLastScheduled(task.name, nextRun)

	s.logger.LogAttrs(ctx, slog.LevelDebug, "created periodic task",
		logger.TaskName(task.name),
		slog.Time("scheduled_for", nextRun))

	return nil
}

func (s *Scheduler) setLastScheduled(name string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.tasks[name]; ok {
		t.lastScheduledAt = &at
	}
}

func (s *Scheduler) RemoveTask(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, name)
}

// ListTasks returns registered task names in sorted order.
func (s *Scheduler) ListTasks() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.tasks))
}
