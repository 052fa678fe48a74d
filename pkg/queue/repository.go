package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EnqueuerRepository persists new tasks.
type EnqueuerRepository interface {
	CreateTask(ctx context.Context, task *Task) error
}

// WorkerRepository is what a Worker needs from storage.
type WorkerRepository interface {
	// ClaimTask atomically picks the next due task and locks it for
	// lockDuration. Tasks whose lock expired are claimable again. An empty
	// names slice means any task name. Returns ErrNoTaskToClaim when idle.
	ClaimTask(ctx context.Context, workerID uuid.UUID, queues, names []string, lockDuration time.Duration) (*Task, error)

	CompleteTask(ctx context.Context, taskID uuid.UUID) error

	// FailTask records errMsg and increments the retry count. A non-nil
	// nextRunAt puts the task back to pending at that time, nil marks it failed.
	FailTask(ctx context.Context, taskID uuid.UUID, errMsg string, nextRunAt *time.Time) error

	MoveToDLQ(ctx context.Context, taskID uuid.UUID) error
	ExtendLock(ctx context.Context, taskID uuid.UUID, duration time.Duration) error
}

// SchedulerRepository is what a Scheduler needs from storage.
type SchedulerRepository interface {
	CreateTask(ctx context.Context, task *Task) error

	// GetPendingTaskByName returns a pending or processing task with the
	// given name, or ErrTaskNotFound.
	GetPendingTaskByName(ctx context.Context, taskName string) (*Task, error)
}

// PurgeRepository removes finished tasks and dead letters.
type PurgeRepository interface {
	PurgeTasks(ctx context.Context, before time.Time) (int64, error)
}

// Repository is implemented by MemoryStorage and PostgresStorage.
type Repository interface {
	EnqueuerRepository
	WorkerRepository
	SchedulerRepository
	PurgeRepository
}
