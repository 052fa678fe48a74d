package queue

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStorage implements Repository in process memory. Expired locks are
// detected at claim time, so no background goroutine is needed.
type MemoryStorage struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*Task
	dlq   map[uuid.UUID]*DeadTask
	now   func() time.Time
}

// MemoryStorageOption configures MemoryStorage.
type MemoryStorageOption func(*MemoryStorage)

// WithStorageClock sets the clock used for scheduling and lock checks.
func WithStorageClock(now func() time.Time) MemoryStorageOption {
	return func(ms *MemoryStorage) {
		if now != nil {
			ms.now = now
		}
	}
}

func NewMemoryStorage(opts ...MemoryStorageOption) *MemoryStorage {
	ms := &MemoryStorage{
		tasks: make(map[uuid.UUID]*Task),
		dlq:   make(map[uuid.UUID]*DeadTask),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(ms)
	}
	return ms
}

func (ms *MemoryStorage) CreateTask(_ context.Context, task *Task) error {
	if task == nil {
		return errors.New("task cannot be nil")
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, exists := ms.tasks[task.ID]; exists {
		return fmt.Errorf("task with ID %s already exists", task.ID)
	}

	cp := *task
	ms.tasks[task.ID] = &cp
	return nil
}

// ClaimTask picks the highest priority due task, earliest scheduled first.
func (ms *MemoryStorage) ClaimTask(_ context.Context, workerID uuid.UUID, queues, names []string, lockDuration time.Duration) (*Task, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := ms.now()
	var best *Task
	for _, task := range ms.tasks {
		if !claimable(task, now) {
			continue
		}
		if !slices.Contains(queues, task.Queue) {
			continue
		}
		if len(names) > 0 && !slices.Contains(names, task.TaskName) {
			continue
		}
		if best == nil || claimsBefore(task, best) {
			best = task
		}
	}

	if best == nil {
		return nil, ErrNoTaskToClaim
	}

	lockUntil := now.Add(lockDuration)
	best.Status = TaskStatusProcessing
	best.LockedUntil = &lockUntil
	best.LockedBy = &workerID

	cp := *best
	return &cp, nil
}

// claimsBefore orders by priority desc, scheduled_at asc, created_at asc.
func claimsBefore(a, b *Task) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.ScheduledAt.Equal(b.ScheduledAt) {
		return a.ScheduledAt.Before(b.ScheduledAt)
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

func claimable(t *Task, now time.Time) bool {
	switch t.Status {
	case TaskStatusPending:
		return !t.ScheduledAt.After(now)
	case TaskStatusProcessing:
		return t.LockedUntil != nil && t.LockedUntil.Before(now)
	default:
		return false
	}
}

func (ms *MemoryStorage) CompleteTask(_ context.Context, taskID uuid.UUID) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	task, err := ms.processing(taskID)
	if err != nil {
		return err
	}

	now := ms.now()
	task.Status = TaskStatusCompleted
	task.ProcessedAt = &now
	task.LockedUntil = nil
	task.LockedBy = nil
	return nil
}

func (ms *MemoryStorage) FailTask(_ context.Context, taskID uuid.UUID, errMsg string, nextRunAt *time.Time) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	task, err := ms.processing(taskID)
	if err != nil {
		return err
	}

	task.RetryCount++
	task.Error = &errMsg
	task.LockedUntil = nil
	task.LockedBy = nil

	if nextRunAt != nil {
		task.Status = TaskStatusPending
		task.ScheduledAt = *nextRunAt
		return nil
	}

	now := ms.now()
	task.Status = TaskStatusFailed
	task.ProcessedAt = &now
	return nil
}

func (ms *MemoryStorage) MoveToDLQ(_ context.Context, taskID uuid.UUID) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	task, ok := ms.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	if task.Status != TaskStatusFailed {
		return ErrInvalidTaskState
	}

	now := ms.now()
	dead := &DeadTask{
		ID:         uuid.New(),
		TaskID:     task.ID,
		Queue:      task.Queue,
		TaskType:   task.TaskType,
		TaskName:   task.TaskName,
		Payload:    task.Payload,
		Priority:   task.Priority,
		RetryCount: task.RetryCount,
		FailedAt:   now,
		CreatedAt:  now,
	}
	if task.Error != nil {
		dead.Error = *task.Error
	}

	ms.dlq[dead.ID] = dead
	delete(ms.tasks, taskID)
	return nil
}

func (ms *MemoryStorage) ExtendLock(_ context.Context, taskID uuid.UUID, duration time.Duration) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	task, err := ms.processing(taskID)
	if err != nil {
		return err
	}

	lockUntil := ms.now().Add(duration)
	task.LockedUntil = &lockUntil
	return nil
}

func (ms *MemoryStorage) GetPendingTaskByName(_ context.Context, taskName string) (*Task, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	for _, task := range ms.tasks {
		if task.TaskName != taskName {
			continue
		}
		if task.Status == TaskStatusPending || task.Status == TaskStatusProcessing {
			cp := *task
			return &cp, nil
		}
	}
	return nil, ErrTaskNotFound
}

// PurgeTasks drops completed and failed tasks processed before the cutoff
// along with dead letters older than it.
func (ms *MemoryStorage) PurgeTasks(_ context.Context, before time.Time) (int64, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	var n int64
	for id, task := range ms.tasks {
		if task.Status != TaskStatusCompleted && task.Status != TaskStatusFailed {
			continue
		}
		if task.ProcessedAt != nil && task.ProcessedAt.Before(before) {
			delete(ms.tasks, id)
			n++
		}
	}
	for id, dead := range ms.dlq {
		if dead.FailedAt.Before(before) {
			delete(ms.dlq, id)
			n++
		}
	}
	return n, nil
}

// Task returns a copy of the task with the given id.
func (ms *MemoryStorage) Task(taskID uuid.UUID) (*Task, bool) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	task, ok := ms.tasks[taskID]
	if !ok {
		return nil, false
	}
	cp := *task
	return &cp, true
}

// Tasks returns copies of all tasks, oldest first.
func (ms *MemoryStorage) Tasks() []Task {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	out := make([]Task, 0, len(ms.tasks))
	for _, t := range ms.tasks {
		out = append(out, *t)
	}
	slices.SortFunc(out, func(a, b Task) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out
}

// DeadTasks returns copies of all dead-letter entries.
func (ms *MemoryStorage) DeadTasks() []DeadTask {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	out := make([]DeadTask, 0, len(ms.dlq))
	for _, d := range ms.dlq {
		out = append(out, *d)
	}
	return out
}

func (ms *MemoryStorage) processing(taskID uuid.UUID) (*Task, error) {
	task, ok := ms.tasks[taskID]
	if !ok {
		return nil, ErrTaskNotFound
	}
	if task.Status != TaskStatusProcessing {
		return nil, ErrInvalidTaskState
	}
	return task, nil
}
