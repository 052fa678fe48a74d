package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/notifykit/pkg/pg"
)

// PostgresStorage implements Repository on the queue_tasks and
// queue_tasks_dlq tables. Claims use FOR UPDATE SKIP LOCKED so concurrent
// workers never receive the same task.
type PostgresStorage struct {
	db  *pgxpool.Pool
	now func() time.Time
}

func NewPostgresStorage(db *pgxpool.Pool) *PostgresStorage {
	return &PostgresStorage{db: db, now: time.Now}
}

const taskColumns = `id, queue, task_type, task_name, payload, status, priority, retry_count, max_retries,
       scheduled_at, locked_until, locked_by, processed_at, error, created_at`

func (s *PostgresStorage) CreateTask(ctx context.Context, task *Task) error {
	if task == nil {
		return errors.New("task cannot be nil")
	}
	_, err := s.db.Exec(ctx, `
INSERT INTO queue_tasks (id, queue, task_type, task_name, payload, status, priority, retry_count, max_retries,
                         scheduled_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)`,
		task.ID, task.Queue, task.TaskType, task.TaskName, task.Payload, task.Status, task.Priority,
		task.RetryCount, task.MaxRetries, task.ScheduledAt, task.CreatedAt,
	)
	return err
}

func (s *PostgresStorage) ClaimTask(ctx context.Context, workerID uuid.UUID, queues, names []string, lockDuration time.Duration) (*Task, error) {
	now := s.now()
	if names == nil {
		names = []string{}
	}

	row := s.db.QueryRow(ctx, `
UPDATE queue_tasks
SET status = 'processing', locked_until = $4, locked_by = $5, updated_at = $3
WHERE id = (
    SELECT id FROM queue_tasks
    WHERE queue = ANY($1)
      AND (cardinality($2::text[]) = 0 OR task_name = ANY($2))
      AND ((status = 'pending' AND scheduled_at <= $3)
        OR (status = 'processing' AND locked_until < $3))
    ORDER BY priority DESC, scheduled_at ASC, created_at ASC
    LIMIT 1
    FOR UPDATE SKIP LOCKED
)
RETURNING `+taskColumns, queues, names, now, now.Add(lockDuration), workerID)

	task, err := scanTask(row)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, ErrNoTaskToClaim
		}
		return nil, err
	}
	return task, nil
}

func (s *PostgresStorage) CompleteTask(ctx context.Context, taskID uuid.UUID) error {
	return s.transition(ctx, `
UPDATE queue_tasks
SET status = 'completed', processed_at = $2, locked_until = NULL, locked_by = NULL, updated_at = $2
WHERE id = $1 AND status = 'processing'`, taskID, s.now())
}

func (s *PostgresStorage) FailTask(ctx context.Context, taskID uuid.UUID, errMsg string, nextRunAt *time.Time) error {
	now := s.now()
	if nextRunAt != nil {
		return s.transition(ctx, `
UPDATE queue_tasks
SET status = 'pending', retry_count = retry_count + 1, error = $2, scheduled_at = $3,
    locked_until = NULL, locked_by = NULL, updated_at = $4
WHERE id = $1 AND status = 'processing'`, taskID, errMsg, *nextRunAt, now)
	}
	return s.transition(ctx, `
UPDATE queue_tasks
SET status = 'failed', retry_count = retry_count + 1, error = $2, processed_at = $3,
    locked_until = NULL, locked_by = NULL, updated_at = $3
WHERE id = $1 AND status = 'processing'`, taskID, errMsg, now)
}

// MoveToDLQ copies a failed task into queue_tasks_dlq and deletes it in one
// transaction.
func (s *PostgresStorage) MoveToDLQ(ctx context.Context, taskID uuid.UUID) error {
	now := s.now()
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
INSERT INTO queue_tasks_dlq (id, task_id, queue, task_type, task_name, payload, priority, error, retry_count,
                             failed_at, created_at)
SELECT $2, id, queue, task_type, task_name, payload, priority, COALESCE(error, ''), retry_count, $3, $3
FROM queue_tasks
WHERE id = $1 AND status = 'failed'`, taskID, uuid.New(), now)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrInvalidTaskState
		}
		_, err = tx.Exec(ctx, `DELETE FROM queue_tasks WHERE id = $1`, taskID)
		return err
	})
}

func (s *PostgresStorage) ExtendLock(ctx context.Context, taskID uuid.UUID, duration time.Duration) error {
	now := s.now()
	return s.transition(ctx, `
UPDATE queue_tasks
SET locked_until = $2, updated_at = $3
WHERE id = $1 AND status = 'processing'`, taskID, now.Add(duration), now)
}

func (s *PostgresStorage) GetPendingTaskByName(ctx context.Context, taskName string) (*Task, error) {
	row := s.db.QueryRow(ctx, `
SELECT `+taskColumns+`
FROM queue_tasks
WHERE task_name = $1 AND status IN ('pending', 'processing')
ORDER BY scheduled_at
LIMIT 1`, taskName)

	task, err := scanTask(row)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	return task, nil
}

func (s *PostgresStorage) PurgeTasks(ctx context.Context, before time.Time) (int64, error) {
	var removed int64
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
DELETE FROM queue_tasks
WHERE status IN ('completed', 'failed') AND processed_at < $1`, before)
		if err != nil {
			return err
		}
		removed = tag.RowsAffected()

		tag, err = tx.Exec(ctx, `DELETE FROM queue_tasks_dlq WHERE failed_at < $1`, before)
		if err != nil {
			return err
		}
		removed += tag.RowsAffected()
		return nil
	})
	return removed, err
}

func (s *PostgresStorage) transition(ctx context.Context, sql string, args ...any) error {
	tag, err := s.db.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidTaskState
	}
	return nil
}

func scanTask(row pgx.Row) (*Task, error) {
	var t Task
	err := row.Scan(
		&t.ID, &t.Queue, &t.TaskType, &t.TaskName, &t.Payload, &t.Status, &t.Priority,
		&t.RetryCount, &t.MaxRetries, &t.ScheduledAt, &t.LockedUntil, &t.LockedBy,
		&t.ProcessedAt, &t.Error, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
