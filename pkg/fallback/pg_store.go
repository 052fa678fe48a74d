package fallback

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/notifykit/pkg/pg"
)

// PostgresStore keeps items in the notification_queue table. Dedup-key
// uniqueness is enforced by a partial unique index over active statuses.
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

const itemColumns = `id, user_id, notification_type, payload, priority, status, retry_count, max_retries,
       scheduled_for, dedup_key, COALESCE(last_error, ''), created_at, updated_at`

func (s *PostgresStore) Insert(ctx context.Context, item *Item) error {
	tag, err := s.db.Exec(ctx, `
INSERT INTO notification_queue
    (id, user_id, notification_type, payload, priority, status, retry_count, max_retries,
     scheduled_for, dedup_key, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (dedup_key) WHERE status IN ('pending', 'processing', 'sent') DO NOTHING`,
		item.ID, item.UserID, item.Type, []byte(item.Payload), item.Priority, item.Status,
		item.RetryCount, item.MaxRetries, item.ScheduledFor, item.DedupKey, item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		if pg.IsDuplicateKeyError(err) {
			return ErrDuplicate
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicate
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*Item, error) {
	row := s.db.QueryRow(ctx, `SELECT `+itemColumns+` FROM notification_queue WHERE id = $1`, id)
	return scanItem(row)
}

func (s *PostgresStore) FindActive(ctx context.Context, dedupKey string) (*Item, error) {
	row := s.db.QueryRow(ctx, `
SELECT `+itemColumns+`
FROM notification_queue
WHERE dedup_key = $1 AND status IN ('pending', 'processing', 'sent')
LIMIT 1`, dedupKey)
	return scanItem(row)
}

func (s *PostgresStore) ListDue(ctx context.Context, now, staleBefore time.Time, limit int) ([]Item, error) {
	rows, err := s.db.Query(ctx, `
SELECT `+itemColumns+`
FROM notification_queue
WHERE (status = 'pending' AND scheduled_for <= $1)
   OR (status = 'processing' AND updated_at < $2)
ORDER BY priority DESC, created_at ASC
LIMIT $3`, now, staleBefore, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *it)
	}
	return items, rows.Err()
}

// Claim is a compare-and-set on status, so two overlapping drains never both
// process the same item. Reclaiming a stale item counts as a retry.
func (s *PostgresStore) Claim(ctx context.Context, id uuid.UUID, now, staleBefore time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
UPDATE notification_queue
SET status = 'processing', updated_at = $2,
    retry_count = retry_count + CASE WHEN status = 'processing' THEN 1 ELSE 0 END
WHERE id = $1
  AND ((status = 'pending' AND scheduled_for <= $2)
    OR (status = 'processing' AND updated_at < $3))`, id, now, staleBefore)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) MarkSent(ctx context.Context, id uuid.UUID, now time.Time) error {
	return s.exec(ctx, `
UPDATE notification_queue
SET status = 'sent', last_error = NULL, updated_at = $2
WHERE id = $1 AND status = 'processing'`, id, now)
}

func (s *PostgresStore) Reschedule(ctx context.Context, id uuid.UUID, retryCount int, scheduledFor time.Time, errMsg string, now time.Time) error {
	return s.exec(ctx, `
UPDATE notification_queue
SET status = 'pending', retry_count = $2, scheduled_for = $3, last_error = $4, updated_at = $5
WHERE id = $1 AND status = 'processing'`, id, retryCount, scheduledFor, errMsg, now)
}

func (s *PostgresStore) MarkFailed(ctx context.Context, id uuid.UUID, retryCount int, errMsg string, now time.Time) error {
	return s.exec(ctx, `
UPDATE notification_queue
SET status = 'failed', retry_count = $2, last_error = $3, updated_at = $4
WHERE id = $1 AND status <> 'sent'`, id, retryCount, errMsg, now)
}

func (s *PostgresStore) Purge(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `
DELETE FROM notification_queue
WHERE status IN ('sent', 'failed') AND updated_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) exec(ctx context.Context, sql string, args ...any) error {
	tag, err := s.db.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidTransition
	}
	return nil
}

func scanItem(row pgx.Row) (*Item, error) {
	var (
		it      Item
		payload []byte
	)
	err := row.Scan(
		&it.ID, &it.UserID, &it.Type, &payload, &it.Priority, &it.Status, &it.RetryCount, &it.MaxRetries,
		&it.ScheduledFor, &it.DedupKey, &it.LastError, &it.CreatedAt, &it.UpdatedAt,
	)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, ErrItemNotFound
		}
		return nil, err
	}
	it.Payload = payload
	return &it, nil
}
