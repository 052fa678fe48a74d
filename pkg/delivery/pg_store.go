package delivery

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore writes records into the delivery_records table.
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, r *Record) error {
	if r == nil {
		return ErrRecordNil
	}
	prepare(r)

	var payload []byte
	if len(r.Payload) > 0 {
		payload = r.Payload
	}

	_, err := s.db.Exec(ctx, `
INSERT INTO delivery_records (id, user_id, notification_type, item_id, dedup_key, push_sent, email_sent, payload, created_at)
VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7, $8, $9)`,
		r.ID, r.UserID, r.Type, r.ItemID, r.DedupKey, r.PushSent, r.EmailSent, payload, r.CreatedAt,
	)
	if err != nil {
		return errors.Join(ErrCreateRecord, err)
	}
	return nil
}

func (s *PostgresStore) HasRecent(ctx context.Context, dedupKey string, since time.Time) (bool, error) {
	if dedupKey == "" {
		return false, nil
	}

	var exists bool
	err := s.db.QueryRow(ctx, `
SELECT EXISTS (
    SELECT 1 FROM delivery_records
    WHERE dedup_key = $1 AND created_at >= $2 AND (push_sent OR email_sent)
)`, dedupKey, since).Scan(&exists)
	if err != nil {
		return false, errors.Join(ErrQueryRecords, err)
	}
	return exists, nil
}

// PurgeBefore deletes records older than before and returns how many were removed.
func (s *PostgresStore) PurgeBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM delivery_records WHERE created_at < $1`, before)
	if err != nil {
		return 0, errors.Join(ErrQueryRecords, err)
	}
	return tag.RowsAffected(), nil
}
