package push

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresTokenStore keeps device tokens in the push_tokens table.
type PostgresTokenStore struct {
	db *pgxpool.Pool
}

func NewPostgresTokenStore(db *pgxpool.Pool) *PostgresTokenStore {
	return &PostgresTokenStore{db: db}
}

func (s *PostgresTokenStore) ActiveTokens(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.Query(ctx, `
SELECT token FROM push_tokens
WHERE user_id = $1 AND active
ORDER BY created_at`, userID)
	if err != nil {
		return nil, errors.Join(ErrTokenStore, err)
	}

	tokens, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, errors.Join(ErrTokenStore, err)
	}
	return tokens, nil
}

func (s *PostgresTokenStore) Register(ctx context.Context, userID, token, platform string) error {
	if token == "" {
		return ErrEmptyToken
	}

	_, err := s.db.Exec(ctx, `
INSERT INTO push_tokens (token, user_id, platform, active, created_at, updated_at)
VALUES ($1, $2, NULLIF($3, ''), true, now(), now())
ON CONFLICT (token) DO UPDATE
SET user_id = EXCLUDED.user_id, platform = EXCLUDED.platform, active = true, updated_at = now()`,
		token, userID, platform)
	if err != nil {
		return errors.Join(ErrTokenStore, err)
	}
	return nil
}

func (s *PostgresTokenStore) Deactivate(ctx context.Context, tokens ...string) error {
	if len(tokens) == 0 {
		return nil
	}

	_, err := s.db.Exec(ctx, `
UPDATE push_tokens SET active = false, updated_at = now()
WHERE token = ANY($1)`, tokens)
	if err != nil {
		return errors.Join(ErrTokenStore, err)
	}
	return nil
}
