package gate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps preferences in the notification_preferences table.
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

const selectPreferences = `
SELECT user_id, enabled, do_not_disturb, quiet_hours_enabled, quiet_hours_start, quiet_hours_end,
       timezone, types, channels, created_at, updated_at
FROM notification_preferences
WHERE user_id = $1`

// Get returns the stored preferences or inserts the defaults. The insert uses
// ON CONFLICT DO NOTHING so concurrent first reads create one row.
func (s *PostgresStore) Get(ctx context.Context, userID string) (Preferences, error) {
	if userID == "" {
		return Preferences{}, ErrEmptyUserID
	}

	p, err := s.get(ctx, userID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Preferences{}, errors.Join(ErrPreferencesLoad, err)
	}

	def := DefaultPreferences(userID)
	if err := s.insert(ctx, def, true); err != nil {
		return Preferences{}, errors.Join(ErrPreferencesLoad, err)
	}

	p, err = s.get(ctx, userID)
	if err != nil {
		return Preferences{}, errors.Join(ErrPreferencesLoad, err)
	}
	return p, nil
}

func (s *PostgresStore) Save(ctx context.Context, p Preferences) error {
	if p.UserID == "" {
		return ErrEmptyUserID
	}
	if err := s.insert(ctx, p, false); err != nil {
		return errors.Join(ErrPreferencesSave, err)
	}
	return nil
}

func (s *PostgresStore) get(ctx context.Context, userID string) (Preferences, error) {
	var (
		p                  Preferences
		types, channelsRaw []byte
	)
	err := s.db.QueryRow(ctx, selectPreferences, userID).Scan(
		&p.UserID, &p.Enabled, &p.DoNotDisturb,
		&p.QuietHours.Enabled, &p.QuietHours.Start, &p.QuietHours.End,
		&p.Timezone, &types, &channelsRaw, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return Preferences{}, err
	}

	p.Types = map[string]bool{}
	if len(types) > 0 {
		if err := json.Unmarshal(types, &p.Types); err != nil {
			return Preferences{}, fmt.Errorf("decode types: %w", err)
		}
	}
	p.Channels = map[Channel]bool{}
	if len(channelsRaw) > 0 {
		if err := json.Unmarshal(channelsRaw, &p.Channels); err != nil {
			return Preferences{}, fmt.Errorf("decode channels: %w", err)
		}
	}
	return p, nil
}

func (s *PostgresStore) insert(ctx context.Context, p Preferences, ignoreExisting bool) error {
	types, err := json.Marshal(nonNilTypes(p.Types))
	if err != nil {
		return err
	}
	channels, err := json.Marshal(nonNilChannels(p.Channels))
	if err != nil {
		return err
	}

	conflict := `ON CONFLICT (user_id) DO UPDATE SET
       enabled = EXCLUDED.enabled,
       do_not_disturb = EXCLUDED.do_not_disturb,
       quiet_hours_enabled = EXCLUDED.quiet_hours_enabled,
       quiet_hours_start = EXCLUDED.quiet_hours_start,
       quiet_hours_end = EXCLUDED.quiet_hours_end,
       timezone = EXCLUDED.timezone,
       types = EXCLUDED.types,
       channels = EXCLUDED.channels,
       updated_at = now()`
	if ignoreExisting {
		conflict = `ON CONFLICT (user_id) DO NOTHING`
	}

	_, err = s.db.Exec(ctx, `
INSERT INTO notification_preferences
    (user_id, enabled, do_not_disturb, quiet_hours_enabled, quiet_hours_start, quiet_hours_end,
     timezone, types, channels, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())
`+conflict,
		p.UserID, p.Enabled, p.DoNotDisturb,
		p.QuietHours.Enabled, p.QuietHours.Start, p.QuietHours.End,
		p.Timezone, types, channels,
	)
	return err
}

func nonNilTypes(m map[string]bool) map[string]bool {
	if m == nil {
		return map[string]bool{}
	}
	return m
}

func nonNilChannels(m map[Channel]bool) map[Channel]bool {
	if m == nil {
		return map[Channel]bool{}
	}
	return m
}
