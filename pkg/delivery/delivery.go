package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrRecordNil    = errors.New("delivery record cannot be nil")
	ErrCreateRecord = errors.New("failed to create delivery record")
	ErrQueryRecords = errors.New("failed to query delivery records")
)

// Record is an append-only log entry written once per attempted send.
type Record struct {
	ID        uuid.UUID       `json:"id"`
	UserID    string          `json:"user_id"`
	Type      string          `json:"type"`
	ItemID    string          `json:"item_id,omitempty"`
	DedupKey  string          `json:"dedup_key,omitempty"`
	PushSent  bool            `json:"push_sent"`
	EmailSent bool            `json:"email_sent"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Delivered reports whether at least one channel went out.
func (r Record) Delivered() bool {
	return r.PushSent || r.EmailSent
}

// Store persists delivery records.
type Store interface {
	Create(ctx context.Context, r *Record) error
	// HasRecent reports whether a delivered record with dedupKey exists since the given time.
	HasRecent(ctx context.Context, dedupKey string, since time.Time) (bool, error)
}

// Purger is implemented by stores that support retention sweeps.
type Purger interface {
	PurgeBefore(ctx context.Context, before time.Time) (int64, error)
}

func prepare(r *Record) {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
}
