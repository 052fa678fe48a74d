package fallback

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store persists queued notifications. Implementations must make Insert a
// conditional insert: at most one active item per dedup key, ErrDuplicate otherwise.
type Store interface {
	Insert(ctx context.Context, item *Item) error
	Get(ctx context.Context, id uuid.UUID) (*Item, error)
	// FindActive returns the active item with dedupKey or ErrItemNotFound.
	FindActive(ctx context.Context, dedupKey string) (*Item, error)
	// ListDue returns up to limit items that are pending and due at now, or
	// processing with updated_at before staleBefore, ordered by priority
	// descending then created_at ascending.
	ListDue(ctx context.Context, now, staleBefore time.Time, limit int) ([]Item, error)
	// Claim moves a due item to processing and increments retry_count when the
	// item was a stale processing one. It returns false when another drainer
	// claimed it first.
	Claim(ctx context.Context, id uuid.UUID, now, staleBefore time.Time) (bool, error)
	MarkSent(ctx context.Context, id uuid.UUID, now time.Time) error
	// Reschedule puts a processing item back to pending.
	Reschedule(ctx context.Context, id uuid.UUID, retryCount int, scheduledFor time.Time, errMsg string, now time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, retryCount int, errMsg string, now time.Time) error
	// Purge deletes sent and failed items last updated before the given time.
	Purge(ctx context.Context, before time.Time) (int64, error)
}
