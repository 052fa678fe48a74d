package fallback

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/notifykit/pkg/quota"
)

// Status of a queued notification.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSent       Status = "sent"
	StatusFailed     Status = "failed"
)

// Active reports whether the status takes part in dedup-key uniqueness.
// A failed item does not block a new one with the same key.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusProcessing || s == StatusSent
}

// Item is a notification that could not be delivered immediately.
// Payload carries the channel content as JSON; the queue never inspects it.
type Item struct {
	ID           uuid.UUID       `json:"id"`
	UserID       string          `json:"user_id"`
	Type         string          `json:"type"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Priority     int             `json:"priority"`
	Status       Status          `json:"status"`
	RetryCount   int             `json:"retry_count"`
	MaxRetries   int             `json:"max_retries"`
	ScheduledFor time.Time       `json:"scheduled_for"`
	DedupKey     string          `json:"dedup_key"`
	LastError    string          `json:"last_error,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Exhausted reports whether the item has used up its retries.
func (i Item) Exhausted() bool {
	return i.RetryCount >= i.MaxRetries
}

// EnqueueResult tells the caller whether a new item was stored.
// For duplicates NotificationID is the id of the existing item, or uuid.Nil
// when the duplicate was a recent delivery.
type EnqueueResult struct {
	NotificationID uuid.UUID
	IsDuplicate    bool
}

// DrainResult summarises one drain pass.
type DrainResult struct {
	Processed int
	Sent      int
	Failed    int
	// Deferred counts eligible items left pending for lack of provider capacity.
	Deferred int
}

// Report describes what a Deliverer managed to send.
type Report struct {
	PushSent  bool
	EmailSent bool
	// Usage is the number of quota units consumed on the admission-controlled provider.
	Usage int64
}

// Deliverer sends one queued item through the provider path.
type Deliverer interface {
	Deliver(ctx context.Context, item Item) (Report, error)
}

// DelivererFunc adapts a function to Deliverer.
type DelivererFunc func(ctx context.Context, item Item) (Report, error)

func (f DelivererFunc) Deliver(ctx context.Context, item Item) (Report, error) {
	return f(ctx, item)
}

// Admission is the quota controller view the queue needs to apply backpressure.
type Admission interface {
	Remaining(ctx context.Context, provider string) int64
	TrackUsage(ctx context.Context, provider string, n int64) (quota.Status, error)
}
