package fallback

import "errors"

var (
	ErrItemNotFound      = errors.New("queued notification not found")
	ErrDuplicate         = errors.New("active notification with the same dedup key already queued")
	ErrMissingDedupKey   = errors.New("dedup key is required")
	ErrMissingUserID     = errors.New("user id is required")
	ErrStoreNil          = errors.New("fallback store cannot be nil")
	ErrDelivererNil      = errors.New("deliverer cannot be nil")
	ErrFailedToEnqueue   = errors.New("failed to enqueue notification")
	ErrFailedToDrain     = errors.New("failed to drain fallback queue")
	ErrFailedToPurge     = errors.New("failed to purge fallback queue")
	ErrInvalidTransition = errors.New("invalid queued notification status transition")

	// ErrSkipped is returned by a Deliverer when an item must not be sent any
	// more, for example because the user disabled the notification type since
	// it was queued. The item is marked failed without further retries.
	ErrSkipped = errors.New("notification skipped")
)
