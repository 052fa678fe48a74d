package sender

import "errors"

var (
	ErrMissingUserID = errors.New("user id is required")
	ErrMissingType   = errors.New("notification type is required")
	ErrEmptyContent  = errors.New("notification has no content")
	ErrNoChannel     = errors.New("no channel available for notification")
	ErrNoCapacity    = errors.New("provider quota exhausted")
	ErrPushRejected  = errors.New("push provider rejected every token")
	ErrPreferences   = errors.New("failed to load notification preferences")
	ErrQuietHours    = errors.New("user is in quiet hours")
	ErrBadPayload    = errors.New("queued notification payload is invalid")
	ErrNotDelivered  = errors.New("notification not delivered")
)
