package gate

import "errors"

var (
	ErrInvalidClock    = errors.New("invalid HH:MM clock value")
	ErrPreferencesLoad = errors.New("failed to load notification preferences")
	ErrPreferencesSave = errors.New("failed to save notification preferences")
	ErrEmptyUserID     = errors.New("user id cannot be empty")
)
