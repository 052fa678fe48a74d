package quota

import "errors"

var (
	ErrStoreUnavailable = errors.New("quota store unavailable")
	ErrInvalidLimit     = errors.New("invalid quota limit")
	ErrInvalidPeriod    = errors.New("invalid quota period")
	ErrLoadingLimits    = errors.New("failed to load quota limits")
)
