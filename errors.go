package notifykit

import "errors"

var (
	ErrInvalidConfig = errors.New("invalid notifykit configuration")
	ErrUnhealthy     = errors.New("notifykit dependencies unhealthy")
	ErrNilWorker     = errors.New("worker cannot be nil")
)
