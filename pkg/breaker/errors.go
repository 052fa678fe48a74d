package breaker

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrCircuitOpen is matched by every rejection of an open breaker.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// OpenError is returned when a call is rejected without invoking the operation.
// Callers should treat it like a provider outage: defer the work, don't retry inline.
type OpenError struct {
	Dependency string
	Remaining  time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("%s: %s temporarily unavailable, retry in %ds", ErrCircuitOpen, e.Dependency, e.RemainingSeconds())
}

func (e *OpenError) Unwrap() error { return ErrCircuitOpen }

// RemainingSeconds returns the cooldown left, rounded up to whole seconds.
func (e *OpenError) RemainingSeconds() int {
	return int(math.Ceil(e.Remaining.Seconds()))
}

// IsOpen reports whether err is a circuit-open rejection.
func IsOpen(err error) bool {
	return errors.Is(err, ErrCircuitOpen)
}
