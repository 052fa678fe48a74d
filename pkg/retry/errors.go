package retry

import (
	"errors"
	"fmt"
	"net/http"
)

// Errors that are never worth retrying. Providers and stores wrap these so the
// retry loop can classify failures without knowing about the provider.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrValidation   = errors.New("validation failed")
)

// StatusError carries an HTTP-like status code reported by a provider.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("provider returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("provider returned status %d: %s", e.StatusCode, e.Message)
}

// Is maps auth failures onto the package sentinels.
func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized
	case ErrForbidden:
		return e.StatusCode == http.StatusForbidden
	}
	return false
}

type terminalError struct {
	err error
}

func (e *terminalError) Error() string { return e.err.Error() }
func (e *terminalError) Unwrap() error { return e.err }

// Terminal marks err as not retryable. The returned error still matches err
// with errors.Is and errors.As.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &terminalError{err: err}
}

// IsTerminal reports whether err should be surfaced without retrying.
// 4xx statuses are terminal except 408, 425 and 429, which resolve with time.
func IsTerminal(err error) bool {
	if err == nil {
		return false
	}

	var te *terminalError
	if errors.As(err, &te) {
		return true
	}

	if errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrForbidden) || errors.Is(err, ErrValidation) {
		return true
	}

	var se *StatusError
	if errors.As(err, &se) && se.StatusCode >= 400 && se.StatusCode < 500 {
		switch se.StatusCode {
		case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests:
			return false
		default:
			return true
		}
	}

	return false
}

// IsRetryable is the default classifier: everything that is not terminal.
func IsRetryable(err error) bool {
	return err != nil && !IsTerminal(err)
}
