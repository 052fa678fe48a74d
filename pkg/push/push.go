package push

import (
	"context"
	"errors"
)

// Message is the provider-independent content of a push notification.
type Message struct {
	Title    string         `json:"title,omitempty"`
	Body     string         `json:"body,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
	Sound    string         `json:"sound,omitempty"`
	Badge    *int           `json:"badge,omitempty"`
	Priority string         `json:"priority,omitempty"`
	TTL      int            `json:"ttl,omitempty"`
}

// Validate checks the message has something to display.
func (m Message) Validate() error {
	if m.Title == "" && m.Body == "" {
		return ErrInvalidMessage
	}
	return nil
}

// TokenResult is the provider's verdict for one device token.
type TokenResult struct {
	Token    string
	TicketID string
	// Err is nil when the provider accepted the message for this token.
	Err error
}

// OK reports whether the provider accepted the message for the token.
func (r TokenResult) OK() bool {
	return r.Err == nil
}

// Invalid reports whether the token is permanently unusable and should be removed.
func (r TokenResult) Invalid() bool {
	return errors.Is(r.Err, ErrDeviceNotRegistered)
}

// Provider sends one message to a batch of device tokens.
//
// A returned error means the whole batch failed (network, auth, 5xx) and the
// results slice is nil. Per-token failures are reported in the results.
type Provider interface {
	Send(ctx context.Context, tokens []string, msg Message) ([]TokenResult, error)
}

// Summary counts per-token results.
type Summary struct {
	Accepted int
	Failed   int
	Invalid  []string
}

// Summarize folds a batch of results.
func Summarize(results []TokenResult) Summary {
	var s Summary
	for _, r := range results {
		switch {
		case r.OK():
			s.Accepted++
		case r.Invalid():
			s.Failed++
			s.Invalid = append(s.Invalid, r.Token)
		default:
			s.Failed++
		}
	}
	return s
}
