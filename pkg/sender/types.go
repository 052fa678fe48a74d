package sender

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/dmitrymomot/notifykit/pkg/gate"
)

// Outcome is what the caller learns about a notification.
type Outcome string

const (
	OutcomeSent   Outcome = "sent"
	OutcomeQueued Outcome = "queued"
	OutcomeDenied Outcome = "denied"
	OutcomeFailed Outcome = "failed"
)

// PushContent overrides the shared title and body for the push channel.
type PushContent struct {
	Title    string         `json:"title,omitempty"`
	Body     string         `json:"body,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
	Sound    string         `json:"sound,omitempty"`
	Badge    *int           `json:"badge,omitempty"`
	Priority string         `json:"priority,omitempty"`
	TTL      int            `json:"ttl,omitempty"`
}

// EmailContent enables the email channel. Email is never sent without it.
type EmailContent struct {
	// To overrides the address returned by the ContactResolver.
	To       string            `json:"to,omitempty"`
	Subject  string            `json:"subject"`
	HTML     string            `json:"html,omitempty"`
	Text     string            `json:"text,omitempty"`
	Tag      string            `json:"tag,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Content is the channel-independent part of a notification.
type Content struct {
	Title string         `json:"title,omitempty"`
	Body  string         `json:"body,omitempty"`
	Data  map[string]any `json:"data,omitempty"`
	// Priority orders queued copies; higher is sooner. Positive values also
	// raise the push priority.
	Priority int `json:"priority,omitempty"`
	// ItemID identifies the subject of the notification for deduplication.
	ItemID string        `json:"item_id,omitempty"`
	Push   *PushContent  `json:"push,omitempty"`
	Email  *EmailContent `json:"email,omitempty"`
}

// Request is a notification addressed to one user.
type Request struct {
	UserID string `json:"user_id"`
	Type   string `json:"type"`
	Content
}

// Validate checks the request can be attempted at all.
func (r Request) Validate() error {
	switch {
	case r.UserID == "":
		return ErrMissingUserID
	case r.Type == "":
		return ErrMissingType
	case r.Title == "" && r.Body == "" && r.Push == nil && r.Email == nil:
		return ErrEmptyContent
	}
	return nil
}

func (r Request) payload() (json.RawMessage, error) {
	return json.Marshal(r)
}

// ChannelResult describes what happened on one channel.
type ChannelResult struct {
	// Attempted is true when the provider was called. Calls rejected by
	// the quota check or an open circuit are not attempts.
	Attempted bool   `json:"attempted"`
	Sent      bool   `json:"sent"`
	Skipped   string `json:"skipped,omitempty"`
	Error     string `json:"error,omitempty"`
	// Accepted, Failed and Invalid count device tokens on the push channel.
	Accepted  int    `json:"accepted,omitempty"`
	Failed    int    `json:"failed,omitempty"`
	Invalid   int    `json:"invalid,omitempty"`
	MessageID string `json:"message_id,omitempty"`
}

// Details explains a Result.
type Details struct {
	Reason   gate.Reason `json:"reason,omitempty"`
	DedupKey string      `json:"dedup_key,omitempty"`
	// Error explains a failure that is not tied to a channel.
	Error string        `json:"error,omitempty"`
	Push  ChannelResult `json:"push"`
	Email ChannelResult `json:"email"`
	// NotificationID is the fallback queue item when the outcome is queued or
	// the notification duplicates an active queued item.
	NotificationID uuid.UUID `json:"notification_id,omitzero"`
	Duplicate      bool      `json:"duplicate,omitempty"`
}

// Result is the structured outcome of a send. Provider errors only appear in
// Details as text.
type Result struct {
	PushSent  bool    `json:"push_sent"`
	EmailSent bool    `json:"email_sent"`
	Outcome   Outcome `json:"outcome"`
	Details   Details `json:"details"`

	deferrable bool
}

// Deferrable reports whether a failed result is worth queueing for a later
// attempt: no capacity, an open circuit or a transient provider failure.
func (r Result) Deferrable() bool {
	return r.Outcome == OutcomeFailed && r.deferrable
}

// ContactResolver looks up the email address of a user.
type ContactResolver interface {
	EmailAddress(ctx context.Context, userID string) (string, error)
}

// ContactResolverFunc adapts a function to ContactResolver.
type ContactResolverFunc func(ctx context.Context, userID string) (string, error)

func (f ContactResolverFunc) EmailAddress(ctx context.Context, userID string) (string, error) {
	return f(ctx, userID)
}
