package email

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/notifykit/pkg/retry"
)

// DevSender implements EmailSender for environments without Postmark
// credentials. Emails are written to disk as HTML plus a JSON metadata file.
type DevSender struct {
	dir string
}

// NewDevSender creates a sender writing into dir, created on first use.
func NewDevSender(dir string) EmailSender {
	return &DevSender{dir: dir}
}

// emailMetadata contains the email data saved to JSON (excluding HTML content).
type emailMetadata struct {
	Timestamp string            `json:"timestamp"`
	MessageID string            `json:"message_id"`
	SendTo    string            `json:"send_to"`
	Subject   string            `json:"subject"`
	Tag       string            `json:"tag,omitempty"`
	BodyText  string            `json:"body_text,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// SendEmail writes the email to disk. The returned message id is a fresh
// UUID, also stored in the metadata file.
func (d *DevSender) SendEmail(ctx context.Context, params SendEmailParams) (string, error) {
	if err := params.Validate(); err != nil {
		return "", retry.Terminal(err)
	}

	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: failed to create directory: %w", ErrFailedToSendEmail, err)
	}

	now := time.Now()
	messageID := uuid.NewString()

	identifier := params.Tag
	if identifier == "" {
		identifier = params.Subject
	}
	baseFilename := fmt.Sprintf("%s_%s_%s", now.Format("2006_01_02_150405"), sanitizeFilename(identifier), messageID[:8])

	body := params.BodyHTML
	if body == "" {
		body = "<pre>" + html.EscapeString(params.BodyText) + "</pre>"
	}
	if err := os.WriteFile(filepath.Join(d.dir, baseFilename+".html"), []byte(body), 0o644); err != nil {
		return "", fmt.Errorf("%w: failed to write HTML file: %w", ErrFailedToSendEmail, err)
	}

	jsonData, err := json.MarshalIndent(emailMetadata{
		Timestamp: now.Format(time.RFC3339),
		MessageID: messageID,
		SendTo:    params.SendTo,
		Subject:   params.Subject,
		Tag:       params.Tag,
		BodyText:  params.BodyText,
		Metadata:  params.Metadata,
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("%w: failed to marshal metadata: %w", ErrFailedToSendEmail, err)
	}

	if err := os.WriteFile(filepath.Join(d.dir, baseFilename+".json"), jsonData, 0o644); err != nil {
		return "", fmt.Errorf("%w: failed to write JSON file: %w", ErrFailedToSendEmail, err)
	}

	return messageID, nil
}

// sanitizeRegex matches characters that are not alphanumeric, dash, underscore, or dot
var sanitizeRegex = regexp.MustCompile(`[^a-zA-Z0-9\-_.]`)

// sanitizeFilename lowercases s, turns spaces into underscores, drops
// anything outside [a-zA-Z0-9-_.] and caps the length.
func sanitizeFilename(s string) string {
	s = strings.ReplaceAll(s, " ", "_")
	s = sanitizeRegex.ReplaceAllString(s, "")

	const maxLength = 80
	if len(s) > maxLength {
		s = s[:maxLength]
	}

	if s == "" {
		s = "email"
	}

	return strings.ToLower(s)
}
