package email

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/mrz1836/postmark"

	"github.com/dmitrymomot/notifykit/pkg/retry"
)

// ProviderName is the quota and breaker name of the Postmark sender.
const ProviderName = "postmark"

// Postmark API error codes that will not succeed on retry.
const (
	postmarkInvalidToken      = 10
	postmarkSenderNotVerified = 400
	postmarkInvalidRequest    = 300
	postmarkInactiveRecipient = 406
)

type postmarkClient struct {
	client *postmark.Client
	config Config
}

// PostmarkOption configures the Postmark client.
type PostmarkOption func(*postmark.Client)

// WithPostmarkBaseURL points the client at another API host, mostly for tests.
func WithPostmarkBaseURL(url string) PostmarkOption {
	return func(c *postmark.Client) {
		c.BaseURL = url
	}
}

// WithPostmarkHTTPClient replaces the HTTP client used for API calls.
func WithPostmarkHTTPClient(hc *http.Client) PostmarkOption {
	return func(c *postmark.Client) {
		if hc != nil {
			c.HTTPClient = hc
		}
	}
}

// NewPostmarkClient creates a Postmark-backed email sender.
func NewPostmarkClient(cfg Config, opts ...PostmarkOption) (EmailSender, error) {
	if cfg.PostmarkServerToken == "" {
		return nil, fmt.Errorf("%w: PostmarkServerToken is required", ErrInvalidConfig)
	}
	if cfg.PostmarkAccountToken == "" {
		return nil, fmt.Errorf("%w: PostmarkAccountToken is required", ErrInvalidConfig)
	}
	if cfg.SenderEmail == "" {
		return nil, fmt.Errorf("%w: SenderEmail is required", ErrInvalidConfig)
	}
	if !emailRegex.MatchString(cfg.SenderEmail) {
		return nil, fmt.Errorf("%w: SenderEmail must be a valid email address", ErrInvalidConfig)
	}
	if cfg.SupportEmail != "" && !emailRegex.MatchString(cfg.SupportEmail) {
		return nil, fmt.Errorf("%w: SupportEmail must be a valid email address", ErrInvalidConfig)
	}

	client := postmark.NewClient(cfg.PostmarkServerToken, cfg.PostmarkAccountToken)
	for _, opt := range opts {
		opt(client)
	}

	return &postmarkClient{client: client, config: cfg}, nil
}

// MustNewPostmarkClient creates a Postmark client that panics on invalid config.
func MustNewPostmarkClient(cfg Config, opts ...PostmarkOption) EmailSender {
	client, err := NewPostmarkClient(cfg, opts...)
	if err != nil {
		panic(err)
	}
	return client
}

// SendEmail sends through Postmark's transactional API. Invalid params and
// permanent Postmark rejections are marked terminal for the retry engine.
func (c *postmarkClient) SendEmail(ctx context.Context, params SendEmailParams) (string, error) {
	if err := params.Validate(); err != nil {
		return "", retry.Terminal(err)
	}

	resp, err := c.client.SendEmail(ctx, postmark.Email{
		From:       c.config.SenderEmail,
		ReplyTo:    c.config.SupportEmail,
		To:         params.SendTo,
		Subject:    params.Subject,
		Tag:        params.Tag,
		HTMLBody:   params.BodyHTML,
		TextBody:   params.BodyText,
		Metadata:   params.Metadata,
		TrackOpens: true,
		TrackLinks: "HtmlOnly",
	})
	// The client reports API errors both in the 200 body and as APIError on
	// HTTP 4xx/5xx, always with a non-nil err.
	if resp.ErrorCode > 0 {
		return "", classifyPostmarkError(resp.ErrorCode, resp.Message)
	}
	var apiErr postmark.APIError
	if errors.As(err, &apiErr) {
		return "", classifyPostmarkError(apiErr.ErrorCode, apiErr.Message)
	}
	if err != nil {
		return "", errors.Join(ErrFailedToSendEmail, err)
	}
	return resp.MessageID, nil
}

func classifyPostmarkError(code int64, msg string) error {
	base := fmt.Errorf("postmark error %d: %s", code, msg)
	switch code {
	case postmarkInvalidToken:
		return errors.Join(ErrFailedToSendEmail, retry.ErrUnauthorized, base)
	case postmarkInactiveRecipient:
		return retry.Terminal(errors.Join(ErrFailedToSendEmail, ErrInactiveRecipient, base))
	case postmarkInvalidRequest, postmarkSenderNotVerified:
		return retry.Terminal(errors.Join(ErrFailedToSendEmail, base))
	default:
		return errors.Join(ErrFailedToSendEmail, base)
	}
}
