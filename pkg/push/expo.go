package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/dmitrymomot/notifykit/pkg/retry"
)

// ProviderName is the quota and breaker name of the Expo provider.
const ProviderName = "expo"

const maxExpoBatch = 100

// ExpoProvider sends through the Expo push API. Requests are paced with a
// token bucket so bursts from concurrent senders do not trip provider limits.
type ExpoProvider struct {
	client    *http.Client
	endpoint  string
	token     string
	batchSize int
	limiter   *rate.Limiter
}

// ExpoOption configures an ExpoProvider.
type ExpoOption func(*ExpoProvider)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) ExpoOption {
	return func(p *ExpoProvider) {
		if c != nil {
			p.client = c
		}
	}
}

// WithEndpoint overrides the push endpoint, mostly for tests.
func WithEndpoint(url string) ExpoOption {
	return func(p *ExpoProvider) {
		if url != "" {
			p.endpoint = url
		}
	}
}

// WithRateLimit sets the outbound request rate. A non-positive rps disables pacing.
func WithRateLimit(rps float64, burst int) ExpoOption {
	return func(p *ExpoProvider) {
		if rps <= 0 {
			p.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		p.limiter = rate.NewLimiter(rate.Limit(rps), max(burst, 1))
	}
}

// NewExpoProvider creates a provider from cfg.
func NewExpoProvider(cfg Config, opts ...ExpoOption) *ExpoProvider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	batch := cfg.BatchSize
	if batch <= 0 || batch > maxExpoBatch {
		batch = maxExpoBatch
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "https://exp.host/--/api/v2/push/send"
	}

	p := &ExpoProvider{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		endpoint:  endpoint,
		token:     cfg.AccessToken,
		batchSize: batch,
	}
	WithRateLimit(cfg.RatePerSecond, cfg.RateBurst)(p)

	for _, opt := range opts {
		opt(p)
	}
	return p
}

type expoMessage struct {
	To       string         `json:"to"`
	Title    string         `json:"title,omitempty"`
	Body     string         `json:"body,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
	Sound    string         `json:"sound,omitempty"`
	Badge    *int           `json:"badge,omitempty"`
	Priority string         `json:"priority,omitempty"`
	TTL      int            `json:"ttl,omitempty"`
}

type expoTicket struct {
	Status  string `json:"status"`
	ID      string `json:"id"`
	Message string `json:"message"`
	Details struct {
		Error string `json:"error"`
	} `json:"details"`
}

type expoResponse struct {
	Data   []expoTicket `json:"data"`
	Errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

// Send delivers msg to every token, chunked into provider-sized batches.
// The first batch-level failure aborts the remaining batches.
func (p *ExpoProvider) Send(ctx context.Context, tokens []string, msg Message) ([]TokenResult, error) {
	if len(tokens) == 0 {
		return nil, ErrNoTokens
	}
	if err := msg.Validate(); err != nil {
		return nil, retry.Terminal(err)
	}

	results := make([]TokenResult, 0, len(tokens))
	for start := 0; start < len(tokens); start += p.batchSize {
		end := min(start+p.batchSize, len(tokens))
		batch, err := p.sendBatch(ctx, tokens[start:end], msg)
		if err != nil {
			return nil, err
		}
		results = append(results, batch...)
	}
	return results, nil
}

func (p *ExpoProvider) sendBatch(ctx context.Context, tokens []string, msg Message) ([]TokenResult, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	payload := make([]expoMessage, len(tokens))
	for i, t := range tokens {
		payload[i] = expoMessage{
			To:       t,
			Title:    msg.Title,
			Body:     msg.Body,
			Data:     msg.Data,
			Sound:    msg.Sound,
			Badge:    msg.Badge,
			Priority: msg.Priority,
			TTL:      msg.TTL,
		}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, retry.Terminal(fmt.Errorf("failed to marshal push payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, retry.Terminal(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("push request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &retry.StatusError{StatusCode: resp.StatusCode, Message: truncate(raw, 200)}
	}

	var parsed expoResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProviderResponse, err)
	}
	if len(parsed.Errors) > 0 {
		return nil, fmt.Errorf("%w: %s: %s", ErrProviderResponse, parsed.Errors[0].Code, parsed.Errors[0].Message)
	}
	if len(parsed.Data) != len(tokens) {
		return nil, fmt.Errorf("%w: %d tickets for %d tokens", ErrProviderResponse, len(parsed.Data), len(tokens))
	}

	results := make([]TokenResult, len(tokens))
	for i, ticket := range parsed.Data {
		results[i] = TokenResult{Token: tokens[i], TicketID: ticket.ID}
		if ticket.Status != "ok" {
			results[i].Err = ticketError(ticket)
		}
	}
	return results, nil
}

func ticketError(t expoTicket) error {
	switch t.Details.Error {
	case "DeviceNotRegistered":
		return fmt.Errorf("%w: %s", ErrDeviceNotRegistered, t.Message)
	case "MessageTooBig":
		return fmt.Errorf("%w: %s", ErrMessageTooBig, t.Message)
	case "InvalidCredentials":
		return fmt.Errorf("%w: %s", ErrInvalidCredentials, t.Message)
	default:
		return fmt.Errorf("%w: %s %s", ErrProviderResponse, t.Details.Error, t.Message)
	}
}

func truncate(b []byte, n int) string {
	s := strings.ReplaceAll(string(b), "\n", " ")
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
