package email_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/notifykit/pkg/email"
	"github.com/dmitrymomot/notifykit/pkg/retry"
)

func postmarkConfig() email.Config {
	return email.Config{
		PostmarkServerToken:  "server-token",
		PostmarkAccountToken: "account-token",
		SenderEmail:          "noreply@example.com",
		SupportEmail:         "support@example.com",
	}
}

func TestNewPostmarkClient_Config(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*email.Config)
		wantErr string
	}{
		{name: "valid"},
		{name: "no support email", mutate: func(c *email.Config) { c.SupportEmail = "" }},
		{name: "missing server token", mutate: func(c *email.Config) { c.PostmarkServerToken = "" }, wantErr: "PostmarkServerToken is required"},
		{name: "missing account token", mutate: func(c *email.Config) { c.PostmarkAccountToken = "" }, wantErr: "PostmarkAccountToken is required"},
		{name: "missing sender", mutate: func(c *email.Config) { c.SenderEmail = "" }, wantErr: "SenderEmail is required"},
		{name: "invalid sender", mutate: func(c *email.Config) { c.SenderEmail = "nope" }, wantErr: "SenderEmail must be a valid email address"},
		{name: "invalid support", mutate: func(c *email.Config) { c.SupportEmail = "nope" }, wantErr: "SupportEmail must be a valid email address"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := postmarkConfig()
			if tt.mutate != nil {
				tt.mutate(&cfg)
			}
			client, err := email.NewPostmarkClient(cfg)
			if tt.wantErr == "" {
				require.NoError(t, err)
				assert.NotNil(t, client)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, email.ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestMustNewPostmarkClient(t *testing.T) {
	t.Parallel()

	assert.NotPanics(t, func() { email.MustNewPostmarkClient(postmarkConfig()) })
	assert.Panics(t, func() { email.MustNewPostmarkClient(email.Config{}) })
}

func TestConfig_PostmarkEnabled(t *testing.T) {
	t.Parallel()

	assert.True(t, postmarkConfig().PostmarkEnabled())
	assert.False(t, email.Config{PostmarkServerToken: "x"}.PostmarkEnabled())
}

func postmarkServer(t *testing.T, calls *atomic.Int32, status int, response map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/email", r.URL.Path)
		assert.Equal(t, "server-token", r.Header.Get("X-Postmark-Server-Token"))

		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "user@example.com", body["To"])
		assert.Equal(t, "noreply@example.com", body["From"])

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(response)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestPostmarkClient_SendEmail(t *testing.T) {
	t.Parallel()

	t.Run("returns message id", func(t *testing.T) {
		t.Parallel()
		var calls atomic.Int32
		srv := postmarkServer(t, &calls, http.StatusOK, map[string]any{
			"To": "user@example.com", "MessageID": "pm-123", "ErrorCode": 0, "Message": "OK",
		})
		client := email.MustNewPostmarkClient(postmarkConfig(), email.WithPostmarkBaseURL(srv.URL))

		id, err := client.SendEmail(context.Background(), validParams())
		require.NoError(t, err)
		assert.Equal(t, "pm-123", id)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("inactive recipient is terminal", func(t *testing.T) {
		t.Parallel()
		var calls atomic.Int32
		srv := postmarkServer(t, &calls, http.StatusOK, map[string]any{"ErrorCode": 406, "Message": "inactive recipient"})
		client := email.MustNewPostmarkClient(postmarkConfig(), email.WithPostmarkBaseURL(srv.URL))

		_, err := client.SendEmail(context.Background(), validParams())
		require.Error(t, err)
		assert.ErrorIs(t, err, email.ErrInactiveRecipient)
		assert.ErrorIs(t, err, email.ErrFailedToSendEmail)
		assert.True(t, retry.IsTerminal(err))
	})

	t.Run("maintenance error is retryable", func(t *testing.T) {
		t.Parallel()
		var calls atomic.Int32
		srv := postmarkServer(t, &calls, http.StatusOK, map[string]any{"ErrorCode": 100, "Message": "maintenance"})
		client := email.MustNewPostmarkClient(postmarkConfig(), email.WithPostmarkBaseURL(srv.URL))

		_, err := client.SendEmail(context.Background(), validParams())
		require.Error(t, err)
		assert.ErrorIs(t, err, email.ErrFailedToSendEmail)
		assert.True(t, retry.IsRetryable(err))
	})

	t.Run("rejected requests are terminal", func(t *testing.T) {
		t.Parallel()

		tests := []struct {
			name   string
			status int
			code   int
			target error
		}{
			{name: "invalid server token", status: http.StatusUnauthorized, code: 10, target: retry.ErrUnauthorized},
			{name: "invalid request", status: http.StatusUnprocessableEntity, code: 300, target: email.ErrFailedToSendEmail},
			{name: "sender not verified", status: http.StatusUnprocessableEntity, code: 400, target: email.ErrFailedToSendEmail},
			{name: "inactive recipient", status: http.StatusUnprocessableEntity, code: 406, target: email.ErrInactiveRecipient},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				t.Parallel()
				var calls atomic.Int32
				srv := postmarkServer(t, &calls, tt.status, map[string]any{"ErrorCode": tt.code, "Message": "rejected"})
				client := email.MustNewPostmarkClient(postmarkConfig(), email.WithPostmarkBaseURL(srv.URL))

				err := retry.Do(context.Background(), func(ctx context.Context) error {
					_, err := client.SendEmail(ctx, validParams())
					return err
				}, retry.WithBaseDelay(time.Millisecond))
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.target)
				assert.ErrorIs(t, err, email.ErrFailedToSendEmail)
				assert.True(t, retry.IsTerminal(err))
				assert.Equal(t, int32(1), calls.Load())
			})
		}
	})

	t.Run("server error is retryable", func(t *testing.T) {
		t.Parallel()
		var calls atomic.Int32
		srv := postmarkServer(t, &calls, http.StatusInternalServerError, map[string]any{"ErrorCode": 0, "Message": "oops"})
		client := email.MustNewPostmarkClient(postmarkConfig(), email.WithPostmarkBaseURL(srv.URL))

		_, err := client.SendEmail(context.Background(), validParams())
		require.Error(t, err)
		assert.ErrorIs(t, err, email.ErrFailedToSendEmail)
		assert.True(t, retry.IsRetryable(err))
	})

	t.Run("invalid params never reach the api", func(t *testing.T) {
		t.Parallel()
		var calls atomic.Int32
		srv := postmarkServer(t, &calls, http.StatusOK, nil)
		client := email.MustNewPostmarkClient(postmarkConfig(), email.WithPostmarkBaseURL(srv.URL))

		p := validParams()
		p.Subject = ""
		_, err := client.SendEmail(context.Background(), p)
		require.Error(t, err)
		assert.ErrorIs(t, err, email.ErrInvalidParams)
		assert.True(t, retry.IsTerminal(err))
		assert.Zero(t, calls.Load())
	})
}
