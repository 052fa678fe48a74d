package sender

import (
	"context"
	"log/slog"
	"time"

	"github.com/dmitrymomot/notifykit/pkg/breaker"
	"github.com/dmitrymomot/notifykit/pkg/delivery"
	"github.com/dmitrymomot/notifykit/pkg/email"
	"github.com/dmitrymomot/notifykit/pkg/fallback"
	"github.com/dmitrymomot/notifykit/pkg/gate"
	"github.com/dmitrymomot/notifykit/pkg/push"
	"github.com/dmitrymomot/notifykit/pkg/quota"
	"github.com/dmitrymomot/notifykit/pkg/retry"
)

// Config holds sender settings loadable from the environment.
type Config struct {
	DedupBucketMinutes int `env:"DEDUP_BUCKET_MINUTES" envDefault:"1440"`
}

// Admission is the part of the quota controller the sender uses.
type Admission interface {
	ShouldFallback(ctx context.Context, provider string, required int64) bool
	TrackUsage(ctx context.Context, provider string, n int64) (quota.Status, error)
}

// Option configures a Sender.
type Option func(*Sender)

func WithConfig(cfg Config) Option {
	return func(s *Sender) {
		if cfg.DedupBucketMinutes > 0 {
			s.bucketMinutes = cfg.DedupBucketMinutes
		}
	}
}

// WithTimeouts bounds each push and email provider attempt.
// Non-positive values keep the defaults of 10s and 15s.
func WithTimeouts(pushTimeout, emailTimeout time.Duration) Option {
	return func(s *Sender) {
		if pushTimeout > 0 {
			s.pushTimeout = pushTimeout
		}
		if emailTimeout > 0 {
			s.emailTimeout = emailTimeout
		}
	}
}

// WithBreakers guards every provider call with the registry's breaker named
// after the provider.
func WithBreakers(r *breaker.Registry) Option {
	return func(s *Sender) {
		s.breakers = r
	}
}

// WithAdmission checks provider quota before each call and tracks usage after.
func WithAdmission(a Admission) Option {
	return func(s *Sender) {
		s.admission = a
	}
}

// WithRetryOptions tunes the retry loop around each provider call.
func WithRetryOptions(opts ...retry.Option) Option {
	return func(s *Sender) {
		s.retryOpts = append(s.retryOpts, opts...)
	}
}

// WithPreferenceStore sets where user preferences are read from.
// Without one every user gets gate.DefaultPreferences.
func WithPreferenceStore(ps gate.PreferenceStore) Option {
	return func(s *Sender) {
		s.prefs = ps
	}
}

// WithPush enables the push channel.
func WithPush(p push.Provider, tokens push.TokenStore) Option {
	return func(s *Sender) {
		s.push = p
		s.tokens = tokens
	}
}

// WithPushProviderName names the push provider for quota and breakers.
func WithPushProviderName(name string) Option {
	return func(s *Sender) {
		if name != "" {
			s.pushName = name
		}
	}
}

// WithEmail enables the email channel.
func WithEmail(m email.EmailSender, contacts ContactResolver) Option {
	return func(s *Sender) {
		s.email = m
		s.contacts = contacts
	}
}

// WithEmailProviderName names the email provider for quota and breakers.
func WithEmailProviderName(name string) Option {
	return func(s *Sender) {
		if name != "" {
			s.emailName = name
		}
	}
}

// WithDeliveryRecords writes one record per attempted send.
func WithDeliveryRecords(ds delivery.Store) Option {
	return func(s *Sender) {
		s.records = ds
	}
}

// WithFallbackQueue enables Dispatch to defer notifications.
func WithFallbackQueue(q *fallback.Queue) Option {
	return func(s *Sender) {
		s.queue = q
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Sender) {
		if now != nil {
			s.now = now
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Sender) {
		if l != nil {
			s.logger = l
		}
	}
}

// SendOption tunes a single Send call.
type SendOption func(*sendOptions)

type sendOptions struct {
	prefs *gate.Preferences
}

// WithPreferences skips the preference lookup when the caller already has them.
func WithPreferences(p gate.Preferences) SendOption {
	return func(o *sendOptions) {
		o.prefs = &p
	}
}
