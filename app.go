package notifykit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/notifykit/pkg/breaker"
	"github.com/dmitrymomot/notifykit/pkg/delivery"
	"github.com/dmitrymomot/notifykit/pkg/email"
	"github.com/dmitrymomot/notifykit/pkg/fallback"
	"github.com/dmitrymomot/notifykit/pkg/gate"
	"github.com/dmitrymomot/notifykit/pkg/logger"
	"github.com/dmitrymomot/notifykit/pkg/pg"
	"github.com/dmitrymomot/notifykit/pkg/push"
	"github.com/dmitrymomot/notifykit/pkg/queue"
	"github.com/dmitrymomot/notifykit/pkg/quota"
	"github.com/dmitrymomot/notifykit/pkg/redis"
	"github.com/dmitrymomot/notifykit/pkg/retry"
	"github.com/dmitrymomot/notifykit/pkg/sender"
)

// App owns the long-lived components of the delivery core. Create it once at
// startup and share it between request handlers.
type App struct {
	Logger *slog.Logger
	DB     *pgxpool.Pool
	Redis  *goredis.Client

	Breakers    *breaker.Registry
	Quota       *quota.Controller
	Preferences gate.PreferenceStore
	Tokens      push.TokenStore
	Records     delivery.Store
	Fallback    *fallback.Queue
	Jobs        queue.Repository
	Push        push.Provider
	Email       email.EmailSender
	Sender      *sender.Sender

	cfg      Config
	contacts sender.ContactResolver
	now      func() time.Time
}

// Option configures an App.
type Option func(*App)

func WithLogger(l *slog.Logger) Option {
	return func(a *App) {
		if l != nil {
			a.Logger = l
		}
	}
}

// WithContactResolver lets the sender look up email addresses. Without it
// email is only sent to requests that carry an explicit address.
func WithContactResolver(r sender.ContactResolver) Option {
	return func(a *App) {
		a.contacts = r
	}
}

// WithPushProvider replaces the provider selected from the config.
func WithPushProvider(p push.Provider) Option {
	return func(a *App) {
		a.Push = p
	}
}

// WithEmailSender replaces the sender selected from the config.
func WithEmailSender(m email.EmailSender) Option {
	return func(a *App) {
		a.Email = m
	}
}

// WithClock replaces time.Now in every component, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(a *App) {
		if now != nil {
			a.now = now
		}
	}
}

// New connects to the configured stores and wires the components.
// Postgres and Redis are optional: without them state lives in memory, which
// only suits tests and single-process development.
func New(ctx context.Context, cfg Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	if a.Logger == nil {
		a.Logger = logger.New(logger.WithEnvironment(cfg.Environment, cfg.ServiceName))
	}

	if err := a.connect(ctx); err != nil {
		a.Close()
		return nil, err
	}

	limits, err := quota.LimitsFromConfig(cfg.Quota)
	if err != nil {
		a.Close()
		return nil, errors.Join(ErrInvalidConfig, err)
	}

	if err := a.selectProviders(); err != nil {
		a.Close()
		return nil, err
	}

	a.Breakers = breaker.NewRegistry(
		breaker.WithConfig(cfg.Breaker),
		breaker.WithFailurePredicate(retry.IsRetryable),
		breaker.WithClock(a.now),
		breaker.WithLogger(a.Logger),
	)

	var quotaStore quota.Store = quota.NewMemoryStore(quota.WithMemoryClock(a.now))
	if a.Redis != nil {
		quotaStore = quota.NewRedisStore(a.Redis)
	}
	a.Quota = quota.NewController(quotaStore,
		quota.WithLimits(limits...),
		quota.WithKeyPrefix(cfg.Quota.KeyPrefix),
		quota.WithClock(a.now),
		quota.WithLogger(a.Logger),
	)

	var fallbackStore fallback.Store
	if a.DB != nil {
		a.Preferences = gate.NewPostgresStore(a.DB)
		a.Tokens = push.NewPostgresTokenStore(a.DB)
		a.Records = delivery.NewPostgresStore(a.DB)
		a.Jobs = queue.NewPostgresStorage(a.DB)
		fallbackStore = fallback.NewPostgresStore(a.DB)
	} else {
		a.Preferences = gate.NewMemoryStore()
		a.Tokens = push.NewMemoryTokenStore()
		a.Records = delivery.NewMemoryStore()
		a.Jobs = queue.NewMemoryStorage(queue.WithStorageClock(a.now))
		fallbackStore = fallback.NewMemoryStore()
	}

	a.Fallback, err = fallback.NewQueue(fallbackStore,
		fallback.WithConfig(cfg.Fallback),
		fallback.WithDeliveryRecords(a.Records),
		fallback.WithAdmission(a.Quota),
		fallback.WithClock(a.now),
		fallback.WithLogger(a.Logger),
	)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Sender = sender.New(
		sender.WithConfig(cfg.Sender),
		sender.WithTimeouts(cfg.Push.Timeout, cfg.Email.Timeout),
		sender.WithPreferenceStore(a.Preferences),
		sender.WithPush(a.Push, a.Tokens),
		sender.WithEmail(a.Email, a.contacts),
		sender.WithBreakers(a.Breakers),
		sender.WithAdmission(a.Quota),
		sender.WithRetryOptions(retry.WithConfig(cfg.Retry)),
		sender.WithDeliveryRecords(a.Records),
		sender.WithFallbackQueue(a.Fallback),
		sender.WithClock(a.now),
		sender.WithLogger(a.Logger),
	)
	a.Fallback.SetDeliverer(a.Sender)

	a.Logger.LogAttrs(ctx, slog.LevelInfo, "notification core ready",
		slog.Bool("postgres", a.DB != nil),
		slog.Bool("redis", a.Redis != nil),
		slog.Int("quota_limits", len(limits)),
	)

	return a, nil
}

func (a *App) connect(ctx context.Context) error {
	if a.cfg.PG.Enabled() {
		pool, err := pg.Connect(ctx, a.cfg.PG)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		a.DB = pool

		if a.cfg.MigrateOnStart {
			if err := pg.Migrate(ctx, pool, a.cfg.PG, a.Logger); err != nil {
				return fmt.Errorf("postgres migrations: %w", err)
			}
		}
	}

	if a.cfg.Redis.Enabled() {
		client, err := redis.Connect(ctx, a.cfg.Redis)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		a.Redis = client
	}
	return nil
}

// selectProviders falls back to null providers when a channel is not configured.
func (a *App) selectProviders() error {
	if a.Push == nil {
		if a.cfg.Push.Enabled {
			a.Push = push.NewExpoProvider(a.cfg.Push)
		} else {
			a.Push = push.NewNoopProvider(a.Logger)
		}
	}

	if a.Email == nil {
		if a.cfg.Email.PostmarkEnabled() {
			client, err := email.NewPostmarkClient(a.cfg.Email)
			if err != nil {
				return errors.Join(ErrInvalidConfig, err)
			}
			a.Email = client
		} else {
			a.Email = email.NewDevSender(a.cfg.Email.DevOutputDir)
		}
	}
	return nil
}

// Healthcheck pings the configured stores.
func (a *App) Healthcheck(ctx context.Context) error {
	var errs []error
	if a.DB != nil {
		if err := pg.Healthcheck(a.DB)(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.Redis != nil {
		if err := redis.Healthcheck(a.Redis)(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Join(append([]error{ErrUnhealthy}, errs...)...)
	}
	return nil
}

// Close releases store connections. It is safe to call more than once.
func (a *App) Close() {
	if a.DB != nil {
		a.DB.Close()
		a.DB = nil
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Logger.LogAttrs(context.Background(), slog.LevelWarn, "failed to close redis client", logger.Error(err))
		}
		a.Redis = nil
	}
}
