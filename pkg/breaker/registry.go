package breaker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dmitrymomot/notifykit/pkg/async"
	"github.com/dmitrymomot/notifykit/pkg/logger"
)

// Config holds registry-wide defaults loadable from the environment.
type Config struct {
	FailureThreshold int           `env:"BREAKER_FAILURE_THRESHOLD" envDefault:"5"`
	ResetTimeout     time.Duration `env:"BREAKER_RESET_TIMEOUT" envDefault:"60s"`
}

// Observer receives state transition events. Observers run in the background
// and must not assume any ordering relative to the guarded call.
type Observer func(ctx context.Context, ev Event)

// Registry owns one breaker per dependency name. It is meant to be created once
// at startup and shared by every caller.
type Registry struct {
	mu        sync.Mutex
	breakers  map[string]*Breaker
	defaults  Settings
	overrides map[string]Settings

	observers []Observer
	isFailure func(error) bool
	now       func() time.Time
	logger    *slog.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithConfig applies environment defaults to every dependency without an override.
func WithConfig(cfg Config) RegistryOption {
	return func(r *Registry) {
		if cfg.FailureThreshold > 0 {
			r.defaults.FailureThreshold = cfg.FailureThreshold
		}
		if cfg.ResetTimeout > 0 {
			r.defaults.ResetTimeout = cfg.ResetTimeout
		}
	}
}

// WithSettings overrides settings for a single dependency, for example a
// stricter 3 failures / 30s for a flaky third-party API.
func WithSettings(dependency string, s Settings) RegistryOption {
	return func(r *Registry) {
		r.overrides[dependency] = s
	}
}

// WithObserver registers a transition observer.
func WithObserver(o Observer) RegistryOption {
	return func(r *Registry) {
		if o != nil {
			r.observers = append(r.observers, o)
		}
	}
}

// WithFailurePredicate decides which errors count against the breaker.
// Errors for which it returns false are recorded as successes.
func WithFailurePredicate(fn func(error) bool) RegistryOption {
	return func(r *Registry) {
		r.isFailure = fn
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

func WithLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRegistry creates an empty registry. Breakers are created lazily on first use.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		breakers:  make(map[string]*Breaker),
		defaults:  DefaultSettings(),
		overrides: make(map[string]Settings),
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get returns the breaker for dependency, creating it on first use.
func (r *Registry) Get(dependency string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[dependency]; ok {
		return b
	}

	s := r.defaults
	if o, ok := r.overrides[dependency]; ok {
		s = o
	}

	b := newBreaker(dependency, s, r.now, r.emit, r.isFailure)
	r.breakers[dependency] = b
	return b
}

// Execute runs op through the breaker of dependency.
func (r *Registry) Execute(ctx context.Context, dependency string, op func(ctx context.Context) error) error {
	return r.Get(dependency).Execute(ctx, op)
}

// Do is Execute for operations returning a value.
func Do[T any](ctx context.Context, r *Registry, dependency string, op func(ctx context.Context) (T, error)) (T, error) {
	var res T
	err := r.Get(dependency).Execute(ctx, func(ctx context.Context) error {
		var err error
		res, err = op(ctx)
		return err
	})
	return res, err
}

// Stats returns a snapshot of every breaker created so far.
func (r *Registry) Stats() map[string]Stats {
	r.mu.Lock()
	breakers := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		breakers = append(breakers, b)
	}
	r.mu.Unlock()

	out := make(map[string]Stats, len(breakers))
	for _, b := range breakers {
		out[b.Name()] = b.Stats()
	}
	return out
}

// Reset forces the breaker of dependency closed, if it exists.
func (r *Registry) Reset(dependency string) {
	r.mu.Lock()
	b, ok := r.breakers[dependency]
	r.mu.Unlock()

	if ok {
		b.Reset()
	}
}

// emit is called by breakers with their mutex held, so it only logs and hands
// events to observers in the background.
func (r *Registry) emit(ev Event) {
	level := slog.LevelInfo
	if ev.To == StateOpen {
		level = slog.LevelWarn
	}
	r.logger.LogAttrs(context.Background(), level, "circuit breaker state changed",
		logger.Dependency(ev.Dependency),
		slog.String("from", ev.From.String()),
		slog.String("to", ev.To.String()),
		slog.Int("failures", ev.Failures),
	)

	for _, o := range r.observers {
		async.Go(context.Background(), r.logger, "breaker_observer", func(ctx context.Context) error {
			o(ctx, ev)
			return nil
		})
	}
}
