package quota

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/dmitrymomot/notifykit/pkg/logger"
)

// Controller answers whether a provider has capacity for a send and tracks usage.
// Store failures fail open: capacity is reported as unlimited and the failure
// is logged at error level.
type Controller struct {
	store     Store
	limits    map[string][]Limit
	keyPrefix string
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures a Controller.
type Option func(*Controller)

// WithLimits adds rows to the quota table. A provider may have one row per
// period; a later row for the same provider and period replaces the earlier one.
func WithLimits(limits ...Limit) Option {
	return func(c *Controller) {
		for _, l := range limits {
			rows := c.limits[l.Provider]
			i := slices.IndexFunc(rows, func(r Limit) bool { return r.Period == l.Period })
			if i >= 0 {
				rows[i] = l
				continue
			}
			c.limits[l.Provider] = append(rows, l)
		}
	}
}

func WithKeyPrefix(prefix string) Option {
	return func(c *Controller) {
		if prefix != "" {
			c.keyPrefix = prefix
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

func NewController(store Store, opts ...Option) *Controller {
	c := &Controller{
		store:     store,
		limits:    make(map[string][]Limit),
		keyPrefix: "quota",
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Limits returns the configured rows for provider.
func (c *Controller) Limits(provider string) []Limit {
	return slices.Clone(c.limits[provider])
}

// TrackUsage atomically adds n to every counter of the provider for the
// current periods and returns the tightest one.
// On store failure the returned status is unlimited and err wraps ErrStoreUnavailable.
func (c *Controller) TrackUsage(ctx context.Context, provider string, n int64) (Status, error) {
	rows, ok := c.limits[provider]
	if !ok {
		return unlimitedStatus(provider, 0), nil
	}

	var out Status
	for i, l := range rows {
		key, _, end := c.key(l)
		usage, err := c.store.IncrBy(ctx, key, n, end)
		if err != nil {
			c.storeFailed(ctx, "track usage", provider, err)
			return unlimitedStatus(provider, 0), fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
		}
		out = tighter(out, newStatus(l, usage, end), i == 0)
	}
	return out, nil
}

// Status reads the provider's counters without mutating them and returns the
// one with the least remaining capacity.
func (c *Controller) Status(ctx context.Context, provider string) (Status, error) {
	rows, ok := c.limits[provider]
	if !ok {
		return unlimitedStatus(provider, 0), nil
	}

	var out Status
	for i, l := range rows {
		st, err := c.status(ctx, l)
		if err != nil {
			return unlimitedStatus(provider, 0), err
		}
		out = tighter(out, st, i == 0)
	}
	return out, nil
}

func (c *Controller) status(ctx context.Context, l Limit) (Status, error) {
	key, _, end := c.key(l)
	usage, err := c.store.Get(ctx, key)
	if err != nil {
		c.storeFailed(ctx, "read status", l.Provider, err)
		return Status{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return newStatus(l, usage, end), nil
}

func tighter(cur, next Status, first bool) Status {
	if first || next.Remaining < cur.Remaining {
		return next
	}
	return cur
}

// Remaining returns how many sends the provider can still take this period.
// Unlimited providers and store failures report math.MaxInt64.
func (c *Controller) Remaining(ctx context.Context, provider string) int64 {
	st, _ := c.Status(ctx, provider)
	return st.Remaining
}

// ShouldFallback reports whether a batch of required sends cannot be fully
// satisfied and should be deferred instead.
func (c *Controller) ShouldFallback(ctx context.Context, provider string, required int64) bool {
	st, _ := c.Status(ctx, provider)
	return st.Remaining < required
}

// AllStatus returns the status of every configured row sorted by provider
// then period. Rows whose counter cannot be read are reported unlimited.
func (c *Controller) AllStatus(ctx context.Context) []Status {
	out := make([]Status, 0, len(c.limits))
	for provider, rows := range c.limits {
		for _, l := range rows {
			st, err := c.status(ctx, l)
			if err != nil {
				st = unlimitedStatus(provider, 0)
				st.Period = l.Period
			}
			out = append(out, st)
		}
	}
	slices.SortFunc(out, func(a, b Status) int {
		if n := strings.Compare(a.Provider, b.Provider); n != 0 {
			return n
		}
		return strings.Compare(string(a.Period), string(b.Period))
	})
	return out
}

func (c *Controller) key(l Limit) (key string, start, end time.Time) {
	start, end = l.Period.Bounds(c.now())
	return fmt.Sprintf("%s:%s:%s:%s", c.keyPrefix, l.Provider, l.Period, start.Format("20060102")), start, end
}

func (c *Controller) storeFailed(ctx context.Context, op, provider string, err error) {
	c.logger.LogAttrs(ctx, slog.LevelError, "quota store unavailable, failing open",
		slog.String("operation", op),
		logger.Provider(provider),
		logger.Error(err),
	)
}
