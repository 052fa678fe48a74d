package fallback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/notifykit/pkg/delivery"
	"github.com/dmitrymomot/notifykit/pkg/logger"
	"github.com/dmitrymomot/notifykit/pkg/retry"
)

// Config holds fallback queue settings loadable from the environment.
type Config struct {
	MaxRetries  int           `env:"FALLBACK_MAX_RETRIES" envDefault:"3"`
	RetryDelay  time.Duration `env:"FALLBACK_RETRY_DELAY" envDefault:"1m"`
	StaleAfter  time.Duration `env:"FALLBACK_STALE_AFTER" envDefault:"5m"`
	DedupWindow time.Duration `env:"FALLBACK_DEDUP_WINDOW" envDefault:"1h"`
	DrainBatch  int           `env:"FALLBACK_DRAIN_BATCH" envDefault:"50"`
	Retention   time.Duration `env:"FALLBACK_RETENTION" envDefault:"168h"`
	Provider    string        `env:"FALLBACK_PROVIDER" envDefault:"expo"`
}

// DefaultConfig mirrors the envDefault values.
func DefaultConfig() Config {
	return Config{
		MaxRetries:  3,
		RetryDelay:  time.Minute,
		StaleAfter:  5 * time.Minute,
		DedupWindow: time.Hour,
		DrainBatch:  50,
		Retention:   7 * 24 * time.Hour,
		Provider:    "expo",
	}
}

// Queue is the durable store of notifications that could not be sent immediately.
type Queue struct {
	store     Store
	records   delivery.Store
	admission Admission
	deliverer Deliverer
	cfg       Config
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures a Queue.
type Option func(*Queue)

func WithConfig(cfg Config) Option {
	return func(q *Queue) {
		d := DefaultConfig()
		if cfg.MaxRetries <= 0 {
			cfg.MaxRetries = d.MaxRetries
		}
		if cfg.RetryDelay <= 0 {
			cfg.RetryDelay = d.RetryDelay
		}
		if cfg.StaleAfter <= 0 {
			cfg.StaleAfter = d.StaleAfter
		}
		if cfg.DedupWindow <= 0 {
			cfg.DedupWindow = d.DedupWindow
		}
		if cfg.DrainBatch <= 0 {
			cfg.DrainBatch = d.DrainBatch
		}
		if cfg.Retention <= 0 {
			cfg.Retention = d.Retention
		}
		if cfg.Provider == "" {
			cfg.Provider = d.Provider
		}
		q.cfg = cfg
	}
}

// WithDeliveryRecords enables the recent-delivery duplicate check on enqueue
// and writes a record for every item delivered by a drain.
func WithDeliveryRecords(s delivery.Store) Option {
	return func(q *Queue) {
		q.records = s
	}
}

// WithAdmission bounds every drain by the remaining quota of the configured provider.
func WithAdmission(a Admission) Option {
	return func(q *Queue) {
		q.admission = a
	}
}

// WithDeliverer sets the component that sends drained items.
func WithDeliverer(d Deliverer) Option {
	return func(q *Queue) {
		q.deliverer = d
	}
}

func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		if now != nil {
			q.now = now
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) {
		if l != nil {
			q.logger = l
		}
	}
}

func NewQueue(store Store, opts ...Option) (*Queue, error) {
	if store == nil {
		return nil, ErrStoreNil
	}

	q := &Queue{
		store:  store,
		cfg:    DefaultConfig(),
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q, nil
}

// SetDeliverer wires the deliverer after construction, for deliverers that
// themselves depend on the queue.
func (q *Queue) SetDeliverer(d Deliverer) {
	q.deliverer = d
}

// Config returns the effective configuration.
func (q *Queue) Config() Config {
	return q.cfg
}

// Enqueue stores item unless an active item with the same dedup key exists or
// it was delivered within the dedup window. Defaults are applied to ID, status,
// max retries and timestamps.
func (q *Queue) Enqueue(ctx context.Context, item Item) (EnqueueResult, error) {
	if item.UserID == "" {
		return EnqueueResult{}, errors.Join(ErrFailedToEnqueue, ErrMissingUserID)
	}
	if item.DedupKey == "" {
		return EnqueueResult{}, errors.Join(ErrFailedToEnqueue, ErrMissingDedupKey)
	}

	now := q.now().UTC()

	id, reason, err := q.duplicateOf(ctx, item.DedupKey, now)
	if err != nil {
		return EnqueueResult{}, errors.Join(ErrFailedToEnqueue, err)
	}
	if reason != "" {
		q.logDuplicate(ctx, item, reason)
		return EnqueueResult{NotificationID: id, IsDuplicate: true}, nil
	}

	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	item.Status = StatusPending
	item.RetryCount = 0
	if item.MaxRetries <= 0 {
		item.MaxRetries = q.cfg.MaxRetries
	}
	if item.ScheduledFor.IsZero() {
		item.ScheduledFor = now
	}
	item.CreatedAt = now
	item.UpdatedAt = now

	if err := q.store.Insert(ctx, &item); err != nil {
		if !errors.Is(err, ErrDuplicate) {
			return EnqueueResult{}, errors.Join(ErrFailedToEnqueue, err)
		}
		// Lost the race with a concurrent enqueue of the same key.
		res := EnqueueResult{IsDuplicate: true}
		if existing, ferr := q.store.FindActive(ctx, item.DedupKey); ferr == nil {
			res.NotificationID = existing.ID
		}
		q.logDuplicate(ctx, item, "conditional insert rejected")
		return res, nil
	}

	q.logger.LogAttrs(ctx, slog.LevelInfo, "notification queued for deferred delivery",
		logger.NotificationID(item.ID),
		logger.UserID(item.UserID),
		logger.NotificationType(item.Type),
		slog.Int("priority", item.Priority),
	)

	return EnqueueResult{NotificationID: item.ID}, nil
}

// Duplicate reports whether dedupKey belongs to an active item or to a
// delivery inside the dedup window. id is set for active items.
func (q *Queue) Duplicate(ctx context.Context, dedupKey string) (id uuid.UUID, dup bool, err error) {
	if dedupKey == "" {
		return uuid.Nil, false, nil
	}
	id, reason, err := q.duplicateOf(ctx, dedupKey, q.now().UTC())
	return id, reason != "", err
}

func (q *Queue) duplicateOf(ctx context.Context, dedupKey string, now time.Time) (uuid.UUID, string, error) {
	existing, err := q.store.FindActive(ctx, dedupKey)
	switch {
	case err == nil:
		return existing.ID, "active item exists", nil
	case !errors.Is(err, ErrItemNotFound):
		return uuid.Nil, "", err
	}

	if q.records == nil {
		return uuid.Nil, "", nil
	}
	recent, err := q.records.HasRecent(ctx, dedupKey, now.Add(-q.cfg.DedupWindow))
	if err != nil {
		q.logger.LogAttrs(ctx, slog.LevelWarn, "recent delivery check failed",
			logger.DedupKey(dedupKey),
			logger.Error(err),
		)
		return uuid.Nil, "", nil
	}
	if recent {
		return uuid.Nil, "recently delivered", nil
	}
	return uuid.Nil, "", nil
}

// Drain processes up to maxItems due items, never more than the remaining
// provider quota. A non-positive maxItems uses the configured batch size.
func (q *Queue) Drain(ctx context.Context, maxItems int) (DrainResult, error) {
	var res DrainResult
	if q.deliverer == nil {
		return res, errors.Join(ErrFailedToDrain, ErrDelivererNil)
	}
	if maxItems <= 0 {
		maxItems = q.cfg.DrainBatch
	}

	now := q.now().UTC()
	staleBefore := now.Add(-q.cfg.StaleAfter)

	due, err := q.store.ListDue(ctx, now, staleBefore, maxItems)
	if err != nil {
		return res, errors.Join(ErrFailedToDrain, err)
	}

	eligible := make([]Item, 0, len(due))
	for _, it := range due {
		if it.Status == StatusProcessing {
			// The previous claim never finished; Claim persists the same increment.
			it.RetryCount++
		}
		if !it.Exhausted() {
			eligible = append(eligible, it)
			continue
		}
		if err := q.store.MarkFailed(ctx, it.ID, it.RetryCount, "retries exhausted", now); err != nil {
			q.logBookkeeping(ctx, it, "mark exhausted item failed", err)
			continue
		}
		res.Failed++
	}

	remaining := int64(math.MaxInt64)
	if q.admission != nil {
		remaining = q.admission.Remaining(ctx, q.cfg.Provider)
	}
	take := len(eligible)
	if int64(take) > remaining {
		take = int(max(remaining, 0))
	}
	res.Deferred = len(eligible) - take

	if res.Deferred > 0 {
		q.logger.LogAttrs(ctx, slog.LevelInfo, "drain limited by provider quota",
			logger.Provider(q.cfg.Provider),
			slog.Int("eligible", len(eligible)),
			slog.Int("deferred", res.Deferred),
		)
	}

	for _, it := range eligible[:take] {
		if ctx.Err() != nil {
			break
		}

		claimed, err := q.store.Claim(ctx, it.ID, q.now().UTC(), staleBefore)
		if err != nil {
			q.logBookkeeping(ctx, it, "claim item", err)
			continue
		}
		if !claimed {
			continue
		}

		res.Processed++
		switch q.process(ctx, it) {
		case StatusSent:
			res.Sent++
		case StatusFailed:
			res.Failed++
		}
	}

	q.logger.LogAttrs(ctx, slog.LevelInfo, "fallback queue drained",
		slog.Int("processed", res.Processed),
		slog.Int("sent", res.Sent),
		slog.Int("failed", res.Failed),
		slog.Int("deferred", res.Deferred),
	)

	return res, nil
}

// process delivers one claimed item and returns the status it ended in.
func (q *Queue) process(ctx context.Context, it Item) Status {
	report, err := q.deliverer.Deliver(ctx, it)
	now := q.now().UTC()

	if err == nil {
		if err := q.store.MarkSent(ctx, it.ID, now); err != nil {
			q.logBookkeeping(ctx, it, "mark item sent", err)
		}
		q.recordDelivery(ctx, it, report, now)
		return StatusSent
	}

	retryCount := it.RetryCount + 1
	terminal := errors.Is(err, ErrSkipped) || retry.IsTerminal(err)

	if terminal || retryCount >= it.MaxRetries {
		if merr := q.store.MarkFailed(ctx, it.ID, retryCount, err.Error(), now); merr != nil {
			q.logBookkeeping(ctx, it, "mark item failed", merr)
		}
		q.logger.LogAttrs(ctx, slog.LevelWarn, "queued notification failed permanently",
			logger.NotificationID(it.ID),
			logger.UserID(it.UserID),
			logger.RetryCount(retryCount),
			logger.Error(err),
		)
		return StatusFailed
	}

	next := now.Add(q.cfg.RetryDelay)
	if rerr := q.store.Reschedule(ctx, it.ID, retryCount, next, err.Error(), now); rerr != nil {
		q.logBookkeeping(ctx, it, "reschedule item", rerr)
	}
	q.logger.LogAttrs(ctx, slog.LevelInfo, "queued notification rescheduled",
		logger.NotificationID(it.ID),
		logger.RetryCount(retryCount),
		slog.Time("scheduled_for", next),
		logger.Error(err),
	)
	return StatusPending
}

func (q *Queue) recordDelivery(ctx context.Context, it Item, report Report, now time.Time) {
	if q.records != nil {
		rec := &delivery.Record{
			UserID:    it.UserID,
			Type:      it.Type,
			DedupKey:  it.DedupKey,
			PushSent:  report.PushSent,
			EmailSent: report.EmailSent,
			Payload:   it.Payload,
			CreatedAt: now,
		}
		if err := q.records.Create(ctx, rec); err != nil {
			q.logBookkeeping(ctx, it, "write delivery record", err)
		}
	}

	if q.admission != nil && report.Usage > 0 {
		// Store errors are already logged by the controller.
		_, _ = q.admission.TrackUsage(ctx, q.cfg.Provider, report.Usage)
	}
}

// Purge removes sent and failed items last updated before now minus olderThan.
// A non-positive olderThan uses the configured retention.
func (q *Queue) Purge(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		olderThan = q.cfg.Retention
	}
	n, err := q.store.Purge(ctx, q.now().UTC().Add(-olderThan))
	if err != nil {
		return 0, errors.Join(ErrFailedToPurge, err)
	}
	if n > 0 {
		q.logger.LogAttrs(ctx, slog.LevelInfo, "purged finished queued notifications", slog.Int64("count", n))
	}
	return n, nil
}

func (q *Queue) logDuplicate(ctx context.Context, it Item, reason string) {
	q.logger.LogAttrs(ctx, slog.LevelDebug, "duplicate notification not queued",
		logger.UserID(it.UserID),
		logger.DedupKey(it.DedupKey),
		slog.String("reason", reason),
	)
}

func (q *Queue) logBookkeeping(ctx context.Context, it Item, op string, err error) {
	q.logger.LogAttrs(ctx, slog.LevelError, fmt.Sprintf("fallback queue: %s", op),
		logger.NotificationID(it.ID),
		logger.Error(err),
	)
}
