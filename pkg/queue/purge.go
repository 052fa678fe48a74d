package queue

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dmitrymomot/notifykit/pkg/logger"
)

// PurgeTaskName is the periodic task name of the retention handler.
const PurgeTaskName = "queue.purge_tasks"

// PurgeOption configures the retention handler.
type PurgeOption func(*purgeHandler)

func WithPurgeClock(now func() time.Time) PurgeOption {
	return func(h *purgeHandler) {
		if now != nil {
			h.now = now
		}
	}
}

func WithPurgeLogger(l *slog.Logger) PurgeOption {
	return func(h *purgeHandler) {
		if l != nil {
			h.logger = l
		}
	}
}

type purgeHandler struct {
	repo      PurgeRepository
	retention time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// NewPurgeHandler returns a periodic handler that deletes completed and
// failed tasks, and dead letters, older than retention.
func NewPurgeHandler(repo PurgeRepository, retention time.Duration, opts ...PurgeOption) Handler {
	h := &purgeHandler{
		repo:      repo,
		retention: retention,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return NewPeriodicTaskHandler(PurgeTaskName, h.purge)
}

func (h *purgeHandler) purge(ctx context.Context) error {
	if h.retention <= 0 {
		return nil
	}

	removed, err := h.repo.PurgeTasks(ctx, h.now().Add(-h.retention))
	if err != nil {
		return errors.Join(ErrFailedToPurge, err)
	}

	h.logger.LogAttrs(ctx, slog.LevelInfo, "purged finished tasks",
		logger.Component("queue.purge"),
		slog.Int64("removed", removed),
		slog.Duration("retention", h.retention))
	return nil
}
