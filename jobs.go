package notifykit

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dmitrymomot/notifykit/pkg/delivery"
	"github.com/dmitrymomot/notifykit/pkg/queue"
)

// Names of the periodic maintenance tasks registered by RegisterJobs.
const (
	DrainFallbackTaskName   = "notifykit.drain_fallback"
	PurgeFallbackTaskName   = "notifykit.purge_fallback"
	PurgeDeliveriesTaskName = "notifykit.purge_deliveries"
)

// NewWorker creates a job worker over the app's job store.
func (a *App) NewWorker(opts ...queue.WorkerOption) (*queue.Worker, error) {
	base := []queue.WorkerOption{
		queue.WithWorkerConfig(a.cfg.Queue),
		queue.WithWorkerClock(a.now),
		queue.WithWorkerLogger(a.Logger),
	}
	return queue.NewWorker(a.Jobs, append(base, opts...)...)
}

// NewScheduler creates a scheduler that enqueues periodic tasks into the app's job store.
func (a *App) NewScheduler(opts ...queue.SchedulerOption) (*queue.Scheduler, error) {
	base := []queue.SchedulerOption{
		queue.WithCheckInterval(a.cfg.Queue.SchedulerInterval),
		queue.WithSchedulerClock(a.now),
		queue.WithSchedulerLogger(a.Logger),
	}
	return queue.NewScheduler(a.Jobs, append(base, opts...)...)
}

// NewEnqueuer creates an enqueuer for one-off jobs.
func (a *App) NewEnqueuer(opts ...queue.EnqueuerOption) (*queue.Enqueuer, error) {
	return queue.NewEnqueuer(a.Jobs, append([]queue.EnqueuerOption{queue.WithEnqueuerClock(a.now)}, opts...)...)
}

// RegisterJobs registers the maintenance handlers on w and, when s is not nil,
// schedules them: the fallback drain every minute and the retention sweeps
// once a day. Hosts that trigger jobs externally pass a nil scheduler and call
// Worker.ProcessNext after enqueueing the tasks themselves.
func (a *App) RegisterJobs(w *queue.Worker, s *queue.Scheduler) error {
	if w == nil {
		return ErrNilWorker
	}

	err := w.RegisterHandlers(
		queue.NewPeriodicTaskHandler(DrainFallbackTaskName, a.drainFallback),
		queue.NewPeriodicTaskHandler(PurgeFallbackTaskName, a.purgeFallback),
		queue.NewPeriodicTaskHandler(PurgeDeliveriesTaskName, a.purgeDeliveries),
		queue.NewPurgeHandler(a.Jobs, a.cfg.Queue.Retention,
			queue.WithPurgeClock(a.now),
			queue.WithPurgeLogger(a.Logger),
		),
	)
	if err != nil {
		return err
	}
	if s == nil {
		return nil
	}

	return errors.Join(
		s.AddTask(DrainFallbackTaskName, queue.EveryMinute(), queue.WithTaskPriority(queue.PriorityHigh)),
		s.AddTask(PurgeFallbackTaskName, queue.DailyAt(3, 0), queue.WithTaskPriority(queue.PriorityLow)),
		s.AddTask(PurgeDeliveriesTaskName, queue.DailyAt(3, 15), queue.WithTaskPriority(queue.PriorityLow)),
		s.AddTask(queue.PurgeTaskName, queue.DailyAt(3, 30), queue.WithTaskPriority(queue.PriorityLow)),
	)
}

func (a *App) drainFallback(ctx context.Context) error {
	_, err := a.Fallback.Drain(ctx, 0)
	return err
}

func (a *App) purgeFallback(ctx context.Context) error {
	_, err := a.Fallback.Purge(ctx, 0)
	return err
}

func (a *App) purgeDeliveries(ctx context.Context) error {
	p, ok := a.Records.(delivery.Purger)
	if !ok || a.cfg.DeliveryRetention <= 0 {
		return nil
	}
	n, err := p.PurgeBefore(ctx, a.now().UTC().Add(-a.cfg.DeliveryRetention))
	if err != nil {
		return err
	}
	if n > 0 {
		a.Logger.LogAttrs(ctx, slog.LevelInfo, "purged delivery records", slog.Int64("count", n))
	}
	return nil
}
