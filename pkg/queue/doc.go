// Package queue is a persisted priority work queue with scheduled execution,
// per-task-type retry policies and a dead letter queue.
//
// Three components share a small set of repository interfaces:
//
//   - Enqueuer creates one-time tasks, optionally delayed or scheduled.
//   - Scheduler turns Schedule definitions (intervals, daily times, cron
//     expressions) into pending tasks, one pending instance per name.
//   - Worker claims due tasks for its registered handlers and records the
//     outcome.
//
// Claims pick the pending task with the highest priority and the earliest
// scheduled_at. PostgresStorage claims with FOR UPDATE SKIP LOCKED, so any
// number of workers can poll the same table. A task whose lock expired is
// claimable again.
//
// Failed tasks are rescheduled using the RetryPolicy registered for their name
// (DefaultRetryPolicy otherwise: 5m, 15m, 45m). Terminal errors (see
// retry.Terminal) and exhausted tasks go to the dead letter queue.
//
// Worker.ProcessNext runs a single claim-and-execute cycle, for hosts that
// trigger work externally instead of running Start:
//
//	w, _ := queue.NewWorker(store, queue.WithRetryPolicy("email.send", queue.RetryPolicy{
//	    BaseDelay:  10 * time.Minute,
//	    Multiplier: 2,
//	    MaxDelay:   2 * time.Hour,
//	}))
//	_ = w.RegisterHandler(queue.NewPeriodicTaskHandler("fallback.drain", drain))
//	processed, err := w.ProcessNext(ctx)
//
// NewPurgeHandler deletes finished tasks and dead letters past the retention
// window so the tables do not grow without bound.
package queue
