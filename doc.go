// Package notifykit is the reliability core for push and email notifications.
//
// It puts a preference and deduplication gate, per-provider quota admission,
// circuit breakers and retries in front of every provider call. Notifications
// that cannot go out right now are kept in a durable fallback queue that a
// periodic job drains under the same guards. The subpackages under pkg/ can
// be used on their own; App wires them together from a single Config.
//
// Basic usage:
//
//	cfg, err := notifykit.LoadConfig()
//	if err != nil {
//		return err
//	}
//	app, err := notifykit.New(ctx, cfg, notifykit.WithContactResolver(users))
//	if err != nil {
//		return err
//	}
//	defer app.Close()
//
//	res, err := app.Sender.Dispatch(ctx, sender.Request{
//		UserID:  userID,
//		Type:    "order_shipped",
//		Content: sender.Content{Title: "Your order shipped", ItemID: orderID},
//	})
//
// Background maintenance runs through the job queue:
//
//	worker, _ := app.NewWorker()
//	scheduler, _ := app.NewScheduler()
//	if err := app.RegisterJobs(worker, scheduler); err != nil {
//		return err
//	}
//	go scheduler.Start(ctx)
//	if err := worker.Start(ctx); err != nil {
//		return err
//	}
//	defer worker.Stop()
//
// Without PG_CONN_URL and REDIS_URL every store is in memory, which suits
// tests and local development only.
package notifykit
