// Package breaker implements per-dependency circuit breakers for calls to
// external providers.
//
// A breaker starts CLOSED. After FailureThreshold consecutive failures it
// opens and rejects calls with *OpenError without invoking them. Once
// ResetTimeout has elapsed since the last failure, the next call moves it to
// HALF_OPEN (lazily, no timers). SuccessThreshold consecutive successes close
// it again; any failure while HALF_OPEN reopens it and restarts the cooldown.
// Failure and success counters reset on every transition.
//
// Registry owns exactly one breaker per dependency name so a failing email
// provider never trips the push breaker:
//
//	reg := breaker.NewRegistry(
//		breaker.WithSettings("expo", breaker.Settings{FailureThreshold: 3, ResetTimeout: 30 * time.Second}),
//	)
//	err := reg.Execute(ctx, "expo", func(ctx context.Context) error {
//		return retry.Do(ctx, send)
//	})
//	if breaker.IsOpen(err) {
//		// defer to the fallback queue
//	}
//
// Every transition is logged and handed to registered observers in the
// background.
package breaker
