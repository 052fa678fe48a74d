// Package retry wraps calls to external providers with exponential backoff and
// jitter.
//
// Before retrying, every error is classified. Authentication and authorization
// failures, validation errors, errors marked with Terminal and 4xx statuses
// (other than 408, 425 and 429) are returned at once without consuming another
// attempt. Everything else, including timeouts and 5xx statuses, is retried
// after Backoff(i) = min(base*2^i, max) ± 25%.
//
// The conventional composition puts the circuit breaker outside:
//
//	err := reg.Execute(ctx, "push", func(ctx context.Context) error {
//		return retry.Do(ctx, send)
//	})
//
// so the breaker records one outcome per retried call.
package retry
