// Package fallback is the durable queue of notifications that could not be
// delivered immediately, either because the provider quota is exhausted or
// because the provider is temporarily unavailable.
//
// Enqueue is idempotent per dedup key: while an item with the key is pending,
// processing or sent, or a delivery with the key was recorded within the dedup
// window, a new item is reported as a duplicate instead of stored.
//
// Drain selects due items by priority then age, marks items without retries
// left as failed, and processes no more items than the provider has quota for.
// Every item is claimed with a compare-and-set before delivery, so overlapping
// drains are safe. Items stuck in processing longer than StaleAfter (a crashed
// drain) become eligible again. A failed delivery is retried one RetryDelay
// later until MaxRetries is reached.
//
//	q, _ := fallback.NewQueue(fallback.NewPostgresStore(pool),
//	    fallback.WithAdmission(quotaController),
//	    fallback.WithDeliveryRecords(records),
//	    fallback.WithDeliverer(sender),
//	)
//	res, err := q.Drain(ctx, 50)
package fallback
