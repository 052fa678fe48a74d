package quota

import (
	"context"
	"time"
)

// Store keeps quota counters. Implementations must make IncrBy atomic per key:
// concurrent increments from simultaneous sends are never lost.
type Store interface {
	// IncrBy adds n to key and returns the new value. The key expires at expireAt.
	IncrBy(ctx context.Context, key string, n int64, expireAt time.Time) (int64, error)
	// Get returns the current value of key, zero when missing or expired.
	Get(ctx context.Context, key string) (int64, error)
}
