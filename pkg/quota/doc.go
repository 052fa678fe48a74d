// Package quota implements admission control against third-party provider quotas.
//
// Each provider has at most one limit in a static table, counted over a daily or
// monthly UTC period. A Controller tracks usage through a Store that provides an
// atomic increment-and-read: MemoryStore for a single process, RedisStore when
// several processes share one quota.
//
//	ctrl := quota.NewController(quota.NewRedisStore(rdb),
//	    quota.WithLimits(quota.Limit{Provider: "expo", Period: quota.Daily, Max: 10000}),
//	)
//
//	if ctrl.ShouldFallback(ctx, "expo", int64(len(tokens))) {
//	    // defer the whole batch
//	}
//	st, _ := ctrl.TrackUsage(ctx, "expo", int64(len(tokens)))
//
// ShouldFallback is true when the remaining capacity cannot cover the whole
// batch, so batches are deferred rather than partially sent. Providers without
// a configured limit are unlimited. When the store cannot be reached the
// controller fails open and logs at error level.
package quota
