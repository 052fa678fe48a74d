// Package redis connects notifykit to Redis through go-redis/v9.
//
// Redis backs the provider quota counters so that several notifykit processes
// share one view of daily and monthly usage. Connect retries until the server
// answers a PING and Healthcheck returns a readiness probe.
//
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	store := quota.NewRedisStore(client)
package redis
