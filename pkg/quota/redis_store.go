package quota

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps counters in Redis so every process shares one quota.
// INCRBY and EXPIREAT are sent in a single MULTI/EXEC pipeline.
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) IncrBy(ctx context.Context, key string, n int64, expireAt time.Time) (int64, error) {
	var incr *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.IncrBy(ctx, key, n)
		p.ExpireAt(ctx, key, expireAt)
		return nil
	})
	if err != nil {
		return 0, errors.Join(ErrStoreUnavailable, err)
	}
	return incr.Val(), nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (int64, error) {
	v, err := s.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Join(ErrStoreUnavailable, err)
	}
	return v, nil
}
