package limiter

import (
	"context"
	"time"

	"podiumgo/internal/redis"
)

const redisCounterPrefix = "podium:quota:"

// RedisStore shares counters between server instances.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (r *RedisStore) Count(ctx context.Context, key string) (int64, error) {
	return r.client.GetInt(ctx, redisCounterPrefix+key)
}

func (r *RedisStore) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	return r.client.IncrWithTTL(ctx, redisCounterPrefix+key, ttl)
}

func (r *RedisStore) Reset(ctx context.Context, key string) error {
	return r.client.Del(ctx, redisCounterPrefix+key)
}
