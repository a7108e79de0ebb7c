package resilience

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStorage is a shared-KV Storage backend for RateLimiter, so a
// limit is enforced consistently across every process instance sharing
// one Redis deployment.
type RedisStorage struct {
	client *redis.Client
	prefix string
}

// NewRedisStorage wraps an existing *redis.Client.
func NewRedisStorage(client *redis.Client, keyPrefix string) *RedisStorage {
	if keyPrefix == "" {
		keyPrefix = "ratelimit:"
	}
	return &RedisStorage{client: client, prefix: keyPrefix}
}

func (r *RedisStorage) Increment(ctx context.Context, key string, window time.Duration) (int64, time.Time, error) {
	fullKey := r.prefix + key
	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, fullKey)
	pipe.Expire(ctx, fullKey, window, "NX")
	_, err := pipe.Exec(ctx)
	if err != nil {
		return 0, time.Time{}, err
	}
	ttl, err := r.client.TTL(ctx, fullKey).Result()
	if err != nil {
		return 0, time.Time{}, err
	}
	if ttl < 0 {
		ttl = window
	}
	return incr.Val(), time.Now().Add(ttl), nil
}

func (r *RedisStorage) SetBlock(ctx context.Context, key string, until time.Time) error {
	return r.client.Set(ctx, r.prefix+"block:"+key, "1", time.Until(until)).Err()
}

func (r *RedisStorage) Blocked(ctx context.Context, key string) (bool, time.Time, error) {
	ttl, err := r.client.TTL(ctx, r.prefix+"block:"+key).Result()
	if err != nil {
		return false, time.Time{}, err
	}
	if ttl <= 0 {
		return false, time.Time{}, nil
	}
	return true, time.Now().Add(ttl), nil
}
