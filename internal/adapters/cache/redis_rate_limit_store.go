package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRateLimitStore counts attempts in fixed windows backed by Redis.
type RedisRateLimitStore struct {
	client *redis.Client
}

// NewRedisRateLimitStore creates a rate-limit counter store backed by Redis.
func NewRedisRateLimitStore(client *redis.Client) *RedisRateLimitStore {
	return &RedisRateLimitStore{client: client}
}

// Increment bumps the window counter and returns the new count. The TTL is
// set only when the key is created, so the window is fixed from the first
// attempt rather than sliding.
func (s *RedisRateLimitStore) Increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	redisKey := "gate:ratelimit:" + key

	var count *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		count = p.Incr(ctx, redisKey)
		p.ExpireNX(ctx, redisKey, window)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count.Val(), nil
}
