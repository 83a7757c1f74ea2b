package cache

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Connect builds and validates the Redis client backing the rate-limit
// counters. Both redis:// URLs and bare host:port addresses are accepted.
// The connection is pinged before returning so a bad address fails the
// boot instead of degrading every limiter call at runtime.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	var client *redis.Client
	if strings.HasPrefix(redisURL, "redis://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: redisURL})
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	slog.Default().InfoContext(ctx, "redis connected",
		"service", "M04-Account-Gating-Service",
		"module", "cache",
		"layer", "adapter",
		"operation", "connect",
		"outcome", "success",
	)
	return client, nil
}
