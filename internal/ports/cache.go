package ports

import (
	"context"
	"time"
)

// RateLimitStore counts attempts per (actor, route) key within a window.
// Increment must be atomic: an undercount under concurrency would let an
// attacker slip past the limit, so implementations may not read-modify-write.
type RateLimitStore interface {
	// Increment adds one attempt to the key's current window and returns
	// the updated count. The window TTL is set when the key is first seen.
	Increment(ctx context.Context, key string, window time.Duration) (int64, error)
}
