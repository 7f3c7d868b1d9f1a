package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RateLimiter throttles scan traffic per device with a fixed Redis
// INCR+TTL window. It only shields the service from misbehaving scanners;
// it has no say in admission decisions.
type RateLimiter struct {
	Client *redis.Client
	Limit  int
	Window time.Duration
}

func NewRateLimiter(client *redis.Client, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{Client: client, Limit: limit, Window: window}
}

// Allow reports whether the device is under its scan budget for the
// current window. A Redis failure fails open: throttling is best-effort
// and must never block legitimate scans.
func (rl *RateLimiter) Allow(ctx context.Context, deviceID string) bool {
	if rl == nil || rl.Client == nil {
		return true
	}

	key := fmt.Sprintf("scan_rate:%s", deviceID)
	count, err := rl.Client.Incr(ctx, key).Result()
	if err != nil {
		return true
	}
	if count == 1 {
		rl.Client.Expire(ctx, key, rl.Window)
	}
	return count <= int64(rl.Limit)
}
