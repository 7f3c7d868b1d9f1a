package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/go-redis/redis/v8"
)

const deviceTokenKeyPrefix = "device_token:"

// maxCacheTTL caps how long a verified token stays cached even if its own
// expiry is further out.
const maxCacheTTL = 5 * time.Minute

// DeviceTokenCache remembers recently verified device tokens in Redis so
// every scan in a rush doesn't re-run OIDC verification. Tokens are keyed
// by hash; the raw bearer token never lands in Redis.
type DeviceTokenCache struct {
	Client *redis.Client
}

func NewDeviceTokenCache(client *redis.Client) *DeviceTokenCache {
	return &DeviceTokenCache{Client: client}
}

// Lookup returns the device id for a previously verified token.
func (c *DeviceTokenCache) Lookup(ctx context.Context, rawToken string) (string, bool) {
	if c.Client == nil {
		return "", false
	}
	deviceID, err := c.Client.Get(ctx, cacheKey(rawToken)).Result()
	if err != nil {
		// Cache miss and cache failure look the same to the caller; the
		// middleware falls back to full verification either way.
		return "", false
	}
	return deviceID, true
}

// Store caches a verified token until its expiry, capped at maxCacheTTL.
func (c *DeviceTokenCache) Store(ctx context.Context, rawToken, deviceID string, expiry time.Time) {
	if c.Client == nil {
		return
	}
	ttl := time.Until(expiry)
	if ttl <= 0 {
		return
	}
	if ttl > maxCacheTTL {
		ttl = maxCacheTTL
	}
	_ = c.Client.Set(ctx, cacheKey(rawToken), deviceID, ttl).Err()
}

func cacheKey(rawToken string) string {
	sum := sha256.Sum256([]byte(rawToken))
	return deviceTokenKeyPrefix + hex.EncodeToString(sum[:])
}
