package subscription

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ncecere/codegen_gateway/internal/redisclient"
)

// StatusCache memoizes the computed active flag per user. A zero TTL disables it.
type StatusCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewStatusCache(client *redis.Client, ttl time.Duration, logger *slog.Logger) *StatusCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatusCache{client: client, ttl: ttl, logger: logger}
}

func (c *StatusCache) enabled() bool {
	return c != nil && c.client != nil && c.ttl > 0
}

func (c *StatusCache) Get(ctx context.Context, userID string) (active bool, ok bool) {
	if !c.enabled() || userID == "" {
		return false, false
	}
	value, err := c.client.Get(ctx, c.key(userID)).Result()
	if err != nil {
		return false, false
	}
	return value == "1", true
}

func (c *StatusCache) Set(ctx context.Context, userID string, active bool) {
	if !c.enabled() || userID == "" {
		return
	}
	value := "0"
	if active {
		value = "1"
	}
	if err := c.client.Set(ctx, c.key(userID), value, c.ttl).Err(); err != nil {
		c.logger.Debug("subscription cache write failed", slog.String("user_id", userID), slog.String("error", err.Error()))
	}
}

func (c *StatusCache) Invalidate(ctx context.Context, userID string) {
	if c == nil || c.client == nil || userID == "" {
		return
	}
	// A stale entry outlives a webhook until the TTL expires.
	if err := c.client.Del(ctx, c.key(userID)).Err(); err != nil {
		c.logger.Warn("subscription cache invalidate failed", slog.String("user_id", userID), slog.String("error", err.Error()))
	}
}

func (c *StatusCache) key(userID string) string {
	return redisclient.Key("substatus", userID)
}
