package redisclient

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ncecere/codegen_gateway/internal/config"
)

// KeyPrefix namespaces every key this service writes.
const KeyPrefix = "codegen:"

// New constructs a Redis client using the provided configuration.
func New(cfg config.RedisConfig) *redis.Client {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		// ParseURL rejects bare host:port and unix socket paths.
		opts = &redis.Options{Addr: cfg.URL}
	}

	if cfg.DB != 0 {
		opts.DB = cfg.DB
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}

	client := redis.NewClient(opts)
	client.AddHook(&skipMaintNotifications{})
	return client
}

// Ping verifies connectivity to Redis with a short timeout.
func Ping(ctx context.Context, client *redis.Client) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if err := client.Ping(timeoutCtx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

// Key joins parts under the service prefix, e.g. Key("apilimit", userID).
func Key(parts ...string) string {
	return KeyPrefix + strings.Join(parts, ":")
}

// skipMaintNotifications drops the CLIENT MAINT_NOTIFICATIONS handshake that older
// Redis servers reject.
type skipMaintNotifications struct{}

func (h *skipMaintNotifications) DialHook(next redis.DialHook) redis.DialHook { return next }

func (h *skipMaintNotifications) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if isMaintNotification(cmd) {
			return nil
		}
		return next(ctx, cmd)
	}
}

func (h *skipMaintNotifications) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		filtered := cmds[:0]
		for _, cmd := range cmds {
			if !isMaintNotification(cmd) {
				filtered = append(filtered, cmd)
			}
		}
		return next(ctx, filtered)
	}
}

func isMaintNotification(cmd redis.Cmder) bool {
	if !strings.EqualFold(cmd.FullName(), "client") || len(cmd.Args()) < 2 {
		return false
	}
	name, ok := cmd.Args()[1].(string)
	return ok && strings.EqualFold(name, "maint_notifications")
}
