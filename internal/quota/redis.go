package quota

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/ncecere/codegen_gateway/internal/redisclient"
)

// RedisStore keeps the counter in a plain Redis integer without expiry.
type RedisStore struct {
	client *redis.Client
	max    int
}

func NewRedisStore(client *redis.Client, maxFree int) *RedisStore {
	return &RedisStore{client: client, max: maxFree}
}

func (s *RedisStore) Max() int { return s.max }

func (s *RedisStore) Count(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, ErrUserRequired
	}
	count, err := s.client.Get(ctx, counterKey(userID)).Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("read api limit: %w", err)
	}
	return count, nil
}

func (s *RedisStore) HasRemaining(ctx context.Context, userID string) (bool, error) {
	return hasRemaining(ctx, s, userID)
}

func (s *RedisStore) Consume(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrUserRequired
	}
	if err := s.client.Incr(ctx, counterKey(userID)).Err(); err != nil {
		return fmt.Errorf("increment api limit: %w", err)
	}
	return nil
}

func counterKey(userID string) string {
	return redisclient.Key("apilimit", userID)
}
