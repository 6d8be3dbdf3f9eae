package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/carlosmonteiro/serverless-commerce/internal/domain/shared"
)

const defaultIdempotencyPrefix = "commerce:processed:"

// RedisIdempotencyStore records processed message ids in Redis so that
// several consumer processes share one view of what was handled.
type RedisIdempotencyStore struct {
	client    redis.Cmdable
	keyPrefix string
}

// NewRedisIdempotencyStore wraps an existing client.
func NewRedisIdempotencyStore(client redis.Cmdable, keyPrefix string) *RedisIdempotencyStore {
	if keyPrefix == "" {
		keyPrefix = defaultIdempotencyPrefix
	}
	return &RedisIdempotencyStore{client: client, keyPrefix: keyPrefix}
}

// MarkProcessed uses SET NX with a TTL, so the check and the mark are one
// atomic step.
func (s *RedisIdempotencyStore) MarkProcessed(ctx context.Context, messageID string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.keyPrefix+messageID, "1", ttl).Result()
	if err != nil {
		return false, shared.ErrTransientStore.Wrap(fmt.Errorf("mark %s processed: %w", messageID, err))
	}
	return ok, nil
}

// Unmark forgets messageID so a failed handler can be retried.
func (s *RedisIdempotencyStore) Unmark(ctx context.Context, messageID string) error {
	if err := s.client.Del(ctx, s.keyPrefix+messageID).Err(); err != nil {
		return shared.ErrTransientStore.Wrap(fmt.Errorf("unmark %s: %w", messageID, err))
	}
	return nil
}

func (s *RedisIdempotencyStore) IsProcessed(ctx context.Context, messageID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.keyPrefix+messageID).Result()
	if err != nil {
		return false, shared.ErrTransientStore.Wrap(fmt.Errorf("check %s: %w", messageID, err))
	}
	return n > 0, nil
}

// Close is a no-op; the client is owned by the caller.
func (s *RedisIdempotencyStore) Close() error {
	return nil
}

var _ shared.IdempotencyStore = (*RedisIdempotencyStore)(nil)
