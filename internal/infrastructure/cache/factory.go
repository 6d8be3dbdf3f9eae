package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/carlosmonteiro/serverless-commerce/internal/domain/shared"
	"github.com/carlosmonteiro/serverless-commerce/internal/infrastructure/config"
)

// NewIdempotencyStore builds the store selected by cfg.Driver. When Redis is
// selected but unreachable and fallback is allowed, an in-memory store is
// returned with a warning.
func NewIdempotencyStore(ctx context.Context, cfg config.IdempotencyConfig, client *redis.Client, allowFallback bool, log *zap.Logger) (shared.IdempotencyStore, error) {
	if cfg.Driver != "redis" {
		return NewInMemoryIdempotencyStore(5 * time.Minute), nil
	}
	if client != nil {
		if err := client.Ping(ctx).Err(); err == nil {
			log.Info("using Redis idempotency store")
			return NewRedisIdempotencyStore(client, ""), nil
		} else if !allowFallback {
			return nil, fmt.Errorf("redis required for idempotency but unavailable: %w", err)
		} else {
			log.Warn("Redis unavailable, falling back to in-memory idempotency store", zap.Error(err))
		}
	} else if !allowFallback {
		return nil, fmt.Errorf("redis required for idempotency but no client configured")
	}
	return NewInMemoryIdempotencyStore(5 * time.Minute), nil
}
