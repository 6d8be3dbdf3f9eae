package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/carlosmonteiro/serverless-commerce/internal/domain/connection"
	"github.com/carlosmonteiro/serverless-commerce/internal/domain/shared"
)

// RedisConnectionDirectory keeps live connections as Redis keys that expire
// after ttl, so rows leaked by a missed disconnect disappear on their own.
type RedisConnectionDirectory struct {
	client    redis.Cmdable
	keyPrefix string
	ttl       time.Duration
}

// NewRedisConnectionDirectory creates a directory on client.
func NewRedisConnectionDirectory(client redis.Cmdable, ttl time.Duration) *RedisConnectionDirectory {
	return &RedisConnectionDirectory{client: client, keyPrefix: "commerce:connection:", ttl: ttl}
}

func (d *RedisConnectionDirectory) Put(ctx context.Context, conn connection.Connection) error {
	value := conn.EstablishedAt.UTC().Format(time.RFC3339Nano)
	if err := d.client.Set(ctx, d.keyPrefix+conn.ConnectionID, value, d.ttl).Err(); err != nil {
		return shared.ErrTransientStore.Wrap(fmt.Errorf("put connection: %w", err))
	}
	return nil
}

func (d *RedisConnectionDirectory) Get(ctx context.Context, connectionID string) (connection.Connection, error) {
	value, err := d.client.Get(ctx, d.keyPrefix+connectionID).Result()
	if errors.Is(err, redis.Nil) {
		return connection.Connection{}, shared.ErrNotFound.Withf("connection %s not found", connectionID)
	}
	if err != nil {
		return connection.Connection{}, shared.ErrTransientStore.Wrap(fmt.Errorf("get connection: %w", err))
	}
	established, _ := time.Parse(time.RFC3339Nano, value)
	return connection.Connection{ConnectionID: connectionID, EstablishedAt: established}, nil
}

// Delete removes the key. DEL on a missing key is not an error in Redis.
func (d *RedisConnectionDirectory) Delete(ctx context.Context, connectionID string) error {
	if err := d.client.Del(ctx, d.keyPrefix+connectionID).Err(); err != nil {
		return shared.ErrTransientStore.Wrap(fmt.Errorf("delete connection: %w", err))
	}
	return nil
}

var _ connection.Directory = (*RedisConnectionDirectory)(nil)
