package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/carlosmonteiro/serverless-commerce/internal/infrastructure/config"
)

func TestInMemoryIdempotencyStore_MarkProcessed(t *testing.T) {
	store := NewInMemoryIdempotencyStore(0)
	defer store.Close()
	ctx := context.Background()
	now := time.Now()
	store.now = func() time.Time { return now }

	t.Run("first mark wins", func(t *testing.T) {
		first, err := store.MarkProcessed(ctx, "m1", time.Hour)
		require.NoError(t, err)
		assert.True(t, first)

		again, err := store.MarkProcessed(ctx, "m1", time.Hour)
		require.NoError(t, err)
		assert.False(t, again)

		processed, err := store.IsProcessed(ctx, "m1")
		require.NoError(t, err)
		assert.True(t, processed)
	})

	t.Run("expired ids can be marked again", func(t *testing.T) {
		_, err := store.MarkProcessed(ctx, "m2", time.Minute)
		require.NoError(t, err)

		now = now.Add(2 * time.Minute)
		first, err := store.MarkProcessed(ctx, "m2", time.Minute)
		require.NoError(t, err)
		assert.True(t, first)
	})

	t.Run("unmark releases the id", func(t *testing.T) {
		_, _ = store.MarkProcessed(ctx, "m3", time.Hour)
		require.NoError(t, store.Unmark(ctx, "m3"))
		first, err := store.MarkProcessed(ctx, "m3", time.Hour)
		require.NoError(t, err)
		assert.True(t, first)
	})
}

func TestInMemoryIdempotencyStore_Sweep(t *testing.T) {
	store := NewInMemoryIdempotencyStore(0)
	defer store.Close()
	now := time.Now()
	store.now = func() time.Time { return now }

	_, _ = store.MarkProcessed(context.Background(), "a", time.Second)
	_, _ = store.MarkProcessed(context.Background(), "b", time.Hour)
	now = now.Add(time.Minute)
	store.sweep()

	assert.Equal(t, 1, store.Len())
}

func TestInMemoryIdempotencyStore_CloseTwice(t *testing.T) {
	store := NewInMemoryIdempotencyStore(time.Millisecond)
	assert.NoError(t, store.Close())
	assert.NoError(t, store.Close())
}

func TestNewIdempotencyStore(t *testing.T) {
	ctx := context.Background()

	store, err := NewIdempotencyStore(ctx, config.IdempotencyConfig{Driver: "memory"}, nil, false, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &InMemoryIdempotencyStore{}, store)
	store.Close()

	_, err = NewIdempotencyStore(ctx, config.IdempotencyConfig{Driver: "redis"}, nil, false, zap.NewNop())
	assert.Error(t, err)

	store, err = NewIdempotencyStore(ctx, config.IdempotencyConfig{Driver: "redis"}, nil, true, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &InMemoryIdempotencyStore{}, store)
	store.Close()
}
