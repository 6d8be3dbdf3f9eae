package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/carlosmonteiro/serverless-commerce/internal/domain/shared"
	"github.com/carlosmonteiro/serverless-commerce/internal/infrastructure/persistence/models"
)

func setupQueueDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.QueueMessageModel{}))
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func TestSQLQueue_ReceiveHidesUntilReleased(t *testing.T) {
	db := setupQueueDB(t)
	q := NewSQLQueue(db, "order-events", time.Minute)
	ctx := context.Background()

	id, err := q.Send(ctx, []byte(`{"orderId":"o1"}`), map[string]string{"eventType": "ORDER_CREATED"})
	require.NoError(t, err)

	msgs, err := q.Receive(ctx, 5)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, id, msgs[0].ID)
	assert.Equal(t, 1, msgs[0].ReceiveCount)
	assert.Equal(t, "ORDER_CREATED", msgs[0].Attributes["eventType"])

	hidden, err := q.Receive(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, hidden)

	require.NoError(t, q.Release(ctx, msgs[0], 0))
	again, err := q.Receive(ctx, 5)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, 2, again[0].ReceiveCount)

	assert.True(t, errors.Is(q.Delete(ctx, msgs[0]), shared.ErrConditionFailed), "first receipt is stale")
	require.NoError(t, q.Delete(ctx, again[0]))

	peeked, err := q.Peek(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, peeked)
}

func TestSQLQueue_QueuesAreIsolated(t *testing.T) {
	db := setupQueueDB(t)
	source := NewSQLQueue(db, "order-events", time.Minute)
	dlq := NewSQLQueue(db, "order-events-dlq", time.Minute)
	ctx := context.Background()

	_, err := dlq.Send(ctx, []byte(`{}`), nil)
	require.NoError(t, err)

	msgs, err := source.Receive(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	peeked, err := dlq.Peek(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, peeked, 1)
	assert.Empty(t, peeked[0].ReceiptHandle)
}

func TestSQLQueue_ReceiveHonoursBatchSizeAndOrder(t *testing.T) {
	db := setupQueueDB(t)
	q := NewSQLQueue(db, "q", time.Minute)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	q.now = func() time.Time { tick++; return base.Add(time.Duration(tick) * time.Second) }
	ctx := context.Background()

	var ids []string
	for range 7 {
		id, err := q.Send(ctx, []byte(`{}`), nil)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	msgs, err := q.Receive(ctx, 5)
	require.NoError(t, err)
	require.Len(t, msgs, 5)
	for i, m := range msgs {
		assert.Equal(t, ids[i], m.ID)
	}
}
