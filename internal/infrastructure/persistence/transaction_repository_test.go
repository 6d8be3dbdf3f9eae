package persistence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carlosmonteiro/serverless-commerce/internal/domain/connection"
	"github.com/carlosmonteiro/serverless-commerce/internal/domain/identity"
	"github.com/carlosmonteiro/serverless-commerce/internal/domain/invoice"
	"github.com/carlosmonteiro/serverless-commerce/internal/domain/shared"
)

func newTransaction(t *testing.T, id string, expiresAt time.Time) *invoice.ImportTransaction {
	t.Helper()
	tx, err := invoice.NewImportTransaction(id, "conn-1", "uploads/"+id, "req-1", time.Now(), expiresAt)
	require.NoError(t, err)
	return tx
}

func TestTransactionRepository_CreateIsWriteOnce(t *testing.T) {
	repo := NewTransactionRepository(setupTestDB(t))
	ctx := context.Background()
	tx := newTransaction(t, "t1", time.Now().Add(time.Minute))

	require.NoError(t, repo.Create(ctx, tx))
	err := repo.Create(ctx, tx)
	assert.True(t, errors.Is(err, shared.ErrConditionFailed))

	got, err := repo.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusStarted, got.Status)
	assert.Equal(t, "conn-1", got.ConnectionID)

	_, err = repo.Get(ctx, "missing")
	assert.True(t, errors.Is(err, shared.ErrNotFound))
}

func TestTransactionRepository_Transition(t *testing.T) {
	repo := NewTransactionRepository(setupTestDB(t))
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, newTransaction(t, "t1", time.Now().Add(time.Minute))))

	updated, err := repo.Transition(ctx, "t1", []invoice.Status{invoice.StatusStarted}, invoice.StatusURLIssued)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusURLIssued, updated.Status)

	t.Run("stale expected state fails", func(t *testing.T) {
		_, err := repo.Transition(ctx, "t1", []invoice.Status{invoice.StatusStarted}, invoice.StatusURLIssued)
		assert.True(t, errors.Is(err, shared.ErrConditionFailed))
	})

	t.Run("terminal state is final", func(t *testing.T) {
		_, err := repo.Transition(ctx, "t1", []invoice.Status{invoice.StatusURLIssued}, invoice.StatusProcessing)
		require.NoError(t, err)
		_, err = repo.Transition(ctx, "t1", []invoice.Status{invoice.StatusProcessing}, invoice.StatusCompleted, invoice.WithCounts(3, 1))
		require.NoError(t, err)

		_, err = repo.Transition(ctx, "t1", invoice.Cancellable, invoice.StatusCancelled)
		assert.True(t, errors.Is(err, shared.ErrConditionFailed))

		got, err := repo.Get(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, invoice.StatusCompleted, got.Status)
		assert.Equal(t, 3, got.Processed)
		assert.Equal(t, 1, got.Skipped)
	})
}

func TestTransactionRepository_FindExpired(t *testing.T) {
	repo := NewTransactionRepository(setupTestDB(t))
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, repo.Create(ctx, newTransaction(t, "old", now.Add(-time.Minute))))
	require.NoError(t, repo.Create(ctx, newTransaction(t, "fresh", now.Add(time.Hour))))
	for _, id := range []string{"old", "fresh"} {
		_, err := repo.Transition(ctx, id, []invoice.Status{invoice.StatusStarted}, invoice.StatusURLIssued)
		require.NoError(t, err)
	}

	expired, err := repo.FindExpired(ctx, invoice.StatusURLIssued, now, 10)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "old", expired[0].TransactionID)
}

func TestTransactionRepository_ProcessingDeadlineIsPersisted(t *testing.T) {
	repo := NewTransactionRepository(setupTestDB(t))
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, repo.Create(ctx, newTransaction(t, "t1", now.Add(time.Minute))))
	_, err := repo.Transition(ctx, "t1", []invoice.Status{invoice.StatusStarted}, invoice.StatusURLIssued)
	require.NoError(t, err)
	_, err = repo.Transition(ctx, "t1", []invoice.Status{invoice.StatusURLIssued}, invoice.StatusProcessing,
		invoice.WithDeadline(now.Add(-time.Second)))
	require.NoError(t, err)

	expired, err := repo.FindExpired(ctx, invoice.StatusProcessing, now, 10)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "t1", expired[0].TransactionID)

	none, err := repo.FindExpired(ctx, invoice.StatusURLIssued, now.Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestConnectionDirectory(t *testing.T) {
	dir := NewConnectionDirectory(setupTestDB(t))
	ctx := context.Background()

	require.NoError(t, dir.Put(ctx, connection.Connection{ConnectionID: "c1", EstablishedAt: time.Now()}))
	got, err := dir.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "c1", got.ConnectionID)

	require.NoError(t, dir.Delete(ctx, "c1"))
	require.NoError(t, dir.Delete(ctx, "c1"))

	_, err = dir.Get(ctx, "c1")
	assert.True(t, errors.Is(err, shared.ErrNotFound))
}

func TestBlockedUserRepository(t *testing.T) {
	repo := NewBlockedUserRepository(setupTestDB(t))
	ctx := context.Background()

	u, err := identity.NewBlockedUser("Bad@Example.com", identity.ReasonFraud, "ops", 0, "", time.Now())
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, u))

	got, err := repo.FindByEmail(ctx, "BAD@example.com")
	require.NoError(t, err)
	assert.Equal(t, identity.ReasonFraud, got.Reason)
	assert.True(t, got.Active)

	active, err := repo.ListActive(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	require.NoError(t, repo.Delete(ctx, "bad@example.com"))
	_, err = repo.FindByEmail(ctx, "bad@example.com")
	assert.True(t, errors.Is(err, shared.ErrNotFound))
}
