package invoice

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carlosmonteiro/serverless-commerce/internal/domain/shared"
)

func newTx(t *testing.T) *ImportTransaction {
	t.Helper()
	now := time.Now()
	tx, err := NewImportTransaction("t1", "c1", "uploads/t1", "r1", now, now.Add(5*time.Minute))
	require.NoError(t, err)
	return tx
}

func TestStatus_Transitions(t *testing.T) {
	tests := []struct {
		from, to Status
		ok       bool
	}{
		{StatusStarted, StatusURLIssued, true},
		{StatusURLIssued, StatusProcessing, true},
		{StatusURLIssued, StatusCancelled, true},
		{StatusProcessing, StatusCompleted, true},
		{StatusProcessing, StatusFailed, true},
		{StatusStarted, StatusCompleted, false},
		{StatusCompleted, StatusCancelled, false},
		{StatusCancelled, StatusProcessing, false},
		{StatusFailed, StatusURLIssued, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.ok, tt.from.CanTransitionTo(tt.to))
		})
	}

	for _, s := range []Status{StatusCompleted, StatusCancelled, StatusFailed} {
		assert.True(t, s.IsTerminal())
	}
	assert.False(t, StatusProcessing.IsTerminal())
}

func TestImportTransaction_Apply(t *testing.T) {
	tx := newTx(t)
	assert.Equal(t, "transaction#t1", tx.PartitionKey())

	require.NoError(t, tx.Apply([]Status{StatusStarted}, StatusURLIssued, time.Now()))
	assert.Equal(t, StatusURLIssued, tx.Status)

	err := tx.Apply([]Status{StatusStarted}, StatusURLIssued, time.Now())
	assert.True(t, errors.Is(err, shared.ErrConditionFailed))

	require.NoError(t, tx.Apply([]Status{StatusURLIssued}, StatusProcessing, time.Now()))
	require.NoError(t, tx.Apply([]Status{StatusProcessing}, StatusFailed, time.Now(), WithReason(ReasonParse)))
	assert.Equal(t, ReasonParse, tx.Reason)

	err = tx.Apply(Cancellable, StatusCancelled, time.Now())
	assert.True(t, errors.Is(err, shared.ErrConditionFailed))
	assert.Equal(t, StatusFailed, tx.Status)
}

func TestImportTransaction_ApplyRejectsIllegalTarget(t *testing.T) {
	tx := newTx(t)
	err := tx.Apply([]Status{StatusStarted}, StatusCompleted, time.Now())
	assert.True(t, errors.Is(err, shared.ErrInvalidState))
	assert.Equal(t, StatusStarted, tx.Status)
}

func TestNewImportTransaction_Validation(t *testing.T) {
	_, err := NewImportTransaction("", "c1", "k", "", time.Now(), time.Now())
	assert.True(t, errors.Is(err, shared.ErrValidation))
}

func TestInvoice_ValidateAndLedgerEntry(t *testing.T) {
	inv := Invoice{InvoiceNumber: "INV-1", CustomerName: "acme", ProductID: "p1", Quantity: 2, TotalValue: decimal.RequireFromString("19.90")}
	require.NoError(t, inv.Validate())

	entry, err := inv.LedgerEntry("t1", time.Now())
	require.NoError(t, err)
	assert.Equal(t, "invoice#acme", entry.PartitionKey)
	assert.Equal(t, "INV-1", entry.SortKey)
	assert.Contains(t, string(entry.Payload), `"transactionId":"t1"`)

	bad := inv
	bad.Quantity = 0
	assert.True(t, errors.Is(bad.Validate(), shared.ErrValidation))

	bad = inv
	bad.TotalValue = decimal.NewFromInt(-1)
	assert.True(t, errors.Is(bad.Validate(), shared.ErrValidation))
}
