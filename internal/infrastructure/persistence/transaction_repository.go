package persistence

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/carlosmonteiro/serverless-commerce/internal/domain/invoice"
	"github.com/carlosmonteiro/serverless-commerce/internal/domain/shared"
	"github.com/carlosmonteiro/serverless-commerce/internal/infrastructure/persistence/models"
)

// TransactionRepository implements invoice.TransactionRepository with GORM.
type TransactionRepository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewTransactionRepository creates a new SQL transaction repository
func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db, now: time.Now}
}

// Create inserts tx unless the transaction id was used before.
func (r *TransactionRepository) Create(ctx context.Context, tx *invoice.ImportTransaction) error {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(models.ImportTransactionModelFromDomain(tx))
	if res.Error != nil {
		return storeError("create transaction", res.Error)
	}
	if res.RowsAffected == 0 {
		return shared.ErrConditionFailed.Withf("transaction %s already exists", tx.TransactionID)
	}
	return nil
}

// Get loads a transaction by id.
func (r *TransactionRepository) Get(ctx context.Context, transactionID string) (*invoice.ImportTransaction, error) {
	var row models.ImportTransactionModel
	if err := r.db.WithContext(ctx).Where("transaction_id = ?", transactionID).First(&row).Error; err != nil {
		return nil, storeError("get transaction "+transactionID, err)
	}
	return row.ToDomain(), nil
}

// Transition validates the move against the stored row, then writes it with
// an UPDATE guarded on the status that was read. A concurrent writer that got
// there first leaves zero rows affected, reported as ErrConditionFailed.
func (r *TransactionRepository) Transition(ctx context.Context, transactionID string, from []invoice.Status, to invoice.Status, mutations ...invoice.Mutation) (*invoice.ImportTransaction, error) {
	current, err := r.Get(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	observed := current.Status
	if err := current.Apply(from, to, r.now(), mutations...); err != nil {
		return nil, err
	}

	res := r.db.WithContext(ctx).
		Model(&models.ImportTransactionModel{}).
		Where("transaction_id = ? AND status = ?", transactionID, observed).
		Updates(map[string]any{
			"status":     current.Status,
			"reason":     current.Reason,
			"processed":  current.Processed,
			"skipped":    current.Skipped,
			"expires_at": current.ExpiresAt,
			"updated_at": current.UpdatedAt,
		})
	if res.Error != nil {
		return nil, storeError("transition transaction "+transactionID, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, shared.ErrConditionFailed.Withf("transaction %s changed concurrently", transactionID)
	}
	return current, nil
}

// FindExpired lists transactions stuck in status past their expiry.
func (r *TransactionRepository) FindExpired(ctx context.Context, status invoice.Status, before time.Time, limit int) ([]*invoice.ImportTransaction, error) {
	var rows []models.ImportTransactionModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND expires_at < ?", status, before.UTC()).
		Order("expires_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, storeError("find expired transactions", err)
	}
	out := make([]*invoice.ImportTransaction, len(rows))
	for i := range rows {
		out[i] = rows[i].ToDomain()
	}
	return out, nil
}

var _ invoice.TransactionRepository = (*TransactionRepository)(nil)
