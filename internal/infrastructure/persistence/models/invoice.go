package models

import (
	"time"

	"github.com/carlosmonteiro/serverless-commerce/internal/domain/invoice"
)

// ImportTransactionModel is the persistence model of an import transaction.
type ImportTransactionModel struct {
	TransactionID string         `gorm:"type:varchar(64);primaryKey"`
	ConnectionID  string         `gorm:"type:varchar(128);not null"`
	Status        invoice.Status `gorm:"type:varchar(20);not null;index:idx_import_status_expiry,priority:1"`
	ResourceKey   string         `gorm:"type:varchar(512);not null"`
	RequestID     string         `gorm:"type:varchar(128)"`
	Reason        string         `gorm:"type:varchar(64)"`
	Processed     int
	Skipped       int
	ExpiresAt     time.Time `gorm:"index:idx_import_status_expiry,priority:2"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// TableName returns the table name for GORM
func (ImportTransactionModel) TableName() string {
	return "import_transactions"
}

// ToDomain converts the row to a domain transaction
func (m *ImportTransactionModel) ToDomain() *invoice.ImportTransaction {
	return &invoice.ImportTransaction{
		TransactionID: m.TransactionID,
		ConnectionID:  m.ConnectionID,
		Status:        m.Status,
		ResourceKey:   m.ResourceKey,
		RequestID:     m.RequestID,
		Reason:        m.Reason,
		Processed:     m.Processed,
		Skipped:       m.Skipped,
		ExpiresAt:     m.ExpiresAt,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

// ImportTransactionModelFromDomain creates a row from a domain transaction
func ImportTransactionModelFromDomain(t *invoice.ImportTransaction) *ImportTransactionModel {
	return &ImportTransactionModel{
		TransactionID: t.TransactionID,
		ConnectionID:  t.ConnectionID,
		Status:        t.Status,
		ResourceKey:   t.ResourceKey,
		RequestID:     t.RequestID,
		Reason:        t.Reason,
		Processed:     t.Processed,
		Skipped:       t.Skipped,
		ExpiresAt:     t.ExpiresAt,
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
	}
}
