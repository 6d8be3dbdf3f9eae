package models

import (
	"encoding/json"
	"time"

	"github.com/carlosmonteiro/serverless-commerce/internal/domain/ledger"
)

// LedgerEntryModel is one row of the shared event ledger. The composite
// primary key enforces write-once semantics; requester queries use
// idx_ledger_email.
type LedgerEntryModel struct {
	PartitionKey   string `gorm:"column:pk;type:varchar(255);primaryKey"`
	SortKey        string `gorm:"column:sk;type:varchar(255);primaryKey;index:idx_ledger_email,priority:2"`
	RequesterEmail string `gorm:"type:varchar(320);index:idx_ledger_email,priority:1"`
	EventType      string `gorm:"type:varchar(64)"`
	Payload        string `gorm:"type:text"`
	TTL            *int64 `gorm:"column:ttl;index:idx_ledger_ttl"`
	CreatedAt      time.Time
}

// TableName returns the table name for GORM
func (LedgerEntryModel) TableName() string {
	return "ledger_entries"
}

// ToDomain converts the row into a ledger entry
func (m *LedgerEntryModel) ToDomain() ledger.Entry {
	e := ledger.Entry{
		PartitionKey:   m.PartitionKey,
		SortKey:        m.SortKey,
		RequesterEmail: m.RequesterEmail,
		EventType:      m.EventType,
		TTL:            m.TTL,
		CreatedAt:      m.CreatedAt,
	}
	if m.Payload != "" {
		e.Payload = json.RawMessage(m.Payload)
	}
	return e
}

// LedgerEntryModelFromDomain creates a row from a ledger entry
func LedgerEntryModelFromDomain(e ledger.Entry) *LedgerEntryModel {
	return &LedgerEntryModel{
		PartitionKey:   e.PartitionKey,
		SortKey:        e.SortKey,
		RequesterEmail: e.RequesterEmail,
		EventType:      e.EventType,
		Payload:        string(e.Payload),
		TTL:            e.TTL,
		CreatedAt:      e.CreatedAt,
	}
}
