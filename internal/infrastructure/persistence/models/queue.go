package models

import "time"

// QueueMessageModel backs the SQL queue driver. A message is visible when
// VisibleAt is in the past; receiving it pushes VisibleAt forward by the
// visibility timeout and increments ReceiveCount.
type QueueMessageModel struct {
	ID           string    `gorm:"type:varchar(64);primaryKey"`
	Queue        string    `gorm:"type:varchar(128);not null;index:idx_queue_visible,priority:1"`
	Body         string    `gorm:"type:text;not null"`
	Attributes   string    `gorm:"type:text"`
	ReceiveCount int       `gorm:"not null;default:0"`
	VisibleAt    time.Time `gorm:"not null;index:idx_queue_visible,priority:2"`
	Receipt      string    `gorm:"type:varchar(64)"`
	SentAt       time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (QueueMessageModel) TableName() string {
	return "queue_messages"
}

// All lists every model managed by AutoMigrate.
func All() []any {
	return []any{
		&LedgerEntryModel{},
		&ImportTransactionModel{},
		&ConnectionModel{},
		&BlockedUserModel{},
		&QueueMessageModel{},
	}
}
