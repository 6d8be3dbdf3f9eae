package models

import (
	"time"

	"github.com/carlosmonteiro/serverless-commerce/internal/domain/connection"
	"github.com/carlosmonteiro/serverless-commerce/internal/domain/identity"
)

// ConnectionModel is a live client channel
type ConnectionModel struct {
	ConnectionID  string `gorm:"type:varchar(128);primaryKey"`
	EstablishedAt time.Time
}

// TableName returns the table name for GORM
func (ConnectionModel) TableName() string {
	return "connections"
}

// ToDomain converts the row to a domain connection
func (m *ConnectionModel) ToDomain() connection.Connection {
	return connection.Connection{ConnectionID: m.ConnectionID, EstablishedAt: m.EstablishedAt}
}

// BlockedUserModel is a block-list row keyed by lower-cased email
type BlockedUserModel struct {
	Email     string `gorm:"type:varchar(320);primaryKey"`
	Reason    string `gorm:"type:varchar(64);not null"`
	BlockedBy string `gorm:"type:varchar(128)"`
	BlockedAt time.Time
	Active    bool `gorm:"index"`
	ExpiresAt *time.Time
	Notes     string `gorm:"type:text"`
}

// TableName returns the table name for GORM
func (BlockedUserModel) TableName() string {
	return "blocked_users"
}

// ToDomain converts the row to a domain blocked user
func (m *BlockedUserModel) ToDomain() *identity.BlockedUser {
	return &identity.BlockedUser{
		Email:     m.Email,
		Reason:    m.Reason,
		BlockedBy: m.BlockedBy,
		BlockedAt: m.BlockedAt,
		Active:    m.Active,
		ExpiresAt: m.ExpiresAt,
		Notes:     m.Notes,
	}
}

// BlockedUserModelFromDomain creates a row from a domain blocked user
func BlockedUserModelFromDomain(u *identity.BlockedUser) *BlockedUserModel {
	return &BlockedUserModel{
		Email:     u.Email,
		Reason:    u.Reason,
		BlockedBy: u.BlockedBy,
		BlockedAt: u.BlockedAt,
		Active:    u.Active,
		ExpiresAt: u.ExpiresAt,
		Notes:     u.Notes,
	}
}
