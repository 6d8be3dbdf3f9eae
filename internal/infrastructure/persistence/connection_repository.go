package persistence

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/carlosmonteiro/serverless-commerce/internal/domain/connection"
	"github.com/carlosmonteiro/serverless-commerce/internal/infrastructure/persistence/models"
)

// ConnectionDirectory implements connection.Directory with GORM.
type ConnectionDirectory struct {
	db *gorm.DB
}

// NewConnectionDirectory creates a new SQL connection directory
func NewConnectionDirectory(db *gorm.DB) *ConnectionDirectory {
	return &ConnectionDirectory{db: db}
}

func (d *ConnectionDirectory) Put(ctx context.Context, conn connection.Connection) error {
	row := &models.ConnectionModel{ConnectionID: conn.ConnectionID, EstablishedAt: conn.EstablishedAt}
	err := d.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(row).Error
	return storeError("put connection", err)
}

func (d *ConnectionDirectory) Get(ctx context.Context, connectionID string) (connection.Connection, error) {
	var row models.ConnectionModel
	if err := d.db.WithContext(ctx).Where("connection_id = ?", connectionID).First(&row).Error; err != nil {
		return connection.Connection{}, storeError("get connection "+connectionID, err)
	}
	return row.ToDomain(), nil
}

func (d *ConnectionDirectory) Delete(ctx context.Context, connectionID string) error {
	err := d.db.WithContext(ctx).Where("connection_id = ?", connectionID).Delete(&models.ConnectionModel{}).Error
	return storeError("delete connection", err)
}

var _ connection.Directory = (*ConnectionDirectory)(nil)
