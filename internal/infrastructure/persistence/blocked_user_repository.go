package persistence

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/carlosmonteiro/serverless-commerce/internal/domain/identity"
	"github.com/carlosmonteiro/serverless-commerce/internal/infrastructure/persistence/models"
)

// BlockedUserRepository implements identity.BlockedUserRepository with GORM.
type BlockedUserRepository struct {
	db *gorm.DB
}

// NewBlockedUserRepository creates a new SQL block-list repository
func NewBlockedUserRepository(db *gorm.DB) *BlockedUserRepository {
	return &BlockedUserRepository{db: db}
}

// Save inserts or replaces the entry for u.Email.
func (r *BlockedUserRepository) Save(ctx context.Context, u *identity.BlockedUser) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(models.BlockedUserModelFromDomain(u)).Error
	return storeError("save blocked user", err)
}

func (r *BlockedUserRepository) FindByEmail(ctx context.Context, email string) (*identity.BlockedUser, error) {
	var row models.BlockedUserModel
	if err := r.db.WithContext(ctx).Where("email = ?", identity.NormalizeEmail(email)).First(&row).Error; err != nil {
		return nil, storeError("find blocked user", err)
	}
	return row.ToDomain(), nil
}

func (r *BlockedUserRepository) Delete(ctx context.Context, email string) error {
	err := r.db.WithContext(ctx).Where("email = ?", identity.NormalizeEmail(email)).Delete(&models.BlockedUserModel{}).Error
	return storeError("delete blocked user", err)
}

func (r *BlockedUserRepository) ListActive(ctx context.Context) ([]*identity.BlockedUser, error) {
	var rows []models.BlockedUserModel
	if err := r.db.WithContext(ctx).Where("active = ?", true).Order("blocked_at DESC").Find(&rows).Error; err != nil {
		return nil, storeError("list blocked users", err)
	}
	out := make([]*identity.BlockedUser, len(rows))
	for i := range rows {
		out[i] = rows[i].ToDomain()
	}
	return out, nil
}

var _ identity.BlockedUserRepository = (*BlockedUserRepository)(nil)
