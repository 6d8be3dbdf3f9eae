package persistence

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/carlosmonteiro/serverless-commerce/internal/domain/ledger"
	"github.com/carlosmonteiro/serverless-commerce/internal/domain/shared"
	"github.com/carlosmonteiro/serverless-commerce/internal/infrastructure/persistence/models"
)

// LedgerStore implements ledger.Store on a SQL table.
type LedgerStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewLedgerStore creates a new SQL ledger store
func NewLedgerStore(db *gorm.DB) *LedgerStore {
	return &LedgerStore{db: db, now: time.Now}
}

// Append inserts entry. Write-once appends first clear an expired row with the
// same key, then insert with ON CONFLICT DO NOTHING; zero affected rows means
// a live entry already holds the key.
func (s *LedgerStore) Append(ctx context.Context, entry ledger.Entry, mode ledger.Mode) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now().UTC()
	}
	row := models.LedgerEntryModelFromDomain(entry)

	if mode == ledger.Overwrite {
		err := s.db.WithContext(ctx).
			Clauses(clause.OnConflict{UpdateAll: true}).
			Create(row).Error
		return storeError("ledger append", err)
	}

	var inserted bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("pk = ? AND sk = ? AND ttl IS NOT NULL AND ttl <= ?", row.PartitionKey, row.SortKey, s.now().Unix()).
			Delete(&models.LedgerEntryModel{}).Error; err != nil {
			return err
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(row)
		if res.Error != nil {
			return res.Error
		}
		inserted = res.RowsAffected == 1
		return nil
	})
	if err != nil {
		return storeError("ledger append", err)
	}
	if !inserted {
		return shared.ErrConditionFailed.Withf("ledger entry %s/%s already exists", entry.PartitionKey, entry.SortKey)
	}
	return nil
}

// Get returns a live entry.
func (s *LedgerStore) Get(ctx context.Context, partitionKey, sortKey string) (ledger.Entry, error) {
	var row models.LedgerEntryModel
	err := s.db.WithContext(ctx).
		Where("pk = ? AND sk = ?", partitionKey, sortKey).
		Where("ttl IS NULL OR ttl > ?", s.now().Unix()).
		First(&row).Error
	if err != nil {
		return ledger.Entry{}, storeError("ledger get", err)
	}
	return row.ToDomain(), nil
}

// QueryByRequester pages through idx_ledger_email ordered by (sk, pk).
func (s *LedgerStore) QueryByRequester(ctx context.Context, q ledger.RequesterQuery, page ledger.PageRequest) (ledger.Page, error) {
	page = page.Normalize()
	position, err := ledger.DecodeCursor(page.Cursor)
	if err != nil {
		return ledger.Page{}, err
	}

	query := s.db.WithContext(ctx).
		Where("requester_email = ?", q.Email).
		Where("ttl IS NULL OR ttl > ?", s.now().Unix())
	if prefix := q.SortKeyPrefix(); prefix != "" {
		query = query.Where("substr(sk, 1, ?) = ?", len(prefix), prefix)
	}
	if position != nil {
		query = query.Where("sk > ? OR (sk = ? AND pk > ?)", position["sk"], position["sk"], position["pk"])
	}

	var rows []models.LedgerEntryModel
	if err := query.Order("sk ASC").Order("pk ASC").Limit(page.Limit + 1).Find(&rows).Error; err != nil {
		return ledger.Page{}, storeError("ledger query", err)
	}

	out := ledger.Page{Entries: make([]ledger.Entry, 0, min(len(rows), page.Limit))}
	for i := range rows {
		if i == page.Limit {
			last := rows[i-1]
			out.NextCursor = ledger.EncodeCursor(map[string]string{"pk": last.PartitionKey, "sk": last.SortKey})
			break
		}
		out.Entries = append(out.Entries, rows[i].ToDomain())
	}
	return out, nil
}

var _ ledger.Store = (*LedgerStore)(nil)
