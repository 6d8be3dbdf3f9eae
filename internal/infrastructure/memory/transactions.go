package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/carlosmonteiro/serverless-commerce/internal/domain/invoice"
	"github.com/carlosmonteiro/serverless-commerce/internal/domain/shared"
)

// TransactionRepository implements invoice.TransactionRepository in memory.
// Transition holds the lock across read, check and write, which makes it
// the compare-and-set the other adapters get from conditional writes.
type TransactionRepository struct {
	mu  sync.Mutex
	txs map[string]invoice.ImportTransaction
	now func() time.Time
}

// NewTransactionRepository creates an empty repository.
func NewTransactionRepository() *TransactionRepository {
	return &TransactionRepository{txs: make(map[string]invoice.ImportTransaction), now: time.Now}
}

func (r *TransactionRepository) Create(ctx context.Context, tx *invoice.ImportTransaction) error {
	if err := ctx.Err(); err != nil {
		return shared.ErrTransientStore.Wrap(err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.txs[tx.TransactionID]; ok {
		return shared.ErrConditionFailed.Withf("transaction %s already exists", tx.TransactionID)
	}
	r.txs[tx.TransactionID] = *tx
	return nil
}

func (r *TransactionRepository) Get(ctx context.Context, transactionID string) (*invoice.ImportTransaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, shared.ErrTransientStore.Wrap(err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.txs[transactionID]
	if !ok {
		return nil, shared.ErrNotFound.Withf("transaction %s not found", transactionID)
	}
	return &tx, nil
}

func (r *TransactionRepository) Transition(ctx context.Context, transactionID string, from []invoice.Status, to invoice.Status, mutations ...invoice.Mutation) (*invoice.ImportTransaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, shared.ErrTransientStore.Wrap(err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.txs[transactionID]
	if !ok {
		return nil, shared.ErrNotFound.Withf("transaction %s not found", transactionID)
	}
	if err := tx.Apply(from, to, r.now(), mutations...); err != nil {
		return nil, err
	}
	r.txs[transactionID] = tx
	return &tx, nil
}

func (r *TransactionRepository) FindExpired(ctx context.Context, status invoice.Status, before time.Time, limit int) ([]*invoice.ImportTransaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, shared.ErrTransientStore.Wrap(err)
	}
	r.mu.Lock()
	var out []*invoice.ImportTransaction
	for _, tx := range r.txs {
		if tx.Status == status && tx.ExpiresAt.Before(before) {
			tx := tx
			out = append(out, &tx)
		}
	}
	r.mu.Unlock()

	slices.SortFunc(out, func(a, b *invoice.ImportTransaction) int { return a.ExpiresAt.Compare(b.ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var _ invoice.TransactionRepository = (*TransactionRepository)(nil)
