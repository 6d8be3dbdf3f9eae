package ledger

import (
	"context"

	"github.com/carlosmonteiro/serverless-commerce/internal/domain/shared"
)

// ScopedStore restricts appends to partition keys inside a set of namespaces.
// Each writer gets its own scope: the order ledger writer may only touch
// "order#*", the import may only touch "invoice#*" and "transaction#*".
// Reads are not restricted.
type ScopedStore struct {
	Store
	allowed []Namespace
}

// NewScopedStore wraps store with a namespace guard.
func NewScopedStore(store Store, allowed ...Namespace) *ScopedStore {
	return &ScopedStore{Store: store, allowed: allowed}
}

// Append rejects entries outside the scope with shared.ErrForbidden.
func (s *ScopedStore) Append(ctx context.Context, entry Entry, mode Mode) error {
	for _, ns := range s.allowed {
		if ns.Owns(entry.PartitionKey) {
			return s.Store.Append(ctx, entry, mode)
		}
	}
	return shared.ErrForbidden.Withf("writer may not append to %q", entry.PartitionKey)
}

var _ Store = (*ScopedStore)(nil)
