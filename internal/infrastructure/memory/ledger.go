// Package memory holds process-local adapters for the store ports. They
// keep the same conditional-write semantics as the SQL and DynamoDB
// adapters and back the "memory" store driver and tests.
package memory

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/carlosmonteiro/serverless-commerce/internal/domain/ledger"
	"github.com/carlosmonteiro/serverless-commerce/internal/domain/shared"
)

type ledgerKey struct{ pk, sk string }

// LedgerStore implements ledger.Store in memory.
type LedgerStore struct {
	mu      sync.RWMutex
	entries map[ledgerKey]ledger.Entry
	now     func() time.Time
}

// NewLedgerStore creates an empty store.
func NewLedgerStore() *LedgerStore {
	return &LedgerStore{entries: make(map[ledgerKey]ledger.Entry), now: time.Now}
}

// SetClock replaces the store's clock, for TTL tests.
func (s *LedgerStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *LedgerStore) Append(ctx context.Context, entry ledger.Entry, mode ledger.Mode) error {
	if err := ctx.Err(); err != nil {
		return shared.ErrTransientStore.Wrap(err)
	}
	if err := entry.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now.UTC()
	}
	key := ledgerKey{entry.PartitionKey, entry.SortKey}
	if existing, ok := s.entries[key]; ok && mode == ledger.WriteOnce && !existing.Expired(now) {
		return shared.ErrConditionFailed.Withf("ledger entry %s/%s already exists", entry.PartitionKey, entry.SortKey)
	}
	entry.Payload = slices.Clone(entry.Payload)
	s.entries[key] = entry
	return nil
}

func (s *LedgerStore) Get(ctx context.Context, partitionKey, sortKey string) (ledger.Entry, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Entry{}, shared.ErrTransientStore.Wrap(err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[ledgerKey{partitionKey, sortKey}]
	if !ok || e.Expired(s.now()) {
		return ledger.Entry{}, shared.ErrNotFound.Withf("ledger entry %s/%s not found", partitionKey, sortKey)
	}
	return e, nil
}

// QueryByRequester orders matches by (sk, pk), like the SQL index.
func (s *LedgerStore) QueryByRequester(ctx context.Context, q ledger.RequesterQuery, page ledger.PageRequest) (ledger.Page, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Page{}, shared.ErrTransientStore.Wrap(err)
	}
	page = page.Normalize()
	position, err := ledger.DecodeCursor(page.Cursor)
	if err != nil {
		return ledger.Page{}, err
	}

	s.mu.RLock()
	now := s.now()
	prefix := q.SortKeyPrefix()
	var matches []ledger.Entry
	for _, e := range s.entries {
		if e.RequesterEmail != q.Email || e.Expired(now) || !strings.HasPrefix(e.SortKey, prefix) {
			continue
		}
		matches = append(matches, e)
	}
	s.mu.RUnlock()

	slices.SortFunc(matches, func(a, b ledger.Entry) int {
		return cmp.Or(strings.Compare(a.SortKey, b.SortKey), strings.Compare(a.PartitionKey, b.PartitionKey))
	})
	if position != nil {
		i, _ := slices.BinarySearchFunc(matches, position, func(e ledger.Entry, p map[string]string) int {
			return cmp.Or(strings.Compare(e.SortKey, p["sk"]), strings.Compare(e.PartitionKey, p["pk"]))
		})
		if i < len(matches) && matches[i].SortKey == position["sk"] && matches[i].PartitionKey == position["pk"] {
			i++
		}
		matches = matches[i:]
	}

	out := ledger.Page{}
	if len(matches) > page.Limit {
		matches = matches[:page.Limit]
		last := matches[len(matches)-1]
		out.NextCursor = ledger.EncodeCursor(map[string]string{"pk": last.PartitionKey, "sk": last.SortKey})
	}
	out.Entries = slices.Clone(matches)
	return out, nil
}

// Len counts stored entries, expired ones included.
func (s *LedgerStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

var _ ledger.Store = (*LedgerStore)(nil)
