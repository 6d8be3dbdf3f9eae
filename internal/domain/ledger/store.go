package ledger

import (
	"context"
	"iter"
)

// Store is the durable key-value port behind the ledger.
type Store interface {
	// Append writes entry. In WriteOnce mode a live entry with the same
	// (PartitionKey, SortKey) makes it fail with shared.ErrConditionFailed.
	Append(ctx context.Context, entry Entry, mode Mode) error
	// Get returns the live entry or shared.ErrNotFound.
	Get(ctx context.Context, partitionKey, sortKey string) (Entry, error)
	// QueryByRequester reads one page of the requester-email index.
	QueryByRequester(ctx context.Context, q RequesterQuery, page PageRequest) (Page, error)
}

// RequesterQuery selects entries by requester email, optionally narrowed to
// one event type (matched as a sort key prefix).
type RequesterQuery struct {
	Email     string
	EventType string
}

// SortKeyPrefix returns the sort-key prefix the query narrows to, or "".
func (q RequesterQuery) SortKeyPrefix() string {
	if q.EventType == "" {
		return ""
	}
	return q.EventType + KeySeparator
}

// DefaultPageSize is used when a PageRequest leaves Limit unset.
const DefaultPageSize = 25

// MaxPageSize caps a single page.
const MaxPageSize = 100

// PageRequest asks for the page following Cursor.
type PageRequest struct {
	Cursor string
	Limit  int
}

// Normalize clamps Limit into [1, MaxPageSize].
func (p PageRequest) Normalize() PageRequest {
	switch {
	case p.Limit <= 0:
		p.Limit = DefaultPageSize
	case p.Limit > MaxPageSize:
		p.Limit = MaxPageSize
	}
	return p
}

// Page is one slice of results. NextCursor is empty on the last page.
type Page struct {
	Entries    []Entry `json:"entries"`
	NextCursor string  `json:"nextCursor,omitempty"`
}

// Paginate returns a lazy sequence over every entry matching q. Pages are
// fetched on demand, and iterating the sequence again restarts the query
// from the first page. A fetch error is yielded once and ends the sequence.
func Paginate(ctx context.Context, store Store, q RequesterQuery, pageSize int) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		req := PageRequest{Limit: pageSize}.Normalize()
		for {
			if err := ctx.Err(); err != nil {
				yield(Entry{}, err)
				return
			}
			page, err := store.QueryByRequester(ctx, q, req)
			if err != nil {
				yield(Entry{}, err)
				return
			}
			for _, e := range page.Entries {
				if !yield(e, nil) {
					return
				}
			}
			if page.NextCursor == "" {
				return
			}
			req.Cursor = page.NextCursor
		}
	}
}
