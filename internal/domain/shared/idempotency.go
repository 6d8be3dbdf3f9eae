package shared

import (
	"context"
	"time"
)

// IdempotencyStore records which messages a side-effecting handler has
// already handled.
type IdempotencyStore interface {
	// MarkProcessed marks messageID for ttl. It returns true if this call
	// made the mark and false if the id was already marked.
	MarkProcessed(ctx context.Context, messageID string, ttl time.Duration) (bool, error)
	// Unmark removes a mark so a failed attempt can be redelivered.
	Unmark(ctx context.Context, messageID string) error
	IsProcessed(ctx context.Context, messageID string) (bool, error)
	Close() error
}
