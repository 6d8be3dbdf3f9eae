// Package connection describes client channels that the server can push to.
package connection

import (
	"context"
	"time"
)

// Connection is a live client channel. Only its id is referenced elsewhere.
type Connection struct {
	ConnectionID  string    `json:"connectionId"`
	EstablishedAt time.Time `json:"establishedAt"`
}

// Directory stores live connections.
type Directory interface {
	Put(ctx context.Context, conn Connection) error
	// Get returns shared.ErrNotFound when no row exists.
	Get(ctx context.Context, connectionID string) (Connection, error)
	// Delete is idempotent: deleting an absent row is not an error.
	Delete(ctx context.Context, connectionID string) error
}

// Pusher delivers bytes to a channel. It returns shared.ErrChannelGone when
// the channel no longer exists on the gateway side.
type Pusher interface {
	Push(ctx context.Context, connectionID string, payload []byte) error
}
