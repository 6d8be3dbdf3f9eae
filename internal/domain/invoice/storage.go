package invoice

import (
	"context"
	"time"
)

// UploadTarget is a time-bounded location a client may PUT a file to.
type UploadTarget struct {
	URL       string    `json:"url"`
	Key       string    `json:"key"`
	ExpiresAt time.Time `json:"expires"`
}

// ObjectStorage is the blob store holding uploaded invoice files.
type ObjectStorage interface {
	GenerateUploadURL(ctx context.Context, key string, expires time.Duration) (UploadTarget, error)
	Get(ctx context.Context, key string) ([]byte, error)
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}
