package invoice

import (
	"context"
	"fmt"

	"github.com/tidwall/sjson"

	"github.com/carlosmonteiro/serverless-commerce/internal/domain/queue"
)

// AttrObjectKey carries the uploaded object's key on import queue messages.
const AttrObjectKey = "objectKey"

// UploadQueue hands upload notifications to the import queue, whose
// consumer runs ImportService.HandleUploadMessage with the queue's retry
// and dead-letter policy.
type UploadQueue struct {
	queue queue.Queue
}

// NewUploadQueue creates an UploadQueue over q.
func NewUploadQueue(q queue.Queue) *UploadQueue {
	return &UploadQueue{queue: q}
}

// Enqueue queues the notification for key and returns the message id.
func (u *UploadQueue) Enqueue(ctx context.Context, key string) (string, error) {
	body, err := sjson.SetBytes([]byte(`{}`), "key", key)
	if err != nil {
		return "", fmt.Errorf("encode upload notification: %w", err)
	}
	return u.queue.Send(ctx, body, map[string]string{AttrObjectKey: key})
}

// Name is the import queue's name.
func (u *UploadQueue) Name() string {
	return u.queue.Name()
}
