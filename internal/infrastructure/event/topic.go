package event

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/carlosmonteiro/serverless-commerce/internal/domain/shared"
)

// Topic accepts messages for fan-out. Publish returns once the bus has
// accepted the message, never after delivery.
type Topic interface {
	Publish(ctx context.Context, msg Message) (string, error)
	Close() error
}

// MemoryTopic hands messages to a handler on background lanes. Messages
// with the same ordering key always share a lane, so they are handled in
// publish order.
type MemoryTopic struct {
	handler Handler
	logger  *zap.Logger
	lanes   []chan Message

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewMemoryTopic starts lanes workers feeding handler.
func NewMemoryTopic(handler Handler, lanes int, log *zap.Logger) *MemoryTopic {
	if lanes <= 0 {
		lanes = 8
	}
	t := &MemoryTopic{handler: handler, logger: log, lanes: make([]chan Message, lanes)}
	for i := range t.lanes {
		t.lanes[i] = make(chan Message, 256)
		t.wg.Add(1)
		go t.run(t.lanes[i])
	}
	return t
}

// Publish enqueues msg on its lane. It blocks while the lane is full, up to
// ctx's deadline.
func (t *MemoryTopic) Publish(ctx context.Context, msg Message) (string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return "", shared.ErrPublish.Withf("topic is closed")
	}

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.PublishedAt.IsZero() {
		msg.PublishedAt = time.Now().UTC()
	}

	select {
	case t.lanes[t.laneFor(msg.OrderingKey)] <- msg:
		return msg.ID, nil
	case <-ctx.Done():
		return "", shared.ErrPublish.Wrap(ctx.Err())
	}
}

func (t *MemoryTopic) laneFor(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(t.lanes)))
}

func (t *MemoryTopic) run(lane <-chan Message) {
	defer t.wg.Done()
	for msg := range lane {
		t.dispatch(msg)
	}
}

func (t *MemoryTopic) dispatch(msg Message) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("topic handler panicked",
				zap.String("message_id", msg.ID),
				zap.Any("panic", r),
			)
		}
	}()
	if err := t.handler(context.Background(), msg); err != nil {
		t.logger.Warn("topic handler reported failures",
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
	}
}

// Close stops accepting messages and waits for queued ones to be handled.
func (t *MemoryTopic) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	for _, lane := range t.lanes {
		close(lane)
	}
	t.mu.Unlock()

	t.wg.Wait()
	return nil
}
