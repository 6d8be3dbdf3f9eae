package memory

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/carlosmonteiro/serverless-commerce/internal/domain/queue"
	"github.com/carlosmonteiro/serverless-commerce/internal/domain/shared"
)

type queued struct {
	msg       queue.Message
	visibleAt time.Time
	seq       int64
}

// Queue implements queue.Queue in memory with SQS-like visibility: a
// received message stays hidden until it is deleted, released, or its
// visibility timeout lapses.
type Queue struct {
	name       string
	visibility time.Duration

	mu   sync.Mutex
	msgs map[string]*queued
	seq  int64
	now  func() time.Time
}

// NewQueue creates an empty queue.
func NewQueue(name string, visibility time.Duration) *Queue {
	if visibility <= 0 {
		visibility = 30 * time.Second
	}
	return &Queue{name: name, visibility: visibility, msgs: make(map[string]*queued), now: time.Now}
}

// SetClock replaces the queue's clock.
func (q *Queue) SetClock(now func() time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.now = now
}

func (q *Queue) Name() string { return q.name }

func (q *Queue) Send(ctx context.Context, body []byte, attributes map[string]string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", shared.ErrTransientStore.Wrap(err)
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	q.seq++
	id := uuid.NewString()
	now := q.now()
	q.msgs[id] = &queued{
		msg: queue.Message{
			ID:         id,
			Body:       slices.Clone(body),
			Attributes: maps.Clone(attributes),
			SentAt:     now.UTC(),
		},
		visibleAt: now,
		seq:       q.seq,
	}
	return id, nil
}

func (q *Queue) Receive(ctx context.Context, max int) ([]queue.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var out []queue.Message
	for _, item := range q.ordered() {
		if len(out) == max {
			break
		}
		if item.visibleAt.After(now) {
			continue
		}
		item.msg.ReceiveCount++
		item.msg.ReceiptHandle = uuid.NewString()
		item.visibleAt = now.Add(q.visibility)
		out = append(out, item.msg)
	}
	return out, nil
}

func (q *Queue) Delete(_ context.Context, msg queue.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, err := q.lookup(msg)
	if err != nil {
		return err
	}
	delete(q.msgs, item.msg.ID)
	return nil
}

func (q *Queue) Release(_ context.Context, msg queue.Message, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, err := q.lookup(msg)
	if err != nil {
		return err
	}
	item.visibleAt = q.now().Add(delay)
	return nil
}

func (q *Queue) Peek(_ context.Context, max int) ([]queue.Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []queue.Message
	for _, item := range q.ordered() {
		if len(out) == max {
			break
		}
		m := item.msg
		m.ReceiptHandle = ""
		out = append(out, m)
	}
	return out, nil
}

// Len counts messages, in flight ones included.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.msgs)
}

func (q *Queue) ordered() []*queued {
	items := slices.Collect(maps.Values(q.msgs))
	slices.SortFunc(items, func(a, b *queued) int { return int(a.seq - b.seq) })
	return items
}

func (q *Queue) lookup(msg queue.Message) (*queued, error) {
	item, ok := q.msgs[msg.ID]
	if !ok {
		return nil, shared.ErrNotFound.Withf("message %s not in %s", msg.ID, q.name)
	}
	if item.msg.ReceiptHandle != msg.ReceiptHandle {
		return nil, shared.ErrConditionFailed.Withf("receipt for message %s is stale", msg.ID)
	}
	return item, nil
}

var _ queue.Queue = (*Queue)(nil)
