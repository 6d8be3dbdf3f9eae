package event

import (
	"context"
	"errors"
	"fmt"

	"github.com/carlosmonteiro/serverless-commerce/internal/domain/ledger"
	"github.com/carlosmonteiro/serverless-commerce/internal/domain/queue"
	"github.com/carlosmonteiro/serverless-commerce/internal/domain/shared"
	"github.com/carlosmonteiro/serverless-commerce/internal/infrastructure/retry"
)

// Target is where a matching subscription delivers a message. Deliver
// reports the number of attempts it made.
type Target interface {
	Kind() string
	Deliver(ctx context.Context, msg Message) (int, error)
}

// DirectTarget invokes a handler in-process, retrying failures under a
// bounded exponential backoff.
type DirectTarget struct {
	name    string
	handler Handler
	policy  retry.Policy
}

// NewDirectTarget creates a direct target.
func NewDirectTarget(name string, handler Handler, policy retry.Policy) *DirectTarget {
	return &DirectTarget{name: name, handler: handler, policy: policy}
}

func (t *DirectTarget) Kind() string { return "direct:" + t.name }

// Deliver runs the handler. Validation failures are not retried.
func (t *DirectTarget) Deliver(ctx context.Context, msg Message) (int, error) {
	return retry.Do(ctx, t.policy, retryableDelivery, func(ctx context.Context) error {
		return t.handler(ctx, msg)
	})
}

func retryableDelivery(err error) bool {
	return !errors.Is(err, shared.ErrValidation) &&
		!errors.Is(err, shared.ErrPoisonMessage) &&
		!errors.Is(err, context.Canceled)
}

// QueueTarget enqueues the message body and attributes for a durable consumer.
type QueueTarget struct {
	queue queue.Queue
}

// NewQueueTarget creates a queue target.
func NewQueueTarget(q queue.Queue) *QueueTarget {
	return &QueueTarget{queue: q}
}

func (t *QueueTarget) Kind() string { return "queue:" + t.queue.Name() }

func (t *QueueTarget) Deliver(ctx context.Context, msg Message) (int, error) {
	msg = msg.withAttributes(map[string]string{AttrMessageID: msg.DedupKey()})
	if _, err := t.queue.Send(ctx, msg.Body, msg.Attributes); err != nil {
		return 1, fmt.Errorf("enqueue to %s: %w", t.queue.Name(), err)
	}
	return 1, nil
}

// EntryBuilder maps a message onto the ledger entry that records it.
type EntryBuilder func(msg Message) (ledger.Entry, error)

// LedgerTarget persists each message as a write-once ledger entry. A
// duplicate delivery finds the entry already present and counts as done.
type LedgerTarget struct {
	store ledger.Store
	build EntryBuilder
}

// NewLedgerTarget creates a ledger target.
func NewLedgerTarget(store ledger.Store, build EntryBuilder) *LedgerTarget {
	return &LedgerTarget{store: store, build: build}
}

func (t *LedgerTarget) Kind() string { return "ledger" }

func (t *LedgerTarget) Deliver(ctx context.Context, msg Message) (int, error) {
	entry, err := t.build(msg)
	if err != nil {
		return 1, err
	}
	err = t.store.Append(ctx, entry, ledger.WriteOnce)
	if err != nil && !errors.Is(err, shared.ErrConditionFailed) {
		return 1, err
	}
	return 1, nil
}
