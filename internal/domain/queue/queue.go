// Package queue describes the durable queue port: at-least-once delivery,
// a visibility deadline per receive, and a dead-letter queue for messages
// that exhaust their receive budget.
package queue

import (
	"context"
	"time"
)

// Message is one delivery of a queued body.
type Message struct {
	ID         string            `json:"id"`
	Body       []byte            `json:"body"`
	Attributes map[string]string `json:"attributes,omitempty"`
	// ReceiveCount includes the current delivery.
	ReceiveCount int       `json:"receiveCount"`
	SentAt       time.Time `json:"sentAt"`
	// ReceiptHandle identifies this delivery for Delete and Release.
	ReceiptHandle string `json:"-"`
}

// Queue is the broker-neutral port used by the consumer.
type Queue interface {
	Name() string
	Send(ctx context.Context, body []byte, attributes map[string]string) (string, error)
	// Receive returns up to max visible messages and hides them for the
	// queue's visibility timeout, incrementing their receive count.
	Receive(ctx context.Context, max int) ([]Message, error)
	// Delete acknowledges a delivery.
	Delete(ctx context.Context, msg Message) error
	// Release makes a failed delivery visible again after delay.
	Release(ctx context.Context, msg Message, delay time.Duration) error
	// Peek lists up to max messages without changing their visibility.
	Peek(ctx context.Context, max int) ([]Message, error)
}

// Policy is the redrive configuration of a source queue.
type Policy struct {
	// MaxReceiveCount is the number of failed deliveries after which a
	// message moves to the dead-letter queue.
	MaxReceiveCount   int
	VisibilityTimeout time.Duration
	// RetryDelay is the visibility delay applied to a failed delivery.
	RetryDelay time.Duration
}

// DefaultPolicy matches the order-events queue: three receives, then DLQ.
func DefaultPolicy() Policy {
	return Policy{
		MaxReceiveCount:   3,
		VisibilityTimeout: 30 * time.Second,
		RetryDelay:        5 * time.Second,
	}
}

// Exhausted reports whether a failed delivery of msg must be dead-lettered.
func (p Policy) Exhausted(msg Message) bool {
	return p.MaxReceiveCount > 0 && msg.ReceiveCount >= p.MaxReceiveCount
}
