// Package event carries order events from the topic to their subscribers:
// the routing table and its filters, the delivery targets, the topic
// drivers and the durable queue consumer.
package event

import (
	"context"
	"maps"
	"time"
)

// AttrMessageID is the attribute that keeps the topic message id when a
// message is re-enqueued, so queue-side handlers can deduplicate on it.
const AttrMessageID = "messageId"

// Message is one serialized event with its routing attributes.
type Message struct {
	ID          string
	Body        []byte
	Attributes  map[string]string
	OrderingKey string
	PublishedAt time.Time

	// ReceiveCount and LastAttempt are set by the queue consumer. LastAttempt
	// means a failure of this delivery dead-letters the message.
	ReceiveCount int
	LastAttempt  bool
}

// Attr returns the named attribute, or "".
func (m Message) Attr(name string) string {
	return m.Attributes[name]
}

// DedupKey is the id side-effecting handlers should deduplicate on.
func (m Message) DedupKey() string {
	if id := m.Attributes[AttrMessageID]; id != "" {
		return id
	}
	return m.ID
}

// withAttributes returns a copy of m with extra attributes merged in.
func (m Message) withAttributes(extra map[string]string) Message {
	attrs := make(map[string]string, len(m.Attributes)+len(extra))
	maps.Copy(attrs, m.Attributes)
	maps.Copy(attrs, extra)
	m.Attributes = attrs
	return m
}

// Handler processes one message. Returning an error asks for redelivery.
type Handler func(ctx context.Context, msg Message) error
