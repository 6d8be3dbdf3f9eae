package event

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/carlosmonteiro/serverless-commerce/internal/domain/order"
	"github.com/carlosmonteiro/serverless-commerce/internal/domain/shared"
)

// DefaultMaxMessageBytes is the largest body a topic accepts.
const DefaultMaxMessageBytes = 256 * 1024

// ErrPayloadTooLarge is wrapped when a serialized event exceeds the limit.
var ErrPayloadTooLarge = errors.New("serialized event exceeds the topic message size limit")

// Serializer converts order events to and from topic messages.
type Serializer struct {
	maxBytes int
}

// NewSerializer creates a serializer with the given size limit. A
// non-positive limit selects DefaultMaxMessageBytes.
func NewSerializer(maxBytes int) *Serializer {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxMessageBytes
	}
	return &Serializer{maxBytes: maxBytes}
}

// Encode serializes e. The message id is left to the topic.
func (s *Serializer) Encode(e order.Event) (Message, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return Message{}, shared.ErrPublish.Wrap(fmt.Errorf("marshal event: %w", err))
	}
	if len(body) > s.maxBytes {
		return Message{}, shared.ErrPublish.Wrap(fmt.Errorf("%w: %d > %d bytes", ErrPayloadTooLarge, len(body), s.maxBytes))
	}
	return Message{
		Body:        body,
		Attributes:  e.Attributes(),
		OrderingKey: e.OrderID,
		PublishedAt: e.Timestamp,
	}, nil
}

// Decode parses msg back into an event, carrying over the message id.
func (s *Serializer) Decode(msg Message) (order.Event, error) {
	e, err := order.Decode(msg.Body)
	if err != nil {
		return order.Event{}, err
	}
	if e.MessageID == "" {
		e.MessageID = msg.DedupKey()
	}
	return e, nil
}
