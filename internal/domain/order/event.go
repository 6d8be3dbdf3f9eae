// Package order defines the immutable order lifecycle event that is fanned
// out to billing, notification, audit and persistence consumers.
package order

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/carlosmonteiro/serverless-commerce/internal/domain/shared"
)

// EventType identifies the lifecycle change an Event describes.
type EventType string

const (
	EventCreated EventType = "ORDER_CREATED"
	EventUpdated EventType = "ORDER_UPDATED"
	EventDeleted EventType = "ORDER_DELETED"
)

// Attribute names exposed to subscription filters.
const (
	AttrEventType      = "eventType"
	AttrOrderID        = "orderId"
	AttrRequesterEmail = "requesterEmail"
)

// IsValid reports whether t is a known event type.
func (t EventType) IsValid() bool {
	switch t {
	case EventCreated, EventUpdated, EventDeleted:
		return true
	}
	return false
}

// Event is a single order lifecycle notification. It is treated as a value:
// NewEvent copies the payload, and nothing mutates an Event after publish.
type Event struct {
	EventType      EventType       `json:"eventType" validate:"required"`
	OrderID        string          `json:"orderId" validate:"required,max=128"`
	RequesterEmail string          `json:"requesterEmail" validate:"required,email"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Timestamp      time.Time       `json:"timestamp" validate:"required"`
	// MessageID is assigned by the bus on publish.
	MessageID string `json:"messageId,omitempty"`
}

// NewEvent builds an Event stamped with now.
func NewEvent(eventType EventType, orderID, requesterEmail string, payload json.RawMessage, now time.Time) Event {
	var p json.RawMessage
	if len(payload) > 0 {
		p = append(json.RawMessage(nil), payload...)
	}
	return Event{
		EventType:      eventType,
		OrderID:        orderID,
		RequesterEmail: strings.ToLower(strings.TrimSpace(requesterEmail)),
		Payload:        p,
		Timestamp:      now.UTC(),
	}
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks the event is well formed. Failures wrap shared.ErrValidation.
func (e Event) Validate() error {
	if err := structValidator().Struct(e); err != nil {
		return shared.ErrValidation.Wrap(err)
	}
	if !e.EventType.IsValid() {
		return shared.ErrValidation.Withf("unknown event type %q", e.EventType)
	}
	if len(e.Payload) > 0 && !json.Valid(e.Payload) {
		return shared.ErrValidation.Withf("payload of order %s is not valid JSON", e.OrderID)
	}
	return nil
}

// Attributes returns the routing attributes filters may reference.
func (e Event) Attributes() map[string]string {
	return map[string]string{
		AttrEventType:      string(e.EventType),
		AttrOrderID:        e.OrderID,
		AttrRequesterEmail: e.RequesterEmail,
	}
}

// Decode parses a serialized event body.
func Decode(body []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(body, &e); err != nil {
		return Event{}, shared.ErrValidation.Wrap(fmt.Errorf("decode order event: %w", err))
	}
	return e, nil
}
