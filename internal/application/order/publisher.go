package order

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/carlosmonteiro/serverless-commerce/internal/domain/order"
	"github.com/carlosmonteiro/serverless-commerce/internal/domain/shared"
	"github.com/carlosmonteiro/serverless-commerce/internal/infrastructure/event"
	"github.com/carlosmonteiro/serverless-commerce/internal/infrastructure/logger"
	"github.com/carlosmonteiro/serverless-commerce/internal/infrastructure/telemetry"
)

// Blocklist answers whether a requester is barred from acting.
type Blocklist interface {
	IsBlocked(ctx context.Context, email string) bool
}

// EventPublisher validates order events and hands them to the topic.
// Acceptance by the topic is the only guarantee it gives; delivery to the
// subscribers happens afterwards and independently.
type EventPublisher struct {
	topic      event.Topic
	serializer *event.Serializer
	blocklist  Blocklist
	logger     *zap.Logger
	metrics    *telemetry.Metrics
	now        func() time.Time
}

// PublisherOption configures an EventPublisher.
type PublisherOption func(*EventPublisher)

// WithBlocklist rejects events whose requester is blocked.
func WithBlocklist(b Blocklist) PublisherOption {
	return func(p *EventPublisher) { p.blocklist = b }
}

// WithPublisherMetrics counts publish outcomes.
func WithPublisherMetrics(m *telemetry.Metrics) PublisherOption {
	return func(p *EventPublisher) { p.metrics = m }
}

// NewEventPublisher creates a publisher for topic.
func NewEventPublisher(topic event.Topic, serializer *event.Serializer, logger *zap.Logger, opts ...PublisherOption) *EventPublisher {
	p := &EventPublisher{
		topic:      topic,
		serializer: serializer,
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PublishInput contains input for publishing an order event
type PublishInput struct {
	EventType      string
	OrderID        string
	RequesterEmail string
	Payload        []byte
}

// PublishResult is returned once the topic accepted the event
type PublishResult struct {
	MessageID string    `json:"messageId"`
	EventType string    `json:"eventType"`
	OrderID   string    `json:"orderId"`
	Timestamp time.Time `json:"timestamp"`
}

// PublishInput stamps and publishes an event built from input.
func (p *EventPublisher) PublishInput(ctx context.Context, input PublishInput) (*PublishResult, error) {
	e := order.NewEvent(order.EventType(input.EventType), input.OrderID, input.RequesterEmail, input.Payload, p.now())
	id, err := p.Publish(ctx, e)
	if err != nil {
		return nil, err
	}
	return &PublishResult{
		MessageID: id,
		EventType: string(e.EventType),
		OrderID:   e.OrderID,
		Timestamp: e.Timestamp,
	}, nil
}

// Publish validates e, serializes it and publishes it with its routing
// attributes. The order id is the ordering key. It returns the bus-assigned
// message id.
func (p *EventPublisher) Publish(ctx context.Context, e order.Event) (id string, err error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "order", "publish",
		telemetry.WithAttribute(telemetry.SpanAttrOrderID, e.OrderID),
		telemetry.WithAttribute(telemetry.SpanAttrEventType, string(e.EventType)),
	)
	defer span.End()
	defer func() {
		p.metrics.EventPublished(string(e.EventType), err)
		if err != nil {
			telemetry.RecordError(span, err)
		}
	}()

	log := logger.L(logger.WithOrderID(ctx, e.OrderID), p.logger)

	if err := e.Validate(); err != nil {
		return "", err
	}
	if p.blocklist != nil && p.blocklist.IsBlocked(ctx, e.RequesterEmail) {
		log.Warn("Rejected event from blocked requester", zap.String("event_type", string(e.EventType)))
		return "", shared.ErrForbidden.Withf("requester is blocked")
	}

	msg, err := p.serializer.Encode(e)
	if err != nil {
		return "", err
	}
	id, err = p.topic.Publish(ctx, msg)
	if err != nil {
		log.Error("Failed to publish order event", zap.Error(err))
		return "", err
	}

	telemetry.SetAttribute(span, telemetry.SpanAttrMessageID, id)
	log.Info("Order event published",
		zap.String("event_type", string(e.EventType)),
		zap.String("message_id", id))
	return id, nil
}
