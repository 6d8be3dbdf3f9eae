package order

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/carlosmonteiro/serverless-commerce/internal/domain/audit"
	"github.com/carlosmonteiro/serverless-commerce/internal/domain/ledger"
	"github.com/carlosmonteiro/serverless-commerce/internal/domain/order"
	"github.com/carlosmonteiro/serverless-commerce/internal/domain/shared"
	"github.com/carlosmonteiro/serverless-commerce/internal/infrastructure/event"
	"github.com/carlosmonteiro/serverless-commerce/internal/infrastructure/logger"
)

// BillingHandler records created orders for billing and reports them on
// the audit bus. It is invoked directly by the fan-out for ORDER_CREATED.
type BillingHandler struct {
	serializer *event.Serializer
	bus        audit.Bus
	logger     *zap.Logger
	now        func() time.Time
}

// NewBillingHandler creates a new billing handler
func NewBillingHandler(serializer *event.Serializer, bus audit.Bus, logger *zap.Logger) *BillingHandler {
	return &BillingHandler{serializer: serializer, bus: bus, logger: logger, now: time.Now}
}

// Handle implements event.Handler.
func (h *BillingHandler) Handle(ctx context.Context, msg event.Message) error {
	e, err := h.serializer.Decode(msg)
	if err != nil {
		return err
	}
	if e.EventType != order.EventCreated {
		return nil
	}

	log := logger.L(logger.WithOrderID(ctx, e.OrderID), h.logger)
	log.Info("Billing order",
		zap.String("message_id", e.MessageID),
		zap.String("total", gjson.GetBytes(e.Payload, "totalPrice").String()))

	detail := map[string]any{
		"orderId":   e.OrderID,
		"eventType": string(e.EventType),
		"messageId": e.MessageID,
	}
	if total := gjson.GetBytes(e.Payload, "totalPrice"); total.Exists() {
		detail["totalPrice"] = total.Value()
	}
	if err := h.bus.Publish(ctx, audit.Event{
		Source:     audit.SourceOrders,
		DetailType: audit.DetailOrderEvent,
		Detail:     detail,
		Time:       h.now().UTC(),
	}); err != nil {
		log.Warn("Failed to publish billing audit event", zap.Error(err))
	}
	return nil
}

// EmailHandler sends the order notification to the requester. It runs
// behind the durable queue and should be wrapped in an
// event.IdempotentHandler, since a redelivery would otherwise send twice.
type EmailHandler struct {
	serializer *event.Serializer
	emailer    order.Emailer
	logger     *zap.Logger
}

// NewEmailHandler creates a new e-mail handler
func NewEmailHandler(serializer *event.Serializer, emailer order.Emailer, logger *zap.Logger) *EmailHandler {
	return &EmailHandler{serializer: serializer, emailer: emailer, logger: logger}
}

// Handle implements event.Handler. A body that does not decode is reported
// as ErrValidation and will end up in the dead-letter queue.
func (h *EmailHandler) Handle(ctx context.Context, msg event.Message) error {
	e, err := h.serializer.Decode(msg)
	if err != nil {
		return err
	}
	if e.RequesterEmail == "" {
		return shared.ErrValidation.Withf("order %s has no requester email", e.OrderID)
	}

	email := RenderEmail(e)
	if err := h.emailer.Send(ctx, email); err != nil {
		return fmt.Errorf("send order email: %w", err)
	}
	logger.L(logger.WithOrderID(ctx, e.OrderID), h.logger).Info("Order email sent",
		zap.String("event_type", string(e.EventType)),
		zap.String("message_id", e.MessageID))
	return nil
}

// RenderEmail builds the plain-text notification for e.
func RenderEmail(e order.Event) order.Email {
	var subject string
	switch e.EventType {
	case order.EventCreated:
		subject = fmt.Sprintf("Order %s received", e.OrderID)
	case order.EventUpdated:
		subject = fmt.Sprintf("Order %s updated", e.OrderID)
	case order.EventDeleted:
		subject = fmt.Sprintf("Order %s cancelled", e.OrderID)
	default:
		subject = fmt.Sprintf("Order %s", e.OrderID)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Hello,\n\nYour order %s changed: %s.\n", e.OrderID, e.EventType)
	if products := gjson.GetBytes(e.Payload, "productCodes"); products.IsArray() {
		codes := make([]string, 0, len(products.Array()))
		for _, p := range products.Array() {
			codes = append(codes, p.String())
		}
		fmt.Fprintf(&b, "Products: %s\n", strings.Join(codes, ", "))
	}
	if total := gjson.GetBytes(e.Payload, "totalPrice"); total.Exists() {
		fmt.Fprintf(&b, "Total: %s\n", total.String())
	}
	if shipping := gjson.GetBytes(e.Payload, "shipping.type"); shipping.Exists() {
		fmt.Fprintf(&b, "Shipping: %s\n", shipping.String())
	}
	b.WriteString("\nThank you for your purchase.\n")

	return order.Email{To: e.RequesterEmail, Subject: subject, Body: b.String()}
}

// LedgerEntryBuilder maps order messages to ledger entries: one partition
// per order, one sort key per event type and publish instant, expiring ttl
// after the event.
func LedgerEntryBuilder(serializer *event.Serializer, ttl time.Duration) event.EntryBuilder {
	return func(msg event.Message) (ledger.Entry, error) {
		e, err := serializer.Decode(msg)
		if err != nil {
			return ledger.Entry{}, err
		}
		return OrderLedgerEntry(e, ttl), nil
	}
}

// OrderLedgerEntry builds the ledger entry recording e.
func OrderLedgerEntry(e order.Event, ttl time.Duration) ledger.Entry {
	entry := ledger.Entry{
		PartitionKey:   ledger.NamespaceOrder.Key(e.OrderID),
		SortKey:        string(e.EventType) + ledger.KeySeparator + strconv.FormatInt(e.Timestamp.UnixMilli(), 10),
		RequesterEmail: e.RequesterEmail,
		EventType:      string(e.EventType),
		Payload:        e.Payload,
		CreatedAt:      e.Timestamp,
	}
	if ttl > 0 {
		entry.TTL = ledger.ExpiresAt(e.Timestamp, ttl)
	}
	return entry
}
