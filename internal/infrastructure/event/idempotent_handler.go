package event

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/carlosmonteiro/serverless-commerce/internal/domain/shared"
)

// IdempotencyMetrics tracks idempotency-related statistics
type IdempotencyMetrics struct {
	Processed atomic.Int64
	Duplicate atomic.Int64
	Failed    atomic.Int64
}

// IdempotencyStats is a snapshot of idempotency metrics
type IdempotencyStats struct {
	Processed int64 `json:"processed"`
	Duplicate int64 `json:"duplicate"`
	Failed    int64 `json:"failed"`
}

// Stats returns a snapshot of the current metrics
func (m *IdempotencyMetrics) Stats() IdempotencyStats {
	return IdempotencyStats{
		Processed: m.Processed.Load(),
		Duplicate: m.Duplicate.Load(),
		Failed:    m.Failed.Load(),
	}
}

// IdempotentHandler wraps a Handler with side effects (e-mail, billing
// calls) so a redelivered message is handled once. The mark is keyed by
// Message.DedupKey.
type IdempotentHandler struct {
	handler Handler
	store   shared.IdempotencyStore
	ttl     time.Duration
	logger  *zap.Logger
	metrics *IdempotencyMetrics
}

// IdempotentHandlerOption is a functional option for IdempotentHandler
type IdempotentHandlerOption func(*IdempotentHandler)

// WithIdempotencyTTL sets how long a mark is kept.
func WithIdempotencyTTL(ttl time.Duration) IdempotentHandlerOption {
	return func(h *IdempotentHandler) { h.ttl = ttl }
}

// WithIdempotencyMetrics sets the metrics collector
func WithIdempotencyMetrics(metrics *IdempotencyMetrics) IdempotentHandlerOption {
	return func(h *IdempotentHandler) { h.metrics = metrics }
}

// NewIdempotentHandler creates a new idempotent handler wrapper
func NewIdempotentHandler(handler Handler, store shared.IdempotencyStore, log *zap.Logger, opts ...IdempotentHandlerOption) *IdempotentHandler {
	h := &IdempotentHandler{
		handler: handler,
		store:   store,
		ttl:     24 * time.Hour,
		logger:  log,
		metrics: &IdempotencyMetrics{},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle processes msg unless its key is already marked. On failure the
// mark is removed so the redelivery is not mistaken for a duplicate.
func (h *IdempotentHandler) Handle(ctx context.Context, msg Message) error {
	key := msg.DedupKey()

	isNew, err := h.store.MarkProcessed(ctx, key, h.ttl)
	if err != nil {
		// A duplicate side effect beats a dropped message.
		h.logger.Warn("failed to check idempotency, processing anyway",
			zap.String("message_id", key),
			zap.Error(err),
		)
	} else if !isNew {
		h.metrics.Duplicate.Add(1)
		h.logger.Debug("duplicate message detected, skipping", zap.String("message_id", key))
		return nil
	}

	if err := h.handler(ctx, msg); err != nil {
		h.metrics.Failed.Add(1)
		if isNew {
			if unmarkErr := h.store.Unmark(context.WithoutCancel(ctx), key); unmarkErr != nil {
				h.logger.Warn("failed to clear idempotency mark",
					zap.String("message_id", key),
					zap.Error(unmarkErr),
				)
			}
		}
		return err
	}

	h.metrics.Processed.Add(1)
	return nil
}

// Metrics returns the metrics for this handler
func (h *IdempotentHandler) Metrics() *IdempotencyMetrics {
	return h.metrics
}
