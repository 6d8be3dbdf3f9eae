package event

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/carlosmonteiro/serverless-commerce/internal/infrastructure/logger"
	"github.com/carlosmonteiro/serverless-commerce/internal/infrastructure/telemetry"
)

// Delivery reports what happened to one subscription for one message.
type Delivery struct {
	Subscription string
	Target       string
	Matched      bool
	Attempts     int
	Err          error
	Duration     time.Duration
}

// Router evaluates every subscription of a routing table against a message
// and delivers to each match concurrently. A failing or panicking target
// never affects the others.
type Router struct {
	table   *RoutingTable
	logger  *zap.Logger
	metrics *telemetry.Metrics
	timeout time.Duration
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithDeliveryTimeout bounds each delivery, retries included.
func WithDeliveryTimeout(d time.Duration) RouterOption {
	return func(r *Router) { r.timeout = d }
}

// WithRouterMetrics records deliveries.
func WithRouterMetrics(m *telemetry.Metrics) RouterOption {
	return func(r *Router) { r.metrics = m }
}

// NewRouter creates a router over table.
func NewRouter(table *RoutingTable, log *zap.Logger, opts ...RouterOption) *Router {
	r := &Router{table: table, logger: log}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Route delivers msg to every matching subscription and waits for all of
// them. The report has one entry per subscription in table order.
func (r *Router) Route(ctx context.Context, msg Message) []Delivery {
	ctx, span := telemetry.StartSpan(ctx, "fanout.route",
		telemetry.WithAttribute(telemetry.SpanAttrMessageID, msg.ID),
		telemetry.WithAttribute(telemetry.SpanAttrOrderID, msg.OrderingKey),
	)
	defer span.End()

	subs := r.table.subs
	report := make([]Delivery, len(subs))

	var wg sync.WaitGroup
	for i, sub := range subs {
		report[i] = Delivery{Subscription: sub.Name, Target: sub.Target.Kind()}
		if !sub.Filter.Matches(msg.Attributes) {
			continue
		}
		report[i].Matched = true

		wg.Add(1)
		go func(d *Delivery, sub Subscription) {
			defer wg.Done()
			labels := telemetry.OperationLabels("fanout.route", map[string]string{
				telemetry.ProfilingLabelSubscription: sub.Name,
			})
			telemetry.WithProfilingLabels(ctx, labels, func(ctx context.Context) {
				r.deliver(ctx, sub, msg, d)
			})
		}(&report[i], sub)
	}
	wg.Wait()

	for _, d := range report {
		if d.Err != nil {
			telemetry.RecordError(span, d.Err)
			break
		}
	}
	return report
}

// Handle adapts Route to a Handler for topic consumers. It fails when any
// delivery failed.
func (r *Router) Handle(ctx context.Context, msg Message) error {
	var errs []error
	for _, d := range r.Route(ctx, msg) {
		if d.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", d.Subscription, d.Err))
		}
	}
	return errors.Join(errs...)
}

func (r *Router) deliver(ctx context.Context, sub Subscription, msg Message, d *Delivery) {
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			d.Err = fmt.Errorf("target %s panicked: %v", sub.Target.Kind(), rec)
		}
		d.Duration = time.Since(start)
		r.metrics.Delivery(sub.Name, d.Duration, d.Err)
		if d.Err != nil {
			logger.L(ctx, r.logger).Error("delivery failed",
				zap.String("subscription", sub.Name),
				zap.String("target", sub.Target.Kind()),
				zap.String("message_id", msg.ID),
				zap.Int("attempts", d.Attempts),
				zap.Error(d.Err),
			)
		}
	}()

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	d.Attempts, d.Err = sub.Target.Deliver(ctx, msg)
}
