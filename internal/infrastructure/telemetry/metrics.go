package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/zap"
)

// MeterProvider exports OpenTelemetry instruments (HTTP server metrics
// recorded by otelgin among them) to the collector.
type MeterProvider struct {
	provider *sdkmetric.MeterProvider
	logger   *zap.Logger
}

// NewMeterProvider installs a periodic OTLP metric reader as the global
// meter provider. Disabled configs keep the global no-op provider.
func NewMeterProvider(ctx context.Context, cfg Config, logger *zap.Logger) (*MeterProvider, error) {
	mp := &MeterProvider{logger: logger}
	if !cfg.Enabled {
		return mp, nil
	}

	exporterOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.CollectorEndpoint)}
	if cfg.Insecure {
		exporterOpts = append(exporterOpts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, exporterOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP metrics exporter: %w", err)
	}

	res, err := newResource(cfg.ServiceName)
	if err != nil {
		return nil, err
	}

	mp.provider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(60*time.Second))),
	)
	otel.SetMeterProvider(mp.provider)
	return mp, nil
}

// Shutdown flushes pending metrics.
func (mp *MeterProvider) Shutdown(ctx context.Context) error {
	if mp.provider == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := mp.provider.Shutdown(shutdownCtx); err != nil {
		mp.logger.Error("Error shutting down meter provider", zap.Error(err))
		return fmt.Errorf("failed to shutdown meter provider: %w", err)
	}
	return nil
}

// Metrics holds the Prometheus collectors for the fan-out, the queue
// consumer, the import workflow and channel pushes. A nil *Metrics records
// nothing, so components accept it as optional.
type Metrics struct {
	registry *prometheus.Registry

	deliveries  *prometheus.CounterVec
	deliveryDur *prometheus.HistogramVec
	queue       *prometheus.CounterVec
	transitions *prometheus.CounterVec
	pushes      *prometheus.CounterVec
	published   *prometheus.CounterVec
	httpReqs    *prometheus.CounterVec
	httpDur     *prometheus.HistogramVec
}

// Label values for queue outcomes.
const (
	OutcomeAcked        = "acked"
	OutcomeRetried      = "retried"
	OutcomeDeadLettered = "dead_lettered"
	OutcomeTimedOut     = "timed_out"
)

// NewMetrics creates the collectors on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.published = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "commerce",
		Name:      "events_published_total",
		Help:      "Order events accepted by the topic, by event type and result.",
	}, []string{"event_type", "result"})

	m.deliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "commerce",
		Name:      "fanout_deliveries_total",
		Help:      "Fan-out deliveries by subscription and result.",
	}, []string{"subscription", "result"})

	m.deliveryDur = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "commerce",
		Name:      "fanout_delivery_duration_seconds",
		Help:      "Time spent delivering to one subscription, retries included.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"subscription"})

	m.queue = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "commerce",
		Name:      "queue_messages_total",
		Help:      "Queue consumer outcomes by queue.",
	}, []string{"queue", "outcome"})

	m.transitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "commerce",
		Name:      "import_transitions_total",
		Help:      "Import transaction status transitions.",
	}, []string{"from", "to"})

	m.pushes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "commerce",
		Name:      "channel_pushes_total",
		Help:      "Server pushes to client channels by message type and result.",
	}, []string{"type", "result"})

	m.httpReqs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "commerce",
		Name:      "http_requests_total",
		Help:      "HTTP requests by method, route pattern and status code.",
	}, []string{"method", "route", "status"})

	m.httpDur = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "commerce",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by method and route pattern.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	m.registry.MustRegister(
		m.published, m.deliveries, m.deliveryDur, m.queue, m.transitions, m.pushes,
		m.httpReqs, m.httpDur,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// EventPublished counts one publish attempt.
func (m *Metrics) EventPublished(eventType string, err error) {
	if m == nil {
		return
	}
	m.published.WithLabelValues(eventType, result(err)).Inc()
}

// Delivery records one fan-out delivery.
func (m *Metrics) Delivery(subscription string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(subscription, result(err)).Inc()
	m.deliveryDur.WithLabelValues(subscription).Observe(d.Seconds())
}

// QueueOutcome counts one consumer outcome.
func (m *Metrics) QueueOutcome(queueName, outcome string) {
	if m == nil {
		return
	}
	m.queue.WithLabelValues(queueName, outcome).Inc()
}

// Transition counts an import status change.
func (m *Metrics) Transition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

// Push counts a push to a client channel.
func (m *Metrics) Push(messageType string, err error) {
	if m == nil {
		return
	}
	m.pushes.WithLabelValues(messageType, result(err)).Inc()
}

// HTTPRequest records one served request. route is the matched pattern, not
// the raw path.
func (m *Metrics) HTTPRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpReqs.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDur.WithLabelValues(method, route).Observe(d.Seconds())
}
