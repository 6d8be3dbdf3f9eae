package logger

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type contextKey string

const (
	loggerKey        contextKey = "logger"
	requestIDKey     contextKey = "request_id"
	connectionIDKey  contextKey = "connection_id"
	transactionIDKey contextKey = "transaction_id"
	orderIDKey       contextKey = "order_id"
)

// correlation lists the context values copied onto every entry logged through L.
var correlation = []contextKey{requestIDKey, connectionIDKey, transactionIDKey, orderIDKey}

// WithContext returns a new context carrying log.
func WithContext(ctx context.Context, log *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, log)
}

// FromContext returns the logger stored in ctx or a no-op logger.
func FromContext(ctx context.Context) *zap.Logger {
	if log, ok := ctx.Value(loggerKey).(*zap.Logger); ok {
		return log
	}
	return zap.NewNop()
}

// WithRequestID tags ctx with the id of the inbound request.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// WithConnectionID tags ctx with a client channel id.
func WithConnectionID(ctx context.Context, connectionID string) context.Context {
	return context.WithValue(ctx, connectionIDKey, connectionID)
}

// WithTransactionID tags ctx with an import transaction id.
func WithTransactionID(ctx context.Context, transactionID string) context.Context {
	return context.WithValue(ctx, transactionIDKey, transactionID)
}

// WithOrderID tags ctx with the order an event belongs to.
func WithOrderID(ctx context.Context, orderID string) context.Context {
	return context.WithValue(ctx, orderIDKey, orderID)
}

// GetRequestID returns the request id stored in ctx, if any.
func GetRequestID(ctx context.Context) string {
	return stringValue(ctx, requestIDKey)
}

// GetConnectionID returns the connection id stored in ctx, if any.
func GetConnectionID(ctx context.Context) string {
	return stringValue(ctx, connectionIDKey)
}

// GetTransactionID returns the transaction id stored in ctx, if any.
func GetTransactionID(ctx context.Context) string {
	return stringValue(ctx, transactionIDKey)
}

func stringValue(ctx context.Context, key contextKey) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// GetTraceID returns the trace id of the active span or "".
func GetTraceID(ctx context.Context) string {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return ""
	}
	return spanCtx.TraceID().String()
}

// L returns a logger for ctx enriched with trace ids and correlation values.
//
//	logger.L(ctx, base).Info("import completed", zap.Int("records", n))
//
// When base is nil the logger stored in ctx is used.
func L(ctx context.Context, base *zap.Logger) *zap.Logger {
	log := base
	if log == nil {
		log = FromContext(ctx)
	}

	fields := make([]zap.Field, 0, len(correlation)+2)
	if spanCtx := trace.SpanContextFromContext(ctx); spanCtx.IsValid() {
		fields = append(fields,
			zap.String("trace_id", spanCtx.TraceID().String()),
			zap.String("span_id", spanCtx.SpanID().String()),
		)
	}
	for _, key := range correlation {
		if v := stringValue(ctx, key); v != "" {
			fields = append(fields, zap.String(string(key), v))
		}
	}
	if len(fields) == 0 {
		return log
	}
	return log.With(fields...)
}
