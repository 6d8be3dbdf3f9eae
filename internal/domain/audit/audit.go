// Package audit defines the fire-and-forget audit bus.
package audit

import (
	"context"
	"time"
)

// Source names used on audit events.
const (
	SourceInvoiceImport = "app.invoice"
	SourceOrders        = "app.order"
)

// Detail types.
const (
	DetailInvoiceImported = "invoice"
	DetailImportTimeout   = "timeout"
	DetailOrderEvent      = "order"
)

// Event is one audit record.
type Event struct {
	Source     string         `json:"source"`
	DetailType string         `json:"detailType"`
	Detail     map[string]any `json:"detail"`
	Time       time.Time      `json:"time"`
}

// Bus publishes audit events. No response contract is consumed by callers,
// so implementations log failures instead of returning them upstream.
type Bus interface {
	Publish(ctx context.Context, events ...Event) error
}
