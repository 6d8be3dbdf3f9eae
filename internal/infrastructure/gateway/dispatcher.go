// Package gateway connects client channels to the application: a local
// websocket server for development, and the API Gateway management API for
// channels terminated by AWS.
package gateway

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/carlosmonteiro/serverless-commerce/internal/domain/shared"
)

// Client actions.
const (
	ActionGetImportURL = "getImportUrl"
	ActionCancelImport = "cancelImport"
)

// Request is an inbound client frame. The action field selects the handler.
type Request struct {
	Action        string `json:"action"`
	TransactionID string `json:"transactionId,omitempty"`
	RequestID     string `json:"requestId,omitempty"`
	// Format is the upload file type for getImportUrl: "json" or "csv".
	Format string `json:"format,omitempty"`
}

// ActionFunc handles one action for the sending connection.
type ActionFunc func(ctx context.Context, connectionID string, req Request) error

// Lifecycle is notified when channels open and close.
type Lifecycle interface {
	OnConnect(ctx context.Context, connectionID string) error
	OnDisconnect(ctx context.Context, connectionID string) error
}

// Dispatcher routes channel events to the lifecycle and action handlers. It
// is shared by every gateway driver.
type Dispatcher struct {
	lifecycle Lifecycle
	log       *zap.Logger

	mu      sync.RWMutex
	actions map[string]ActionFunc
}

func NewDispatcher(lifecycle Lifecycle, log *zap.Logger) *Dispatcher {
	return &Dispatcher{lifecycle: lifecycle, log: log, actions: make(map[string]ActionFunc)}
}

// Handle registers fn for action, replacing any previous handler.
func (d *Dispatcher) Handle(action string, fn ActionFunc) {
	d.mu.Lock()
	d.actions[action] = fn
	d.mu.Unlock()
}

func (d *Dispatcher) Connect(ctx context.Context, connectionID string) error {
	d.log.Debug("channel connected", zap.String("connection_id", connectionID))
	return d.lifecycle.OnConnect(ctx, connectionID)
}

func (d *Dispatcher) Disconnect(ctx context.Context, connectionID string) error {
	d.log.Debug("channel disconnected", zap.String("connection_id", connectionID))
	return d.lifecycle.OnDisconnect(ctx, connectionID)
}

// Dispatch decodes body and runs the matching action.
func (d *Dispatcher) Dispatch(ctx context.Context, connectionID string, body []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return req, shared.ErrValidation.Withf("frame is not a JSON object")
	}
	req.Action = strings.TrimSpace(req.Action)

	d.mu.RLock()
	fn, ok := d.actions[req.Action]
	d.mu.RUnlock()
	if !ok {
		return req, shared.ErrValidation.Withf("unsupported action %q", req.Action)
	}
	return req, fn(ctx, connectionID, req)
}
