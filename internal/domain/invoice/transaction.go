// Package invoice holds the import transaction state machine and the invoice
// records produced by an import.
package invoice

import (
	"context"
	"slices"
	"time"

	"github.com/carlosmonteiro/serverless-commerce/internal/domain/ledger"
	"github.com/carlosmonteiro/serverless-commerce/internal/domain/shared"
)

// Status is the state of an ImportTransaction.
type Status string

const (
	StatusStarted    Status = "STARTED"
	StatusURLIssued  Status = "URL_ISSUED"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusCancelled  Status = "CANCELLED"
	StatusFailed     Status = "FAILED"
)

// IsTerminal reports whether no transition may leave s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusFailed
}

// transitions lists the states each state may move to.
var transitions = map[Status][]Status{
	StatusStarted:    {StatusURLIssued, StatusFailed},
	StatusURLIssued:  {StatusProcessing, StatusCancelled, StatusFailed},
	StatusProcessing: {StatusCompleted, StatusCancelled, StatusFailed},
}

// CanTransitionTo reports whether s -> next is a legal move.
func (s Status) CanTransitionTo(next Status) bool {
	return slices.Contains(transitions[s], next)
}

// Cancellable lists the states a client cancel applies to.
var Cancellable = []Status{StatusURLIssued, StatusProcessing}

// Failure reasons recorded on FAILED transactions.
const (
	ReasonParse   = "PARSE_ERROR"
	ReasonTimeout = "TIMEOUT"
	ReasonStorage = "STORAGE_ERROR"
)

// ImportTransaction tracks one upload from URL issuance to a terminal state.
// ExpiresAt is the upload deadline while URL_ISSUED and the processing
// deadline while PROCESSING.
type ImportTransaction struct {
	TransactionID string    `json:"transactionId"`
	ConnectionID  string    `json:"connectionId"`
	Status        Status    `json:"status"`
	ResourceKey   string    `json:"resourceKey"`
	RequestID     string    `json:"requestId,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	Processed     int       `json:"processed"`
	Skipped       int       `json:"skipped"`
	ExpiresAt     time.Time `json:"expiresAt"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// PartitionKey is the transaction's key in the "transaction" namespace.
func (t *ImportTransaction) PartitionKey() string {
	return ledger.NamespaceTransaction.Key(t.TransactionID)
}

// NewImportTransaction creates a STARTED transaction whose upload target is
// resourceKey and whose URL expires at expiresAt.
func NewImportTransaction(transactionID, connectionID, resourceKey, requestID string, now, expiresAt time.Time) (*ImportTransaction, error) {
	if transactionID == "" || connectionID == "" || resourceKey == "" {
		return nil, shared.ErrValidation.Withf("transaction id, connection id and resource key are required")
	}
	return &ImportTransaction{
		TransactionID: transactionID,
		ConnectionID:  connectionID,
		Status:        StatusStarted,
		ResourceKey:   resourceKey,
		RequestID:     requestID,
		ExpiresAt:     expiresAt.UTC(),
		CreatedAt:     now.UTC(),
		UpdatedAt:     now.UTC(),
	}, nil
}

// Mutation is applied to the stored transaction inside a conditional
// transition, after the state has been validated.
type Mutation func(*ImportTransaction)

// WithReason records why a transaction failed.
func WithReason(reason string) Mutation {
	return func(t *ImportTransaction) { t.Reason = reason }
}

// WithDeadline moves the transaction's expiry to at.
func WithDeadline(at time.Time) Mutation {
	return func(t *ImportTransaction) { t.ExpiresAt = at.UTC() }
}

// WithCounts records how many records were written and skipped.
func WithCounts(processed, skipped int) Mutation {
	return func(t *ImportTransaction) {
		t.Processed = processed
		t.Skipped = skipped
	}
}

// TransactionRepository persists import transactions with conditional writes.
type TransactionRepository interface {
	// Create inserts tx write-once; a replayed id fails with shared.ErrConditionFailed.
	Create(ctx context.Context, tx *ImportTransaction) error
	// Get returns the stored transaction or shared.ErrNotFound.
	Get(ctx context.Context, transactionID string) (*ImportTransaction, error)
	// Transition moves the transaction to `to` only if its stored status is
	// one of from. A mismatch fails with shared.ErrConditionFailed and leaves
	// the row untouched. The updated transaction is returned.
	Transition(ctx context.Context, transactionID string, from []Status, to Status, mutations ...Mutation) (*ImportTransaction, error)
	// FindExpired lists transactions in status whose ExpiresAt is before t.
	FindExpired(ctx context.Context, status Status, before time.Time, limit int) ([]*ImportTransaction, error)
}

// Apply validates and applies a transition to t in memory. Repositories call
// it after loading the row so every adapter enforces the same rules.
func (t *ImportTransaction) Apply(from []Status, to Status, now time.Time, mutations ...Mutation) error {
	if !slices.Contains(from, t.Status) {
		return shared.ErrConditionFailed.Withf("transaction %s is %s, expected one of %v", t.TransactionID, t.Status, from)
	}
	if !t.Status.CanTransitionTo(to) {
		return shared.ErrInvalidState.Withf("transaction %s cannot move from %s to %s", t.TransactionID, t.Status, to)
	}
	t.Status = to
	t.UpdatedAt = now.UTC()
	for _, m := range mutations {
		m(t)
	}
	return nil
}
