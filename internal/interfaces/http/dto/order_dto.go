package dto

import (
	"encoding/json"
	"time"

	"github.com/carlosmonteiro/serverless-commerce/internal/domain/ledger"
	"github.com/carlosmonteiro/serverless-commerce/internal/domain/queue"
)

// PublishOrderEventRequest is the body of POST /orders/events
type PublishOrderEventRequest struct {
	EventType      string          `json:"eventType" binding:"required,oneof=ORDER_CREATED ORDER_UPDATED ORDER_DELETED"`
	OrderID        string          `json:"orderId" binding:"required,max=128"`
	RequesterEmail string          `json:"requesterEmail" binding:"required,email"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// OrderEventResponse is one ledger entry as returned by the requester query
type OrderEventResponse struct {
	OrderID        string          `json:"orderId"`
	EventType      string          `json:"eventType"`
	RequesterEmail string          `json:"requesterEmail"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	ExpiresAt      *time.Time      `json:"expiresAt,omitempty"`
}

// NewOrderEventResponse converts a ledger entry.
func NewOrderEventResponse(e ledger.Entry) OrderEventResponse {
	_, orderID, _ := ledger.SplitKey(e.PartitionKey)
	resp := OrderEventResponse{
		OrderID:        orderID,
		EventType:      e.EventType,
		RequesterEmail: e.RequesterEmail,
		Payload:        e.Payload,
		CreatedAt:      e.CreatedAt,
	}
	if e.TTL != nil {
		t := time.Unix(*e.TTL, 0).UTC()
		resp.ExpiresAt = &t
	}
	return resp
}

// NewOrderEventResponses converts a page of ledger entries.
func NewOrderEventResponses(entries []ledger.Entry) []OrderEventResponse {
	out := make([]OrderEventResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, NewOrderEventResponse(e))
	}
	return out
}

// DeadLetterResponse is one message parked on the dead-letter queue
type DeadLetterResponse struct {
	ID           string            `json:"id"`
	Body         json.RawMessage   `json:"body"`
	Attributes   map[string]string `json:"attributes,omitempty"`
	ReceiveCount int               `json:"receiveCount"`
	SentAt       time.Time         `json:"sentAt"`
}

// NewDeadLetterResponse converts a peeked queue message. Bodies that are not
// JSON are returned as a JSON string.
func NewDeadLetterResponse(msg queue.Message) DeadLetterResponse {
	body := json.RawMessage(msg.Body)
	if !json.Valid(msg.Body) {
		body, _ = json.Marshal(string(msg.Body))
	}
	return DeadLetterResponse{
		ID:           msg.ID,
		Body:         body,
		Attributes:   msg.Attributes,
		ReceiveCount: msg.ReceiveCount,
		SentAt:       msg.SentAt,
	}
}

// BlockUserRequest is the body of POST /admin/blocked-users
type BlockUserRequest struct {
	Email     string `json:"email" binding:"required,email"`
	Reason    string `json:"reason" binding:"required,max=255"`
	BlockedBy string `json:"blockedBy" binding:"required,max=255"`
	Days      int    `json:"days" binding:"omitempty,min=0,max=3650"`
	Notes     string `json:"notes" binding:"omitempty,max=1024"`
}

// BlobEventResult reports what happened to each object key of a blob notification
type BlobEventResult struct {
	Key           string `json:"key"`
	TransactionID string `json:"transactionId,omitempty"`
	Status        string `json:"status,omitempty"`
	Outcome       string `json:"outcome"`
}

// Blob notification outcomes.
const (
	BlobOutcomeProcessed = "processed"
	BlobOutcomeDuplicate = "duplicate"
	BlobOutcomeIgnored   = "ignored"
	BlobOutcomeQueued    = "queued"
)
