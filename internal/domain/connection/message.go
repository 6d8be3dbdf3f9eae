package connection

import (
	"encoding/json"
	"time"
)

// Message types pushed to import clients.
const (
	TypeUploadURL = "UPLOAD_URL"
	TypeProgress  = "PROGRESS"
	TypeStatus    = "STATUS"
	TypeError     = "ERROR"
)

// Message is the JSON envelope pushed over a channel.
type Message struct {
	Type          string    `json:"type"`
	TransactionID string    `json:"transactionId,omitempty"`
	Status        string    `json:"status,omitempty"`
	URL           string    `json:"url,omitempty"`
	Expires       time.Time `json:"expires,omitzero"`
	InvoiceNumber string    `json:"invoiceNumber,omitempty"`
	Processed     int       `json:"processed,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	RequestID     string    `json:"requestId,omitempty"`
}

// Encode marshals m. The envelope only holds strings, ints and a time, so
// marshalling cannot fail.
func (m Message) Encode() []byte {
	b, _ := json.Marshal(m)
	return b
}
