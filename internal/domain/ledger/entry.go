// Package ledger models the append-oriented event store shared by the order
// fan-out and the invoice import. Entries live under namespaced partition
// keys ("order#o1", "invoice#acme", "transaction#t1") and may carry a TTL
// after which they are logically absent.
package ledger

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/carlosmonteiro/serverless-commerce/internal/domain/shared"
)

// Namespace prefixes a partition key.
type Namespace string

const (
	NamespaceOrder       Namespace = "order"
	NamespaceInvoice     Namespace = "invoice"
	NamespaceTransaction Namespace = "transaction"
)

// KeySeparator joins a namespace and an id, and the segments of sort keys.
const KeySeparator = "#"

// Key returns "<ns>#<id>".
func (n Namespace) Key(id string) string {
	return string(n) + KeySeparator + id
}

// Owns reports whether partitionKey belongs to n.
func (n Namespace) Owns(partitionKey string) bool {
	return strings.HasPrefix(partitionKey, string(n)+KeySeparator) &&
		len(partitionKey) > len(n)+len(KeySeparator)
}

// SplitKey splits a partition key into namespace and id.
func SplitKey(partitionKey string) (Namespace, string, bool) {
	ns, id, ok := strings.Cut(partitionKey, KeySeparator)
	if !ok || ns == "" || id == "" {
		return "", "", false
	}
	return Namespace(ns), id, true
}

// Mode selects the write semantics of Append.
type Mode int

const (
	// Overwrite replaces any existing entry with the same key.
	Overwrite Mode = iota
	// WriteOnce succeeds only if no live entry has the key; otherwise the
	// store returns shared.ErrConditionFailed.
	WriteOnce
)

func (m Mode) String() string {
	if m == WriteOnce {
		return "write-once"
	}
	return "overwrite"
}

// Entry is one ledger record.
type Entry struct {
	PartitionKey   string          `json:"pk"`
	SortKey        string          `json:"sk"`
	RequesterEmail string          `json:"requesterEmail,omitempty"`
	EventType      string          `json:"eventType,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	// TTL is an absolute expiry in epoch seconds.
	TTL       *int64    `json:"ttl,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// ExpiresAt converts d into the epoch-second TTL representation.
func ExpiresAt(now time.Time, d time.Duration) *int64 {
	ttl := now.Add(d).Unix()
	return &ttl
}

// Expired reports whether the entry's TTL is at or before now.
func (e Entry) Expired(now time.Time) bool {
	return e.TTL != nil && *e.TTL <= now.Unix()
}

// Validate checks the keys are present and the partition key is namespaced.
func (e Entry) Validate() error {
	if _, _, ok := SplitKey(e.PartitionKey); !ok {
		return shared.ErrValidation.Withf("partition key %q is not namespaced", e.PartitionKey)
	}
	if e.SortKey == "" {
		return shared.ErrValidation.Withf("sort key is required for %s", e.PartitionKey)
	}
	if len(e.Payload) > 0 && !json.Valid(e.Payload) {
		return shared.ErrValidation.Withf("payload of %s is not valid JSON", e.PartitionKey)
	}
	return nil
}
