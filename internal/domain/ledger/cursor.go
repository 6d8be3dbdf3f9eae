package ledger

import (
	"encoding/base64"
	"encoding/json"

	"github.com/carlosmonteiro/serverless-commerce/internal/domain/shared"
)

// EncodeCursor turns a store-specific position into an opaque token.
func EncodeCursor(position map[string]string) string {
	if len(position) == 0 {
		return ""
	}
	b, _ := json.Marshal(position)
	return base64.RawURLEncoding.EncodeToString(b)
}

// DecodeCursor reverses EncodeCursor. An empty cursor decodes to nil.
func DecodeCursor(cursor string) (map[string]string, error) {
	if cursor == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, shared.ErrValidation.Withf("malformed cursor")
	}
	var position map[string]string
	if err := json.Unmarshal(raw, &position); err != nil {
		return nil, shared.ErrValidation.Withf("malformed cursor")
	}
	return position, nil
}
