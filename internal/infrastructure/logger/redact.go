package logger

import (
	"net/url"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Redacted replaces sensitive values in log output.
const Redacted = "[REDACTED]"

// SensitivePaths are gjson paths whose values never appear in logs.
var SensitivePaths = []string{
	"requesterEmail",
	"email",
	"customerEmail",
	"payload.email",
	"payload.requesterEmail",
	"payload.phone",
	"payload.cardNumber",
	"payload.address",
}

// RedactJSON returns body with every sensitive path that exists replaced by
// Redacted. Bodies that are not valid JSON are replaced entirely, since their
// contents cannot be inspected.
func RedactJSON(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	if !gjson.ValidBytes(body) {
		return Redacted
	}
	out := string(body)
	for _, path := range SensitivePaths {
		if !gjson.Get(out, path).Exists() {
			continue
		}
		redacted, err := sjson.Set(out, path, Redacted)
		if err != nil {
			return Redacted
		}
		out = redacted
	}
	return out
}

// RedactQuery masks sensitive query parameters.
func RedactQuery(raw string) string {
	values, err := url.ParseQuery(raw)
	if err != nil {
		return Redacted
	}
	for _, key := range []string{"email", "requesterEmail"} {
		if values.Has(key) {
			values.Set(key, Redacted)
		}
	}
	return values.Encode()
}
