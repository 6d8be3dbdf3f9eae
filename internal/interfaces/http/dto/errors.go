package dto

import "net/http"

// Error code constants organized by category
// Format: ERR_<CATEGORY>_<DESCRIPTION>

// General error codes
const (
	// ErrCodeUnknown is used when the error type is unknown
	ErrCodeUnknown = "ERR_UNKNOWN"
	// ErrCodeInternal is used for internal server errors
	ErrCodeInternal = "ERR_INTERNAL"
	// ErrCodeUnavailable is used when a backing store or bus is temporarily down
	ErrCodeUnavailable = "ERR_UNAVAILABLE"
)

// Input error codes
const (
	ErrCodeValidation  = "ERR_VALIDATION"
	ErrCodeBadRequest  = "ERR_BAD_REQUEST"
	ErrCodeInvalidJSON = "ERR_INVALID_JSON"
	ErrCodeTooLarge    = "ERR_REQUEST_TOO_LARGE"
)

// Access error codes
const (
	ErrCodeForbidden = "ERR_FORBIDDEN"
	// ErrCodeURLExpired is returned for uploads after the presigned window closed
	ErrCodeURLExpired = "ERR_URL_EXPIRED"
)

// Resource error codes
const (
	ErrCodeNotFound = "ERR_NOT_FOUND"
	// ErrCodeAlreadyProcessed is returned when a conditional write lost
	ErrCodeAlreadyProcessed = "ERR_ALREADY_PROCESSED"
	ErrCodeInvalidState     = "ERR_INVALID_STATE"
	ErrCodeChannelGone      = "ERR_CHANNEL_GONE"
)

// Delivery error codes
const (
	ErrCodePublish       = "ERR_PUBLISH"
	ErrCodePoisonMessage = "ERR_POISON_MESSAGE"
)

// ErrorCodeHTTPStatus maps error codes to HTTP status codes
var ErrorCodeHTTPStatus = map[string]int{
	ErrCodeUnknown:     http.StatusInternalServerError,
	ErrCodeInternal:    http.StatusInternalServerError,
	ErrCodeUnavailable: http.StatusServiceUnavailable,

	ErrCodeValidation:  http.StatusBadRequest,
	ErrCodeBadRequest:  http.StatusBadRequest,
	ErrCodeInvalidJSON: http.StatusBadRequest,
	ErrCodeTooLarge:    http.StatusRequestEntityTooLarge,

	ErrCodeForbidden:  http.StatusForbidden,
	ErrCodeURLExpired: http.StatusForbidden,

	ErrCodeNotFound:         http.StatusNotFound,
	ErrCodeAlreadyProcessed: http.StatusConflict,
	ErrCodeInvalidState:     http.StatusConflict,
	ErrCodeChannelGone:      http.StatusGone,

	ErrCodePublish:       http.StatusBadGateway,
	ErrCodePoisonMessage: http.StatusUnprocessableEntity,
}

// GetHTTPStatus returns the HTTP status code for an error code
// Returns 500 Internal Server Error if the error code is not found
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// DomainErrorCodeMapping maps domain error codes to API error codes
var DomainErrorCodeMapping = map[string]string{
	"NOT_FOUND":             ErrCodeNotFound,
	"ALREADY_PROCESSED":     ErrCodeAlreadyProcessed,
	"VALIDATION_ERROR":      ErrCodeValidation,
	"TRANSIENT_STORE_ERROR": ErrCodeUnavailable,
	"POISON_MESSAGE":        ErrCodePoisonMessage,
	"CHANNEL_GONE":          ErrCodeChannelGone,
	"FORBIDDEN":             ErrCodeForbidden,
	"INVALID_STATE":         ErrCodeInvalidState,
	"PUBLISH_ERROR":         ErrCodePublish,
}

// NormalizeErrorCode converts a domain error code to the API format.
// Codes already in the API format, or unknown, are returned as-is.
func NormalizeErrorCode(code string) string {
	if apiCode, ok := DomainErrorCodeMapping[code]; ok {
		return apiCode
	}
	return code
}
