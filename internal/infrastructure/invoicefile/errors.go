package invoicefile

import (
	"errors"
	"fmt"
	"strings"
)

// Row error codes
const (
	CodeRequired      = "REQUIRED"
	CodeInvalidNumber = "INVALID_NUMBER"
	CodeInvalid       = "INVALID"
	CodeDuplicate     = "DUPLICATE_IN_FILE"
)

// File-level parse failures. Any of these fails the whole import.
var (
	ErrEmptyFile       = errors.New("file is empty")
	ErrInvalidEncoding = errors.New("file is not valid UTF-8")
	ErrMissingHeader   = errors.New("CSV file missing header row")
	ErrUnsupported     = errors.New("unsupported file type")
	ErrMalformed       = errors.New("malformed file")
)

// RowError describes one skipped record.
type RowError struct {
	Row     int    `json:"row"`
	Column  string `json:"column,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e RowError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("row %d, column '%s': %s", e.Row, e.Column, e.Message)
	}
	return fmt.Sprintf("row %d: %s", e.Row, e.Message)
}

// ErrorCollection keeps the first maxErrors row errors and counts the rest.
type ErrorCollection struct {
	errors     []RowError
	maxErrors  int
	totalCount int
}

// NewErrorCollection creates a collection; maxErrors <= 0 means 100.
func NewErrorCollection(maxErrors int) *ErrorCollection {
	if maxErrors <= 0 {
		maxErrors = 100
	}
	return &ErrorCollection{maxErrors: maxErrors}
}

func (ec *ErrorCollection) Add(err RowError) {
	ec.totalCount++
	if len(ec.errors) < ec.maxErrors {
		ec.errors = append(ec.errors, err)
	}
}

func (ec *ErrorCollection) Errors() []RowError { return ec.errors }

// TotalCount includes errors dropped past the limit.
func (ec *ErrorCollection) TotalCount() int { return ec.totalCount }

func (ec *ErrorCollection) HasErrors() bool { return ec.totalCount > 0 }

func (ec *ErrorCollection) String() string {
	if ec.totalCount == 0 {
		return "no errors"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d row(s) rejected", ec.totalCount)
	for _, e := range ec.errors {
		sb.WriteString("\n  - ")
		sb.WriteString(e.Error())
	}
	if dropped := ec.totalCount - len(ec.errors); dropped > 0 {
		fmt.Fprintf(&sb, "\n  ... and %d more", dropped)
	}
	return sb.String()
}
