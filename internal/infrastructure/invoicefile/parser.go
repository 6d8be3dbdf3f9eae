// Package invoicefile parses uploaded invoice files: a JSON array of invoice
// objects or a CSV file with a header row. Malformed files fail as a whole;
// individual invalid records are rejected and reported.
package invoicefile

import (
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"github.com/carlosmonteiro/serverless-commerce/internal/domain/invoice"
)

// CSV column names. Matching is case-insensitive.
const (
	ColumnInvoiceNumber = "invoiceNumber"
	ColumnCustomerName  = "customerName"
	ColumnProductID     = "productId"
	ColumnQuantity      = "quantity"
	ColumnTotalValue    = "totalValue"
)

// RequiredColumns must all appear in a CSV header.
var RequiredColumns = []string{ColumnInvoiceNumber, ColumnCustomerName, ColumnProductID, ColumnQuantity, ColumnTotalValue}

// Result holds the accepted invoices in file order and the rejected rows.
type Result struct {
	Invoices []invoice.Invoice
	Rejected *ErrorCollection
}

// Parser turns file bytes into invoices.
type Parser struct {
	delimiter rune
	maxErrors int
}

// Option configures a Parser.
type Option func(*Parser)

// WithDelimiter sets the CSV field delimiter (default ',').
func WithDelimiter(d rune) Option {
	return func(p *Parser) { p.delimiter = d }
}

// WithMaxErrors caps how many row errors are kept.
func WithMaxErrors(n int) Option {
	return func(p *Parser) { p.maxErrors = n }
}

func NewParser(opts ...Option) *Parser {
	p := &Parser{delimiter: ',', maxErrors: 100}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse picks the format from key's extension.
func (p *Parser) Parse(key string, data []byte) (Result, error) {
	switch strings.ToLower(path.Ext(key)) {
	case ".json":
		return p.parseJSON(data)
	case ".csv":
		return p.parseCSV(data)
	default:
		return Result{}, fmt.Errorf("%w: %q", ErrUnsupported, path.Ext(key))
	}
}

func (p *Parser) parseJSON(data []byte) (Result, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return Result{}, ErrEmptyFile
	}
	if !gjson.ValidBytes(data) {
		return Result{}, fmt.Errorf("%w: invalid JSON", ErrMalformed)
	}
	doc := gjson.ParseBytes(data)
	if !doc.IsArray() {
		return Result{}, fmt.Errorf("%w: expected a JSON array of invoices", ErrMalformed)
	}

	acc := newAccumulator(p.maxErrors)
	row := 0
	doc.ForEach(func(_, value gjson.Result) bool {
		row++
		if !value.IsObject() {
			acc.reject(RowError{Row: row, Code: CodeInvalid, Message: "record is not an object"})
			return true
		}
		var inv invoice.Invoice
		if err := json.Unmarshal([]byte(value.Raw), &inv); err != nil {
			acc.reject(RowError{Row: row, Code: CodeInvalid, Message: err.Error()})
			return true
		}
		acc.accept(row, inv)
		return true
	})
	return acc.result(), nil
}

func (p *Parser) parseCSV(data []byte) (Result, error) {
	r, err := newCSVReader(data, p.delimiter)
	if err != nil {
		return Result{}, err
	}
	if err := r.readHeader(); err != nil {
		return Result{}, err
	}
	if missing := r.missing(RequiredColumns); len(missing) > 0 {
		return Result{}, fmt.Errorf("%w: missing columns %s", ErrMissingHeader, strings.Join(missing, ", "))
	}

	acc := newAccumulator(p.maxErrors)
	for {
		row, err := r.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Result{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if row.empty() {
			continue
		}
		inv, rowErr := invoiceFromRow(row)
		if rowErr != nil {
			acc.reject(*rowErr)
			continue
		}
		acc.accept(row.line, inv)
	}
	return acc.result(), nil
}

func invoiceFromRow(row csvRow) (invoice.Invoice, *RowError) {
	inv := invoice.Invoice{
		InvoiceNumber: row.get(ColumnInvoiceNumber),
		CustomerName:  row.get(ColumnCustomerName),
		ProductID:     row.get(ColumnProductID),
	}

	qty := row.get(ColumnQuantity)
	if qty == "" {
		return inv, &RowError{Row: row.line, Column: ColumnQuantity, Code: CodeRequired, Message: "quantity is required"}
	}
	n, err := strconv.Atoi(qty)
	if err != nil {
		return inv, &RowError{Row: row.line, Column: ColumnQuantity, Code: CodeInvalidNumber, Message: fmt.Sprintf("%q is not an integer", qty)}
	}
	inv.Quantity = n

	total := row.get(ColumnTotalValue)
	if total == "" {
		return inv, &RowError{Row: row.line, Column: ColumnTotalValue, Code: CodeRequired, Message: "totalValue is required"}
	}
	d, err := decimal.NewFromString(total)
	if err != nil {
		return inv, &RowError{Row: row.line, Column: ColumnTotalValue, Code: CodeInvalidNumber, Message: fmt.Sprintf("%q is not a decimal", total)}
	}
	inv.TotalValue = d
	return inv, nil
}

// accumulator validates records and drops repeated invoice numbers.
type accumulator struct {
	invoices []invoice.Invoice
	seen     map[string]int
	rejected *ErrorCollection
}

func newAccumulator(maxErrors int) *accumulator {
	return &accumulator{seen: make(map[string]int), rejected: NewErrorCollection(maxErrors)}
}

func (a *accumulator) reject(e RowError) { a.rejected.Add(e) }

func (a *accumulator) accept(row int, inv invoice.Invoice) {
	if err := inv.Validate(); err != nil {
		a.reject(RowError{Row: row, Code: CodeInvalid, Message: err.Error()})
		return
	}
	if first, dup := a.seen[inv.InvoiceNumber]; dup {
		a.reject(RowError{
			Row:     row,
			Column:  ColumnInvoiceNumber,
			Code:    CodeDuplicate,
			Message: fmt.Sprintf("invoice %s already appears on row %d", inv.InvoiceNumber, first),
		})
		return
	}
	a.seen[inv.InvoiceNumber] = row
	a.invoices = append(a.invoices, inv)
}

func (a *accumulator) result() Result {
	return Result{Invoices: a.invoices, Rejected: a.rejected}
}
