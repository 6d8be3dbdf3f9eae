package invoice

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/carlosmonteiro/serverless-commerce/internal/domain/ledger"
	"github.com/carlosmonteiro/serverless-commerce/internal/domain/shared"
)

// Invoice is one record of an uploaded invoice file.
type Invoice struct {
	InvoiceNumber string          `json:"invoiceNumber" validate:"required,max=64"`
	CustomerName  string          `json:"customerName" validate:"required,max=128"`
	ProductID     string          `json:"productId" validate:"required"`
	Quantity      int             `json:"quantity" validate:"gte=1"`
	TotalValue    decimal.Decimal `json:"totalValue"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// Validate checks required fields and that the total is not negative.
func (i Invoice) Validate() error {
	validateOnce.Do(func() { validate = validator.New() })
	if err := validate.Struct(i); err != nil {
		return shared.ErrValidation.Wrap(err)
	}
	if i.TotalValue.IsNegative() {
		return shared.ErrValidation.Withf("invoice %s has a negative total", i.InvoiceNumber)
	}
	return nil
}

// LedgerEntry maps the invoice into the "invoice" namespace, one partition
// per customer and one sort key per invoice number.
func (i Invoice) LedgerEntry(transactionID string, createdAt time.Time) (ledger.Entry, error) {
	payload, err := json.Marshal(struct {
		Invoice
		TransactionID string `json:"transactionId"`
	}{i, transactionID})
	if err != nil {
		return ledger.Entry{}, err
	}
	return ledger.Entry{
		PartitionKey: ledger.NamespaceInvoice.Key(i.CustomerName),
		SortKey:      i.InvoiceNumber,
		EventType:    "INVOICE_IMPORTED",
		Payload:      payload,
		CreatedAt:    createdAt,
	}, nil
}
