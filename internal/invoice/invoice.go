package invoice

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

func init() {
	// Money fields render as JSON numbers on the wire, matching the output
	// contract the model is instructed to follow.
	decimal.MarshalJSONWithoutQuotes = true
}

// Party identifies one side of the invoice. Every field is independently
// optional; a party with no recognizable data is all nulls, not an error.
type Party struct {
	Name    *string `json:"name"`
	Address *string `json:"address"`
	TaxID   *string `json:"tax_id"`
}

// LineItem is one billed position on the invoice.
type LineItem struct {
	Description *string          `json:"description"`
	SKU         *string          `json:"sku"`
	Quantity    *decimal.Decimal `json:"quantity"`
	UnitPrice   *decimal.Decimal `json:"unit_price"`
	Total       *decimal.Decimal `json:"total"`
}

// TaxLine is one tax position (e.g. "VAT 21%").
type TaxLine struct {
	Name   *string          `json:"name"`
	Amount *decimal.Decimal `json:"amount"`
	Rate   *decimal.Decimal `json:"rate"`
}

// InvoiceRecord is the canonical extraction result. Monetary amounts use
// decimal.Decimal so currency values survive the trip through JSON without
// float truncation. IsInvoice false means the document was readable but is
// not an invoice; the remaining fields are then usually null.
type InvoiceRecord struct {
	IsInvoice           bool             `json:"is_invoice"`
	DocumentType        *string          `json:"document_type"`
	Language            *string          `json:"language"`
	Confidence          *float64         `json:"confidence"`
	InvoiceNumber       *string          `json:"invoice_number"`
	InvoiceDate         *string          `json:"invoice_date"`
	DueDate             *string          `json:"due_date"`
	PurchaseOrderNumber *string          `json:"purchase_order_number"`
	Currency            *string          `json:"currency"`
	SubtotalAmount      *decimal.Decimal `json:"subtotal_amount"`
	TaxAmount           *decimal.Decimal `json:"tax_amount"`
	TotalAmount         *decimal.Decimal `json:"total_amount"`
	PaymentTerms        *string          `json:"payment_terms"`
	Notes               *string          `json:"notes"`
	BillTo              Party            `json:"bill_to"`
	ShipTo              Party            `json:"ship_to"`
	LineItems           []LineItem       `json:"line_items"`
	Taxes               []TaxLine        `json:"taxes"`

	// Warnings records field-level repairs made during validation
	// (coercions, nulled mismatches). Never serialized to the wire shape.
	Warnings []string `json:"-"`
}

// CompactJSON renders the record as minified JSON for chat display.
func (r *InvoiceRecord) CompactJSON() (string, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// PromptShape returns the all-null JSON skeleton embedded in the model
// instruction so the model sees the exact property set it must emit.
func PromptShape() string {
	skeleton := InvoiceRecord{
		LineItems: []LineItem{{}},
		Taxes:     []TaxLine{{}},
	}
	b, _ := json.Marshal(&skeleton)
	return string(b)
}
