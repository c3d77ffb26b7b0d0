package invoice

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrNotInvoiceShape is returned when the model produced valid JSON whose
// top-level value is not an object (an array, a bare string, a number).
var ErrNotInvoiceShape = errors.New("top-level JSON value is not an object")

// MalformedError is returned when the model response could not be parsed as
// JSON even after the one repair attempt. Raw carries the full response text
// for diagnostics.
type MalformedError struct {
	Raw string
	Err error
}

func (e *MalformedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("model output is not JSON: %v", e.Err)
	}
	return "model output is not JSON"
}

func (e *MalformedError) Unwrap() error { return e.Err }

// Parse turns raw model output into a validated InvoiceRecord.
//
// Parsing is two-phased: a strict parse of the whole text, then one repair
// attempt that extracts the first top-level JSON object (models occasionally
// wrap JSON in prose or code fences). Validation is strict-first: if the
// payload already matches the invoice schema it is decoded directly,
// otherwise each field is coerced or nulled individually so one bad field
// never discards an otherwise good extraction.
func Parse(raw string) (*InvoiceRecord, error) {
	text := stripCodeFences(raw)

	data := []byte(text)
	if !json.Valid(data) {
		extracted, ok := extractJSONObject(text)
		if !ok || !json.Valid([]byte(extracted)) {
			return nil, &MalformedError{Raw: raw}
		}
		data = []byte(extracted)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var top any
	if err := dec.Decode(&top); err != nil {
		return nil, &MalformedError{Raw: raw, Err: err}
	}
	obj, ok := top.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w (got %T)", ErrNotInvoiceShape, top)
	}

	if err := validateAgainstSchema(data); err == nil {
		var rec InvoiceRecord
		if uerr := json.Unmarshal(data, &rec); uerr == nil {
			normalize(&rec)
			return &rec, nil
		}
	}

	rec := buildLenient(obj)
	normalize(rec)
	return rec, nil
}

// stripCodeFences removes markdown code fences around the response body.
func stripCodeFences(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

// extractJSONObject returns the first balanced top-level {...} substring,
// skipping string literals and escapes while counting braces.
func extractJSONObject(text string) (string, bool) {
	start := strings.Index(text, "{")
	if start == -1 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

func normalize(rec *InvoiceRecord) {
	if rec.Currency != nil {
		c := strings.ToUpper(strings.TrimSpace(*rec.Currency))
		if c == "" {
			rec.Currency = nil
		} else {
			rec.Currency = &c
		}
	}
}

// fieldWarnings collects per-field repair notes during lenient validation.
type fieldWarnings struct {
	list []string
}

func (w *fieldWarnings) addf(format string, args ...any) {
	w.list = append(w.list, fmt.Sprintf(format, args...))
}

func buildLenient(obj map[string]any) *InvoiceRecord {
	w := &fieldWarnings{}

	rec := &InvoiceRecord{
		IsInvoice:           boolField(obj["is_invoice"], "is_invoice", w),
		DocumentType:        stringField(obj["document_type"], "document_type", w),
		Language:            stringField(obj["language"], "language", w),
		Confidence:          floatField(obj["confidence"], "confidence", w),
		InvoiceNumber:       stringField(obj["invoice_number"], "invoice_number", w),
		InvoiceDate:         stringField(obj["invoice_date"], "invoice_date", w),
		DueDate:             stringField(obj["due_date"], "due_date", w),
		PurchaseOrderNumber: stringField(obj["purchase_order_number"], "purchase_order_number", w),
		Currency:            stringField(obj["currency"], "currency", w),
		SubtotalAmount:      decimalField(obj["subtotal_amount"], "subtotal_amount", w),
		TaxAmount:           decimalField(obj["tax_amount"], "tax_amount", w),
		TotalAmount:         decimalField(obj["total_amount"], "total_amount", w),
		PaymentTerms:        stringField(obj["payment_terms"], "payment_terms", w),
		Notes:               stringField(obj["notes"], "notes", w),
		BillTo:              partyField(obj["bill_to"], "bill_to", w),
		ShipTo:              partyField(obj["ship_to"], "ship_to", w),
		LineItems:           lineItemsField(obj["line_items"], w),
		Taxes:               taxesField(obj["taxes"], w),
	}

	// The schema bounds confidence to [0,1]; the lenient path enforces the
	// same bound instead of letting out-of-range values slip through.
	if rec.Confidence != nil && (*rec.Confidence < 0 || *rec.Confidence > 1) {
		w.addf("confidence: %v outside [0,1]; nulled", *rec.Confidence)
		rec.Confidence = nil
	}

	rec.Warnings = w.list
	return rec
}

func stringField(v any, path string, w *fieldWarnings) *string {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return nil
		}
		return &s
	case json.Number:
		s := t.String()
		w.addf("%s: coerced number %s to string", path, s)
		return &s
	default:
		w.addf("%s: expected string, got %T; nulled", path, v)
		return nil
	}
}

func decimalField(v any, path string, w *fieldWarnings) *decimal.Decimal {
	switch t := v.(type) {
	case nil:
		return nil
	case json.Number:
		d, err := decimal.NewFromString(t.String())
		if err != nil {
			w.addf("%s: unparseable number %q; nulled", path, t.String())
			return nil
		}
		return &d
	case string:
		cleaned := cleanNumeric(t)
		if cleaned == "" {
			return nil
		}
		d, err := decimal.NewFromString(cleaned)
		if err != nil {
			w.addf("%s: expected number, got %q; nulled", path, t)
			return nil
		}
		w.addf("%s: coerced string %q to number", path, t)
		return &d
	case float64:
		d := decimal.NewFromFloat(t)
		return &d
	default:
		w.addf("%s: expected number, got %T; nulled", path, v)
		return nil
	}
}

// cleanNumeric strips currency symbols, thousands separators and whitespace
// from an amount rendered as a string ("$1,234.56" -> "1234.56").
func cleanNumeric(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '$', '€', '£', ',', ' ', ' ':
			return -1
		}
		return r
	}, strings.TrimSpace(s))
}

func boolField(v any, path string, w *fieldWarnings) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		if err != nil {
			w.addf("%s: expected bool, got %q; defaulted to false", path, t)
			return false
		}
		w.addf("%s: coerced string %q to bool", path, t)
		return b
	default:
		w.addf("%s: expected bool, got %T; defaulted to false", path, v)
		return false
	}
}

func floatField(v any, path string, w *fieldWarnings) *float64 {
	switch t := v.(type) {
	case nil:
		return nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			w.addf("%s: unparseable number %q; nulled", path, t.String())
			return nil
		}
		return &f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			w.addf("%s: expected number, got %q; nulled", path, t)
			return nil
		}
		w.addf("%s: coerced string %q to number", path, t)
		return &f
	default:
		w.addf("%s: expected number, got %T; nulled", path, v)
		return nil
	}
}

func partyField(v any, path string, w *fieldWarnings) Party {
	switch t := v.(type) {
	case nil:
		return Party{}
	case map[string]any:
		return Party{
			Name:    stringField(t["name"], path+".name", w),
			Address: stringField(t["address"], path+".address", w),
			TaxID:   stringField(t["tax_id"], path+".tax_id", w),
		}
	default:
		w.addf("%s: expected object, got %T; nulled", path, v)
		return Party{}
	}
}

func lineItemsField(v any, w *fieldWarnings) []LineItem {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		items := make([]LineItem, 0, len(t))
		for i, el := range t {
			path := fmt.Sprintf("line_items[%d]", i)
			m, ok := el.(map[string]any)
			if !ok {
				w.addf("%s: expected object, got %T; skipped", path, el)
				continue
			}
			items = append(items, LineItem{
				Description: stringField(m["description"], path+".description", w),
				SKU:         stringField(m["sku"], path+".sku", w),
				Quantity:    decimalField(m["quantity"], path+".quantity", w),
				UnitPrice:   decimalField(m["unit_price"], path+".unit_price", w),
				Total:       decimalField(m["total"], path+".total", w),
			})
		}
		return items
	default:
		w.addf("line_items: expected array, got %T; nulled", v)
		return nil
	}
}

func taxesField(v any, w *fieldWarnings) []TaxLine {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		taxes := make([]TaxLine, 0, len(t))
		for i, el := range t {
			path := fmt.Sprintf("taxes[%d]", i)
			m, ok := el.(map[string]any)
			if !ok {
				w.addf("%s: expected object, got %T; skipped", path, el)
				continue
			}
			taxes = append(taxes, TaxLine{
				Name:   stringField(m["name"], path+".name", w),
				Amount: decimalField(m["amount"], path+".amount", w),
				Rate:   decimalField(m["rate"], path+".rate", w),
			})
		}
		return taxes
	default:
		w.addf("taxes: expected array, got %T; nulled", v)
		return nil
	}
}
