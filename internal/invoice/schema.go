package invoice

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// BuildInvoiceJSONSchema returns the invoice output contract as a JSON-Schema
// (draft 2020-12 subset) map. It mirrors InvoiceRecord: every property must be
// present but may be null. Extra properties are allowed so a chattier model
// does not fail the strict pass for harmless additions.
func BuildInvoiceJSONSchema() map[string]any {
	props := map[string]any{
		"is_invoice":            map[string]any{"type": "boolean"},
		"document_type":         nullable("string"),
		"language":              nullable("string"),
		"confidence":            map[string]any{"type": []string{"number", "null"}, "minimum": 0.0, "maximum": 1.0},
		"invoice_number":        nullable("string"),
		"invoice_date":          nullable("string"),
		"due_date":              nullable("string"),
		"purchase_order_number": nullable("string"),
		"currency":              nullable("string"),
		"subtotal_amount":       nullable("number"),
		"tax_amount":            nullable("number"),
		"total_amount":          nullable("number"),
		"payment_terms":         nullable("string"),
		"notes":                 nullable("string"),
		"bill_to":               partySchema(),
		"ship_to":               partySchema(),
		"line_items": map[string]any{
			"type": []string{"array", "null"},
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"description": nullable("string"),
					"sku":         nullable("string"),
					"quantity":    nullable("number"),
					"unit_price":  nullable("number"),
					"total":       nullable("number"),
				},
			},
		},
		"taxes": map[string]any{
			"type": []string{"array", "null"},
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name":   nullable("string"),
					"amount": nullable("number"),
					"rate":   nullable("number"),
				},
			},
		},
	}

	required := make([]string, 0, len(props))
	for k := range props {
		required = append(required, k)
	}

	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

func nullable(typ string) map[string]any {
	return map[string]any{"type": []string{typ, "null"}}
}

func partySchema() map[string]any {
	return map[string]any{
		"type": []string{"object", "null"},
		"properties": map[string]any{
			"name":    nullable("string"),
			"address": nullable("string"),
			"tax_id":  nullable("string"),
		},
	}
}

// compiledSchema compiles the invoice schema once; the schema is static per
// process.
var compiledSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	b, err := json.Marshal(BuildInvoiceJSONSchema())
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("invoice.json", bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	return compiler.Compile("invoice.json")
})

// validateAgainstSchema reports whether data matches the invoice contract. A
// nil return means data can be decoded directly into InvoiceRecord without the
// lenient field-by-field path.
func validateAgainstSchema(data []byte) error {
	schema, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}
