package invoice

import (
	"errors"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
)

func TestInvoice(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Invoice Suite")
}

const fullResponse = `{
	"is_invoice": true,
	"document_type": "invoice",
	"language": "es",
	"confidence": 0.93,
	"invoice_number": "F-2024-0042",
	"invoice_date": "2024-08-01",
	"due_date": "2024-08-31",
	"purchase_order_number": null,
	"currency": "EUR",
	"subtotal_amount": 1020.00,
	"tax_amount": 214.56,
	"total_amount": 1234.56,
	"payment_terms": "30 days",
	"notes": null,
	"bill_to": {"name": "Acme S.L.", "address": "Calle Mayor 1, Madrid", "tax_id": "B12345678"},
	"ship_to": {"name": null, "address": null, "tax_id": null},
	"line_items": [
		{"description": "Widget", "sku": "W-1", "quantity": 2, "unit_price": 510.00, "total": 1020.00}
	],
	"taxes": [
		{"name": "IVA", "amount": 214.56, "rate": 21}
	]
}`

var _ = Describe("Parse", func() {
	var (
		input string
		rec   *InvoiceRecord
		err   error
	)

	JustBeforeEach(func() {
		rec, err = Parse(input)
	})

	When("the response is a complete well-typed object", func() {
		BeforeEach(func() {
			input = fullResponse
		})

		It("should not return an error", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		It("should populate the scalar fields", func() {
			Expect(rec.IsInvoice).To(BeTrue())
			Expect(*rec.InvoiceNumber).To(Equal("F-2024-0042"))
			Expect(*rec.Currency).To(Equal("EUR"))
			Expect(*rec.Confidence).To(BeNumerically("~", 0.93, 1e-9))
			Expect(rec.PurchaseOrderNumber).To(BeNil())
		})

		It("should keep amounts decimal-exact", func() {
			Expect(rec.TotalAmount.Equal(decimal.RequireFromString("1234.56"))).To(BeTrue())
			Expect(rec.TaxAmount.Equal(decimal.RequireFromString("214.56"))).To(BeTrue())
		})

		It("should populate the parties", func() {
			Expect(*rec.BillTo.Name).To(Equal("Acme S.L."))
			Expect(rec.ShipTo.Name).To(BeNil())
		})

		It("should populate line items and taxes", func() {
			Expect(rec.LineItems).To(HaveLen(1))
			Expect(rec.LineItems[0].Quantity.Equal(decimal.NewFromInt(2))).To(BeTrue())
			Expect(rec.Taxes).To(HaveLen(1))
			Expect(rec.Taxes[0].Rate.Equal(decimal.NewFromInt(21))).To(BeTrue())
		})

		It("should record no warnings", func() {
			Expect(rec.Warnings).To(BeEmpty())
		})

		It("should render amounts as JSON numbers", func() {
			out, jerr := rec.CompactJSON()
			Expect(jerr).NotTo(HaveOccurred())
			Expect(out).To(ContainSubstring(`"total_amount":1234.56`))
			Expect(out).To(ContainSubstring(`"subtotal_amount":1020`))
			Expect(out).NotTo(ContainSubstring(`"total_amount":"`))
		})

		It("should re-parse its own output without repairs", func() {
			out, jerr := rec.CompactJSON()
			Expect(jerr).NotTo(HaveOccurred())

			again, perr := Parse(out)
			Expect(perr).NotTo(HaveOccurred())
			Expect(again.Warnings).To(BeEmpty())
		})

		It("should be idempotent through a render round trip", func() {
			first, jerr := rec.CompactJSON()
			Expect(jerr).NotTo(HaveOccurred())

			again, perr := Parse(first)
			Expect(perr).NotTo(HaveOccurred())
			second, jerr := again.CompactJSON()
			Expect(jerr).NotTo(HaveOccurred())

			Expect(second).To(Equal(first))
		})
	})

	When("every field is null except is_invoice", func() {
		BeforeEach(func() {
			input = `{
				"is_invoice": false, "document_type": null, "language": null,
				"confidence": null, "invoice_number": null, "invoice_date": null,
				"due_date": null, "purchase_order_number": null, "currency": null,
				"subtotal_amount": null, "tax_amount": null, "total_amount": null,
				"payment_terms": null, "notes": null, "bill_to": null, "ship_to": null,
				"line_items": null, "taxes": null
			}`
		})

		It("should accept the record", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.IsInvoice).To(BeFalse())
			Expect(rec.Currency).To(BeNil())
			Expect(rec.TotalAmount).To(BeNil())
			Expect(rec.LineItems).To(BeEmpty())
		})
	})

	When("the JSON is wrapped in a markdown code fence", func() {
		BeforeEach(func() {
			input = "```json\n{\"is_invoice\": true, \"currency\": \"USD\"}\n```"
		})

		It("should still parse", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.IsInvoice).To(BeTrue())
			Expect(*rec.Currency).To(Equal("USD"))
		})
	})

	When("the JSON is embedded in surrounding prose", func() {
		BeforeEach(func() {
			input = "Sure! Here is the extraction you asked for:\n\n" +
				`{"is_invoice": true, "notes": "contains { braces } in text"}` +
				"\n\nLet me know if you need anything else."
		})

		It("should extract and parse the object", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.IsInvoice).To(BeTrue())
			Expect(*rec.Notes).To(Equal("contains { braces } in text"))
		})
	})

	When("the response is a top-level JSON array", func() {
		BeforeEach(func() {
			input = `[{"is_invoice": true}]`
		})

		It("should fail with the shape error", func() {
			Expect(err).To(MatchError(ErrNotInvoiceShape))
			Expect(rec).To(BeNil())
		})
	})

	When("the response is a bare JSON string", func() {
		BeforeEach(func() {
			input = `"this is not an invoice object"`
		})

		It("should fail with the shape error", func() {
			Expect(err).To(MatchError(ErrNotInvoiceShape))
		})
	})

	When("the response is not JSON at all", func() {
		BeforeEach(func() {
			input = "I could not read the document, sorry."
		})

		It("should fail as malformed and attach the raw text", func() {
			var malformed *MalformedError
			Expect(errors.As(err, &malformed)).To(BeTrue())
			Expect(malformed.Raw).To(Equal(input))
		})
	})

	When("fields have the wrong types", func() {
		BeforeEach(func() {
			input = `{
				"is_invoice": "true",
				"invoice_number": 4711,
				"total_amount": "$1,234.56",
				"currency": "eur",
				"payment_terms": false,
				"line_items": [
					{"description": "Widget", "quantity": "2"},
					"not an object"
				]
			}`
		})

		It("should not abort the record", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		It("should coerce unambiguous values", func() {
			Expect(rec.IsInvoice).To(BeTrue())
			Expect(*rec.InvoiceNumber).To(Equal("4711"))
			Expect(rec.TotalAmount.Equal(decimal.RequireFromString("1234.56"))).To(BeTrue())
			Expect(rec.LineItems[0].Quantity.Equal(decimal.NewFromInt(2))).To(BeTrue())
		})

		It("should normalize the currency code", func() {
			Expect(*rec.Currency).To(Equal("EUR"))
		})

		It("should null unambiguous mismatches and skip bad elements", func() {
			Expect(rec.PaymentTerms).To(BeNil())
			Expect(rec.LineItems).To(HaveLen(1))
		})

		It("should record warnings for every repair", func() {
			Expect(rec.Warnings).NotTo(BeEmpty())
		})
	})

	When("the confidence is out of range", func() {
		BeforeEach(func() {
			input = `{"is_invoice": true, "confidence": 7}`
		})

		It("should null it with a warning", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.Confidence).To(BeNil())
			Expect(rec.Warnings).To(ContainElement(ContainSubstring("confidence")))
		})
	})

	When("the response has unknown extra keys", func() {
		BeforeEach(func() {
			input = `{"is_invoice": true, "vendor_homepage": "https://example.com", "currency": "USD"}`
		})

		It("should ignore them", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(*rec.Currency).To(Equal("USD"))
		})
	})
})
