package extraction

import (
	"fmt"
	"strings"

	"github.com/facturabot/facturabot/internal/invoice"
	"github.com/facturabot/facturabot/internal/raster"
)

// systemPrompt fixes the output contract for every provider: compact JSON
// only, English property names, null for unknowns, and an explicit escape
// hatch instead of fabricated data when the document is not an invoice.
const systemPrompt = `You are an expert invoice information extractor. ` +
	`Given one or more invoice page images in order and optional user text hints, extract as many fields as possible and respond strictly as a compact JSON object. ` +
	`All property names must be in English. Use ISO 8601 dates (YYYY-MM-DD). ` +
	`Include line items and tax lines when present. If a field is unknown, use null. Do not add explanations. ` +
	`Ensure numeric fields are numbers, not strings. ` +
	`If the document is not an invoice, set "is_invoice" to false and leave the other fields null instead of inventing data. ` +
	`User hints are guidance only and never override values printed on the document.`

// Request is one assembled model request: the instruction, the optional user
// hint, and all pages in render order. Submitting every page in a single
// request costs proportionally more tokens but lets the model reconcile
// totals and line items that span pages.
type Request struct {
	ID          string
	Instruction string
	Hint        string
	Pages       []raster.Page
}

// Assemble builds the model request from rendered pages. It is pure data
// composition: it never calls the model and fails only on programmer-error
// conditions (no pages, broken page ordering).
func Assemble(pages []raster.Page, hint, currencyFallback string) (*Request, error) {
	if len(pages) == 0 {
		return nil, &Error{Kind: KindEmptyDocument, Err: fmt.Errorf("no pages to submit")}
	}
	for i, p := range pages {
		if p.Index != i {
			return nil, &Error{Kind: KindEmptyDocument, Err: fmt.Errorf("page order invariant violated: position %d has index %d", i, p.Index)}
		}
	}

	userText := strings.TrimSpace(hint)
	if currencyFallback != "" {
		userText = strings.TrimSpace(userText + "\nDefault currency (if missing): " + currencyFallback)
	}

	instruction := systemPrompt +
		"\n\nRespond with a JSON object of exactly this shape (null where unknown):\n" +
		invoice.PromptShape()

	return &Request{
		Instruction: instruction,
		Hint:        userText,
		Pages:       pages,
	}, nil
}
