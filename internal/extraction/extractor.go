package extraction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/facturabot/facturabot/internal/invoice"
	"github.com/facturabot/facturabot/internal/raster"
)

// Model is the remote vision-model capability: given an assembled request,
// return response text that should be a single JSON object.
type Model interface {
	Extract(ctx context.Context, req *Request) (string, error)
}

// Document is one submission: already-downloaded bytes plus the MIME type
// declared by the transport.
type Document struct {
	Data     []byte
	MIMEType string
}

// Options is the static per-process pipeline configuration. ModelTimeout is
// required: the remote dependency has no intrinsic bound.
type Options struct {
	Raster           raster.Options
	CurrencyFallback string
	ModelTimeout     time.Duration
}

// Extractor owns the document-to-InvoiceRecord flow. It holds no state
// between invocations, so one instance serves concurrent submissions.
type Extractor struct {
	model Model
	opts  Options
	log   *slog.Logger
}

func New(model Model, opts Options, logger *slog.Logger) (*Extractor, error) {
	if model == nil {
		return nil, fmt.Errorf("model client is required")
	}
	if opts.ModelTimeout <= 0 {
		return nil, fmt.Errorf("model timeout is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{model: model, opts: opts, log: logger}, nil
}

// Extract runs one submission through the pipeline:
// rasterize -> assemble -> model call -> parse/validate -> currency fallback.
// On failure it returns a typed *Error and no record; partial extractions are
// never surfaced. The model call is not retried here: backoff policy belongs
// to the caller, which knows the chat-session lifetime.
func (e *Extractor) Extract(ctx context.Context, doc Document, hint string) (*invoice.InvoiceRecord, error) {
	rid := uuid.New().String()
	start := time.Now()

	e.log.Info("extract.received",
		"req_id", rid,
		"mime_type", doc.MIMEType,
		"bytes", len(doc.Data),
		"has_hint", hint != "",
	)

	res, err := raster.Rasterize(doc.Data, doc.MIMEType, e.opts.Raster)
	if err != nil {
		e.log.Error("extract.rasterize_failed", "req_id", rid, "error", err)
		return nil, &Error{Kind: rasterKind(err), Err: err}
	}
	e.log.Info("extract.rasterized",
		"req_id", rid,
		"pages", len(res.Pages),
		"total_pages", res.TotalPages,
		"truncated", res.Truncated,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	req, err := Assemble(res.Pages, hint, e.opts.CurrencyFallback)
	if err != nil {
		e.log.Error("extract.assemble_failed", "req_id", rid, "error", err)
		return nil, err
	}
	req.ID = rid

	callStart := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, e.opts.ModelTimeout)
	defer cancel()
	raw, err := e.model.Extract(callCtx, req)
	if err != nil {
		e.log.Error("extract.model_failed",
			"req_id", rid,
			"error", err,
			"elapsed_ms", time.Since(callStart).Milliseconds(),
		)
		return nil, &Error{Kind: KindModelUnavailable, Err: err}
	}
	e.log.Info("extract.model_responded",
		"req_id", rid,
		"response_bytes", len(raw),
		"elapsed_ms", time.Since(callStart).Milliseconds(),
	)

	rec, err := invoice.Parse(raw)
	if err != nil {
		e.log.Error("extract.parse_failed", "req_id", rid, "error", err)
		return nil, &Error{Kind: parseKind(err), Err: err}
	}

	e.resolveCurrency(rec)
	if res.Truncated {
		rec.Warnings = append(rec.Warnings,
			fmt.Sprintf("document has %d pages; only the first %d were processed", res.TotalPages, len(res.Pages)))
	}
	if len(rec.Warnings) > 0 {
		e.log.Warn("extract.validation_warnings", "req_id", rid, "warnings", rec.Warnings)
	}

	e.log.Info("extract.done",
		"req_id", rid,
		"is_invoice", rec.IsInvoice,
		"line_items", len(rec.LineItems),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return rec, nil
}

// resolveCurrency fills a null currency from the configured fallback. A
// non-null model currency always wins: the fallback informs, it never
// overwrites what the document says.
func (e *Extractor) resolveCurrency(rec *invoice.InvoiceRecord) {
	if rec.Currency != nil || e.opts.CurrencyFallback == "" {
		return
	}
	c := strings.ToUpper(strings.TrimSpace(e.opts.CurrencyFallback))
	if c == "" {
		return
	}
	rec.Currency = &c
	rec.Warnings = append(rec.Warnings, "currency: filled from configured default "+c)
}

func rasterKind(err error) Kind {
	switch {
	case errors.Is(err, raster.ErrUnsupportedFormat):
		return KindUnsupportedFormat
	case errors.Is(err, raster.ErrPageLimitExceeded):
		return KindPageLimitExceeded
	default:
		return KindRenderFailure
	}
}

func parseKind(err error) Kind {
	var malformed *invoice.MalformedError
	if errors.As(err, &malformed) {
		return KindMalformedOutput
	}
	return KindSchemaViolation
}
