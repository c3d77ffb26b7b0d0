package extraction

import (
	"errors"
	"fmt"
)

// Kind classifies pipeline failures into the closed set the chat layer maps
// to user-facing messages.
type Kind string

const (
	KindUnsupportedFormat Kind = "UNSUPPORTED_FORMAT" // not an image or PDF; resubmit a supported format
	KindPageLimitExceeded Kind = "PAGE_LIMIT_EXCEEDED"
	KindRenderFailure     Kind = "RENDER_FAILURE" // corrupt or unreadable document
	KindEmptyDocument     Kind = "EMPTY_DOCUMENT" // programmer/caller error
	KindModelUnavailable  Kind = "MODEL_UNAVAILABLE"
	KindMalformedOutput   Kind = "MALFORMED_OUTPUT"
	KindSchemaViolation   Kind = "SCHEMA_VIOLATION"
)

// Retryable reports whether a repeated attempt with the same input could
// succeed. Format and render failures will not fix themselves; transient
// model failures and garbled output might.
func (k Kind) Retryable() bool {
	return k == KindModelUnavailable || k == KindMalformedOutput
}

// Error wraps a stage-local failure with its taxonomy kind.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the failure kind from an error returned by this package,
// or "" for errors that did not come out of the pipeline.
func KindOf(err error) Kind {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	return ""
}
