package raster

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif" // Register GIF decoder
	"image/jpeg"
	_ "image/png" // Register PNG decoder
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
)

const (
	DefaultPageLimit   = 5
	DefaultDPI         = 150
	DefaultJPEGQuality = 85
)

var (
	// ErrUnsupportedFormat means the input is neither a raster image nor a PDF.
	ErrUnsupportedFormat = errors.New("unsupported document format")
	// ErrPageLimitExceeded is only returned when StrictPageLimit is set;
	// otherwise pages beyond the limit are silently dropped and reported
	// via Result.Truncated.
	ErrPageLimitExceeded = errors.New("page limit exceeded")
	// ErrRenderFailure means the document was recognized but could not be
	// decoded or rendered.
	ErrRenderFailure = errors.New("document render failed")
)

// Options controls rasterization. Zero values fall back to defaults.
type Options struct {
	PageLimit       int
	DPI             int
	JPEGQuality     int
	StrictPageLimit bool
}

func (o Options) withDefaults() Options {
	if o.PageLimit <= 0 {
		o.PageLimit = DefaultPageLimit
	}
	if o.DPI <= 0 {
		o.DPI = DefaultDPI
	}
	if o.JPEGQuality <= 0 {
		o.JPEGQuality = DefaultJPEGQuality
	}
	return o
}

// Page is one rendered page, re-encoded as JPEG. Index is the 0-based
// position in document order.
type Page struct {
	Index    int
	Width    int
	Height   int
	Data     []byte
	MIMEType string
}

// Result is the ordered page sequence for one document. TotalPages is the
// page count of the source document, which exceeds len(Pages) when Truncated.
type Result struct {
	Pages      []Page
	TotalPages int
	Truncated  bool
}

// Rasterize converts a document (single image or multi-page PDF) into an
// ordered sequence of JPEG pages. It never returns partial pages: any decode
// or render error fails the whole call.
func Rasterize(data []byte, declaredMIME string, opts Options) (*Result, error) {
	opts = opts.withDefaults()

	mimeType := strings.ToLower(strings.TrimSpace(declaredMIME))
	if mimeType == "" {
		mimeType = "image/jpeg" // chat photos arrive without a declared type
	}

	switch {
	case mimeType == "application/pdf":
		doc, err := fitz.NewFromMemory(data)
		if err != nil {
			return nil, fmt.Errorf("%w: opening PDF: %v", ErrRenderFailure, err)
		}
		defer doc.Close()
		return rasterizePaged(&fitzDocument{doc: doc}, opts)
	case strings.HasPrefix(mimeType, "image/"):
		return rasterizeImage(data, mimeType, opts)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, mimeType)
	}
}

// pagedDocument abstracts the rendered-page source so multi-page behavior is
// testable without real PDF fixtures.
type pagedDocument interface {
	PageCount() int
	RenderPage(index int, dpi float64) (image.Image, error)
}

type fitzDocument struct {
	doc *fitz.Document
}

func (f *fitzDocument) PageCount() int { return f.doc.NumPage() }

func (f *fitzDocument) RenderPage(index int, dpi float64) (image.Image, error) {
	return f.doc.ImageDPI(index, dpi)
}

func rasterizePaged(doc pagedDocument, opts Options) (*Result, error) {
	total := doc.PageCount()
	if total == 0 {
		return nil, fmt.Errorf("%w: document has no pages", ErrRenderFailure)
	}
	if total > opts.PageLimit && opts.StrictPageLimit {
		return nil, fmt.Errorf("%w: document has %d pages, limit is %d", ErrPageLimitExceeded, total, opts.PageLimit)
	}

	count := total
	if count > opts.PageLimit {
		count = opts.PageLimit
	}

	pages := make([]Page, 0, count)
	for i := 0; i < count; i++ {
		img, err := doc.RenderPage(i, float64(opts.DPI))
		if err != nil {
			return nil, fmt.Errorf("%w: rendering page %d: %v", ErrRenderFailure, i, err)
		}
		page, err := encodePage(img, i, opts.JPEGQuality)
		if err != nil {
			return nil, err
		}
		pages = append(pages, page)
	}

	return &Result{
		Pages:      pages,
		TotalPages: total,
		Truncated:  total > count,
	}, nil
}

func rasterizeImage(data []byte, mimeType string, opts Options) (*Result, error) {
	var img image.Image
	var err error

	// HEIC/HEIF photos (common on iPhones) are not covered by the standard
	// image decoders; sniff the ftyp box as well since chat clients often
	// mislabel them.
	if isHEICMimeType(mimeType) || isHEICFormat(data) {
		img, err = heic.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%w: decoding HEIC image: %v", ErrRenderFailure, err)
		}
	} else {
		img, _, err = image.Decode(bytes.NewReader(data))
		if err != nil {
			if errors.Is(err, image.ErrFormat) {
				return nil, fmt.Errorf("%w: %s (supported: JPEG, PNG, GIF, HEIC, HEIF, PDF)", ErrUnsupportedFormat, mimeType)
			}
			return nil, fmt.Errorf("%w: decoding image: %v", ErrRenderFailure, err)
		}
	}

	page, err := encodePage(img, 0, opts.JPEGQuality)
	if err != nil {
		return nil, err
	}

	return &Result{Pages: []Page{page}, TotalPages: 1}, nil
}

func encodePage(img image.Image, index, quality int) (Page, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return Page{}, fmt.Errorf("%w: encoding JPEG: %v", ErrRenderFailure, err)
	}
	bounds := img.Bounds()
	return Page{
		Index:    index,
		Width:    bounds.Dx(),
		Height:   bounds.Dy(),
		Data:     buf.Bytes(),
		MIMEType: "image/jpeg",
	}, nil
}

// isHEICFormat checks the ftyp box brands HEIC files start with.
func isHEICFormat(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heif", "mif1", "msf1":
		return true
	}
	return false
}

func isHEICMimeType(mimeType string) bool {
	return strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif")
}
