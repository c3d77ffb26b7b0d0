package raster

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestRaster(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Raster Suite")
}

func testImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: uint8((x + y) % 256), A: 255})
		}
	}
	return img
}

func encodePNG(img image.Image) []byte {
	var buf bytes.Buffer
	Expect(png.Encode(&buf, img)).To(Succeed())
	return buf.Bytes()
}

func encodeJPEG(img image.Image) []byte {
	var buf bytes.Buffer
	Expect(jpeg.Encode(&buf, img, nil)).To(Succeed())
	return buf.Bytes()
}

// fakeDoc stands in for a rendered PDF so multi-page behavior is testable
// without real fixtures.
type fakeDoc struct {
	pages    int
	failPage int // -1 for no failure
	rendered []int
}

func (f *fakeDoc) PageCount() int { return f.pages }

func (f *fakeDoc) RenderPage(index int, dpi float64) (image.Image, error) {
	if index == f.failPage {
		return nil, fmt.Errorf("broken page %d", index)
	}
	f.rendered = append(f.rendered, index)
	return testImage(32, 48), nil
}

var _ = Describe("Rasterize", func() {
	When("the input is a PNG photo", func() {
		var result *Result
		var err error

		BeforeEach(func() {
			result, err = Rasterize(encodePNG(testImage(120, 80)), "image/png", Options{})
		})

		It("should produce exactly one JPEG page", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Pages).To(HaveLen(1))
			Expect(result.Pages[0].Index).To(Equal(0))
			Expect(result.Pages[0].MIMEType).To(Equal("image/jpeg"))
			Expect(result.TotalPages).To(Equal(1))
			Expect(result.Truncated).To(BeFalse())
		})

		It("should preserve the pixel dimensions", func() {
			Expect(result.Pages[0].Width).To(Equal(120))
			Expect(result.Pages[0].Height).To(Equal(80))
		})

		It("should emit decodable JPEG bytes", func() {
			img, derr := jpeg.Decode(bytes.NewReader(result.Pages[0].Data))
			Expect(derr).NotTo(HaveOccurred())
			Expect(img.Bounds().Dx()).To(Equal(120))
		})
	})

	When("the declared MIME type is empty", func() {
		It("should assume a JPEG photo", func() {
			result, err := Rasterize(encodeJPEG(testImage(60, 60)), "", Options{})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Pages).To(HaveLen(1))
		})
	})

	When("the quality setting changes", func() {
		It("should bound the page size by the configured quality", func() {
			src := encodePNG(testImage(300, 200))

			low, err := Rasterize(src, "image/png", Options{JPEGQuality: 10})
			Expect(err).NotTo(HaveOccurred())
			high, err := Rasterize(src, "image/png", Options{JPEGQuality: 95})
			Expect(err).NotTo(HaveOccurred())

			Expect(len(low.Pages[0].Data)).To(BeNumerically("<", len(high.Pages[0].Data)))
		})

		It("should be reproducible for identical input and configuration", func() {
			src := encodePNG(testImage(100, 100))

			a, err := Rasterize(src, "image/png", Options{JPEGQuality: 70})
			Expect(err).NotTo(HaveOccurred())
			b, err := Rasterize(src, "image/png", Options{JPEGQuality: 70})
			Expect(err).NotTo(HaveOccurred())

			Expect(a.Pages[0].Data).To(Equal(b.Pages[0].Data))
		})
	})

	When("the bytes are not a decodable image", func() {
		It("should fail with UnsupportedFormat", func() {
			_, err := Rasterize([]byte("definitely not pixels"), "image/png", Options{})
			Expect(errors.Is(err, ErrUnsupportedFormat)).To(BeTrue())
		})
	})

	When("the declared MIME type is not an image or PDF", func() {
		It("should fail with UnsupportedFormat", func() {
			_, err := Rasterize([]byte("hello"), "text/plain", Options{})
			Expect(errors.Is(err, ErrUnsupportedFormat)).To(BeTrue())
		})
	})

	When("the PDF bytes are corrupt", func() {
		It("should fail with RenderFailure", func() {
			_, err := Rasterize([]byte("%PDF-1.4 garbage"), "application/pdf", Options{})
			Expect(errors.Is(err, ErrRenderFailure)).To(BeTrue())
		})
	})
})

var _ = Describe("rasterizePaged", func() {
	var (
		doc    *fakeDoc
		opts   Options
		result *Result
		err    error
	)

	BeforeEach(func() {
		doc = &fakeDoc{pages: 7, failPage: -1}
		opts = Options{PageLimit: 5, DPI: 150, JPEGQuality: 85}
	})

	JustBeforeEach(func() {
		result, err = rasterizePaged(doc, opts.withDefaults())
	})

	When("the document exceeds the page limit", func() {
		It("should truncate to the limit", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Pages).To(HaveLen(5))
			Expect(result.TotalPages).To(Equal(7))
			Expect(result.Truncated).To(BeTrue())
		})

		It("should keep document order with gapless indices", func() {
			for i, page := range result.Pages {
				Expect(page.Index).To(Equal(i))
			}
		})

		It("should never render pages past the limit", func() {
			Expect(doc.rendered).To(Equal([]int{0, 1, 2, 3, 4}))
		})
	})

	When("the document fits within the limit", func() {
		BeforeEach(func() {
			doc.pages = 3
		})

		It("should render every page without truncation", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Pages).To(HaveLen(3))
			Expect(result.Truncated).To(BeFalse())
		})
	})

	When("the strict page limit is enabled", func() {
		BeforeEach(func() {
			opts.StrictPageLimit = true
		})

		It("should fail with PageLimitExceeded", func() {
			Expect(errors.Is(err, ErrPageLimitExceeded)).To(BeTrue())
			Expect(result).To(BeNil())
		})

		It("should not render anything", func() {
			Expect(doc.rendered).To(BeEmpty())
		})
	})

	When("a page fails to render", func() {
		BeforeEach(func() {
			doc.failPage = 2
		})

		It("should fail with RenderFailure and return no partial pages", func() {
			Expect(errors.Is(err, ErrRenderFailure)).To(BeTrue())
			Expect(result).To(BeNil())
		})
	})

	When("the document has no pages", func() {
		BeforeEach(func() {
			doc.pages = 0
		})

		It("should fail with RenderFailure", func() {
			Expect(errors.Is(err, ErrRenderFailure)).To(BeTrue())
		})
	})
})
