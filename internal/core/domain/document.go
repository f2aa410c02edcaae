package domain

import (
	"strings"
)

// ExtractionMethod records how a page's text was obtained.
type ExtractionMethod string

// Available extraction methods.
const (
	// ExtractionNone means no text could be obtained for the page.
	ExtractionNone ExtractionMethod = "none"

	// ExtractionNative means the text came from the PDF text layer.
	ExtractionNative ExtractionMethod = "native"

	// ExtractionOCR means the text came from OCR of the page raster.
	ExtractionOCR ExtractionMethod = "ocr"
)

// PageText is the extraction outcome for one page.
type PageText struct {
	// Index is the 1-based page number within the batch.
	Index int

	// Text is the extracted text. Empty when Failed is true.
	Text string

	// Method records which capability produced the text.
	Method ExtractionMethod

	// Failed is true when neither capability produced usable text.
	Failed bool

	// Err holds the failure reason when Failed is true.
	Err error
}

// SegmentedDocument is a contiguous run of pages of one batch.
// Page ranges of documents from the same batch never overlap.
type SegmentedDocument struct {
	// BatchID identifies the batch the document was cut from.
	BatchID string

	// Range is the inclusive page range.
	Range PageRange

	// Routing holds metadata from the marker that opened the document, if any.
	Routing map[string]string

	// Codes holds non-marker payloads (e.g. QR-bill data) found on the document's pages.
	Codes []string

	// Pages holds per-page extraction results ordered by page index.
	// Empty until the document has been extracted.
	Pages []PageText
}

// PageSeparator separates page texts in the assembled document text.
const PageSeparator = "\f"

// Text returns the concatenated text of all successfully extracted pages,
// in page order.
func (d *SegmentedDocument) Text() string {
	parts := make([]string, 0, len(d.Pages))
	for _, p := range d.Pages {
		if p.Failed || p.Text == "" {
			continue
		}
		parts = append(parts, p.Text)
	}
	return strings.Join(parts, PageSeparator)
}

// FailedPages returns the indices of pages whose extraction failed.
func (d *SegmentedDocument) FailedPages() []int {
	var failed []int
	for _, p := range d.Pages {
		if p.Failed {
			failed = append(failed, p.Index)
		}
	}
	return failed
}

// Methods returns the extraction method per page index.
func (d *SegmentedDocument) Methods() map[int]ExtractionMethod {
	methods := make(map[int]ExtractionMethod, len(d.Pages))
	for _, p := range d.Pages {
		methods[p.Index] = p.Method
	}
	return methods
}

// Extracted reports whether at least one page produced text.
func (d *SegmentedDocument) Extracted() bool {
	for _, p := range d.Pages {
		if !p.Failed {
			return true
		}
	}
	return false
}
