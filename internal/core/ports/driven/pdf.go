package driven

import (
	"context"
	"image"
)

// PDFOpener opens batch files for page access.
type PDFOpener interface {
	// Open opens the PDF at path. The caller must Close the document.
	Open(ctx context.Context, path string) (PDFDocument, error)
}

// PDFDocument is an opened PDF. Page indices are 1-based.
// Page calls may run concurrently. Close must not release the document
// while a page call is still running.
type PDFDocument interface {
	// PageCount returns the number of pages.
	PageCount() int

	// PageText returns the native text layer of a page.
	// An empty string with a nil error means the page has no text layer.
	PageText(ctx context.Context, index int) (string, error)

	// RenderPage rasterises a page at the given resolution.
	RenderPage(ctx context.Context, index int, dpi int) (image.Image, error)

	// Close releases the document.
	Close() error
}
