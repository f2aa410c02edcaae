// Package fitz opens batch PDFs with MuPDF through go-fitz, providing the
// native text layer and page rasters.
package fitz

import (
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/gen2brain/go-fitz"

	"github.com/custodia-labs/scanpipe/internal/core/domain"
	"github.com/custodia-labs/scanpipe/internal/core/ports/driven"
)

var (
	_ driven.PDFOpener   = (*Opener)(nil)
	_ driven.PDFDocument = (*Document)(nil)
)

// Opener opens PDF files.
type Opener struct{}

// NewOpener creates an opener.
func NewOpener() *Opener {
	return &Opener{}
}

// Open opens the PDF at path.
func (o *Opener) Open(ctx context.Context, path string) (driven.PDFDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	doc, err := fitz.New(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	return &Document{doc: doc, pages: doc.NumPage()}, nil
}

// Document is an open PDF. MuPDF calls cannot be interrupted, so ctx is
// only checked before each call. go-fitz serialises calls per document but
// its Close does not wait for them; mu does.
type Document struct {
	doc   *fitz.Document
	pages int

	mu     sync.RWMutex
	closed bool
}

// PageCount returns the number of pages.
func (d *Document) PageCount() int {
	return d.pages
}

// PageText returns the text layer of a 1-based page.
func (d *Document) PageText(ctx context.Context, index int) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if err := d.check(ctx, index); err != nil {
		return "", err
	}
	text, err := d.doc.Text(index - 1)
	if err != nil {
		return "", fmt.Errorf("page %d text: %w", index, err)
	}
	return text, nil
}

// RenderPage rasterises a 1-based page at dpi.
func (d *Document) RenderPage(ctx context.Context, index int, dpi int) (image.Image, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if err := d.check(ctx, index); err != nil {
		return nil, err
	}
	img, err := d.doc.ImageDPI(index-1, float64(dpi))
	if err != nil {
		return nil, fmt.Errorf("page %d render: %w", index, err)
	}
	return img, nil
}

// Close releases the document once running page calls have returned.
func (d *Document) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return d.doc.Close()
}

// check must be called with mu held.
func (d *Document) check(ctx context.Context, index int) error {
	if d.closed {
		return fmt.Errorf("page %d: document closed", index)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if index < 1 || index > d.pages {
		return fmt.Errorf("%w: page %d outside 1..%d", domain.ErrInvalidInput, index, d.pages)
	}
	return nil
}
