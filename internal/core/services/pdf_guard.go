package services

import (
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/custodia-labs/scanpipe/internal/core/domain"
	"github.com/custodia-labs/scanpipe/internal/core/ports/driven"
)

// guardedDocument keeps an open PDF alive while page calls are running.
// A native call that timed out keeps running in the background; Close
// waits for it instead of releasing the document underneath it.
type guardedDocument struct {
	driven.PDFDocument

	mu     sync.RWMutex
	closed bool
}

func guardDocument(pdf driven.PDFDocument) *guardedDocument {
	return &guardedDocument{PDFDocument: pdf}
}

func (d *guardedDocument) PageText(ctx context.Context, index int) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return "", fmt.Errorf("%w: page %d: document closed", domain.ErrExtractionFailed, index)
	}
	return d.PDFDocument.PageText(ctx, index)
}

func (d *guardedDocument) RenderPage(ctx context.Context, index int, dpi int) (image.Image, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, fmt.Errorf("%w: page %d: document closed", domain.ErrUnreadableBatch, index)
	}
	return d.PDFDocument.RenderPage(ctx, index, dpi)
}

// Close blocks until running page calls return, then closes the document.
// Later calls fail without reaching it.
func (d *guardedDocument) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return d.PDFDocument.Close()
}
