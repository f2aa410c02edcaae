package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/custodia-labs/scanpipe/internal/core/domain"
	"github.com/custodia-labs/scanpipe/internal/core/ports/driven"
	"github.com/custodia-labs/scanpipe/internal/logger"
)

// ExtractorConfig holds text extraction thresholds and limits.
type ExtractorConfig struct {
	// MinTextLength is the native text length (non-space runes) below which OCR is used.
	MinTextLength int

	// MinPrintableRatio is the printable rune ratio below which OCR is used.
	MinPrintableRatio float64

	NativeTimeout time.Duration
	OCRTimeout    time.Duration

	// Concurrency caps pages extracted in parallel within one document.
	Concurrency int

	// OCRRate limits OCR calls per second. Zero means unlimited.
	OCRRate float64
}

// ExtractorConfigFrom builds the extractor config from settings.
func ExtractorConfigFrom(s domain.ExtractSettings) ExtractorConfig {
	return ExtractorConfig{
		MinTextLength:     s.MinTextLength,
		MinPrintableRatio: s.MinPrintableRatio,
		NativeTimeout:     s.NativeTimeout,
		OCRTimeout:        s.OCRTimeout,
		Concurrency:       s.Concurrency,
		OCRRate:           s.OCRRate,
	}
}

// Extractor obtains page text, native first with OCR fallback.
type Extractor struct {
	ocr     driven.OCREngine
	cfg     ExtractorConfig
	limiter *rate.Limiter
}

// NewExtractor creates an extractor. ocr may be nil, in which case pages
// without a usable text layer are flagged as failed.
func NewExtractor(ocr driven.OCREngine, cfg ExtractorConfig) *Extractor {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	e := &Extractor{ocr: ocr, cfg: cfg}
	if cfg.OCRRate > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(cfg.OCRRate), 1)
	}
	return e
}

// NeedsOCR reports whether native text is too short or too noisy to use.
func (e *Extractor) NeedsOCR(text string) bool {
	var total, printable, meaningful int
	for _, r := range text {
		total++
		if unicode.IsPrint(r) || unicode.IsSpace(r) {
			printable++
		}
		if !unicode.IsSpace(r) {
			meaningful++
		}
	}
	if meaningful == 0 || meaningful < e.cfg.MinTextLength {
		return true
	}
	return float64(printable)/float64(total) < e.cfg.MinPrintableRatio
}

// ExtractDocument fills doc.Pages with one result per page of its range.
// Page failures are flagged on the page and never abort the document.
// Results are ordered by page index regardless of completion order.
// Once ctx is cancelled no further page is started; calls already running
// finish within their timeouts. The only error returned is ctx's.
func (e *Extractor) ExtractDocument(
	ctx context.Context,
	pdf driven.PDFDocument,
	pages []domain.Page,
	doc *domain.SegmentedDocument,
) error {
	results := make([]domain.PageText, doc.Range.Len())

	var g errgroup.Group
	g.SetLimit(e.cfg.Concurrency)
	for i := range results {
		index := doc.Range.First + i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i] = failedPage(index, err)
				return nil
			}
			page, ok := pageByIndex(pages, index)
			if !ok {
				results[i] = failedPage(index, fmt.Errorf("%w: page %d not rendered", domain.ErrExtractionFailed, index))
				return nil
			}
			results[i] = e.ExtractPage(ctx, pdf, page)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}
	doc.Pages = results
	return nil
}

// ExtractPage extracts one page.
func (e *Extractor) ExtractPage(ctx context.Context, pdf driven.PDFDocument, page domain.Page) domain.PageText {
	log := logger.For("extractor")

	native, nativeErr := e.native(ctx, pdf, page.Index)
	if nativeErr == nil && !e.NeedsOCR(native) {
		return domain.PageText{Index: page.Index, Text: native, Method: domain.ExtractionNative}
	}
	if nativeErr != nil {
		log.Debug().Err(nativeErr).Int("page", page.Index).Msg("native extraction failed")
	}

	if err := ctx.Err(); err != nil {
		return e.fallback(page.Index, native, errors.Join(nativeErr, err))
	}
	if e.ocr == nil || page.Image == nil {
		return e.fallback(page.Index, native, errors.Join(nativeErr,
			fmt.Errorf("%w: no OCR capability for page %d", domain.ErrExtractionFailed, page.Index)))
	}

	text, ocrErr := e.recognize(ctx, page)
	if ocrErr != nil {
		log.Warn().Err(ocrErr).Int("page", page.Index).Str("engine", e.ocr.Name()).Msg("OCR failed")
		return e.fallback(page.Index, native, errors.Join(nativeErr, ocrErr))
	}
	return domain.PageText{Index: page.Index, Text: strings.TrimSpace(text), Method: domain.ExtractionOCR}
}

// fallback keeps whatever native text exists when OCR could not improve it.
func (e *Extractor) fallback(index int, native string, err error) domain.PageText {
	if strings.TrimSpace(native) != "" && utf8.ValidString(native) {
		return domain.PageText{Index: index, Text: native, Method: domain.ExtractionNative}
	}
	return failedPage(index, err)
}

func (e *Extractor) native(ctx context.Context, pdf driven.PDFDocument, index int) (string, error) {
	if pdf == nil {
		return "", fmt.Errorf("%w: no text layer source", domain.ErrExtractionFailed)
	}
	return callWithTimeout(ctx, e.cfg.NativeTimeout, "native extraction", func(ctx context.Context) (string, error) {
		return pdf.PageText(ctx, index)
	})
}

func (e *Extractor) recognize(ctx context.Context, page domain.Page) (string, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("%w: OCR throttle: %w", domain.ErrExtractionFailed, err)
		}
	}
	return callWithTimeout(ctx, e.cfg.OCRTimeout, "OCR", func(ctx context.Context) (string, error) {
		return e.ocr.Recognize(ctx, page.Image)
	})
}

// callWithTimeout runs fn with a deadline. Cancellation of ctx does not
// reach fn: a started call ends only by returning or by its timeout. If fn
// does not return in time the call counts as a timeout and is left to
// finish on its own.
func callWithTimeout(
	ctx context.Context,
	timeout time.Duration,
	what string,
	fn func(ctx context.Context) (string, error),
) (string, error) {
	ctx = context.WithoutCancel(ctx)
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		text, err := fn(ctx)
		done <- result{text, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			if errors.Is(r.err, context.DeadlineExceeded) {
				return "", fmt.Errorf("%w: %s: %w", domain.ErrExtractionTimeout, what, r.err)
			}
			return "", fmt.Errorf("%w: %s: %w", domain.ErrExtractionFailed, what, r.err)
		}
		return r.text, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: %s after %s", domain.ErrExtractionTimeout, what, timeout)
		}
		return "", fmt.Errorf("%w: %s: %w", domain.ErrExtractionFailed, what, ctx.Err())
	}
}

func failedPage(index int, err error) domain.PageText {
	return domain.PageText{Index: index, Method: domain.ExtractionNone, Failed: true, Err: err}
}

func pageByIndex(pages []domain.Page, index int) (domain.Page, bool) {
	if index >= 1 && index <= len(pages) && pages[index-1].Index == index {
		return pages[index-1], true
	}
	for _, p := range pages {
		if p.Index == index {
			return p, true
		}
	}
	return domain.Page{}, false
}
