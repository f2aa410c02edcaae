package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/custodia-labs/scanpipe/internal/core/domain"
	"github.com/custodia-labs/scanpipe/internal/core/ports/driven"
	"github.com/custodia-labs/scanpipe/internal/core/ports/driving"
	"github.com/custodia-labs/scanpipe/internal/logger"
)

// Ensure Pipeline implements the interface.
var _ driving.BatchProcessor = (*Pipeline)(nil)

// Pipeline stages, used as BatchError.Op.
const (
	OpLoadPatterns = "load patterns"
	OpOpen         = "open"
	OpRender       = "render"
	OpSegment      = "segment"
	OpExtract      = "extract"
	OpValidate     = "validate banks"
	OpPersist      = "persist"
)

// defaultRenderDPI is used when neither settings nor the caller choose one.
const defaultRenderDPI = 200

// Pipeline drives one batch through segmentation, extraction, matching,
// bank validation and persistence.
type Pipeline struct {
	repo      *Repository
	pdfs      driven.PDFOpener
	inbox     driven.Inbox
	segmenter *Segmenter
	extractor *Extractor
	matcher   *Matcher
	banks     *BankValidator
	dpi       int
	now       func() time.Time
}

// NewPipeline creates a pipeline. inbox is only used by ProcessFile.
func NewPipeline(
	repo *Repository,
	pdfs driven.PDFOpener,
	inbox driven.Inbox,
	segmenter *Segmenter,
	extractor *Extractor,
	banks *BankValidator,
	dpi int,
) *Pipeline {
	if dpi <= 0 {
		dpi = defaultRenderDPI
	}
	return &Pipeline{
		repo:      repo,
		pdfs:      pdfs,
		inbox:     inbox,
		segmenter: segmenter,
		extractor: extractor,
		matcher:   NewMatcher(),
		banks:     banks,
		dpi:       dpi,
		now:       time.Now,
	}
}

// ProcessBatch runs the full pipeline for a claimed batch. Results are
// persisted per document, so a batch that fails halfway can be processed
// again without duplicating stored results.
//
// Errors are *domain.BatchError values naming the failed stage.
func (p *Pipeline) ProcessBatch(
	ctx context.Context,
	mc *MandateContext,
	mandate domain.Mandate,
	batch *domain.Batch,
) (*domain.BatchReport, error) {
	started := p.now()
	fail := func(op string, err error) (*domain.BatchReport, error) {
		return nil, &domain.BatchError{MandateID: mandate.ID, BatchID: batch.ID, Op: op, Err: err}
	}

	// Patterns first: a store outage should defer the batch before any
	// rendering work is done.
	set, err := p.repo.Expressions(ctx, mc)
	if err != nil {
		return fail(OpLoadPatterns, err)
	}

	opened, err := p.pdfs.Open(ctx, batch.SourcePath)
	if err != nil {
		return fail(OpOpen, fmt.Errorf("%w: %w", domain.ErrUnreadableBatch, err))
	}
	pdf := guardDocument(opened)
	defer pdf.Close()

	pages, err := p.render(ctx, pdf, p.dpi)
	if err != nil {
		return fail(OpRender, err)
	}
	batch.PageCount = len(pages)

	docs, err := p.segmenter.Segment(ctx, batch, pages, SegmentOptions{
		Policy: mandate.MarkerPolicy,
		Prefix: mandate.EffectiveMarkerPrefix(),
	})
	if err != nil {
		return fail(OpSegment, err)
	}

	report := &domain.BatchReport{
		MandateID: mandate.ID,
		BatchID:   batch.ID,
		BatchName: batch.Name,
		Statuses:  make(map[domain.ResultStatus]int),
	}
	log := logger.WithMandate(mandate.ID).With().Str("batch", batch.Name).Logger()

	for doc := range docs {
		if err := p.extractor.ExtractDocument(ctx, pdf, pages, &doc); err != nil {
			return fail(OpExtract, err)
		}

		result, err := p.evaluate(ctx, mc, set, batch, &doc)
		if err != nil {
			return fail(OpValidate, err)
		}

		stored, err := p.repo.Persist(ctx, mc, &result)
		if err != nil {
			return fail(OpPersist, err)
		}
		if stored {
			report.Stored++
		} else {
			report.Duplicates++
		}
		report.Documents++
		report.Statuses[result.Status]++
		report.Results = append(report.Results, result)

		log.Debug().
			Stringer("pages", doc.Range).
			Str("status", string(result.Status)).
			Str("vendor", result.VendorID).
			Bool("stored", stored).
			Msg("document processed")
	}
	if err := ctx.Err(); err != nil {
		return fail(OpSegment, err)
	}
	if report.Documents == 0 {
		return fail(OpSegment, domain.ErrNoDocuments)
	}

	report.Duration = p.now().Sub(started)
	log.Info().
		Int("documents", report.Documents).
		Int("stored", report.Stored).
		Int("duplicates", report.Duplicates).
		Dur("duration", report.Duration).
		Msg("batch processed")
	return report, nil
}

// evaluate matches an extracted document and validates its bank data.
func (p *Pipeline) evaluate(
	ctx context.Context,
	mc *MandateContext,
	set *ExpressionSet,
	batch *domain.Batch,
	doc *domain.SegmentedDocument,
) (domain.OcrResult, error) {
	text := doc.Text()
	match := p.matcher.Match(text, set)

	banks, err := p.banks.ValidateDocument(ctx, mc, text, doc.Codes)
	if err != nil {
		return domain.OcrResult{}, err
	}

	result := domain.OcrResult{
		MandateID:    mc.MandateID(),
		BatchID:      batch.ID,
		BatchName:    batch.Name,
		Range:        doc.Range,
		VendorID:     match.VendorID,
		ExpressionID: match.ExpressionID,
		MatchedText:  match.SpanText,
		Text:         text,
		Banks:        banks,
		Routing:      doc.Routing,
		Methods:      doc.Methods(),
		FailedPages:  doc.FailedPages(),
		Status:       domain.DeriveStatus(doc, match),
	}
	if pageErr := pageErrors(doc); pageErr != nil {
		result.Error = pageErr.Error()
		result.ErrorClass = domain.Classify(pageErr)
	}
	return result, nil
}

// render rasterises every page. A page that cannot be rendered keeps a nil
// image: it can still be extracted natively but never carries a marker.
func (p *Pipeline) render(ctx context.Context, pdf driven.PDFDocument, dpi int) ([]domain.Page, error) {
	n := pdf.PageCount()
	if n == 0 {
		return nil, domain.ErrEmptyBatch
	}
	pages := make([]domain.Page, n)
	failed := 0
	for i := range pages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		index := i + 1
		pages[i].Index = index
		img, err := pdf.RenderPage(ctx, index, dpi)
		if err != nil {
			failed++
			log := logger.For("pipeline")
			log.Warn().Err(err).Int("page", index).Msg("page could not be rendered")
			continue
		}
		pages[i].Image = img
	}
	if failed == n {
		return nil, fmt.Errorf("%w: no page could be rendered", domain.ErrUnreadableBatch)
	}
	return pages, nil
}

// ProcessFile runs the pipeline for one file outside the worker loop.
func (p *Pipeline) ProcessFile(ctx context.Context, mandateID, path string) (*domain.BatchReport, error) {
	mc := p.repo.Context(mandateID)
	mandate, err := p.repo.LoadMandate(ctx, mc)
	if err != nil {
		return nil, err
	}
	batch, err := p.inbox.Stat(ctx, path)
	if err != nil {
		return nil, err
	}
	batch.MandateID = mandate.ID
	return p.ProcessBatch(ctx, mc, mandate, batch)
}

// Inspect renders a file and reports how it would be segmented.
func (p *Pipeline) Inspect(ctx context.Context, path string, opts driving.InspectOptions) (*driving.SegmentationPlan, error) {
	pdf, err := p.pdfs.Open(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrUnreadableBatch, err)
	}
	defer pdf.Close()

	dpi := opts.DPI
	if dpi <= 0 {
		dpi = p.dpi
	}
	pages, err := p.render(ctx, pdf, dpi)
	if err != nil {
		return nil, err
	}
	batch := &domain.Batch{SourcePath: path, PageCount: len(pages)}
	return p.segmenter.Plan(ctx, batch, pages, SegmentOptions{Policy: opts.Policy, Prefix: opts.Prefix})
}

// pageErrors joins the errors of failed pages.
func pageErrors(doc *domain.SegmentedDocument) error {
	var errs []error
	for _, page := range doc.Pages {
		if page.Failed && page.Err != nil {
			errs = append(errs, fmt.Errorf("page %d: %w", page.Index, page.Err))
		}
	}
	return errors.Join(errs...)
}
