package services

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"maps"

	"github.com/custodia-labs/scanpipe/internal/core/domain"
	"github.com/custodia-labs/scanpipe/internal/core/ports/driven"
	"github.com/custodia-labs/scanpipe/internal/core/ports/driving"
	"github.com/custodia-labs/scanpipe/internal/logger"
)

// SegmentOptions controls how marker pages are treated.
type SegmentOptions struct {
	Policy domain.MarkerPolicy
	Prefix string
}

// Segmenter splits a batch into documents at marker pages.
type Segmenter struct {
	decoder driven.MarkerDecoder
}

// NewSegmenter creates a segmenter. A nil decoder means no page is ever a
// marker, so every batch becomes a single document.
func NewSegmenter(decoder driven.MarkerDecoder) *Segmenter {
	return &Segmenter{decoder: decoder}
}

// Segment returns the documents of a batch as a lazy sequence.
//
// Markers are decoded while the sequence is ranged over. Ranging again
// re-scans the pages. Only documents with at least one page are yielded;
// with no markers the whole batch is one document. The sequence ends early
// when ctx is cancelled.
func (s *Segmenter) Segment(
	ctx context.Context,
	batch *domain.Batch,
	pages []domain.Page,
	opts SegmentOptions,
) (iter.Seq[domain.SegmentedDocument], error) {
	if err := checkSegmentInput(pages, opts); err != nil {
		return nil, err
	}
	return s.documents(ctx, batch, pages, opts, nil), nil
}

// Plan runs segmentation to completion and reports markers and page codes
// alongside the document ranges.
func (s *Segmenter) Plan(
	ctx context.Context,
	batch *domain.Batch,
	pages []domain.Page,
	opts SegmentOptions,
) (*driving.SegmentationPlan, error) {
	if err := checkSegmentInput(pages, opts); err != nil {
		return nil, err
	}

	plan := &driving.SegmentationPlan{
		PageCount: len(pages),
		Codes:     make(map[int][]string),
	}
	visit := func(ev pageEvent) {
		if ev.marker != nil {
			plan.Markers = append(plan.Markers, *ev.marker)
		}
		if len(ev.codes) > 0 {
			plan.Codes[ev.index] = ev.codes
		}
	}
	for doc := range s.documents(ctx, batch, pages, opts, visit) {
		plan.Documents = append(plan.Documents, doc.Range)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return plan, nil
}

func checkSegmentInput(pages []domain.Page, opts SegmentOptions) error {
	if len(pages) == 0 {
		return domain.ErrEmptyBatch
	}
	if !opts.Policy.IsValid() {
		return fmt.Errorf("%w: marker policy %q", domain.ErrInvalidInput, opts.Policy)
	}
	return nil
}

// pageEvent is what scanning one page found.
type pageEvent struct {
	index  int
	marker *domain.Marker
	codes  []string
}

func (s *Segmenter) documents(
	ctx context.Context,
	batch *domain.Batch,
	pages []domain.Page,
	opts SegmentOptions,
	visit func(pageEvent),
) iter.Seq[domain.SegmentedDocument] {
	batchID := ""
	if batch != nil {
		batchID = batch.ID
	}

	return func(yield func(domain.SegmentedDocument) bool) {
		var (
			current *domain.SegmentedDocument
			routing map[string]string
		)
		flush := func() bool {
			if current == nil {
				return true
			}
			doc := *current
			current = nil
			return yield(doc)
		}
		open := func(index int, r map[string]string) {
			current = &domain.SegmentedDocument{
				BatchID: batchID,
				Range:   domain.PageRange{First: index, Last: index},
				Routing: maps.Clone(r),
			}
		}

		for i := range pages {
			if ctx.Err() != nil {
				return
			}
			ev := s.scanPage(ctx, batchID, &pages[i], opts.Prefix)
			if visit != nil {
				visit(ev)
			}

			if ev.marker != nil {
				if !flush() {
					return
				}
				if opts.Policy == domain.MarkerPolicyDrop {
					routing = ev.marker.Routing
					continue
				}
				open(ev.index, ev.marker.Routing)
				current.Codes = append(current.Codes, ev.codes...)
				routing = nil
				continue
			}

			if current == nil {
				open(ev.index, routing)
				routing = nil
			}
			current.Range.Last = ev.index
			current.Codes = append(current.Codes, ev.codes...)
		}
		flush()
	}
}

// scanPage decodes a page for a marker. A decode failure is logged and the
// page is treated as content.
func (s *Segmenter) scanPage(ctx context.Context, batchID string, page *domain.Page, prefix string) pageEvent {
	ev := pageEvent{index: page.Index}
	ev.codes = append(ev.codes, page.Codes...)

	if s.decoder == nil || page.Image == nil {
		return ev
	}

	payload, found, err := s.decoder.Decode(ctx, page.Image)
	if err != nil {
		if !errors.Is(err, domain.ErrMarkerDecode) {
			err = fmt.Errorf("%w: %w", domain.ErrMarkerDecode, err)
		}
		log := logger.For("segmenter")
		log.Warn().Err(err).
			Str("batch_id", batchID).
			Int("page", page.Index).
			Msg("marker decode failed, treating page as content")
		return ev
	}
	if !found {
		return ev
	}

	if marker, ok := domain.ParseMarker(page.Index, payload, prefix); ok {
		ev.marker = &marker
		logger.Debug("marker on page %d of batch %s: %q", page.Index, batchID, marker.Payload)
		return ev
	}
	ev.codes = append(ev.codes, payload)
	return ev
}
