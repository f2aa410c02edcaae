package driving

import (
	"context"

	"github.com/custodia-labs/scanpipe/internal/core/domain"
)

// BatchProcessor processes single batch files on demand.
type BatchProcessor interface {
	// ProcessFile runs the full pipeline for one file of a mandate and
	// persists the results. The file is not moved.
	ProcessFile(ctx context.Context, mandateID, path string) (*domain.BatchReport, error)

	// Inspect renders a file and returns its segmentation plan without
	// extracting or persisting anything.
	Inspect(ctx context.Context, path string, opts InspectOptions) (*SegmentationPlan, error)
}

// InspectOptions controls segmentation during inspection.
type InspectOptions struct {
	Policy domain.MarkerPolicy
	Prefix string
	DPI    int
}

// SegmentationPlan describes how a batch would be split.
type SegmentationPlan struct {
	PageCount int
	Markers   []domain.Marker
	Documents []domain.PageRange

	// Codes maps page indices to non-marker payloads.
	Codes map[int][]string
}
