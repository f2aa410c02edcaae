package driving

import (
	"context"

	"github.com/custodia-labs/scanpipe/internal/core/domain"
)

// MandateService exposes mandate administration to the CLI.
type MandateService interface {
	// List returns every mandate.
	List(ctx context.Context) ([]domain.Mandate, error)

	// Results returns stored results of a mandate.
	Results(ctx context.Context, mandateID string, filter domain.ResultFilter) ([]domain.OcrResult, error)

	// Invalidate drops cached reference data for a mandate and announces it
	// to other processes. driven.AllMandates targets every mandate.
	Invalidate(ctx context.Context, mandateID string) error

	// Seed loads a seed file into the store.
	Seed(ctx context.Context, path string) (*domain.SeedSet, error)
}
