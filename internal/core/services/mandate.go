package services

import (
	"context"
	"fmt"
	"slices"

	"github.com/custodia-labs/scanpipe/internal/core/domain"
	"github.com/custodia-labs/scanpipe/internal/core/ports/driven"
	"github.com/custodia-labs/scanpipe/internal/core/ports/driving"
	"github.com/custodia-labs/scanpipe/internal/logger"
)

// Ensure MandateService implements the interface.
var _ driving.MandateService = (*MandateService)(nil)

// MandateService administers mandates and their reference data.
type MandateService struct {
	repo     *Repository
	seeds    driven.SeedSource
	writer   driven.SeedWriter
	notifier driven.InvalidationNotifier
}

// NewMandateService creates a mandate service. notifier may be nil.
func NewMandateService(
	repo *Repository,
	seeds driven.SeedSource,
	writer driven.SeedWriter,
	notifier driven.InvalidationNotifier,
) *MandateService {
	return &MandateService{repo: repo, seeds: seeds, writer: writer, notifier: notifier}
}

// List returns every mandate, ordered by ID.
func (s *MandateService) List(ctx context.Context) ([]domain.Mandate, error) {
	return s.repo.Mandates(ctx)
}

// Results returns stored results of a mandate, newest first.
func (s *MandateService) Results(ctx context.Context, mandateID string, filter domain.ResultFilter) ([]domain.OcrResult, error) {
	if mandateID == "" {
		return nil, fmt.Errorf("%w: mandate id is required", domain.ErrInvalidInput)
	}
	return s.repo.Results(ctx, s.repo.Context(mandateID), filter)
}

// Invalidate drops cached data locally and announces the change.
func (s *MandateService) Invalidate(ctx context.Context, mandateID string) error {
	if mandateID == "" {
		return fmt.Errorf("%w: mandate id is required", domain.ErrInvalidInput)
	}
	s.repo.Invalidate(mandateID)
	if s.notifier == nil {
		return nil
	}
	if err := s.notifier.Publish(ctx, mandateID); err != nil {
		return fmt.Errorf("publish invalidation: %w", err)
	}
	return nil
}

// Seed loads a seed file into the store. Mandates are written first so
// their expression sets have an owner.
func (s *MandateService) Seed(ctx context.Context, path string) (*domain.SeedSet, error) {
	set, err := s.seeds.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load seed %s: %w", path, err)
	}
	if err := set.Validate(); err != nil {
		return nil, fmt.Errorf("seed %s: %w", path, err)
	}

	for i := range set.Mandates {
		if err := s.writer.UpsertMandate(ctx, &set.Mandates[i]); err != nil {
			return nil, fmt.Errorf("write mandate %s: %w", set.Mandates[i].ID, err)
		}
	}

	ids := make([]string, 0, len(set.Expressions))
	for id := range set.Expressions {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		if err := s.writer.ReplaceExpressions(ctx, id, set.Expressions[id]); err != nil {
			return nil, fmt.Errorf("write expressions of %s: %w", id, err)
		}
	}

	if len(set.Banks) > 0 {
		if err := s.writer.UpsertBanks(ctx, set.Banks); err != nil {
			return nil, fmt.Errorf("write banks: %w", err)
		}
	}

	logger.Info("seeded %d mandates, %d expression sets, %d banks from %s",
		len(set.Mandates), len(set.Expressions), len(set.Banks), path)

	if err := s.Invalidate(ctx, driven.AllMandates); err != nil {
		logger.Warn("seed written but invalidation failed: %v", err)
	}
	return set, nil
}
