package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/custodia-labs/scanpipe/internal/core/ports/driven"
	"github.com/custodia-labs/scanpipe/internal/logger"
)

// Housekeeper runs the periodic maintenance tasks of the service.
type Housekeeper struct {
	repo     *Repository
	inbox    driven.Inbox
	notifier driven.InvalidationNotifier
	now      func() time.Time
}

// NewHousekeeper creates a housekeeper. notifier may be nil.
func NewHousekeeper(repo *Repository, inbox driven.Inbox, notifier driven.InvalidationNotifier) *Housekeeper {
	return &Housekeeper{repo: repo, inbox: inbox, notifier: notifier, now: time.Now}
}

// PurgeDiagnostics removes diagnostics artifacts past each mandate's
// retention. Mandates without a retention age are skipped.
func (h *Housekeeper) PurgeDiagnostics(ctx context.Context) (int, error) {
	mandates, err := h.repo.Mandates(ctx)
	if err != nil {
		return 0, err
	}

	var (
		total int
		errs  []error
	)
	now := h.now()
	for i := range mandates {
		m := &mandates[i]
		if m.Retention.MaxAge <= 0 {
			continue
		}
		n, err := h.inbox.Purge(ctx, m, now)
		total += n
		if err != nil {
			errs = append(errs, fmt.Errorf("mandate %s: %w", m.ID, err))
			continue
		}
		if n > 0 {
			logger.Info("purged %d diagnostics files of mandate %s", n, m.ID)
		}
	}
	return total, errors.Join(errs...)
}

// RefreshCaches invalidates the cached data of every mandate and tells
// other processes to do the same.
func (h *Housekeeper) RefreshCaches(ctx context.Context) (int, error) {
	h.repo.Invalidate(driven.AllMandates)
	if h.notifier == nil {
		return 0, nil
	}
	if err := h.notifier.Publish(ctx, driven.AllMandates); err != nil {
		return 0, fmt.Errorf("publish invalidation: %w", err)
	}
	return 1, nil
}
