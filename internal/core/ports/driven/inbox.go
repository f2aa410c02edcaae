package driven

import (
	"context"
	"time"

	"github.com/custodia-labs/scanpipe/internal/core/domain"
)

// Inbox manages a mandate's input, archive and diagnostics locations.
//
// Files are never deleted in place: a batch moves from the input location
// to a claimed area, then to the archive or the diagnostics location.
type Inbox interface {
	// List returns the unclaimed batch files in the mandate's input location,
	// oldest first.
	List(ctx context.Context, mandate *domain.Mandate) ([]domain.Batch, error)

	// Stat describes a batch file without claiming it. The batch ID is the
	// content digest.
	Stat(ctx context.Context, path string) (*domain.Batch, error)

	// Claimed returns batches claimed in an earlier cycle that never completed.
	Claimed(ctx context.Context, mandate *domain.Mandate) ([]domain.Batch, error)

	// Claim moves a listed batch into the claimed area, updating SourcePath
	// and assigning the content digest as ID. A claimed batch is never
	// listed again.
	Claim(ctx context.Context, mandate *domain.Mandate, batch *domain.Batch) error

	// Archive moves a claimed batch to the archive location.
	Archive(ctx context.Context, mandate *domain.Mandate, batch *domain.Batch) error

	// Quarantine moves a claimed batch to the diagnostics location and
	// writes a failure record next to it.
	Quarantine(ctx context.Context, mandate *domain.Mandate, batch *domain.Batch, failure FailureRecord) error

	// Purge removes diagnostics artifacts past the mandate's retention.
	// Returns the number of files removed.
	Purge(ctx context.Context, mandate *domain.Mandate, now time.Time) (int, error)

	// Watch signals when the input location changes. The channel is closed
	// when ctx is cancelled. Implementations without change notification
	// return a nil channel.
	Watch(ctx context.Context, mandate *domain.Mandate) (<-chan struct{}, error)
}

// FailureRecord describes why a batch was quarantined.
type FailureRecord struct {
	MandateID string            `json:"mandate_id"`
	BatchID   string            `json:"batch_id"`
	BatchName string            `json:"batch_name"`
	Op        string            `json:"op"`
	Class     domain.ErrorClass `json:"error_class"`
	Message   string            `json:"message"`
	FailedAt  time.Time         `json:"failed_at"`
}
