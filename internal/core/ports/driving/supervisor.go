package driving

import (
	"context"

	"github.com/custodia-labs/scanpipe/internal/core/domain"
)

// Supervisor runs one worker per enabled mandate until cancelled.
type Supervisor interface {
	// Run starts the workers and blocks until ctx is cancelled and every
	// worker has stopped or the grace period has elapsed.
	Run(ctx context.Context) error

	// Status returns a snapshot of every worker, ordered by mandate ID.
	Status() []domain.WorkerStatus
}
