package driven

import "context"

// AllMandates is the invalidation target meaning every mandate.
const AllMandates = "*"

// InvalidationNotifier distributes cache invalidation signals between
// processes sharing a store.
type InvalidationNotifier interface {
	// Publish announces that a mandate's reference data changed.
	// AllMandates invalidates every mandate.
	Publish(ctx context.Context, mandateID string) error

	// Subscribe returns a channel of invalidated mandate IDs.
	// The channel is closed when ctx is cancelled or the notifier is closed.
	Subscribe(ctx context.Context) (<-chan string, error)

	// Close releases the notifier.
	Close() error
}
