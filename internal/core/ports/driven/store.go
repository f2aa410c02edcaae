package driven

import (
	"context"

	"github.com/custodia-labs/scanpipe/internal/core/domain"
)

// StoreConnector acquires sessions on the relational store.
// Connection failures are reported as errors wrapping domain.ErrStoreUnavailable
// so the caller can apply its retry policy.
type StoreConnector interface {
	// Name identifies the store implementation.
	Name() string

	// Connect acquires a session. The caller must Close it.
	Connect(ctx context.Context) (StoreSession, error)

	// Close releases every resource held by the connector.
	Close() error
}

// StoreSession is an acquired handle on the relational store.
//
// Errors caused by lost connectivity wrap domain.ErrStoreUnavailable.
// All other errors are reported as they are.
type StoreSession interface {
	// Ping verifies the session is usable.
	Ping(ctx context.Context) error

	// GetMandate returns a mandate by ID, or domain.ErrNotFound.
	GetMandate(ctx context.Context, id string) (*domain.Mandate, error)

	// ListMandates returns all mandates ordered by ID.
	ListMandates(ctx context.Context) ([]domain.Mandate, error)

	// ListExpressions returns a mandate's expressions in insertion order.
	ListExpressions(ctx context.Context, mandateID string) ([]domain.KnownExpression, error)

	// ListBanks returns the full bank reference table.
	ListBanks(ctx context.Context) ([]domain.Bank, error)

	// InsertResult stores a result. It never updates an existing row:
	// a result with the same (mandate, batch, page range) yields
	// domain.ErrAlreadyExists. The store assigns CreatedAt.
	InsertResult(ctx context.Context, result *domain.OcrResult) error

	// ListResults returns a mandate's results, newest first.
	ListResults(ctx context.Context, mandateID string, filter domain.ResultFilter) ([]domain.OcrResult, error)

	// Close releases the session.
	Close() error
}

// SeedWriter loads reference data into a store.
// Every store implementation provides one.
type SeedWriter interface {
	// UpsertMandate creates or replaces a mandate.
	UpsertMandate(ctx context.Context, mandate *domain.Mandate) error

	// ReplaceExpressions replaces the full expression set of a mandate
	// and bumps its pattern version.
	ReplaceExpressions(ctx context.Context, mandateID string, exprs []domain.KnownExpression) error

	// UpsertBanks creates or replaces bank reference entries.
	UpsertBanks(ctx context.Context, banks []domain.Bank) error
}

// SeedSource reads reference data from an external file.
type SeedSource interface {
	// Load parses the seed file at path.
	Load(path string) (*domain.SeedSet, error)
}
