package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/scanpipe/internal/core/domain"
	"github.com/custodia-labs/scanpipe/internal/core/ports/driven"
	"github.com/custodia-labs/scanpipe/internal/logger"
)

// systemContextID names the context used for operations that are not tied
// to one mandate, such as listing mandates or CLI lookups.
const systemContextID = "_system"

// RepositoryConfig holds the retry and caching policy of the repository.
type RepositoryConfig struct {
	// Attempts bounds connection attempts per operation.
	Attempts int

	// Delay is the fixed wait between attempts.
	Delay time.Duration

	// Cooldown is how long a mandate fails fast after an exhausted round.
	Cooldown time.Duration

	// QueryTimeout bounds each attempt.
	QueryTimeout time.Duration

	// CacheTTL is how long cached reference data is served.
	CacheTTL time.Duration
}

// RepositoryConfigFrom builds the repository config from settings.
func RepositoryConfigFrom(s *domain.Settings) RepositoryConfig {
	return RepositoryConfig{
		Attempts:     s.Store.RetryAttempts,
		Delay:        s.Store.RetryDelay,
		Cooldown:     s.Store.Cooldown,
		QueryTimeout: s.Store.QueryTimeout,
		CacheTTL:     s.Cache.TTL,
	}
}

// RepositoryOption customises a Repository.
type RepositoryOption func(*Repository)

// WithClock replaces the time source.
func WithClock(now func() time.Time) RepositoryOption {
	return func(r *Repository) { r.now = now }
}

// WithSleeper replaces the delay between attempts.
func WithSleeper(sleep Sleeper) RepositoryOption {
	return func(r *Repository) { r.retrier.Sleep = sleep }
}

// WithIDGenerator replaces the result ID generator.
func WithIDGenerator(ids func() string) RepositoryOption {
	return func(r *Repository) { r.ids = ids }
}

// Repository is the only path to the relational store. It owns connection
// retry, per-mandate caching of configuration and pattern sets, the shared
// bank table snapshot, and insert-only result persistence.
type Repository struct {
	connector driven.StoreConnector
	cfg       RepositoryConfig
	retrier   *Retrier
	now       func() time.Time
	ids       func() string

	banks           atomic.Pointer[snapshot[map[string]domain.Bank]]
	banksGeneration atomic.Uint64

	mu       sync.Mutex
	contexts map[string]*MandateContext
}

// NewRepository creates a repository over a store connector.
func NewRepository(connector driven.StoreConnector, cfg RepositoryConfig, opts ...RepositoryOption) *Repository {
	if cfg.Attempts < 1 {
		cfg.Attempts = DefaultRetryAttempts
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 30 * time.Second
	}
	r := &Repository{
		connector: connector,
		cfg:       cfg,
		retrier:   NewRetrier(cfg.Attempts, cfg.Delay),
		now:       time.Now,
		ids:       uuid.NewString,
		contexts:  make(map[string]*MandateContext),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Context returns the context of a mandate, creating it on first use.
func (r *Repository) Context(mandateID string) *MandateContext {
	r.mu.Lock()
	defer r.mu.Unlock()
	mc, ok := r.contexts[mandateID]
	if !ok {
		mc = newMandateContext(mandateID)
		r.contexts[mandateID] = mc
	}
	return mc
}

// Invalidate marks cached data stale. driven.AllMandates also drops the
// bank table snapshot.
func (r *Repository) Invalidate(mandateID string) {
	if mandateID == driven.AllMandates {
		r.mu.Lock()
		for _, mc := range r.contexts {
			mc.Invalidate()
		}
		r.mu.Unlock()
		r.banksGeneration.Add(1)
		logger.Debug("invalidated cached data of all mandates")
		return
	}
	r.Context(mandateID).Invalidate()
	logger.Debug("invalidated cached data of mandate %s", mandateID)
}

// withSession acquires a session under the retry policy and runs fn.
// fn may run several times; it must not have side effects outside the store.
func (r *Repository) withSession(
	ctx context.Context,
	mc *MandateContext,
	op string,
	fn func(ctx context.Context, s driven.StoreSession) error,
) error {
	now := r.now()
	if state := mc.Connection(); !state.Eligible(now) {
		return fmt.Errorf("%s: %w: mandate %s deferred until %s",
			op, domain.ErrStoreUnavailable, mc.MandateID(), state.NextEligible.Format(time.RFC3339))
	}

	outcome := r.retrier.Do(ctx, func(ctx context.Context, attempt int) error {
		qctx, cancel := context.WithTimeout(ctx, r.cfg.QueryTimeout)
		defer cancel()

		session, err := r.connector.Connect(qctx)
		if err != nil {
			err = asUnavailable(ctx, err)
			logger.Debug("%s: connect attempt %d/%d for mandate %s failed: %v",
				op, attempt, r.cfg.Attempts, mc.MandateID(), err)
			return err
		}
		defer session.Close()

		return asUnavailable(ctx, fn(qctx, session))
	})

	switch {
	case outcome.Exhausted:
		mc.recordFailure(r.now(), r.cfg.Cooldown, outcome.Err)
		log := logger.WithMandate(mc.MandateID())
		log.Warn().Err(outcome.Err).Str("op", op).Int("attempts", outcome.Attempts).
			Msg("store unavailable, deferring to next cycle")
	case outcome.OK(), !errors.Is(outcome.Err, domain.ErrStoreUnavailable) && ctx.Err() == nil:
		// The store answered, even if with an error.
		mc.recordSuccess(r.now())
	}
	if outcome.OK() {
		return nil
	}
	return fmt.Errorf("%s: %w", op, outcome.Err)
}

// asUnavailable marks connectivity errors as transient. A query deadline
// that expired while the caller's context is still live counts as one.
func asUnavailable(parent context.Context, err error) error {
	if err == nil || errors.Is(err, domain.ErrStoreUnavailable) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil {
		return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	return err
}

// LoadMandate returns the mandate's configuration, cached until TTL expiry
// or invalidation.
func (r *Repository) LoadMandate(ctx context.Context, mc *MandateContext) (domain.Mandate, error) {
	if m, ok := mc.cachedMandate(r.now(), r.cfg.CacheTTL); ok {
		return m, nil
	}

	generation := mc.generation.Load()
	var loaded *domain.Mandate
	err := r.withSession(ctx, mc, "load mandate", func(ctx context.Context, s driven.StoreSession) error {
		m, err := s.GetMandate(ctx, mc.MandateID())
		if err != nil {
			return err
		}
		loaded = m
		return nil
	})
	if err != nil {
		return domain.Mandate{}, err
	}

	mc.mandate.Store(&snapshot[domain.Mandate]{value: *loaded, loadedAt: r.now(), generation: generation})
	return *loaded, nil
}

// Expressions returns the mandate's compiled pattern set. A change of the
// mandate's pattern version forces a reload.
func (r *Repository) Expressions(ctx context.Context, mc *MandateContext) (*ExpressionSet, error) {
	mandate, err := r.LoadMandate(ctx, mc)
	if err != nil {
		return nil, err
	}
	if set, ok := mc.cachedExpressions(r.now(), r.cfg.CacheTTL, mandate.PatternVersion); ok {
		return set, nil
	}

	generation := mc.generation.Load()
	var exprs []domain.KnownExpression
	err = r.withSession(ctx, mc, "load expressions", func(ctx context.Context, s driven.StoreSession) error {
		var err error
		exprs, err = s.ListExpressions(ctx, mc.MandateID())
		return err
	})
	if err != nil {
		return nil, err
	}

	set, errs := CompileExpressions(mc.MandateID(), mandate.PatternVersion, exprs)
	if len(errs) > 0 {
		log := logger.WithMandate(mc.MandateID())
		for _, e := range errs {
			log.Warn().Err(e).Msg("skipping unusable expression")
		}
	}
	mc.expressions.Store(&snapshot[*ExpressionSet]{value: set, loadedAt: r.now(), generation: generation})
	logger.Debug("loaded %d expressions (version %d) for mandate %s", set.Len(), set.Version(), mc.MandateID())
	return set, nil
}

// LookupBank resolves a bank from the shared reference table.
func (r *Repository) LookupBank(ctx context.Context, mc *MandateContext, country, code string) (*domain.Bank, bool, error) {
	table, err := r.bankTable(ctx, mc)
	if err != nil {
		return nil, false, err
	}
	bank, ok := table[domain.BankKey(country, code)]
	if !ok {
		return nil, false, nil
	}
	return &bank, true, nil
}

func (r *Repository) bankTable(ctx context.Context, mc *MandateContext) (map[string]domain.Bank, error) {
	generation := r.banksGeneration.Load()
	if s := r.banks.Load(); s.fresh(r.now(), r.cfg.CacheTTL, generation) {
		return s.value, nil
	}

	var banks []domain.Bank
	err := r.withSession(ctx, mc, "load banks", func(ctx context.Context, s driven.StoreSession) error {
		var err error
		banks, err = s.ListBanks(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	table := make(map[string]domain.Bank, len(banks))
	for _, b := range banks {
		table[b.Key()] = b
	}
	r.banks.Store(&snapshot[map[string]domain.Bank]{value: table, loadedAt: r.now(), generation: generation})
	return table, nil
}

// Persist inserts a result. A result with the same (mandate, batch, page
// range) already stored is not an error: it returns stored=false.
func (r *Repository) Persist(ctx context.Context, mc *MandateContext, result *domain.OcrResult) (bool, error) {
	if result.MandateID == "" {
		result.MandateID = mc.MandateID()
	}
	if result.MandateID != mc.MandateID() {
		return false, fmt.Errorf("%w: result of mandate %s persisted through context of %s",
			domain.ErrInvalidInput, result.MandateID, mc.MandateID())
	}
	if result.ID == "" {
		result.ID = r.ids()
	}
	if result.ProcessedAt.IsZero() {
		result.ProcessedAt = r.now()
	}

	err := r.withSession(ctx, mc, "persist result", func(ctx context.Context, s driven.StoreSession) error {
		return s.InsertResult(ctx, result)
	})
	if errors.Is(err, domain.ErrAlreadyExists) {
		logger.Debug("result %s/%s pages %s already stored", result.MandateID, result.BatchID, result.Range)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Results lists stored results of a mandate.
func (r *Repository) Results(ctx context.Context, mc *MandateContext, filter domain.ResultFilter) ([]domain.OcrResult, error) {
	var results []domain.OcrResult
	err := r.withSession(ctx, mc, "list results", func(ctx context.Context, s driven.StoreSession) error {
		var err error
		results, err = s.ListResults(ctx, mc.MandateID(), filter)
		return err
	})
	return results, err
}

// Mandates lists every mandate, ordered by ID.
func (r *Repository) Mandates(ctx context.Context) ([]domain.Mandate, error) {
	var mandates []domain.Mandate
	err := r.withSession(ctx, r.Context(systemContextID), "list mandates", func(ctx context.Context, s driven.StoreSession) error {
		var err error
		mandates, err = s.ListMandates(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(mandates, func(i, j int) bool { return mandates[i].ID < mandates[j].ID })
	return mandates, nil
}

// SystemContext returns the context used for mandate-independent operations.
func (r *Repository) SystemContext() *MandateContext {
	return r.Context(systemContextID)
}
