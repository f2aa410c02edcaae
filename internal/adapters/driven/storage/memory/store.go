package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/custodia-labs/scanpipe/internal/core/domain"
	"github.com/custodia-labs/scanpipe/internal/core/ports/driven"
)

// Ensure Store implements the interfaces.
var (
	_ driven.StoreConnector = (*Store)(nil)
	_ driven.SeedWriter     = (*Store)(nil)
	_ driven.StoreSession   = (*session)(nil)
)

// Store is an in-process relational store. It supports fault injection so
// retry and deferral behaviour can be exercised without a database.
type Store struct {
	mu          sync.RWMutex
	mandates    map[string]domain.Mandate
	expressions map[string][]domain.KnownExpression
	banks       map[string]domain.Bank
	results     []domain.OcrResult
	keys        map[domain.ResultKey]struct{}
	now         func() time.Time

	// fault injection
	failConnects int
	unavailable  bool
	failInserts  int
	connects     int
	closed       bool
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		mandates:    make(map[string]domain.Mandate),
		expressions: make(map[string][]domain.KnownExpression),
		banks:       make(map[string]domain.Bank),
		keys:        make(map[domain.ResultKey]struct{}),
		now:         time.Now,
	}
}

// Name identifies the store.
func (s *Store) Name() string { return "memory" }

// FailNextConnects makes the next n Connect calls fail.
func (s *Store) FailNextConnects(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failConnects = n
}

// SetUnavailable makes every Connect call fail until reset.
func (s *Store) SetUnavailable(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unavailable = down
}

// FailNextInserts makes the next n InsertResult calls lose connectivity.
func (s *Store) FailNextInserts(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failInserts = n
}

// Connects returns how many times Connect was called.
func (s *Store) Connects() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connects
}

// ResultCount returns the number of stored results.
func (s *Store) ResultCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.results)
}

// Connect acquires a session, honouring injected faults.
func (s *Store) Connect(ctx context.Context) (driven.StoreSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connects++
	if s.closed {
		return nil, fmt.Errorf("%w: memory store closed", domain.ErrStoreUnavailable)
	}
	if s.unavailable {
		return nil, fmt.Errorf("%w: memory store marked unavailable", domain.ErrStoreUnavailable)
	}
	if s.failConnects > 0 {
		s.failConnects--
		return nil, fmt.Errorf("%w: injected connect failure", domain.ErrStoreUnavailable)
	}
	return &session{store: s}, nil
}

// Close marks the store closed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// UpsertMandate creates or replaces a mandate.
func (s *Store) UpsertMandate(_ context.Context, mandate *domain.Mandate) error {
	if err := mandate.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m := *mandate
	if prev, ok := s.mandates[m.ID]; ok && m.PatternVersion < prev.PatternVersion {
		m.PatternVersion = prev.PatternVersion
	}
	m.UpdatedAt = s.now()
	s.mandates[m.ID] = m
	return nil
}

// ReplaceExpressions replaces a mandate's expression set and bumps its
// pattern version.
func (s *Store) ReplaceExpressions(_ context.Context, mandateID string, exprs []domain.KnownExpression) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mandates[mandateID]
	if !ok {
		return fmt.Errorf("mandate %s: %w", mandateID, domain.ErrNotFound)
	}

	set := make([]domain.KnownExpression, len(exprs))
	for i, e := range exprs {
		e.MandateID = mandateID
		e.Ordinal = i + 1
		if e.ID == "" {
			e.ID = fmt.Sprintf("%s-%d", mandateID, i+1)
		}
		set[i] = e
	}
	s.expressions[mandateID] = set

	m.PatternVersion++
	m.UpdatedAt = s.now()
	s.mandates[mandateID] = m
	return nil
}

// UpsertBanks creates or replaces bank entries.
func (s *Store) UpsertBanks(_ context.Context, banks []domain.Bank) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range banks {
		s.banks[b.Key()] = b
	}
	return nil
}

// session is a handle on the memory store.
type session struct {
	store *Store
}

func (ss *session) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (ss *session) GetMandate(_ context.Context, id string) (*domain.Mandate, error) {
	ss.store.mu.RLock()
	defer ss.store.mu.RUnlock()
	m, ok := ss.store.mandates[id]
	if !ok {
		return nil, fmt.Errorf("mandate %s: %w", id, domain.ErrNotFound)
	}
	return &m, nil
}

func (ss *session) ListMandates(_ context.Context) ([]domain.Mandate, error) {
	ss.store.mu.RLock()
	defer ss.store.mu.RUnlock()
	ids := slices.Sorted(maps.Keys(ss.store.mandates))
	out := make([]domain.Mandate, 0, len(ids))
	for _, id := range ids {
		out = append(out, ss.store.mandates[id])
	}
	return out, nil
}

func (ss *session) ListExpressions(_ context.Context, mandateID string) ([]domain.KnownExpression, error) {
	ss.store.mu.RLock()
	defer ss.store.mu.RUnlock()
	return slices.Clone(ss.store.expressions[mandateID]), nil
}

func (ss *session) ListBanks(_ context.Context) ([]domain.Bank, error) {
	ss.store.mu.RLock()
	defer ss.store.mu.RUnlock()
	keys := slices.Sorted(maps.Keys(ss.store.banks))
	out := make([]domain.Bank, 0, len(keys))
	for _, k := range keys {
		out = append(out, ss.store.banks[k])
	}
	return out, nil
}

func (ss *session) InsertResult(_ context.Context, result *domain.OcrResult) error {
	s := ss.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failInserts > 0 {
		s.failInserts--
		return fmt.Errorf("%w: injected insert failure", domain.ErrStoreUnavailable)
	}
	key := result.Key()
	if _, exists := s.keys[key]; exists {
		return fmt.Errorf("result %s/%s pages %s: %w", key.MandateID, key.BatchID, result.Range, domain.ErrAlreadyExists)
	}
	result.CreatedAt = s.now()
	stored := *result
	stored.Banks = slices.Clone(result.Banks)
	stored.FailedPages = slices.Clone(result.FailedPages)
	s.results = append(s.results, stored)
	s.keys[key] = struct{}{}
	return nil
}

func (ss *session) ListResults(_ context.Context, mandateID string, filter domain.ResultFilter) ([]domain.OcrResult, error) {
	ss.store.mu.RLock()
	defer ss.store.mu.RUnlock()
	var out []domain.OcrResult
	for i := len(ss.store.results) - 1; i >= 0; i-- {
		r := ss.store.results[i]
		if r.MandateID != mandateID {
			continue
		}
		if filter.BatchID != "" && r.BatchID != filter.BatchID {
			continue
		}
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		if !filter.Since.IsZero() && r.CreatedAt.Before(filter.Since) {
			continue
		}
		out = append(out, r)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (ss *session) Close() error { return nil }
