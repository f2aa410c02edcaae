package services

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/custodia-labs/scanpipe/internal/core/domain"
)

// snapshot is an immutable cached value. It is replaced wholesale, never
// modified, so readers always see a complete value.
type snapshot[T any] struct {
	value      T
	loadedAt   time.Time
	generation uint64
}

// fresh reports whether the snapshot may be served without a round trip.
func (s *snapshot[T]) fresh(now time.Time, ttl time.Duration, generation uint64) bool {
	if s == nil || s.generation != generation {
		return false
	}
	return ttl <= 0 || now.Sub(s.loadedAt) < ttl
}

// MandateContext carries everything the repository keeps for one mandate:
// cached configuration, the compiled pattern set and connection bookkeeping.
// It replaces process-wide caches; every repository operation receives it
// explicitly. Workers of different mandates never share a context.
type MandateContext struct {
	mandateID string

	// generation is bumped by Invalidate; snapshots from an older
	// generation are stale.
	generation atomic.Uint64

	mandate     atomic.Pointer[snapshot[domain.Mandate]]
	expressions atomic.Pointer[snapshot[*ExpressionSet]]

	connMu sync.Mutex
	conn   domain.ConnectionState
}

func newMandateContext(mandateID string) *MandateContext {
	return &MandateContext{mandateID: mandateID}
}

// MandateID returns the mandate the context belongs to.
func (c *MandateContext) MandateID() string {
	return c.mandateID
}

// Invalidate marks every cached value of the mandate as stale.
func (c *MandateContext) Invalidate() {
	c.generation.Add(1)
}

// Connection returns a copy of the connection state.
func (c *MandateContext) Connection() domain.ConnectionState {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.conn
}

func (c *MandateContext) recordSuccess(now time.Time) {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	c.conn = c.conn.RecordSuccess(now)
}

func (c *MandateContext) recordFailure(now time.Time, cooldown time.Duration, err error) {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	c.conn = c.conn.RecordFailure(now, cooldown, err)
}

// CachedMandate returns the cached mandate if it is fresh.
func (c *MandateContext) cachedMandate(now time.Time, ttl time.Duration) (domain.Mandate, bool) {
	s := c.mandate.Load()
	if !s.fresh(now, ttl, c.generation.Load()) {
		return domain.Mandate{}, false
	}
	return s.value, true
}

func (c *MandateContext) cachedExpressions(now time.Time, ttl time.Duration, version int) (*ExpressionSet, bool) {
	s := c.expressions.Load()
	if !s.fresh(now, ttl, c.generation.Load()) || s.value.Version() != version {
		return nil, false
	}
	return s.value, true
}
