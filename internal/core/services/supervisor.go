package services

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/custodia-labs/scanpipe/internal/core/domain"
	"github.com/custodia-labs/scanpipe/internal/core/ports/driven"
	"github.com/custodia-labs/scanpipe/internal/core/ports/driving"
	"github.com/custodia-labs/scanpipe/internal/logger"
)

// Ensure Supervisor implements the interface.
var _ driving.Supervisor = (*Supervisor)(nil)

// SupervisorConfig holds shutdown and reconciliation timing.
type SupervisorConfig struct {
	// GracePeriod bounds how long shutdown waits for each worker.
	GracePeriod time.Duration

	// RetryInterval is the wait between attempts to list mandates at startup.
	RetryInterval time.Duration

	// ReconcileInterval is how often the mandate list is re-read to start
	// new and stop disabled workers. Zero disables periodic reconciliation.
	ReconcileInterval time.Duration
}

// workerHandle tracks one running worker.
type workerHandle struct {
	worker       *Worker
	cancel       context.CancelFunc
	done         chan struct{}
	unresponsive bool
}

func (h *workerHandle) stopped() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Supervisor runs one worker per enabled mandate, applies invalidation
// notifications and drives the housekeeping scheduler.
type Supervisor struct {
	repo      *Repository
	inbox     driven.Inbox
	pipeline  batchRunner
	notifier  driven.InvalidationNotifier
	scheduler *Scheduler
	cfg       SupervisorConfig

	mu      sync.Mutex
	workers map[string]*workerHandle
}

// NewSupervisor creates a supervisor. notifier and scheduler may be nil.
func NewSupervisor(
	repo *Repository,
	inbox driven.Inbox,
	pipeline batchRunner,
	notifier driven.InvalidationNotifier,
	scheduler *Scheduler,
	cfg SupervisorConfig,
) *Supervisor {
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 30 * time.Second
	}
	return &Supervisor{
		repo:      repo,
		inbox:     inbox,
		pipeline:  pipeline,
		notifier:  notifier,
		scheduler: scheduler,
		cfg:       cfg,
		workers:   make(map[string]*workerHandle),
	}
}

// Run starts the workers and blocks until ctx is cancelled, then waits up
// to the grace period for each worker to stop.
func (s *Supervisor) Run(ctx context.Context) error {
	log := logger.For("supervisor")

	if err := s.start(ctx); err != nil {
		return err
	}
	if ctx.Err() != nil {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	if s.scheduler != nil {
		g.Go(func() error { return s.scheduler.Start(gctx) })
	}
	g.Go(func() error { return s.listen(gctx) })

	log.Info().Int("workers", len(s.Status())).Msg("supervisor running")
	<-ctx.Done()

	log.Info().Dur("grace_period", s.cfg.GracePeriod).Msg("shutting down")
	s.shutdown()
	return g.Wait()
}

// start reconciles until the mandate list could be read once.
func (s *Supervisor) start(ctx context.Context) error {
	for {
		err := s.reconcile(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
		if !errors.Is(err, domain.ErrStoreUnavailable) {
			return err
		}
		log := logger.For("supervisor")
		log.Warn().Err(err).Dur("retry_in", s.cfg.RetryInterval).Msg("cannot list mandates")
		if SleepContext(ctx, s.cfg.RetryInterval) != nil {
			return nil
		}
	}
}

// reconcile starts workers for enabled mandates and stops the rest.
func (s *Supervisor) reconcile(ctx context.Context) error {
	mandates, err := s.repo.Mandates(ctx)
	if err != nil {
		return err
	}

	wanted := make(map[string]bool, len(mandates))
	for i := range mandates {
		m := &mandates[i]
		if !m.Enabled {
			continue
		}
		if err := m.Validate(); err != nil {
			log := logger.WithMandate(m.ID)
			log.Error().Err(err).Msg("mandate misconfigured, not starting worker")
			continue
		}
		wanted[m.ID] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, h := range s.workers {
		if !wanted[id] {
			h.cancel()
		}
	}
	for id := range wanted {
		if h, ok := s.workers[id]; ok && !h.stopped() {
			continue
		}
		s.spawn(ctx, id)
	}
	return nil
}

// spawn starts a worker. The caller holds s.mu.
func (s *Supervisor) spawn(ctx context.Context, mandateID string) {
	wctx, cancel := context.WithCancel(ctx)
	h := &workerHandle{
		worker: NewWorker(mandateID, s.repo, s.inbox, s.pipeline),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.workers[mandateID] = h
	go func() {
		defer close(h.done)
		defer cancel()
		if err := h.worker.Run(wctx); err != nil {
			log := logger.WithMandate(mandateID)
			log.Error().Err(err).Msg("worker exited with error")
		}
	}()
}

// listen applies invalidation notifications and periodic reconciliation.
func (s *Supervisor) listen(ctx context.Context) error {
	var events <-chan string
	if s.notifier != nil {
		ch, err := s.notifier.Subscribe(ctx)
		if err != nil {
			log := logger.For("supervisor")
			log.Warn().Err(err).Msg("invalidation notifications unavailable")
		}
		events = ch
	}

	var tick <-chan time.Time
	if s.cfg.ReconcileInterval > 0 {
		ticker := time.NewTicker(s.cfg.ReconcileInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case id, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			s.repo.Invalidate(id)
			s.reconcileLogged(ctx)
		case <-tick:
			s.reconcileLogged(ctx)
		}
	}
}

func (s *Supervisor) reconcileLogged(ctx context.Context) {
	if err := s.reconcile(ctx); err != nil && ctx.Err() == nil {
		log := logger.For("supervisor")
		log.Warn().Err(err).Msg("reconciling workers failed")
	}
}

// shutdown cancels every worker and waits up to the grace period for each.
func (s *Supervisor) shutdown() {
	s.mu.Lock()
	handles := make(map[string]*workerHandle, len(s.workers))
	maps.Copy(handles, s.workers)
	s.mu.Unlock()

	for _, h := range handles {
		h.cancel()
	}

	deadline := time.NewTimer(s.cfg.GracePeriod)
	defer deadline.Stop()
	expired := false
	for _, id := range slices.Sorted(maps.Keys(handles)) {
		h := handles[id]
		if expired {
			if !h.stopped() {
				s.markUnresponsive(id, h)
			}
			continue
		}
		select {
		case <-h.done:
		case <-deadline.C:
			expired = true
			if !h.stopped() {
				s.markUnresponsive(id, h)
			}
		}
	}
}

func (s *Supervisor) markUnresponsive(id string, h *workerHandle) {
	s.mu.Lock()
	h.unresponsive = true
	s.mu.Unlock()
	log := logger.WithMandate(id)
	log.Error().Dur("grace_period", s.cfg.GracePeriod).Msg("worker did not stop in time")
}

// Status returns a snapshot of every worker, ordered by mandate ID.
func (s *Supervisor) Status() []domain.WorkerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.WorkerStatus, 0, len(s.workers))
	for _, id := range slices.Sorted(maps.Keys(s.workers)) {
		h := s.workers[id]
		st := h.worker.Status()
		st.Unresponsive = h.unresponsive
		out = append(out, st)
	}
	return out
}
