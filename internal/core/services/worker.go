package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/custodia-labs/scanpipe/internal/core/domain"
	"github.com/custodia-labs/scanpipe/internal/core/ports/driven"
	"github.com/custodia-labs/scanpipe/internal/logger"
)

// defaultPollInterval is used until the mandate's own interval is known.
const defaultPollInterval = time.Minute

// batchRunner processes one claimed batch.
type batchRunner interface {
	ProcessBatch(ctx context.Context, mc *MandateContext, mandate domain.Mandate, batch *domain.Batch) (*domain.BatchReport, error)
}

// Worker is the polling loop of one mandate. It owns the mandate's
// context; no other worker touches it.
type Worker struct {
	mandateID string
	repo      *Repository
	mc        *MandateContext
	inbox     driven.Inbox
	pipeline  batchRunner
	now       func() time.Time
	log       zerolog.Logger

	mu     sync.Mutex
	status domain.WorkerStatus
}

// NewWorker creates the worker of a mandate.
func NewWorker(mandateID string, repo *Repository, inbox driven.Inbox, pipeline batchRunner) *Worker {
	return &Worker{
		mandateID: mandateID,
		repo:      repo,
		mc:        repo.Context(mandateID),
		inbox:     inbox,
		pipeline:  pipeline,
		now:       time.Now,
		log:       logger.WithMandate(mandateID).With().Str("component", "worker").Logger(),
		status:    domain.WorkerStatus{MandateID: mandateID, State: domain.WorkerIdle},
	}
}

// MandateID returns the mandate the worker serves.
func (w *Worker) MandateID() string {
	return w.mandateID
}

// Status returns a snapshot of the worker's progress.
func (w *Worker) Status() domain.WorkerStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// Run polls until ctx is cancelled. Cancellation is observed between
// batches and during the wait between cycles; an in-flight batch is allowed
// to finish its current store or extraction call. A stopped worker cannot
// be run again.
func (w *Worker) Run(ctx context.Context) error {
	if w.Status().State.IsTerminal() {
		return domain.ErrWorkerStopped
	}
	var (
		wake       <-chan struct{}
		watchedDir string
		stopWatch  context.CancelFunc = func() {}
	)
	defer func() {
		stopWatch()
		w.transition(domain.WorkerStopping)
		w.transition(domain.WorkerStopped)
		w.log.Info().Msg("worker stopped")
	}()
	w.log.Info().Msg("worker started")

	for {
		if ctx.Err() != nil {
			return nil
		}

		mandate, ok := w.cycle(ctx)
		interval := defaultPollInterval
		if ok {
			interval = mandate.PollInterval
			// A refreshed mandate may point at a different input directory.
			if mandate.InputDir != watchedDir {
				stopWatch()
				var watchCtx context.Context
				watchCtx, stopWatch = context.WithCancel(ctx)
				wake = w.watch(watchCtx, mandate)
				watchedDir = mandate.InputDir
			}
		}

		var keep bool
		keep, wake = w.wait(ctx, interval, wake)
		if !keep {
			return nil
		}
	}
}

// cycle runs one polling cycle. It returns the mandate when it could be loaded.
func (w *Worker) cycle(ctx context.Context) (*domain.Mandate, bool) {
	w.transition(domain.WorkerPolling)
	defer func() {
		w.mu.Lock()
		w.status.Cycles++
		w.status.LastCycle = w.now()
		w.mu.Unlock()
		w.transition(domain.WorkerIdle)
	}()

	mandate, err := w.repo.LoadMandate(ctx, w.mc)
	if err != nil {
		w.recordError(err)
		if errors.Is(err, domain.ErrStoreUnavailable) {
			w.mu.Lock()
			w.status.Deferred++
			w.mu.Unlock()
		}
		if ctx.Err() == nil {
			w.log.Warn().Err(err).Msg("mandate configuration unavailable, skipping cycle")
		}
		return nil, false
	}
	if !mandate.Enabled {
		w.log.Debug().Msg("mandate disabled, skipping cycle")
		return &mandate, true
	}

	batches, err := w.pending(ctx, &mandate)
	if err != nil {
		w.recordError(err)
		w.log.Error().Err(err).Msg("listing input failed")
		return &mandate, true
	}
	if len(batches) == 0 {
		return &mandate, true
	}

	w.transition(domain.WorkerProcessing)
	for i := range batches {
		if ctx.Err() != nil {
			break
		}
		if deferred := w.process(ctx, &mandate, &batches[i]); deferred {
			w.mu.Lock()
			w.status.Deferred++
			w.mu.Unlock()
			break
		}
	}
	return &mandate, true
}

// pending returns batches claimed in earlier cycles followed by new ones.
// New batches are claimed lazily in process.
func (w *Worker) pending(ctx context.Context, mandate *domain.Mandate) ([]domain.Batch, error) {
	resumed, err := w.inbox.Claimed(ctx, mandate)
	if err != nil {
		return nil, fmt.Errorf("list claimed batches: %w", err)
	}
	for i := range resumed {
		resumed[i].Resumed = true
	}
	listed, err := w.inbox.List(ctx, mandate)
	if err != nil {
		return nil, fmt.Errorf("list input: %w", err)
	}
	if len(resumed) > 0 {
		w.log.Info().Int("batches", len(resumed)).Msg("resuming batches claimed earlier")
	}
	return append(resumed, listed...), nil
}

// process claims and processes one batch. It reports true when the store
// is unavailable and the rest of the cycle should be deferred.
func (w *Worker) process(ctx context.Context, mandate *domain.Mandate, batch *domain.Batch) (deferred bool) {
	batch.MandateID = mandate.ID
	if !batch.Resumed {
		if err := w.inbox.Claim(ctx, mandate, batch); err != nil {
			w.recordError(err)
			w.log.Error().Err(err).Str("batch", batch.Name).Msg("claim failed")
			return false
		}
	}

	_, err := w.runBatch(ctx, mandate, batch)
	switch {
	case err == nil:
		w.mu.Lock()
		w.status.Processed++
		w.mu.Unlock()
		if err := w.inbox.Archive(ctx, mandate, batch); err != nil {
			w.recordError(err)
			w.log.Error().Err(err).Str("batch", batch.Name).Msg("archive failed, batch stays claimed")
		}
		return false

	case domain.IsRetryable(err) && ctx.Err() != nil:
		w.log.Info().Err(err).Str("batch", batch.Name).Msg("stopping, batch stays claimed")
		return false

	case domain.Classify(err) == domain.ErrorClassTransientStore:
		w.recordError(err)
		w.log.Warn().Err(err).Str("batch", batch.Name).Msg("store unavailable, batch deferred to next cycle")
		return true

	default:
		w.recordError(err)
		w.quarantine(ctx, mandate, batch, err)
		return false
	}
}

// runBatch shields the worker from panics inside the pipeline.
func (w *Worker) runBatch(ctx context.Context, mandate *domain.Mandate, batch *domain.Batch) (report *domain.BatchReport, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &domain.BatchError{
				MandateID: mandate.ID,
				BatchID:   batch.ID,
				Op:        "process",
				Err:       &domain.PanicError{Value: r},
			}
		}
	}()
	return w.pipeline.ProcessBatch(ctx, w.mc, *mandate, batch)
}

// quarantine moves a failed batch to diagnostics and records a failure
// result for it.
func (w *Worker) quarantine(ctx context.Context, mandate *domain.Mandate, batch *domain.Batch, cause error) {
	now := w.now()
	op := "process"
	var be *domain.BatchError
	if errors.As(cause, &be) {
		op = be.Op
	}

	w.log.Error().Err(cause).
		Str("batch", batch.Name).
		Str("op", op).
		Str("class", string(domain.Classify(cause))).
		Msg("batch failed, quarantining")

	failure := driven.FailureRecord{
		MandateID: mandate.ID,
		BatchID:   batch.ID,
		BatchName: batch.Name,
		Op:        op,
		Class:     domain.Classify(cause),
		Message:   cause.Error(),
		FailedAt:  now,
	}
	if err := w.inbox.Quarantine(ctx, mandate, batch, failure); err != nil {
		w.log.Error().Err(err).Str("batch", batch.Name).Msg("quarantine failed")
	} else {
		w.mu.Lock()
		w.status.Quarantined++
		w.mu.Unlock()
	}

	result := domain.NewFailureResult(batch, cause, now)
	if _, err := w.repo.Persist(ctx, w.mc, &result); err != nil {
		w.log.Error().Err(err).Str("batch", batch.Name).Msg("failure result not stored, see failure record")
	}
}

// watch subscribes to input changes. Failing to watch is not fatal: the
// worker still polls.
func (w *Worker) watch(ctx context.Context, mandate *domain.Mandate) <-chan struct{} {
	ch, err := w.inbox.Watch(ctx, mandate)
	if err != nil {
		w.log.Warn().Err(err).Msg("input notifications unavailable, polling only")
		return nil
	}
	return ch
}

// wait sleeps for interval or until the input changes. It returns false
// as soon as ctx is cancelled, along with the wake channel to use next.
func (w *Worker) wait(ctx context.Context, interval time.Duration, wake <-chan struct{}) (bool, <-chan struct{}) {
	timer := time.NewTimer(interval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false, wake
	case <-timer.C:
		return true, wake
	case _, ok := <-wake:
		if !ok {
			return true, nil
		}
		return true, wake
	}
}

func (w *Worker) transition(to domain.WorkerState) {
	w.mu.Lock()
	defer w.mu.Unlock()
	from := w.status.State
	if from == to {
		return
	}
	if !domain.CanTransition(from, to) {
		logger.Debug("worker %s: ignoring transition %s -> %s", w.mandateID, from, to)
		return
	}
	w.status.State = to
}

func (w *Worker) recordError(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status.LastError = err.Error()
}
