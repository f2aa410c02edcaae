package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/custodia-labs/scanpipe/internal/core/domain"
	"github.com/custodia-labs/scanpipe/internal/core/ports/driven"
	"github.com/custodia-labs/scanpipe/internal/core/ports/driving"
	"github.com/custodia-labs/scanpipe/internal/logger"
)

var _ driving.Scheduler = (*Scheduler)(nil)

// defaultSchedulerTick is how often the scheduler looks for due tasks.
const defaultSchedulerTick = time.Minute

// defaultHistoryKeep is the number of runs kept per task.
const defaultHistoryKeep = 50

// errTaskRunning is returned by RunNow while the task is already executing.
var errTaskRunning = errors.New("task already running")

// housekeeping is the work the scheduler triggers.
type housekeeping interface {
	PurgeDiagnostics(ctx context.Context) (int, error)
	RefreshCaches(ctx context.Context) (int, error)
}

// Scheduler runs housekeeping tasks on their intervals. A task never
// overlaps with itself; a run still in flight when the task falls due
// again is skipped for that tick.
type Scheduler struct {
	plan        domain.HousekeepingPlan
	store       driven.TaskStore
	tasks       housekeeping
	tick        time.Duration
	historyKeep int
	now         func() time.Time

	mu        sync.Mutex
	schedules map[domain.HousekeepingTask]*domain.TaskSchedule
	inFlight  map[domain.HousekeepingTask]bool
	running   bool
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// NewScheduler creates a scheduler. store may be nil, in which case
// schedules live only as long as the process and no history is kept.
func NewScheduler(
	plan domain.HousekeepingPlan,
	store driven.TaskStore,
	tasks housekeeping,
	historyKeep int,
) *Scheduler {
	if historyKeep <= 0 {
		historyKeep = defaultHistoryKeep
	}
	return &Scheduler{
		plan:        plan,
		store:       store,
		tasks:       tasks,
		tick:        defaultSchedulerTick,
		historyKeep: historyKeep,
		now:         time.Now,
		inFlight:    make(map[domain.HousekeepingTask]bool),
	}
}

// Start runs due tasks until Stop is called or ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.plan.Enabled() {
		logger.Debug("housekeeping disabled")
		return nil
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	if err := s.loadLocked(ctx); err != nil {
		log := logger.For("scheduler")
		log.Error().Err(err).Msg("loading task schedules")
	}
	s.mu.Unlock()

	s.loop(ctx, stopCh)
	s.wg.Wait()

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	return nil
}

// Stop ends the loop and waits for running tasks.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running || s.stopCh == nil {
		s.mu.Unlock()
		return nil
	}
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}

// Schedules returns a copy of every task's schedule.
func (s *Scheduler) Schedules(ctx context.Context) ([]domain.TaskSchedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(ctx); err != nil {
		return nil, err
	}
	out := make([]domain.TaskSchedule, 0, len(s.schedules))
	for _, task := range domain.HousekeepingTasks() {
		out = append(out, *s.schedules[task])
	}
	return out, nil
}

// History returns recent runs of a task, newest first.
func (s *Scheduler) History(ctx context.Context, task domain.HousekeepingTask, limit int) ([]domain.TaskRun, error) {
	if !task.IsValid() {
		return nil, fmt.Errorf("%w: unknown task %q", domain.ErrInvalidInput, task)
	}
	if s.store == nil {
		return nil, nil
	}
	return s.store.Runs(ctx, task, limit)
}

// RunNow executes a task synchronously, regardless of its schedule.
// The returned error is the task's own failure, if any.
func (s *Scheduler) RunNow(ctx context.Context, task domain.HousekeepingTask) (domain.TaskRun, error) {
	if !task.IsValid() {
		return domain.TaskRun{}, fmt.Errorf("%w: unknown task %q", domain.ErrInvalidInput, task)
	}

	s.mu.Lock()
	if err := s.loadLocked(ctx); err != nil {
		s.mu.Unlock()
		return domain.TaskRun{}, err
	}
	if s.inFlight[task] {
		s.mu.Unlock()
		return domain.TaskRun{}, fmt.Errorf("%s: %w", task, errTaskRunning)
	}
	s.inFlight[task] = true
	s.mu.Unlock()

	run := s.execute(ctx, task)
	s.finish(ctx, run)
	if !run.OK() {
		return run, fmt.Errorf("%s: %s", task, run.Error)
	}
	return run, nil
}

// loadLocked reads the persisted schedules once and reconciles them with
// the configured plan. Missing or failed entries start fresh. s.mu must be held.
func (s *Scheduler) loadLocked(ctx context.Context) error {
	if s.schedules != nil {
		return nil
	}
	s.schedules = make(map[domain.HousekeepingTask]*domain.TaskSchedule)

	var errs []error
	now := s.now()
	for _, task := range domain.HousekeepingTasks() {
		interval := s.plan[task]
		sched, err := s.loadOne(ctx, task)
		if err != nil {
			errs = append(errs, err)
		}

		changed := false
		if sched == nil {
			sched = domain.NewTaskSchedule(task, interval, now)
			changed = true
		} else {
			changed = sched.Reconfigure(interval, now)
		}
		s.schedules[task] = sched

		if changed && s.store != nil && err == nil {
			if err := s.store.SaveSchedule(ctx, sched); err != nil {
				errs = append(errs, fmt.Errorf("saving %s schedule: %w", task, err))
			}
		}
	}
	return errors.Join(errs...)
}

func (s *Scheduler) loadOne(ctx context.Context, task domain.HousekeepingTask) (*domain.TaskSchedule, error) {
	if s.store == nil {
		return nil, nil
	}
	sched, err := s.store.LoadSchedule(ctx, task)
	if err != nil {
		return nil, fmt.Errorf("loading %s schedule: %w", task, err)
	}
	return sched, nil
}

func (s *Scheduler) loop(ctx context.Context, stopCh <-chan struct{}) {
	s.runDue(ctx)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			s.runDue(ctx)
		}
	}
}

// runDue starts every due task that is not already running.
func (s *Scheduler) runDue(ctx context.Context) {
	now := s.now()

	s.mu.Lock()
	var due []domain.HousekeepingTask
	for _, task := range domain.HousekeepingTasks() {
		sched := s.schedules[task]
		if sched == nil || s.inFlight[task] || !sched.Due(now) {
			continue
		}
		s.inFlight[task] = true
		due = append(due, task)
	}
	s.mu.Unlock()

	for _, task := range due {
		s.wg.Add(1)
		go func(task domain.HousekeepingTask) {
			defer s.wg.Done()
			s.finish(ctx, s.execute(ctx, task))
		}(task)
	}
}

// execute runs one task and captures the outcome.
func (s *Scheduler) execute(ctx context.Context, task domain.HousekeepingTask) domain.TaskRun {
	run := domain.TaskRun{Task: task, StartedAt: s.now()}

	var err error
	switch task {
	case domain.TaskDiagnosticsPurge:
		run.Affected, err = s.tasks.PurgeDiagnostics(ctx)
	case domain.TaskCacheRefresh:
		run.Affected, err = s.tasks.RefreshCaches(ctx)
	default:
		err = fmt.Errorf("%w: unknown task %q", domain.ErrInvalidInput, task)
	}

	run.EndedAt = s.now()
	if err != nil {
		run.Error = err.Error()
	}
	return run
}

// finish folds the run into the schedule, persists both and releases the task.
func (s *Scheduler) finish(ctx context.Context, run domain.TaskRun) {
	log := logger.For("scheduler").With().Str("task", string(run.Task)).Logger()

	s.mu.Lock()
	sched := s.schedules[run.Task]
	if sched == nil {
		sched = domain.NewTaskSchedule(run.Task, s.plan[run.Task], run.StartedAt)
		s.schedules[run.Task] = sched
	}
	sched.Complete(run)
	snapshot := *sched
	delete(s.inFlight, run.Task)
	s.mu.Unlock()

	if run.OK() {
		log.Debug().Int("affected", run.Affected).Dur("took", run.Duration()).Msg("task finished")
	} else {
		log.Warn().Str("error", run.Error).Int("failures", snapshot.ConsecutiveFailures).Msg("task failed")
	}

	if s.store == nil {
		return
	}
	if err := s.store.SaveSchedule(ctx, &snapshot); err != nil {
		log.Error().Err(err).Msg("saving schedule")
	}
	if err := s.store.RecordRun(ctx, run, s.historyKeep); err != nil {
		log.Error().Err(err).Msg("recording run")
	}
}
