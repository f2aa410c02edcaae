package memory

import (
	"context"
	"sync"

	"github.com/custodia-labs/scanpipe/internal/core/domain"
	"github.com/custodia-labs/scanpipe/internal/core/ports/driven"
)

var _ driven.TaskStore = (*TaskStore)(nil)

// TaskStore keeps housekeeping schedules and runs for the life of the process.
type TaskStore struct {
	mu        sync.RWMutex
	schedules map[domain.HousekeepingTask]domain.TaskSchedule
	runs      map[domain.HousekeepingTask][]domain.TaskRun
}

// NewTaskStore creates an empty task store.
func NewTaskStore() *TaskStore {
	return &TaskStore{
		schedules: make(map[domain.HousekeepingTask]domain.TaskSchedule),
		runs:      make(map[domain.HousekeepingTask][]domain.TaskRun),
	}
}

// LoadSchedule returns nil and no error for an unknown task.
func (s *TaskStore) LoadSchedule(_ context.Context, task domain.HousekeepingTask) (*domain.TaskSchedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sched, ok := s.schedules[task]
	if !ok {
		return nil, nil
	}
	return &sched, nil
}

func (s *TaskStore) SaveSchedule(_ context.Context, sched *domain.TaskSchedule) error {
	if sched == nil || !sched.Task.IsValid() {
		return domain.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedules[sched.Task] = *sched
	return nil
}

// RecordRun keeps runs newest first and drops the oldest beyond keep.
func (s *TaskStore) RecordRun(_ context.Context, run domain.TaskRun, keep int) error {
	if !run.Task.IsValid() {
		return domain.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	runs := append(s.runs[run.Task], run)
	domain.NewestRunsFirst(runs)
	if keep > 0 && len(runs) > keep {
		runs = runs[:keep]
	}
	s.runs[run.Task] = runs
	return nil
}

func (s *TaskStore) Runs(_ context.Context, task domain.HousekeepingTask, limit int) ([]domain.TaskRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	runs := s.runs[task]
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return append([]domain.TaskRun(nil), runs...), nil
}
