package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/scanpipe/internal/core/domain"
	"github.com/custodia-labs/scanpipe/internal/core/ports/driven"
)

// mockTaskStore implements driven.TaskStore for testing.
type mockTaskStore struct {
	mu        sync.Mutex
	schedules map[domain.HousekeepingTask]domain.TaskSchedule
	runs      []domain.TaskRun
	keep      int
	loadErr   error
	saves     int
}

func newMockTaskStore() *mockTaskStore {
	return &mockTaskStore{schedules: make(map[domain.HousekeepingTask]domain.TaskSchedule)}
}

func (m *mockTaskStore) LoadSchedule(_ context.Context, task domain.HousekeepingTask) (*domain.TaskSchedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	s, ok := m.schedules[task]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *mockTaskStore) SaveSchedule(_ context.Context, s *domain.TaskSchedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	m.schedules[s.Task] = *s
	return nil
}

func (m *mockTaskStore) RecordRun(_ context.Context, run domain.TaskRun, keep int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, run)
	m.keep = keep
	return nil
}

func (m *mockTaskStore) Runs(_ context.Context, task domain.HousekeepingTask, limit int) ([]domain.TaskRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.TaskRun
	for _, r := range m.runs {
		if r.Task == task {
			out = append(out, r)
		}
	}
	domain.NewestRunsFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockTaskStore) saved(task domain.HousekeepingTask) domain.TaskSchedule {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.schedules[task]
}

func (m *mockTaskStore) recorded() []domain.TaskRun {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.TaskRun(nil), m.runs...)
}

// mockHousekeeping counts task invocations. A non-nil block channel
// holds PurgeDiagnostics until it is closed.
type mockHousekeeping struct {
	mu       sync.Mutex
	purges   int
	refresh  int
	purgeErr error
	block    chan struct{}
}

func (m *mockHousekeeping) PurgeDiagnostics(_ context.Context) (int, error) {
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purges++
	return 3, m.purgeErr
}

func (m *mockHousekeeping) RefreshCaches(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refresh++
	return 1, nil
}

func (m *mockHousekeeping) counts() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.purges, m.refresh
}

var (
	_ driven.TaskStore = (*mockTaskStore)(nil)
	_ housekeeping     = (*mockHousekeeping)(nil)
)

func testPlan() domain.HousekeepingPlan {
	return domain.HousekeepingSettings{PurgeInterval: time.Hour, RefreshInterval: 15 * time.Minute}.Plan()
}

// fixedClock pins the scheduler's clock.
func fixedClock(s *Scheduler, now time.Time) {
	s.now = func() time.Time { return now }
}

func TestNewScheduler(t *testing.T) {
	s := NewScheduler(testPlan(), newMockTaskStore(), &mockHousekeeping{}, 0)

	require.NotNil(t, s)
	assert.Equal(t, defaultHistoryKeep, s.historyKeep)
	assert.Equal(t, defaultSchedulerTick, s.tick)
}

func TestScheduler_StartStop(t *testing.T) {
	s := NewScheduler(testPlan(), newMockTaskStore(), &mockHousekeeping{}, 10)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.running
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Stop())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestScheduler_StopWithoutStart(t *testing.T) {
	s := NewScheduler(testPlan(), newMockTaskStore(), &mockHousekeeping{}, 10)

	require.NoError(t, s.Stop())
}

func TestScheduler_DisabledPlan(t *testing.T) {
	store := newMockTaskStore()

	err := NewScheduler(domain.HousekeepingSettings{}.Plan(), store, &mockHousekeeping{}, 10).Start(context.Background())

	require.NoError(t, err)
	assert.Zero(t, store.saves)
}

func TestScheduler_Schedules(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	t.Run("fresh schedules are persisted", func(t *testing.T) {
		store := newMockTaskStore()
		s := NewScheduler(testPlan(), store, &mockHousekeeping{}, 10)
		fixedClock(s, now)

		schedules, err := s.Schedules(ctx)

		require.NoError(t, err)
		require.Len(t, schedules, 2)
		assert.Equal(t, domain.TaskCacheRefresh, schedules[0].Task)
		assert.Equal(t, now.Add(15*time.Minute), schedules[0].NextRun)
		assert.Equal(t, domain.TaskDiagnosticsPurge, schedules[1].Task)
		assert.Equal(t, time.Hour, store.saved(domain.TaskDiagnosticsPurge).Interval)
	})

	t.Run("stored schedule keeps its countdown", func(t *testing.T) {
		store := newMockTaskStore()
		next := now.Add(5 * time.Minute)
		store.schedules[domain.TaskDiagnosticsPurge] = domain.TaskSchedule{
			Task: domain.TaskDiagnosticsPurge, Interval: time.Hour, Enabled: true, NextRun: next, ConsecutiveFailures: 2,
		}
		s := NewScheduler(testPlan(), store, &mockHousekeeping{}, 10)
		fixedClock(s, now)

		schedules, err := s.Schedules(ctx)

		require.NoError(t, err)
		assert.Equal(t, next, schedules[1].NextRun)
		assert.Equal(t, 2, schedules[1].ConsecutiveFailures)
	})

	t.Run("changed interval is applied", func(t *testing.T) {
		store := newMockTaskStore()
		store.schedules[domain.TaskCacheRefresh] = domain.TaskSchedule{
			Task: domain.TaskCacheRefresh, Interval: time.Hour, Enabled: true, NextRun: now.Add(time.Hour),
		}
		plan := testPlan()
		plan[domain.TaskCacheRefresh] = 0
		s := NewScheduler(plan, store, &mockHousekeeping{}, 10)
		fixedClock(s, now)

		schedules, err := s.Schedules(ctx)

		require.NoError(t, err)
		assert.False(t, schedules[0].Enabled)
		assert.False(t, store.saved(domain.TaskCacheRefresh).Enabled)
	})

	t.Run("load error", func(t *testing.T) {
		store := newMockTaskStore()
		store.loadErr = errors.New("disk full")
		s := NewScheduler(testPlan(), store, &mockHousekeeping{}, 10)

		_, err := s.Schedules(ctx)

		assert.ErrorContains(t, err, "disk full")
	})

	t.Run("without store", func(t *testing.T) {
		s := NewScheduler(testPlan(), nil, &mockHousekeeping{}, 10)

		schedules, err := s.Schedules(ctx)

		require.NoError(t, err)
		assert.Len(t, schedules, 2)
	})
}

func TestScheduler_RunDue(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()
	store := newMockTaskStore()
	store.schedules[domain.TaskDiagnosticsPurge] = domain.TaskSchedule{
		Task: domain.TaskDiagnosticsPurge, Interval: time.Hour, Enabled: true, NextRun: now.Add(-time.Minute),
	}
	store.schedules[domain.TaskCacheRefresh] = domain.TaskSchedule{
		Task: domain.TaskCacheRefresh, Interval: 15 * time.Minute, Enabled: true, NextRun: now.Add(time.Minute),
	}
	tasks := &mockHousekeeping{}
	s := NewScheduler(testPlan(), store, tasks, 7)
	fixedClock(s, now)

	_, err := s.Schedules(ctx)
	require.NoError(t, err)
	s.runDue(ctx)
	s.wg.Wait()

	purges, refresh := tasks.counts()
	assert.Equal(t, 1, purges)
	assert.Zero(t, refresh, "not yet due")

	runs := store.recorded()
	require.Len(t, runs, 1)
	assert.True(t, runs[0].OK())
	assert.Equal(t, 3, runs[0].Affected)
	assert.Equal(t, 7, store.keep)

	saved := store.saved(domain.TaskDiagnosticsPurge)
	assert.Equal(t, now.Add(time.Hour), saved.NextRun)
	assert.Equal(t, now, saved.LastSuccess)
}

func TestScheduler_RunDue_SkipsTaskInFlight(t *testing.T) {
	ctx := context.Background()
	tasks := &mockHousekeeping{block: make(chan struct{})}
	s := NewScheduler(testPlan(), newMockTaskStore(), tasks, 10)
	_, err := s.Schedules(ctx)
	require.NoError(t, err)
	s.schedules[domain.TaskDiagnosticsPurge].NextRun = time.Time{}

	s.runDue(ctx)
	s.runDue(ctx)
	close(tasks.block)
	s.wg.Wait()

	purges, _ := tasks.counts()
	assert.Equal(t, 1, purges)
}

func TestScheduler_RunNow(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		store := newMockTaskStore()
		tasks := &mockHousekeeping{}
		s := NewScheduler(testPlan(), store, tasks, 10)

		run, err := s.RunNow(ctx, domain.TaskCacheRefresh)

		require.NoError(t, err)
		assert.Equal(t, 1, run.Affected)
		_, refresh := tasks.counts()
		assert.Equal(t, 1, refresh)
		assert.Len(t, store.recorded(), 1)
	})

	t.Run("task failure is recorded", func(t *testing.T) {
		store := newMockTaskStore()
		s := NewScheduler(testPlan(), store, &mockHousekeeping{purgeErr: errors.New("permission denied")}, 10)

		run, err := s.RunNow(ctx, domain.TaskDiagnosticsPurge)

		assert.ErrorContains(t, err, "permission denied")
		assert.Equal(t, "permission denied", run.Error)
		saved := store.saved(domain.TaskDiagnosticsPurge)
		assert.Equal(t, "permission denied", saved.LastError)
		assert.Equal(t, 1, saved.ConsecutiveFailures)
	})

	t.Run("unknown task", func(t *testing.T) {
		s := NewScheduler(testPlan(), newMockTaskStore(), &mockHousekeeping{}, 10)

		_, err := s.RunNow(ctx, "reindex")

		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("already running", func(t *testing.T) {
		s := NewScheduler(testPlan(), newMockTaskStore(), &mockHousekeeping{}, 10)
		_, err := s.Schedules(ctx)
		require.NoError(t, err)
		s.inFlight[domain.TaskCacheRefresh] = true

		_, err = s.RunNow(ctx, domain.TaskCacheRefresh)

		assert.ErrorIs(t, err, errTaskRunning)
	})
}

func TestScheduler_History(t *testing.T) {
	ctx := context.Background()
	store := newMockTaskStore()
	s := NewScheduler(testPlan(), store, &mockHousekeeping{}, 10)

	_, err := s.RunNow(ctx, domain.TaskCacheRefresh)
	require.NoError(t, err)
	_, err = s.RunNow(ctx, domain.TaskDiagnosticsPurge)
	require.NoError(t, err)

	runs, err := s.History(ctx, domain.TaskCacheRefresh, 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, domain.TaskCacheRefresh, runs[0].Task)

	_, err = s.History(ctx, "reindex", 5)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	runs, err = NewScheduler(testPlan(), nil, &mockHousekeeping{}, 10).History(ctx, domain.TaskCacheRefresh, 5)
	require.NoError(t, err)
	assert.Empty(t, runs)
}
