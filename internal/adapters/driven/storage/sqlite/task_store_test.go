package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/scanpipe/internal/core/domain"
)

func TestTaskStore_Schedule(t *testing.T) {
	tasks := setupTestStore(t).TaskStore()
	ctx := context.Background()
	now := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

	missing, err := tasks.LoadSchedule(ctx, domain.TaskDiagnosticsPurge)
	require.NoError(t, err)
	assert.Nil(t, missing)

	sched := domain.NewTaskSchedule(domain.TaskDiagnosticsPurge, time.Hour, now)
	require.NoError(t, tasks.SaveSchedule(ctx, sched))

	sched.Complete(domain.TaskRun{StartedAt: now, EndedAt: now.Add(time.Second), Error: "permission denied"})
	require.NoError(t, tasks.SaveSchedule(ctx, sched))

	got, err := tasks.LoadSchedule(ctx, domain.TaskDiagnosticsPurge)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, time.Hour, got.Interval)
	assert.True(t, got.Enabled)
	assert.Equal(t, now, got.LastRun)
	assert.Equal(t, now.Add(time.Second+time.Hour), got.NextRun)
	assert.True(t, got.LastSuccess.IsZero())
	assert.Equal(t, "permission denied", got.LastError)
	assert.Equal(t, 1, got.ConsecutiveFailures)
}

func TestTaskStore_InvalidInput(t *testing.T) {
	tasks := setupTestStore(t).TaskStore()
	ctx := context.Background()

	assert.ErrorIs(t, tasks.SaveSchedule(ctx, nil), domain.ErrInvalidInput)
	assert.ErrorIs(t, tasks.SaveSchedule(ctx, &domain.TaskSchedule{Task: "reindex"}), domain.ErrInvalidInput)
	assert.ErrorIs(t, tasks.RecordRun(ctx, domain.TaskRun{Task: "reindex"}, 5), domain.ErrInvalidInput)
}

func TestTaskStore_RunsAreTrimmedPerTask(t *testing.T) {
	tasks := setupTestStore(t).TaskStore()
	ctx := context.Background()
	base := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

	require.NoError(t, tasks.RecordRun(ctx, domain.TaskRun{
		Task: domain.TaskCacheRefresh, StartedAt: base, EndedAt: base, Affected: 1,
	}, 2))
	for i := range 5 {
		run := domain.TaskRun{
			Task:      domain.TaskDiagnosticsPurge,
			StartedAt: base.Add(time.Duration(i) * time.Minute),
			EndedAt:   base.Add(time.Duration(i)*time.Minute + time.Second),
			Affected:  i,
		}
		if i%2 == 1 {
			run.Error = "purge failed"
		}
		require.NoError(t, tasks.RecordRun(ctx, run, 3))
	}

	runs, err := tasks.Runs(ctx, domain.TaskDiagnosticsPurge, 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, 4, runs[0].Affected)
	assert.Equal(t, "purge failed", runs[1].Error)
	assert.Equal(t, time.Second, runs[0].Duration())

	limited, err := tasks.Runs(ctx, domain.TaskDiagnosticsPurge, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	refresh, err := tasks.Runs(ctx, domain.TaskCacheRefresh, 0)
	require.NoError(t, err)
	assert.Len(t, refresh, 1)
}

func TestSQLLimit(t *testing.T) {
	assert.Equal(t, -1, sqlLimit(0))
	assert.Equal(t, 3, sqlLimit(3))
}

func TestNanos(t *testing.T) {
	assert.Zero(t, toNanos(time.Time{}))
	assert.True(t, fromNanos(0).IsZero())

	ts := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, ts, fromNanos(toNanos(ts)))
}
