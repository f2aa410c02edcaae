package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/custodia-labs/scanpipe/internal/core/domain"
	"github.com/custodia-labs/scanpipe/internal/core/ports/driven"
)

var _ driven.TaskStore = (*taskStore)(nil)

// taskStore keeps housekeeping schedules in the shared database, so every
// host sees when a task last ran.
type taskStore struct {
	store *Store
}

// TaskStore returns the housekeeping task store sharing this pool.
func (s *Store) TaskStore() driven.TaskStore {
	return &taskStore{store: s}
}

func (t *taskStore) LoadSchedule(ctx context.Context, task domain.HousekeepingTask) (*domain.TaskSchedule, error) {
	if err := t.store.ensureMigrated(ctx); err != nil {
		return nil, err
	}
	var (
		sched                         domain.TaskSchedule
		intervalMS                    int64
		lastRun, nextRun, lastSuccess *time.Time
		lastError                     *string
	)
	err := t.store.pool.QueryRow(ctx, `
		SELECT interval_ms, enabled, last_run, next_run, last_success, last_error, consecutive_failures
		FROM task_schedules WHERE task = $1
	`, string(task)).Scan(&intervalMS, &sched.Enabled, &lastRun, &nextRun, &lastSuccess,
		&lastError, &sched.ConsecutiveFailures)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable(fmt.Errorf("loading schedule %s: %w", task, err))
	}

	sched.Task = task
	sched.Interval = time.Duration(intervalMS) * time.Millisecond
	sched.LastRun = derefTime(lastRun)
	sched.NextRun = derefTime(nextRun)
	sched.LastSuccess = derefTime(lastSuccess)
	sched.LastError = deref(lastError)
	return &sched, nil
}

func (t *taskStore) SaveSchedule(ctx context.Context, sched *domain.TaskSchedule) error {
	if sched == nil || !sched.Task.IsValid() {
		return domain.ErrInvalidInput
	}
	if err := t.store.ensureMigrated(ctx); err != nil {
		return err
	}
	_, err := t.store.pool.Exec(ctx, `
		INSERT INTO task_schedules (task, interval_ms, enabled, last_run, next_run, last_success, last_error, consecutive_failures)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (task) DO UPDATE SET
			interval_ms = EXCLUDED.interval_ms,
			enabled = EXCLUDED.enabled,
			last_run = EXCLUDED.last_run,
			next_run = EXCLUDED.next_run,
			last_success = EXCLUDED.last_success,
			last_error = EXCLUDED.last_error,
			consecutive_failures = EXCLUDED.consecutive_failures
	`, string(sched.Task), sched.Interval.Milliseconds(), sched.Enabled,
		nullTime(sched.LastRun), nullTime(sched.NextRun), nullTime(sched.LastSuccess),
		nullString(sched.LastError), sched.ConsecutiveFailures)
	if err != nil {
		return unavailable(fmt.Errorf("saving schedule %s: %w", sched.Task, err))
	}
	return nil
}

func (t *taskStore) RecordRun(ctx context.Context, run domain.TaskRun, keep int) error {
	if !run.Task.IsValid() {
		return domain.ErrInvalidInput
	}
	if err := t.store.ensureMigrated(ctx); err != nil {
		return err
	}
	return t.store.executeTransaction(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO task_runs (task, started_at, ended_at, affected, error) VALUES ($1, $2, $3, $4, $5)
		`, string(run.Task), run.StartedAt.UTC(), run.EndedAt.UTC(), run.Affected, nullString(run.Error)); err != nil {
			return unavailable(fmt.Errorf("recording %s run: %w", run.Task, err))
		}
		if keep <= 0 {
			return nil
		}
		_, err := tx.Exec(ctx, `
			DELETE FROM task_runs
			WHERE task = $1 AND seq NOT IN (
				SELECT seq FROM task_runs WHERE task = $1
				ORDER BY started_at DESC, seq DESC LIMIT $2
			)
		`, string(run.Task), keep)
		if err != nil {
			return unavailable(fmt.Errorf("trimming %s history: %w", run.Task, err))
		}
		return nil
	})
}

func (t *taskStore) Runs(ctx context.Context, task domain.HousekeepingTask, limit int) ([]domain.TaskRun, error) {
	if err := t.store.ensureMigrated(ctx); err != nil {
		return nil, err
	}
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := t.store.pool.Query(ctx, `
		SELECT started_at, ended_at, affected, error FROM task_runs
		WHERE task = $1
		ORDER BY started_at DESC, seq DESC
		LIMIT $2
	`, string(task), lim)
	if err != nil {
		return nil, unavailable(fmt.Errorf("querying %s runs: %w", task, err))
	}
	defer rows.Close()

	var runs []domain.TaskRun //nolint:prealloc // size unknown from query
	for rows.Next() {
		run := domain.TaskRun{Task: task}
		var msg *string
		if err := rows.Scan(&run.StartedAt, &run.EndedAt, &run.Affected, &msg); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		run.StartedAt = run.StartedAt.UTC()
		run.EndedAt = run.EndedAt.UTC()
		run.Error = deref(msg)
		runs = append(runs, run)
	}
	return runs, unavailable(rows.Err())
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}
