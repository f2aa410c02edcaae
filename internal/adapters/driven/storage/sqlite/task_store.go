package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/custodia-labs/scanpipe/internal/core/domain"
	"github.com/custodia-labs/scanpipe/internal/core/ports/driven"
)

// taskStore keeps housekeeping schedules and runs next to the reference data.
// Times are unix nanoseconds; 0 means unset.
type taskStore struct {
	db *sql.DB
}

var _ driven.TaskStore = (*taskStore)(nil)

func (s *taskStore) LoadSchedule(ctx context.Context, task domain.HousekeepingTask) (*domain.TaskSchedule, error) {
	var (
		sched                         domain.TaskSchedule
		intervalMS                    int64
		enabled                       int
		lastRun, nextRun, lastSuccess int64
		lastError                     sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT task, interval_ms, enabled, last_run, next_run, last_success, last_error, consecutive_failures
		FROM task_schedules WHERE task = ?
	`, string(task)).Scan((*string)(&sched.Task), &intervalMS, &enabled,
		&lastRun, &nextRun, &lastSuccess, &lastError, &sched.ConsecutiveFailures)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading schedule %s: %w", task, unavailable(err))
	}

	sched.Interval = time.Duration(intervalMS) * time.Millisecond
	sched.Enabled = enabled == 1
	sched.LastRun = fromNanos(lastRun)
	sched.NextRun = fromNanos(nextRun)
	sched.LastSuccess = fromNanos(lastSuccess)
	sched.LastError = lastError.String
	return &sched, nil
}

func (s *taskStore) SaveSchedule(ctx context.Context, sched *domain.TaskSchedule) error {
	if sched == nil || !sched.Task.IsValid() {
		return domain.ErrInvalidInput
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_schedules (task, interval_ms, enabled, last_run, next_run, last_success, last_error, consecutive_failures)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(task) DO UPDATE SET
			interval_ms = excluded.interval_ms,
			enabled = excluded.enabled,
			last_run = excluded.last_run,
			next_run = excluded.next_run,
			last_success = excluded.last_success,
			last_error = excluded.last_error,
			consecutive_failures = excluded.consecutive_failures
	`, string(sched.Task), sched.Interval.Milliseconds(), boolToInt(sched.Enabled),
		toNanos(sched.LastRun), toNanos(sched.NextRun), toNanos(sched.LastSuccess),
		nullString(sched.LastError), sched.ConsecutiveFailures)
	if err != nil {
		return fmt.Errorf("saving schedule %s: %w", sched.Task, unavailable(err))
	}
	return nil
}

// RecordRun inserts the run and trims the task's history in one transaction.
func (s *taskStore) RecordRun(ctx context.Context, run domain.TaskRun, keep int) error {
	if !run.Task.IsValid() {
		return domain.ErrInvalidInput
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", unavailable(err))
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO task_runs (task, started_at, ended_at, affected, error) VALUES (?, ?, ?, ?, ?)
	`, string(run.Task), run.StartedAt.UnixNano(), run.EndedAt.UnixNano(), run.Affected, nullString(run.Error)); err != nil {
		return fmt.Errorf("recording %s run: %w", run.Task, err)
	}

	if keep > 0 {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM task_runs
			WHERE task = ? AND seq NOT IN (
				SELECT seq FROM task_runs WHERE task = ?
				ORDER BY started_at DESC, seq DESC LIMIT ?
			)
		`, string(run.Task), string(run.Task), keep); err != nil {
			return fmt.Errorf("trimming %s history: %w", run.Task, err)
		}
	}
	return tx.Commit()
}

func (s *taskStore) Runs(ctx context.Context, task domain.HousekeepingTask, limit int) ([]domain.TaskRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT started_at, ended_at, affected, error FROM task_runs
		WHERE task = ?
		ORDER BY started_at DESC, seq DESC
		LIMIT ?
	`, string(task), sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("querying %s runs: %w", task, unavailable(err))
	}
	defer rows.Close()

	var runs []domain.TaskRun //nolint:prealloc // size unknown from query
	for rows.Next() {
		var (
			started, ended int64
			msg            sql.NullString
		)
		run := domain.TaskRun{Task: task}
		if err := rows.Scan(&started, &ended, &run.Affected, &msg); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		run.StartedAt = fromNanos(started)
		run.EndedAt = fromNanos(ended)
		run.Error = msg.String
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// sqlLimit maps a non-positive limit to SQLite's "no limit".
func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
