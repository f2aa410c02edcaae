package driven

import (
	"context"

	"github.com/custodia-labs/scanpipe/internal/core/domain"
)

// TaskStore keeps housekeeping schedules and their run history so that
// intervals survive restarts.
type TaskStore interface {
	// LoadSchedule returns nil and no error for a task never saved.
	LoadSchedule(ctx context.Context, task domain.HousekeepingTask) (*domain.TaskSchedule, error)

	// SaveSchedule upserts the schedule of its task.
	SaveSchedule(ctx context.Context, schedule *domain.TaskSchedule) error

	// RecordRun appends a run and trims the task's history to the
	// newest keep entries. keep <= 0 keeps everything.
	RecordRun(ctx context.Context, run domain.TaskRun, keep int) error

	// Runs returns up to limit runs of a task, newest first.
	// limit <= 0 returns all of them.
	Runs(ctx context.Context, task domain.HousekeepingTask, limit int) ([]domain.TaskRun, error)
}
