package driving

import (
	"context"

	"github.com/custodia-labs/scanpipe/internal/core/domain"
)

// Scheduler runs the housekeeping tasks on their intervals and reports
// their state.
type Scheduler interface {
	// Start blocks until ctx is cancelled or Stop is called.
	Start(ctx context.Context) error

	// Stop ends the loop and waits for running tasks.
	Stop() error

	// Schedules returns the current schedule of every known task.
	Schedules(ctx context.Context) ([]domain.TaskSchedule, error)

	// History returns recent runs of a task, newest first.
	History(ctx context.Context, task domain.HousekeepingTask, limit int) ([]domain.TaskRun, error)

	// RunNow executes a task immediately and records the run.
	RunNow(ctx context.Context, task domain.HousekeepingTask) (domain.TaskRun, error)
}
