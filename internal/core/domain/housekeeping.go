package domain

import (
	"sort"
	"time"
)

// HousekeepingTask names a periodic maintenance job.
type HousekeepingTask string

// Built-in housekeeping tasks.
const (
	// TaskDiagnosticsPurge removes quarantined batches and failure records
	// older than the mandate's retention.
	TaskDiagnosticsPurge HousekeepingTask = "diagnostics-purge"

	// TaskCacheRefresh drops every mandate cache and broadcasts the invalidation.
	TaskCacheRefresh HousekeepingTask = "cache-refresh"
)

// HousekeepingTasks returns the known tasks in a stable order.
func HousekeepingTasks() []HousekeepingTask {
	return []HousekeepingTask{TaskCacheRefresh, TaskDiagnosticsPurge}
}

// IsValid reports whether t is a known task.
func (t HousekeepingTask) IsValid() bool {
	return t == TaskDiagnosticsPurge || t == TaskCacheRefresh
}

// TaskSchedule is the persisted state of one housekeeping task.
type TaskSchedule struct {
	Task     HousekeepingTask
	Interval time.Duration
	Enabled  bool

	LastRun     time.Time
	NextRun     time.Time
	LastSuccess time.Time

	// LastError is the message of the latest failed run, cleared on success.
	LastError string

	// ConsecutiveFailures counts failed runs since the last success.
	ConsecutiveFailures int
}

// NewTaskSchedule returns a schedule whose first run is one interval after now.
func NewTaskSchedule(task HousekeepingTask, interval time.Duration, now time.Time) *TaskSchedule {
	return &TaskSchedule{
		Task:     task,
		Interval: interval,
		Enabled:  interval > 0,
		NextRun:  now.Add(interval),
	}
}

// Due reports whether the task should run at now.
func (s *TaskSchedule) Due(now time.Time) bool {
	if !s.Enabled {
		return false
	}
	return s.NextRun.IsZero() || !s.NextRun.After(now)
}

// Reconfigure applies a new interval. A changed interval restarts the
// countdown from now; zero disables the task. Reports whether anything changed.
func (s *TaskSchedule) Reconfigure(interval time.Duration, now time.Time) bool {
	enabled := interval > 0
	if s.Interval == interval && s.Enabled == enabled {
		return false
	}
	if s.Interval != interval {
		s.Interval = interval
		s.NextRun = now.Add(interval)
	}
	s.Enabled = enabled
	return true
}

// Complete folds a finished run into the schedule.
func (s *TaskSchedule) Complete(run TaskRun) {
	s.LastRun = run.StartedAt
	s.NextRun = run.EndedAt.Add(s.Interval)
	if run.OK() {
		s.LastSuccess = run.EndedAt
		s.LastError = ""
		s.ConsecutiveFailures = 0
		return
	}
	s.LastError = run.Error
	s.ConsecutiveFailures++
}

// TaskRun is one execution of a housekeeping task.
type TaskRun struct {
	Task      HousekeepingTask
	StartedAt time.Time
	EndedAt   time.Time

	// Affected counts the files purged or caches refreshed.
	Affected int

	// Error is empty for a successful run.
	Error string
}

// OK reports whether the run succeeded.
func (r TaskRun) OK() bool {
	return r.Error == ""
}

// Duration is the wall time of the run.
func (r TaskRun) Duration() time.Duration {
	if r.EndedAt.Before(r.StartedAt) {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}

// NewestRunsFirst orders runs by start time, most recent first.
func NewestRunsFirst(runs []TaskRun) {
	sort.SliceStable(runs, func(i, j int) bool { return runs[i].StartedAt.After(runs[j].StartedAt) })
}

// HousekeepingPlan maps each task to its interval. Zero disables a task.
type HousekeepingPlan map[HousekeepingTask]time.Duration

// Enabled reports whether any task has a positive interval.
func (p HousekeepingPlan) Enabled() bool {
	for _, d := range p {
		if d > 0 {
			return true
		}
	}
	return false
}

// Plan returns the task intervals configured by the settings.
func (h HousekeepingSettings) Plan() HousekeepingPlan {
	return HousekeepingPlan{
		TaskDiagnosticsPurge: h.PurgeInterval,
		TaskCacheRefresh:     h.RefreshInterval,
	}
}
