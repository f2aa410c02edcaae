package domain

import "time"

// WorkerState is a state of the per-mandate worker.
type WorkerState string

// Worker states.
const (
	WorkerIdle       WorkerState = "idle"
	WorkerPolling    WorkerState = "polling"
	WorkerProcessing WorkerState = "processing"
	WorkerStopping   WorkerState = "stopping"
	WorkerStopped    WorkerState = "stopped"
)

var workerTransitions = map[WorkerState][]WorkerState{
	WorkerIdle:       {WorkerPolling, WorkerStopping},
	WorkerPolling:    {WorkerProcessing, WorkerIdle, WorkerStopping},
	WorkerProcessing: {WorkerIdle, WorkerStopping},
	WorkerStopping:   {WorkerStopped},
	WorkerStopped:    nil,
}

// CanTransition reports whether the worker may move from one state to another.
// Stopping is reachable from every state except Stopped.
func CanTransition(from, to WorkerState) bool {
	for _, next := range workerTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal returns true for the Stopped state.
func (s WorkerState) IsTerminal() bool {
	return s == WorkerStopped
}

// WorkerStatus is a point-in-time view of one worker.
type WorkerStatus struct {
	MandateID string
	State     WorkerState

	// Cycles counts completed polling cycles.
	Cycles int

	// Processed counts batches processed successfully.
	Processed int

	// Quarantined counts batches moved to diagnostics.
	Quarantined int

	// Deferred counts cycles cut short by store unavailability.
	Deferred int

	LastCycle time.Time
	LastError string

	// Unresponsive is set when the worker did not stop within the grace period.
	Unresponsive bool
}

// BatchReport summarises processing of one batch.
type BatchReport struct {
	MandateID string
	BatchID   string
	BatchName string

	// Documents is the number of segmented documents.
	Documents int

	// Stored counts newly persisted results.
	Stored int

	// Duplicates counts results that already existed.
	Duplicates int

	// Statuses counts results per status.
	Statuses map[ResultStatus]int

	// Results holds the per-document results in page order.
	Results []OcrResult

	Duration time.Duration
}
