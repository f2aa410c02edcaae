package domain

import "time"

// ConnectionState tracks store connectivity for one mandate.
// It is in-memory only and owned by that mandate's context.
type ConnectionState struct {
	// ConsecutiveFailures counts failed acquisition rounds since the last success.
	ConsecutiveFailures int

	// LastFailure is when the last round failed.
	LastFailure time.Time

	// LastSuccess is when a connection was last acquired.
	LastSuccess time.Time

	// NextEligible is the earliest time another round may be attempted.
	// Zero means immediately.
	NextEligible time.Time

	// LastError is the message of the last failure.
	LastError string
}

// Eligible reports whether a new acquisition round may start at now.
func (s ConnectionState) Eligible(now time.Time) bool {
	return s.NextEligible.IsZero() || !now.Before(s.NextEligible)
}

// Healthy reports whether the last round succeeded.
func (s ConnectionState) Healthy() bool {
	return s.ConsecutiveFailures == 0
}

// RecordSuccess returns the state after a successful acquisition.
func (s ConnectionState) RecordSuccess(now time.Time) ConnectionState {
	return ConnectionState{LastSuccess: now, LastFailure: s.LastFailure}
}

// RecordFailure returns the state after an exhausted acquisition round.
// The next round is deferred by cooldown.
func (s ConnectionState) RecordFailure(now time.Time, cooldown time.Duration, err error) ConnectionState {
	s.ConsecutiveFailures++
	s.LastFailure = now
	s.NextEligible = now.Add(cooldown)
	if err != nil {
		s.LastError = err.Error()
	}
	return s
}
