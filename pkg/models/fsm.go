package models

import (
	"fmt"
	"time"
)

// validTransitions maps from-state to allowed to-states
var validTransitions = map[JobStatus]map[JobStatus]bool{
	JobStatusPending: {
		JobStatusRunning: true, // Pending → Running (service started processing)
		JobStatusFailed:  true, // Pending → Failed (rejected before processing)
	},
	JobStatusRunning: {
		JobStatusComplete:  true, // Running → Complete (outputs ready)
		JobStatusFailed:    true, // Running → Failed (processing error)
		JobStatusCancelled: true, // Running → Cancelled (cancelled on the service)
	},
	// Terminal states (no transitions allowed)
	JobStatusComplete:  {},
	JobStatusFailed:    {},
	JobStatusCancelled: {},
}

// ValidateTransition checks if a state transition is valid
func ValidateTransition(from, to JobStatus) error {
	allowedStates, exists := validTransitions[from]
	if !exists {
		return fmt.Errorf("unknown source state: %s", from)
	}

	if !allowedStates[to] {
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}

	return nil
}

// IsTerminalState returns true if the state is terminal (no further transitions)
func IsTerminalState(state JobStatus) bool {
	return state == JobStatusComplete || state == JobStatusFailed || state == JobStatusCancelled
}

// IsValidStatus reports whether state is one of the known job states
func IsValidStatus(state JobStatus) bool {
	_, ok := validTransitions[state]
	return ok
}

// Advance moves the job toward observed, recording every transition taken.
//
// A service may report a state that skips Running (a fast order observed as
// complete on the first poll). Running is then inserted so the recorded
// history is always a legal path. Observations that would move backwards, or
// out of a terminal state, are ignored. Advance returns true if the status
// changed.
func (j *Job) Advance(observed JobStatus, reason string, at time.Time) bool {
	if j.Status == observed || IsTerminalState(j.Status) || !IsValidStatus(observed) {
		return false
	}

	if ValidateTransition(j.Status, observed) != nil {
		// The only legal detour is through Running
		if j.Status != JobStatusPending || observed == JobStatusPending {
			return false
		}
		if ValidateTransition(JobStatusRunning, observed) != nil {
			return false
		}
		j.record(JobStatusRunning, "implied by "+string(observed), at)
	}

	j.record(observed, reason, at)
	return true
}

func (j *Job) record(to JobStatus, reason string, at time.Time) {
	j.Transitions = append(j.Transitions, StateTransition{
		From:      j.Status,
		To:        to,
		Timestamp: at,
		Reason:    reason,
	})
	j.Status = to
}
