package health

import "time"

// Status is the derived health state of a monitor.
type Status string

const (
	// StatusPending means no conclusive run of checks has been observed yet.
	// Pending monitors are not alertable.
	StatusPending Status = "pending"
	StatusUp      Status = "up"
	StatusDown    Status = "down"
)

// EventKind identifies a threshold-crossing transition.
type EventKind string

const (
	EventWentDown  EventKind = "went_down"
	EventRecovered EventKind = "recovered"
)

// Transition is emitted when a check flips the monitor's status. Checks that
// only move the counters emit no transition.
type Transition struct {
	Kind EventKind
	From Status
	To   Status
	At   time.Time
}

// Tracker is the per-monitor consecutive-failure/success state machine.
//
// It is not safe for concurrent use; the engine serializes all
// access to one monitor's state, so the tracker stays a pure state machine
// with no locking of its own.
type Tracker struct {
	downThreshold     int
	recoveryThreshold int

	status               Status
	consecutiveFailures  int
	consecutiveSuccesses int
	lastTransitionAt     time.Time
}

// NewTracker returns a Tracker in StatusPending. Thresholds below 1 fall back
// to the default of 3.
func NewTracker(downThreshold, recoveryThreshold int) *Tracker {
	if downThreshold < 1 {
		downThreshold = 3
	}
	if recoveryThreshold < 1 {
		recoveryThreshold = 3
	}
	return &Tracker{
		downThreshold:     downThreshold,
		recoveryThreshold: recoveryThreshold,
		status:            StatusPending,
	}
}

// Restore rebuilds a Tracker from persisted state, so a restarted server
// resumes counting where it left off instead of re-entering Pending.
func Restore(downThreshold, recoveryThreshold int, status Status, failures, successes int, lastTransition time.Time) *Tracker {
	t := NewTracker(downThreshold, recoveryThreshold)
	switch status {
	case StatusUp, StatusDown, StatusPending:
		t.status = status
	default:
		t.status = StatusPending
	}
	if failures > 0 {
		t.consecutiveFailures = failures
	}
	if successes > 0 {
		t.consecutiveSuccesses = successes
	}
	t.lastTransitionAt = lastTransition
	return t
}

// Apply records one check outcome at time at and reports whether it crossed a
// threshold. A success resets the failure counter to exactly 0 and vice
// versa; counters never go negative.
func (t *Tracker) Apply(success bool, at time.Time) (Transition, bool) {
	if success {
		t.consecutiveSuccesses++
		t.consecutiveFailures = 0
		if t.status != StatusUp && t.consecutiveSuccesses >= t.recoveryThreshold {
			return t.transition(EventRecovered, StatusUp, at), true
		}
		return Transition{}, false
	}

	t.consecutiveFailures++
	t.consecutiveSuccesses = 0
	if t.status != StatusDown && t.consecutiveFailures >= t.downThreshold {
		return t.transition(EventWentDown, StatusDown, at), true
	}
	return Transition{}, false
}

func (t *Tracker) transition(kind EventKind, to Status, at time.Time) Transition {
	tr := Transition{Kind: kind, From: t.status, To: to, At: at}
	t.status = to
	t.lastTransitionAt = at
	return tr
}

// Status returns the current derived status.
func (t *Tracker) Status() Status { return t.status }

// ConsecutiveFailures returns the current failure run length.
func (t *Tracker) ConsecutiveFailures() int { return t.consecutiveFailures }

// ConsecutiveSuccesses returns the current success run length.
func (t *Tracker) ConsecutiveSuccesses() int { return t.consecutiveSuccesses }

// LastTransitionAt returns when the status last flipped. Zero until the
// first transition.
func (t *Tracker) LastTransitionAt() time.Time { return t.lastTransitionAt }
