package health

import (
	"testing"
	"time"
)

// feed applies a sequence of outcomes ('S' success, 'F' failure) and returns
// every transition emitted, advancing a fake clock one second per check.
func feed(t *testing.T, tr *Tracker, seq string) []Transition {
	t.Helper()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	var out []Transition
	for i, c := range seq {
		at := base.Add(time.Duration(i) * time.Second)
		switch c {
		case 'S':
			if ev, ok := tr.Apply(true, at); ok {
				out = append(out, ev)
			}
		case 'F':
			if ev, ok := tr.Apply(false, at); ok {
				out = append(out, ev)
			}
		default:
			t.Fatalf("bad sequence char %q", c)
		}
	}
	return out
}

func TestThreeFailures_PendingToDown(t *testing.T) {
	tr := NewTracker(3, 3)
	evs := feed(t, tr, "FFF")

	if len(evs) != 1 {
		t.Fatalf("transitions: got %d, want 1", len(evs))
	}
	if evs[0].Kind != EventWentDown {
		t.Errorf("kind: got %v, want went_down", evs[0].Kind)
	}
	if evs[0].From != StatusPending || evs[0].To != StatusDown {
		t.Errorf("transition: got %s→%s, want pending→down", evs[0].From, evs[0].To)
	}
	if tr.Status() != StatusDown {
		t.Errorf("status: got %s, want down", tr.Status())
	}
}

func TestInterruptedRun_NeverTransitions(t *testing.T) {
	tr := NewTracker(3, 3)
	evs := feed(t, tr, "FFSFF")

	if len(evs) != 0 {
		t.Fatalf("transitions: got %d, want 0 (run resets on success)", len(evs))
	}
	if tr.Status() != StatusPending {
		t.Errorf("status: got %s, want pending", tr.Status())
	}
}

func TestScenario_DownThenRecover(t *testing.T) {
	tr := NewTracker(3, 3)

	evs := feed(t, tr, "SSFFF")
	if len(evs) != 1 || evs[0].Kind != EventWentDown {
		t.Fatalf("after SSFFF: got %v, want one went_down", evs)
	}

	evs = feed(t, tr, "SSS")
	if len(evs) != 1 || evs[0].Kind != EventRecovered {
		t.Fatalf("after SSS: got %v, want one recovered", evs)
	}
	if evs[0].From != StatusDown || evs[0].To != StatusUp {
		t.Errorf("transition: got %s→%s, want down→up", evs[0].From, evs[0].To)
	}
	if tr.Status() != StatusUp {
		t.Errorf("status: got %s, want up", tr.Status())
	}
}

func TestCountersResetOnOppositeOutcome(t *testing.T) {
	tr := NewTracker(5, 5)

	feed(t, tr, "FF")
	if tr.ConsecutiveFailures() != 2 {
		t.Errorf("failures: got %d, want 2", tr.ConsecutiveFailures())
	}

	feed(t, tr, "S")
	if tr.ConsecutiveFailures() != 0 {
		t.Errorf("failures after success: got %d, want 0", tr.ConsecutiveFailures())
	}
	if tr.ConsecutiveSuccesses() != 1 {
		t.Errorf("successes: got %d, want 1", tr.ConsecutiveSuccesses())
	}

	feed(t, tr, "F")
	if tr.ConsecutiveSuccesses() != 0 {
		t.Errorf("successes after failure: got %d, want 0", tr.ConsecutiveSuccesses())
	}
}

func TestThresholdOne_FirstCheckFlips(t *testing.T) {
	tr := NewTracker(1, 1)

	evs := feed(t, tr, "F")
	if len(evs) != 1 || evs[0].Kind != EventWentDown {
		t.Fatalf("threshold 1: first failure should flip, got %v", evs)
	}
}

func TestRepeatedFailuresWhileDown_NoDuplicateEvents(t *testing.T) {
	tr := NewTracker(3, 3)
	feed(t, tr, "FFF")

	evs := feed(t, tr, "FFFF")
	if len(evs) != 0 {
		t.Fatalf("already down: got %d transitions, want 0", len(evs))
	}
	if tr.ConsecutiveFailures() != 7 {
		t.Errorf("failures keep counting: got %d, want 7", tr.ConsecutiveFailures())
	}
}

func TestRecoveryThresholdBelowRun_StaysDown(t *testing.T) {
	tr := NewTracker(3, 3)
	feed(t, tr, "FFF")

	evs := feed(t, tr, "SS")
	if len(evs) != 0 {
		t.Fatalf("two successes with threshold 3: got %v, want none", evs)
	}
	if tr.Status() != StatusDown {
		t.Errorf("status: got %s, want down", tr.Status())
	}
}

func TestPendingToUp_EmitsRecovered(t *testing.T) {
	tr := NewTracker(3, 3)
	evs := feed(t, tr, "SSS")

	if len(evs) != 1 || evs[0].Kind != EventRecovered {
		t.Fatalf("pending→up: got %v, want one recovered", evs)
	}
	if evs[0].From != StatusPending {
		t.Errorf("from: got %s, want pending", evs[0].From)
	}
}

func TestRestore_ResumesCounting(t *testing.T) {
	last := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	tr := Restore(3, 3, StatusUp, 2, 0, last)

	if tr.Status() != StatusUp {
		t.Fatalf("status: got %s, want up", tr.Status())
	}

	// One more failure completes the run started before the restart.
	ev, ok := tr.Apply(false, last.Add(time.Minute))
	if !ok || ev.Kind != EventWentDown {
		t.Fatalf("restored run: got (%v, %v), want went_down", ev, ok)
	}
}

func TestRestore_UnknownStatusFallsBackToPending(t *testing.T) {
	tr := Restore(3, 3, Status("bogus"), 0, 0, time.Time{})
	if tr.Status() != StatusPending {
		t.Errorf("status: got %s, want pending", tr.Status())
	}
}
