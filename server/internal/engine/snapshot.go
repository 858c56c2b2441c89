package engine

import (
	"sort"
	"time"

	"github.com/pulseguard/pulseguard/pkg/types"
	"github.com/pulseguard/pulseguard/server/internal/health"
	"github.com/pulseguard/pulseguard/server/internal/slo"
)

// Snapshot is the engine's best-known local view of one monitor. The API
// layer composes it with alert, prediction, and training state from the
// other components.
type Snapshot struct {
	Monitor Monitor

	Status               health.Status
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	LastTransitionAt     time.Time
	LastCheckAt          time.Time
	LastResult           *types.CheckResult
	CertDaysLeft         *int

	SLO slo.Report
}

// Snapshot returns the current view of one monitor.
func (e *Engine) Snapshot(monitorID string) (Snapshot, error) {
	ms, ok := e.monitor(monitorID)
	if !ok {
		return Snapshot{}, ErrUnknownMonitor
	}
	return e.snapshotOf(ms), nil
}

// Snapshots returns every monitor's view, ordered by monitor id.
func (e *Engine) Snapshots() []Snapshot {
	e.mu.RLock()
	all := make([]*monitorState, 0, len(e.monitors))
	for _, ms := range e.monitors {
		all = append(all, ms)
	}
	e.mu.RUnlock()

	out := make([]Snapshot, 0, len(all))
	for _, ms := range all {
		out = append(out, e.snapshotOf(ms))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Monitor.ID < out[j].Monitor.ID })
	return out
}

func (e *Engine) snapshotOf(ms *monitorState) Snapshot {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	snap := Snapshot{
		Monitor:              ms.def,
		Status:               ms.tracker.Status(),
		ConsecutiveFailures:  ms.tracker.ConsecutiveFailures(),
		ConsecutiveSuccesses: ms.tracker.ConsecutiveSuccesses(),
		LastTransitionAt:     ms.tracker.LastTransitionAt(),
		LastCheckAt:          ms.lastTS,
		SLO:                  ms.slo.Report(e.now()),
	}
	if ms.lastResult != nil {
		r := *ms.lastResult
		snap.LastResult = &r
	}
	if ms.certDaysLeft != nil {
		d := *ms.certDaysLeft
		snap.CertDaysLeft = &d
	}
	return snap
}
