package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pulseguard/pulseguard/pkg/types"
	"github.com/pulseguard/pulseguard/server/internal/alerts"
	"github.com/pulseguard/pulseguard/server/internal/event"
	"github.com/pulseguard/pulseguard/server/internal/health"
	"github.com/pulseguard/pulseguard/server/internal/metrics"
	"github.com/pulseguard/pulseguard/server/internal/slo"
	"github.com/pulseguard/pulseguard/server/internal/store"
)

var (
	// ErrUnknownMonitor rejects results for monitors not in configuration.
	ErrUnknownMonitor = errors.New("engine: unknown monitor")
	// ErrStaleResult rejects a result older than the monitor's last
	// processed timestamp. Results apply in arrival order; late stragglers
	// are dropped rather than reordered.
	ErrStaleResult = errors.New("engine: stale check result")
)

// Monitor is one configured endpoint under observation.
type Monitor struct {
	ID                string
	Name              string
	URL               string
	Interval          time.Duration
	DownThreshold     int
	RecoveryThreshold int
	SLOTargetPct      float64
	Category          string
}

// Options carries the burn-rate tuning shared by all monitors.
type Options struct {
	ShortWindow  time.Duration
	LongWindow   time.Duration
	WarningMult  float64
	CriticalMult float64
}

// monitorState bundles everything owned by one monitor. Its mutex serializes
// all mutation for that monitor: ingest, burn recompute, and predictive
// dispatch form a strictly ordered sequence, while monitors proceed in
// parallel.
type monitorState struct {
	mu sync.Mutex

	def     Monitor
	tracker *health.Tracker
	slo     *slo.Calculator

	lastTS       time.Time
	lastLevel    slo.Level
	lastResult   *types.CheckResult
	certDaysLeft *int

	openAlertID           string
	openPredictiveAlertID string
	openBurnRateAlertID   string
}

// Engine routes check results through the per-monitor health, SLO, and alert
// pipeline, and owns the monitor registry.
type Engine struct {
	st     store.Store
	alerts *alerts.Manager
	bus    *event.Bus
	met    *metrics.Set
	opts   Options
	now    func() time.Time // injectable for deterministic tests

	mu       sync.RWMutex
	monitors map[string]*monitorState
}

// New creates an Engine with an empty registry.
func New(st store.Store, mgr *alerts.Manager, bus *event.Bus, met *metrics.Set, opts Options) *Engine {
	return &Engine{
		st:       st,
		alerts:   mgr,
		bus:      bus,
		met:      met,
		opts:     opts,
		now:      time.Now,
		monitors: make(map[string]*monitorState),
	}
}

// AddMonitor registers a monitor, restoring its persisted health state so a
// restart resumes counting instead of re-entering pending.
func (e *Engine) AddMonitor(ctx context.Context, def Monitor) error {
	ms := &monitorState{
		def: def,
		slo: slo.New(def.SLOTargetPct, e.opts.ShortWindow, e.opts.LongWindow,
			e.opts.WarningMult, e.opts.CriticalMult),
	}

	persisted, err := e.st.LoadMonitorState(ctx, def.ID)
	switch {
	case err == nil:
		ms.tracker = health.Restore(def.DownThreshold, def.RecoveryThreshold,
			health.Status(persisted.Status), persisted.ConsecutiveFailures,
			persisted.ConsecutiveSuccesses, persisted.LastTransitionAt)
		ms.lastTS = persisted.LastCheckAt
		ms.openAlertID = persisted.OpenAlertID
		ms.openPredictiveAlertID = persisted.OpenPredictiveAlertID
		ms.openBurnRateAlertID = persisted.OpenBurnRateAlertID
	case errors.Is(err, store.ErrNotFound):
		ms.tracker = health.NewTracker(def.DownThreshold, def.RecoveryThreshold)
	default:
		return fmt.Errorf("load monitor state: %w", err)
	}

	e.mu.Lock()
	e.monitors[def.ID] = ms
	e.mu.Unlock()

	e.met.SetMonitorStatus(def.ID, string(ms.tracker.Status()))
	slog.Info("monitor registered", "monitor", def.ID, "url", def.URL, "status", ms.tracker.Status())
	return nil
}

// RemoveMonitor unregisters a monitor, closes its open alerts with reason
// monitor_removed, and drops its persisted state.
func (e *Engine) RemoveMonitor(ctx context.Context, monitorID string) error {
	e.mu.Lock()
	_, ok := e.monitors[monitorID]
	delete(e.monitors, monitorID)
	e.mu.Unlock()
	if !ok {
		return ErrUnknownMonitor
	}

	if _, err := e.alerts.CloseForMonitorRemoval(ctx, monitorID, e.now()); err != nil {
		slog.Error("close alerts on removal", "monitor", monitorID, "error", err)
	}
	if err := e.st.DeleteMonitorState(ctx, monitorID); err != nil {
		slog.Error("delete monitor state", "monitor", monitorID, "error", err)
	}
	e.met.RemoveMonitor(monitorID)
	slog.Info("monitor removed", "monitor", monitorID)
	return nil
}

// SyncMonitors reconciles the registry against a freshly loaded
// configuration and reports which monitors were added and removed.
func (e *Engine) SyncMonitors(ctx context.Context, defs []Monitor) (added, removed []string) {
	want := make(map[string]Monitor, len(defs))
	for _, d := range defs {
		want[d.ID] = d
	}

	e.mu.RLock()
	have := make(map[string]*monitorState, len(e.monitors))
	for id, ms := range e.monitors {
		have[id] = ms
	}
	e.mu.RUnlock()

	for id := range have {
		if _, ok := want[id]; !ok {
			if err := e.RemoveMonitor(ctx, id); err == nil {
				removed = append(removed, id)
			}
		}
	}
	for id, def := range want {
		ms, ok := have[id]
		if !ok {
			if err := e.AddMonitor(ctx, def); err != nil {
				slog.Error("add monitor", "monitor", id, "error", err)
			} else {
				added = append(added, id)
			}
			continue
		}
		ms.mu.Lock()
		if def.DownThreshold != ms.def.DownThreshold || def.RecoveryThreshold != ms.def.RecoveryThreshold {
			// Threshold change keeps the current run's counters.
			ms.tracker = health.Restore(def.DownThreshold, def.RecoveryThreshold,
				ms.tracker.Status(), ms.tracker.ConsecutiveFailures(),
				ms.tracker.ConsecutiveSuccesses(), ms.tracker.LastTransitionAt())
		}
		ms.def = def
		ms.mu.Unlock()
	}
	return added, removed
}

// MonitorIDs returns the registered monitor ids.
func (e *Engine) MonitorIDs() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.monitors))
	for id := range e.monitors {
		out = append(out, id)
	}
	return out
}

func (e *Engine) monitor(id string) (*monitorState, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ms, ok := e.monitors[id]
	return ms, ok
}

// Ingest applies one check result: validation, staleness, SLO observation,
// the health state machine, persistence, and alert dispatch, all under the
// monitor's lock.
func (e *Engine) Ingest(ctx context.Context, res types.CheckResult) error {
	if err := res.Validate(); err != nil {
		e.met.CheckRejected("invalid")
		slog.Warn("check rejected", "monitor", res.MonitorID, "error", err)
		return err
	}

	ms, ok := e.monitor(res.MonitorID)
	if !ok {
		e.met.CheckRejected("unknown_monitor")
		slog.Warn("check rejected", "monitor", res.MonitorID, "error", "unknown monitor")
		return fmt.Errorf("%w: %s", ErrUnknownMonitor, res.MonitorID)
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if !ms.lastTS.IsZero() && !res.Timestamp.After(ms.lastTS) {
		e.met.CheckRejected("stale")
		return fmt.Errorf("%w: %s at %s", ErrStaleResult, res.MonitorID, res.Timestamp.Format(time.RFC3339))
	}
	ms.lastTS = res.Timestamp
	r := res
	ms.lastResult = &r
	if res.CertDaysLeft != nil {
		d := *res.CertDaysLeft
		ms.certDaysLeft = &d
	}

	ms.slo.Observe(res)
	transition, crossed := ms.tracker.Apply(res.Success, res.Timestamp)

	e.met.CheckIngested(res.MonitorID)
	e.met.SetMonitorStatus(res.MonitorID, string(ms.tracker.Status()))

	if crossed {
		e.dispatchTransitionLocked(ctx, ms, transition)
	}
	e.applyBurnLocked(ctx, ms, res.Timestamp)

	if err := e.persistLocked(ctx, ms); err != nil {
		slog.Error("persist monitor state", "monitor", res.MonitorID, "error", err)
	}
	return nil
}

// IngestBatch applies a batch in order and reports how many were accepted.
func (e *Engine) IngestBatch(ctx context.Context, results []types.CheckResult) (accepted, rejected int) {
	for _, res := range results {
		if err := e.Ingest(ctx, res); err != nil {
			rejected++
		} else {
			accepted++
		}
	}
	return accepted, rejected
}

// dispatchTransitionLocked hands a threshold crossing to the alert manager
// and publishes the status change. Callers hold ms.mu.
func (e *Engine) dispatchTransitionLocked(ctx context.Context, ms *monitorState, tr health.Transition) {
	monitorID := ms.def.ID

	switch tr.Kind {
	case health.EventWentDown:
		reason := fmt.Sprintf("%d consecutive failed checks", ms.tracker.ConsecutiveFailures())
		a, opened, err := e.alerts.OnWentDown(ctx, monitorID, reason, tr.At)
		if err != nil {
			slog.Error("downtime alert dispatch", "monitor", monitorID, "error", err)
		} else if opened || a.ID != "" {
			ms.openAlertID = a.ID
		}
	case health.EventRecovered:
		if _, closed, err := e.alerts.OnRecovered(ctx, monitorID, tr.At); err != nil {
			slog.Error("recovery alert dispatch", "monitor", monitorID, "error", err)
		} else if closed {
			ms.openAlertID = ""
		}
	}

	slog.Info("monitor status changed",
		"monitor", monitorID,
		"from", tr.From,
		"to", tr.To,
	)
	if e.bus != nil {
		e.bus.Publish(event.Event{
			Type:      event.TypeStatusChanged,
			MonitorID: monitorID,
			At:        tr.At,
			Payload:   tr,
		})
	}
}

// applyBurnLocked recomputes the SLO report, updates gauges, and dispatches
// burn-level changes. Callers hold ms.mu.
func (e *Engine) applyBurnLocked(ctx context.Context, ms *monitorState, now time.Time) {
	rep := ms.slo.Report(now)
	monitorID := ms.def.ID

	if rep.Short.Valid {
		e.met.SetBurnRate(monitorID, "1h", rep.Short.BurnRate)
	}
	if rep.Long.Valid {
		e.met.SetBurnRate(monitorID, "6h", rep.Long.BurnRate)
	}

	if rep.Level == ms.lastLevel {
		return
	}
	ms.lastLevel = rep.Level

	a, changed, err := e.alerts.OnBurnRate(ctx, monitorID, rep.Level, rep, now)
	if err != nil {
		slog.Error("burn-rate alert dispatch", "monitor", monitorID, "error", err)
		return
	}
	if changed {
		if a.Status == store.AlertClosed {
			ms.openBurnRateAlertID = ""
		} else {
			ms.openBurnRateAlertID = a.ID
		}
	}
}

// RecomputeAll re-evaluates every monitor's burn rate on the decay tick, so
// budget recovery from the absence of traffic is noticed without ingest.
func (e *Engine) RecomputeAll(ctx context.Context) {
	e.mu.RLock()
	all := make([]*monitorState, 0, len(e.monitors))
	for _, ms := range e.monitors {
		all = append(all, ms)
	}
	e.mu.RUnlock()

	now := e.now()
	for _, ms := range all {
		ms.mu.Lock()
		e.applyBurnLocked(ctx, ms, now)
		if err := e.persistLocked(ctx, ms); err != nil {
			slog.Error("persist monitor state", "monitor", ms.def.ID, "error", err)
		}
		ms.mu.Unlock()
	}
}

// OnPredictiveRisk feeds a completed prediction through the monitor's
// serialized entry point. It implements the training orchestrator's sink.
func (e *Engine) OnPredictiveRisk(ctx context.Context, monitorID string, p store.Prediction) (store.AlertRecord, bool, error) {
	ms, ok := e.monitor(monitorID)
	if !ok {
		return store.AlertRecord{}, false, fmt.Errorf("%w: %s", ErrUnknownMonitor, monitorID)
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	a, changed, err := e.alerts.OnPredictiveRisk(ctx, monitorID, p)
	if err != nil {
		return a, changed, err
	}
	if changed {
		if a.Status == store.AlertClosed {
			ms.openPredictiveAlertID = ""
		} else {
			ms.openPredictiveAlertID = a.ID
		}
	} else if a.ID != "" {
		ms.openPredictiveAlertID = a.ID
	}
	if err := e.persistLocked(ctx, ms); err != nil {
		slog.Error("persist monitor state", "monitor", monitorID, "error", err)
	}
	return a, changed, nil
}

// Window returns the monitor's check history within span of now. It
// implements the training worker's sample source.
func (e *Engine) Window(monitorID string, span time.Duration) []types.CheckResult {
	ms, ok := e.monitor(monitorID)
	if !ok {
		return nil
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.slo.Window(e.now(), span)
}

// persistLocked writes the monitor's durable state. Callers hold ms.mu.
func (e *Engine) persistLocked(ctx context.Context, ms *monitorState) error {
	return e.st.SaveMonitorState(ctx, store.MonitorState{
		MonitorID:             ms.def.ID,
		Status:                string(ms.tracker.Status()),
		ConsecutiveFailures:   ms.tracker.ConsecutiveFailures(),
		ConsecutiveSuccesses:  ms.tracker.ConsecutiveSuccesses(),
		LastTransitionAt:      ms.tracker.LastTransitionAt(),
		LastCheckAt:           ms.lastTS,
		OpenAlertID:           ms.openAlertID,
		OpenPredictiveAlertID: ms.openPredictiveAlertID,
		OpenBurnRateAlertID:   ms.openBurnRateAlertID,
	})
}
