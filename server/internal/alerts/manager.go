package alerts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pulseguard/pulseguard/server/internal/event"
	"github.com/pulseguard/pulseguard/server/internal/metrics"
	"github.com/pulseguard/pulseguard/server/internal/slo"
	"github.com/pulseguard/pulseguard/server/internal/store"
)

const (
	defaultRiskThreshold   = 0.40
	defaultMaxSyncAttempts = 3
	defaultSyncInterval    = 30 * time.Second
)

// ErrAlertClosed is returned when an operation targets an alert that has
// already been closed.
var ErrAlertClosed = errors.New("alerts: alert already closed")

// Close reasons recorded on alert records.
const (
	CloseReasonRecovered      = "recovered"
	CloseReasonRiskSubsided   = "risk_subsided"
	CloseReasonBurnSubsided   = "burn_rate_subsided"
	CloseReasonMonitorRemoved = "monitor_removed"
)

// Options tunes the Manager. Zero values fall back to defaults.
type Options struct {
	// RiskThreshold is the failure probability at or above which a
	// prediction opens a predictive alert.
	RiskThreshold float64
	// MaxSyncAttempts caps issue-tracker delivery retries per alert.
	MaxSyncAttempts int
	// SyncInterval is the tracker sync tick period for Run.
	SyncInterval time.Duration
}

// Manager owns the alert lifecycle: it opens, updates, acknowledges, and
// closes alert records, enforces the one-open-alert-per-kind rule, and syncs
// records to the issue tracker in the background.
//
// Store writes are synchronous; tracker calls never happen inline. An alert
// opens locally first and the sync loop carries it to the tracker, so a slow
// or failing tracker cannot stall health evaluation.
type Manager struct {
	st      store.Store
	tracker IssueTracker
	bus     *event.Bus
	met     *metrics.Set

	riskThreshold   float64
	maxSyncAttempts int
	syncInterval    time.Duration
	now             func() time.Time // injectable for deterministic tests

	// Per-monitor locks serialize lifecycle decisions for one monitor.
	// The engine and the training orchestrator call in concurrently.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager creates a Manager. tracker may be NoopTracker{} when no issue
// tracker is configured.
func NewManager(st store.Store, tracker IssueTracker, bus *event.Bus, met *metrics.Set, opts Options) *Manager {
	if opts.RiskThreshold <= 0 {
		opts.RiskThreshold = defaultRiskThreshold
	}
	if opts.MaxSyncAttempts <= 0 {
		opts.MaxSyncAttempts = defaultMaxSyncAttempts
	}
	if opts.SyncInterval <= 0 {
		opts.SyncInterval = defaultSyncInterval
	}
	return &Manager{
		st:              st,
		tracker:         tracker,
		bus:             bus,
		met:             met,
		riskThreshold:   opts.RiskThreshold,
		maxSyncAttempts: opts.MaxSyncAttempts,
		syncInterval:    opts.SyncInterval,
		now:             time.Now,
		locks:           make(map[string]*sync.Mutex),
	}
}

// lockMonitor acquires the per-monitor lock and returns its unlock func.
func (m *Manager) lockMonitor(monitorID string) func() {
	m.mu.Lock()
	l, ok := m.locks[monitorID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[monitorID] = l
	}
	m.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// openOfKind returns the monitor's open or suppressed alert of the given
// kind, if any.
func (m *Manager) openOfKind(ctx context.Context, monitorID string, kind store.AlertKind) (store.AlertRecord, bool, error) {
	open, err := m.st.ListOpenAlerts(ctx, monitorID)
	if err != nil {
		return store.AlertRecord{}, false, fmt.Errorf("list open alerts: %w", err)
	}
	for _, a := range open {
		if a.Kind == kind {
			return a, true, nil
		}
	}
	return store.AlertRecord{}, false, nil
}

// OnWentDown opens a downtime alert for the monitor. If one is already open
// (or suppressed) this is a no-op and the existing record is returned with
// opened=false.
func (m *Manager) OnWentDown(ctx context.Context, monitorID, reason string, at time.Time) (store.AlertRecord, bool, error) {
	defer m.lockMonitor(monitorID)()

	if existing, ok, err := m.openOfKind(ctx, monitorID, store.KindDowntime); err != nil || ok {
		return existing, false, err
	}

	a := store.AlertRecord{
		ID:        uuid.NewString(),
		MonitorID: monitorID,
		Kind:      store.KindDowntime,
		Severity:  store.SeverityCritical,
		Status:    store.AlertOpen,
		Reason:    reason,
		OpenedAt:  at,
	}
	if err := m.st.SaveAlert(ctx, a); err != nil {
		return store.AlertRecord{}, false, fmt.Errorf("save alert: %w", err)
	}

	m.met.AlertOpened(string(a.Kind))
	m.publish(event.TypeAlertOpened, a)
	slog.Warn("alert opened",
		"alert_id", a.ID,
		"monitor", monitorID,
		"kind", a.Kind,
		"reason", reason,
	)
	return a, true, nil
}

// OnRecovered closes the monitor's downtime alert, including a suppressed
// one. Calling it with no open downtime alert is a no-op.
func (m *Manager) OnRecovered(ctx context.Context, monitorID string, at time.Time) (store.AlertRecord, bool, error) {
	defer m.lockMonitor(monitorID)()

	a, ok, err := m.openOfKind(ctx, monitorID, store.KindDowntime)
	if err != nil || !ok {
		return store.AlertRecord{}, false, err
	}
	closed, err := m.close(ctx, a, CloseReasonRecovered, at)
	if err != nil {
		return store.AlertRecord{}, false, err
	}
	return closed, true, nil
}

// OnPredictiveRisk applies a fresh prediction: at or above the risk threshold
// it opens a predictive alert if none is open, below it closes the open one.
// At most one predictive alert is ever open per monitor.
func (m *Manager) OnPredictiveRisk(ctx context.Context, monitorID string, p store.Prediction) (store.AlertRecord, bool, error) {
	defer m.lockMonitor(monitorID)()

	existing, ok, err := m.openOfKind(ctx, monitorID, store.KindPredictive)
	if err != nil {
		return store.AlertRecord{}, false, err
	}

	if p.FailureProbability < m.riskThreshold {
		if !ok {
			return store.AlertRecord{}, false, nil
		}
		closed, err := m.close(ctx, existing, CloseReasonRiskSubsided, p.ProducedAt)
		if err != nil {
			return store.AlertRecord{}, false, err
		}
		return closed, true, nil
	}

	if ok {
		// Refresh the reason and factors on the open alert in place.
		existing.Reason = predictiveReason(p)
		existing.RiskFactors = append([]string(nil), p.RiskFactors...)
		if err := m.st.UpdateAlert(ctx, existing); err != nil {
			return store.AlertRecord{}, false, fmt.Errorf("update alert: %w", err)
		}
		m.publish(event.TypeAlertUpdated, existing)
		return existing, false, nil
	}

	a := store.AlertRecord{
		ID:          uuid.NewString(),
		MonitorID:   monitorID,
		Kind:        store.KindPredictive,
		Severity:    store.SeverityWarning,
		Status:      store.AlertOpen,
		Reason:      predictiveReason(p),
		RiskFactors: append([]string(nil), p.RiskFactors...),
		OpenedAt:    p.ProducedAt,
	}
	if err := m.st.SaveAlert(ctx, a); err != nil {
		return store.AlertRecord{}, false, fmt.Errorf("save alert: %w", err)
	}

	m.met.AlertOpened(string(a.Kind))
	m.publish(event.TypeAlertOpened, a)
	slog.Warn("alert opened",
		"alert_id", a.ID,
		"monitor", monitorID,
		"kind", a.Kind,
		"probability", p.FailureProbability,
	)
	return a, true, nil
}

func predictiveReason(p store.Prediction) string {
	return fmt.Sprintf("predicted failure probability %.0f%% (confidence %.0f%%)",
		p.FailureProbability*100, p.Confidence*100)
}

// OnBurnRate applies a burn-rate level change. LevelNone closes the open
// burn-rate alert; Warning and Critical open one or adjust the severity of
// the open one in place.
func (m *Manager) OnBurnRate(ctx context.Context, monitorID string, level slo.Level, rep slo.Report, at time.Time) (store.AlertRecord, bool, error) {
	defer m.lockMonitor(monitorID)()

	existing, ok, err := m.openOfKind(ctx, monitorID, store.KindBurnRate)
	if err != nil {
		return store.AlertRecord{}, false, err
	}

	if level == slo.LevelNone {
		if !ok {
			return store.AlertRecord{}, false, nil
		}
		closed, err := m.close(ctx, existing, CloseReasonBurnSubsided, at)
		if err != nil {
			return store.AlertRecord{}, false, err
		}
		return closed, true, nil
	}

	sev := store.SeverityWarning
	if level == slo.LevelCritical {
		sev = store.SeverityCritical
	}
	reason := burnReason(level, rep)

	if ok {
		if existing.Severity == sev {
			return existing, false, nil
		}
		// Level moved between warning and critical: update, don't churn
		// a new record.
		existing.Severity = sev
		existing.Reason = reason
		if existing.ExternalRef != "" {
			// The filed issue now shows a stale severity; queue a
			// re-sync with fresh attempts.
			existing.UpdatePending = true
			existing.SyncAttempts = 0
		}
		if err := m.st.UpdateAlert(ctx, existing); err != nil {
			return store.AlertRecord{}, false, fmt.Errorf("update alert: %w", err)
		}
		m.publish(event.TypeAlertUpdated, existing)
		slog.Warn("alert severity changed",
			"alert_id", existing.ID,
			"monitor", monitorID,
			"severity", sev,
		)
		return existing, true, nil
	}

	a := store.AlertRecord{
		ID:        uuid.NewString(),
		MonitorID: monitorID,
		Kind:      store.KindBurnRate,
		Severity:  sev,
		Status:    store.AlertOpen,
		Reason:    reason,
		OpenedAt:  at,
	}
	if err := m.st.SaveAlert(ctx, a); err != nil {
		return store.AlertRecord{}, false, fmt.Errorf("save alert: %w", err)
	}

	m.met.AlertOpened(string(a.Kind))
	m.publish(event.TypeAlertOpened, a)
	slog.Warn("alert opened",
		"alert_id", a.ID,
		"monitor", monitorID,
		"kind", a.Kind,
		"severity", sev,
	)
	return a, true, nil
}

func burnReason(level slo.Level, rep slo.Report) string {
	if level == slo.LevelCritical {
		return fmt.Sprintf("error budget burning at %.1fx over the last %s", rep.Short.BurnRate, rep.Short.Window)
	}
	return fmt.Sprintf("error budget burning at %.1fx over the last %s", rep.Long.BurnRate, rep.Long.Window)
}

// Acknowledge marks an open alert suppressed. The alert keeps occupying the
// monitor's open slot, so no duplicate opens while it is acknowledged; it
// still closes normally on recovery or subsidence.
func (m *Manager) Acknowledge(ctx context.Context, alertID string) (store.AlertRecord, error) {
	a, err := m.st.GetAlert(ctx, alertID)
	if err != nil {
		return store.AlertRecord{}, err
	}

	defer m.lockMonitor(a.MonitorID)()

	// Re-read under the lock; the record may have closed meanwhile.
	a, err = m.st.GetAlert(ctx, alertID)
	if err != nil {
		return store.AlertRecord{}, err
	}
	switch a.Status {
	case store.AlertClosed:
		return store.AlertRecord{}, ErrAlertClosed
	case store.AlertSuppressed:
		return a, nil
	}

	a.Status = store.AlertSuppressed
	if err := m.st.UpdateAlert(ctx, a); err != nil {
		return store.AlertRecord{}, fmt.Errorf("update alert: %w", err)
	}
	m.publish(event.TypeAlertUpdated, a)
	slog.Info("alert acknowledged", "alert_id", a.ID, "monitor", a.MonitorID)
	return a, nil
}

// CloseForMonitorRemoval closes every open alert of a monitor that is being
// removed from configuration.
func (m *Manager) CloseForMonitorRemoval(ctx context.Context, monitorID string, at time.Time) ([]store.AlertRecord, error) {
	defer m.lockMonitor(monitorID)()

	open, err := m.st.ListOpenAlerts(ctx, monitorID)
	if err != nil {
		return nil, fmt.Errorf("list open alerts: %w", err)
	}
	out := make([]store.AlertRecord, 0, len(open))
	for _, a := range open {
		closed, err := m.close(ctx, a, CloseReasonMonitorRemoved, at)
		if err != nil {
			return out, err
		}
		out = append(out, closed)
	}
	return out, nil
}

// close transitions a record to closed and publishes the event. Callers hold
// the monitor lock.
func (m *Manager) close(ctx context.Context, a store.AlertRecord, reason string, at time.Time) (store.AlertRecord, error) {
	closedAt := at
	a.Status = store.AlertClosed
	a.ClosedAt = &closedAt
	a.CloseReason = reason
	// The close itself needs delivering; give it fresh attempts. It also
	// supersedes any queued severity update.
	a.SyncAttempts = 0
	a.UpdatePending = false

	if err := m.st.UpdateAlert(ctx, a); err != nil {
		return store.AlertRecord{}, fmt.Errorf("update alert: %w", err)
	}

	m.met.AlertClosed(string(a.Kind))
	m.publish(event.TypeAlertClosed, a)
	slog.Info("alert closed",
		"alert_id", a.ID,
		"monitor", a.MonitorID,
		"kind", a.Kind,
		"reason", reason,
	)
	return a, nil
}

func (m *Manager) publish(t event.Type, a store.AlertRecord) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(event.Event{
		Type:      t,
		MonitorID: a.MonitorID,
		At:        m.now(),
		Payload:   a,
	})
}

// Run drives the issue-tracker sync loop until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	t := time.NewTicker(m.syncInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.SyncTick(ctx)
		}
	}
}

// SyncTick delivers pending opens, severity updates, and closes to the issue
// tracker. Each failed delivery burns one attempt; an alert past the attempt
// cap is left alone until something resets its counter.
func (m *Manager) SyncTick(ctx context.Context) {
	pending, err := m.st.ListSyncPending(ctx, m.maxSyncAttempts)
	if err != nil {
		slog.Error("tracker sync: list pending", "error", err)
		return
	}

	for _, a := range pending {
		a.SyncAttempts++

		switch {
		case a.Status == store.AlertClosed:
			if err := m.tracker.Close(ctx, a); err != nil {
				slog.Warn("tracker sync: close failed",
					"alert_id", a.ID,
					"ref", a.ExternalRef,
					"attempt", a.SyncAttempts,
					"error", err,
				)
			} else {
				a.CloseSynced = true
				slog.Info("tracker sync: issue closed", "alert_id", a.ID, "ref", a.ExternalRef)
			}
		case a.ExternalRef == "":
			ref, err := m.tracker.Open(ctx, a)
			if err != nil {
				slog.Warn("tracker sync: open failed",
					"alert_id", a.ID,
					"attempt", a.SyncAttempts,
					"error", err,
				)
			} else {
				// The open carried the record's current severity, so
				// any queued update is satisfied too.
				a.ExternalRef = ref
				a.UpdatePending = false
				slog.Info("tracker sync: issue opened", "alert_id", a.ID, "ref", ref)
			}
		default:
			if err := m.tracker.Update(ctx, a); err != nil {
				slog.Warn("tracker sync: update failed",
					"alert_id", a.ID,
					"ref", a.ExternalRef,
					"attempt", a.SyncAttempts,
					"error", err,
				)
			} else {
				a.UpdatePending = false
				slog.Info("tracker sync: issue updated", "alert_id", a.ID, "ref", a.ExternalRef)
			}
		}

		if err := m.st.UpdateAlert(ctx, a); err != nil {
			slog.Error("tracker sync: persist", "alert_id", a.ID, "error", err)
		}
	}
}
