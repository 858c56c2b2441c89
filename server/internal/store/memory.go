package store

import (
	"context"
	"sort"
	"sync"
)

// Memory is the in-memory Store. State is lost on restart; monitors re-enter
// pending and alerts re-open on the next threshold crossing, which is an
// accepted trade-off for single-node deployments.
type Memory struct {
	mu          sync.RWMutex
	monitors    map[string]MonitorState
	alerts      map[string]AlertRecord
	alertOrder  []string // insertion order of alert IDs, oldest first
	predictions map[string][]Prediction
	jobs        map[string]TrainingJob
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		monitors:    make(map[string]MonitorState),
		alerts:      make(map[string]AlertRecord),
		predictions: make(map[string][]Prediction),
		jobs:        make(map[string]TrainingJob),
	}
}

var _ Store = (*Memory)(nil)

func (m *Memory) LoadMonitorState(_ context.Context, monitorID string) (MonitorState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.monitors[monitorID]
	if !ok {
		return MonitorState{}, ErrNotFound
	}
	return st, nil
}

func (m *Memory) SaveMonitorState(_ context.Context, st MonitorState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.monitors[st.MonitorID] = st
	return nil
}

func (m *Memory) DeleteMonitorState(_ context.Context, monitorID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.monitors, monitorID)
	return nil
}

func (m *Memory) SaveAlert(_ context.Context, a AlertRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.alerts[a.ID]; !ok {
		m.alertOrder = append(m.alertOrder, a.ID)
	}
	m.alerts[a.ID] = cloneAlert(a)
	return nil
}

func (m *Memory) UpdateAlert(_ context.Context, a AlertRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.alerts[a.ID]; !ok {
		return ErrNotFound
	}
	m.alerts[a.ID] = cloneAlert(a)
	return nil
}

func (m *Memory) GetAlert(_ context.Context, id string) (AlertRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.alerts[id]
	if !ok {
		return AlertRecord{}, ErrNotFound
	}
	return cloneAlert(a), nil
}

func (m *Memory) ListOpenAlerts(_ context.Context, monitorID string) ([]AlertRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []AlertRecord
	for i := len(m.alertOrder) - 1; i >= 0; i-- {
		a := m.alerts[m.alertOrder[i]]
		if a.Status == AlertClosed {
			continue
		}
		if monitorID != "" && a.MonitorID != monitorID {
			continue
		}
		out = append(out, cloneAlert(a))
	}
	return out, nil
}

func (m *Memory) ListAlerts(_ context.Context, monitorID string, limit int) ([]AlertRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []AlertRecord
	for i := len(m.alertOrder) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		a := m.alerts[m.alertOrder[i]]
		if monitorID != "" && a.MonitorID != monitorID {
			continue
		}
		out = append(out, cloneAlert(a))
	}
	return out, nil
}

func (m *Memory) ListSyncPending(_ context.Context, maxAttempts int) ([]AlertRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []AlertRecord
	for _, id := range m.alertOrder {
		if a := m.alerts[id]; a.SyncPending(maxAttempts) {
			out = append(out, cloneAlert(a))
		}
	}
	return out, nil
}

func (m *Memory) SavePrediction(_ context.Context, p Prediction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ps := append(m.predictions[p.MonitorID], clonePrediction(p))
	// Keep newest first so reads are a prefix slice.
	sort.SliceStable(ps, func(i, j int) bool {
		return ps[i].ProducedAt.After(ps[j].ProducedAt)
	})
	m.predictions[p.MonitorID] = ps
	return nil
}

func (m *Memory) ListPredictions(_ context.Context, monitorID string, limit int) ([]Prediction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ps := m.predictions[monitorID]
	if limit > 0 && limit < len(ps) {
		ps = ps[:limit]
	}
	out := make([]Prediction, 0, len(ps))
	for _, p := range ps {
		out = append(out, clonePrediction(p))
	}
	return out, nil
}

func (m *Memory) LatestPrediction(_ context.Context, monitorID string) (Prediction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ps := m.predictions[monitorID]
	if len(ps) == 0 {
		return Prediction{}, ErrNotFound
	}
	return clonePrediction(ps[0]), nil
}

func (m *Memory) SaveTrainingJob(_ context.Context, j TrainingJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[j.ID] = cloneJob(j)
	return nil
}

func (m *Memory) GetTrainingJob(_ context.Context, id string) (TrainingJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	if !ok {
		return TrainingJob{}, ErrNotFound
	}
	return cloneJob(j), nil
}

// --- clone helpers ---
//
// Records carry slices and pointers, so both directions copy to keep callers
// from mutating stored state in place.

func cloneAlert(a AlertRecord) AlertRecord {
	out := a
	if a.RiskFactors != nil {
		out.RiskFactors = append([]string(nil), a.RiskFactors...)
	}
	if a.ClosedAt != nil {
		t := *a.ClosedAt
		out.ClosedAt = &t
	}
	return out
}

func clonePrediction(p Prediction) Prediction {
	out := p
	if p.RiskFactors != nil {
		out.RiskFactors = append([]string(nil), p.RiskFactors...)
	}
	return out
}

func cloneJob(j TrainingJob) TrainingJob {
	out := j
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		out.FinishedAt = &t
	}
	return out
}
