package training

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
	"github.com/pulseguard/pulseguard/server/internal/store"
)

// ErrAlreadyRunning rejects a trigger while the monitor's job slot is
// occupied. The running job's id accompanies the error.
var ErrAlreadyRunning = errors.New("training: job already running")

const (
	defaultInterval      = 20 * time.Minute
	defaultSafetyTimeout = 5 * time.Minute
	defaultPollInterval  = 2 * time.Second
)

// RiskSink receives completed predictions. The alert manager implements it.
type RiskSink interface {
	OnPredictiveRisk(ctx context.Context, monitorID string, p store.Prediction) (store.AlertRecord, bool, error)
}

// Options tunes the Orchestrator. Zero values fall back to defaults.
type Options struct {
	// Interval between scheduled self-triggers per monitor.
	Interval time.Duration
	// SafetyTimeout forces a job with no progress into Error.
	SafetyTimeout time.Duration
	// PollInterval is the worker status polling period for Run.
	PollInterval time.Duration
}

// Orchestrator supervises at most one training job per monitor. Triggers are
// mutually exclusive per monitor, stuck jobs are reaped by a safety timeout,
// and completed jobs persist a Prediction and feed the risk sink.
type Orchestrator struct {
	worker Worker
	st     store.Store
	bus    *event.Bus
	met    *metrics.Set
	sink   RiskSink

	interval      time.Duration
	safetyTimeout time.Duration
	pollInterval  time.Duration
	now           func() time.Time // injectable for deterministic tests

	mu sync.Mutex
	// jobs holds the latest job per monitor, running or terminal. A new
	// trigger replaces a terminal entry.
	jobs map[string]store.TrainingJob
	// cache holds the latest prediction per monitor, invalidated only by
	// a forced retrain.
	cache map[string]store.Prediction
}

// NewOrchestrator creates an Orchestrator. sink may be nil when predictions
// should not drive alerting (tests).
func NewOrchestrator(worker Worker, st store.Store, bus *event.Bus, met *metrics.Set, sink RiskSink, opts Options) *Orchestrator {
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.SafetyTimeout <= 0 {
		opts.SafetyTimeout = defaultSafetyTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	return &Orchestrator{
		worker:        worker,
		st:            st,
		bus:           bus,
		met:           met,
		sink:          sink,
		interval:      opts.Interval,
		safetyTimeout: opts.SafetyTimeout,
		pollInterval:  opts.PollInterval,
		now:           time.Now,
		jobs:          make(map[string]store.TrainingJob),
		cache:         make(map[string]store.Prediction),
	}
}

// Interval returns the scheduled self-trigger period.
func (o *Orchestrator) Interval() time.Duration { return o.interval }

// Trigger starts a training job for the monitor. While a job is live the
// trigger is rejected with ErrAlreadyRunning and the running job's id; a live
// job is never preempted. force invalidates the monitor's prediction cache.
func (o *Orchestrator) Trigger(ctx context.Context, monitorID string, force bool) (string, error) {
	o.mu.Lock()

	if cur, ok := o.jobs[monitorID]; ok && !JobState(cur.State).Terminal() {
		if o.now().Sub(cur.LastHeartbeatAt) <= o.safetyTimeout {
			o.mu.Unlock()
			return cur.ID, ErrAlreadyRunning
		}
		// Stuck past the timeout: reap it, then the slot is free.
		o.quarantineLocked(ctx, cur, "no heartbeat within safety timeout")
	}

	if force {
		delete(o.cache, monitorID)
	}

	// Reserve the slot, id included, before the worker call: a concurrent
	// trigger is rejected instead of starting a second job, and its
	// rejection always carries the running job's id.
	now := o.now()
	job := store.TrainingJob{
		ID:              uuid.NewString(),
		MonitorID:       monitorID,
		State:           string(StateStarting),
		StartedAt:       now,
		LastHeartbeatAt: now,
	}
	o.jobs[monitorID] = job
	o.mu.Unlock()

	if err := o.worker.Start(ctx, job.ID, monitorID, force); err != nil {
		o.mu.Lock()
		delete(o.jobs, monitorID)
		o.mu.Unlock()
		return "", fmt.Errorf("start training worker: %w", err)
	}

	if err := o.st.SaveTrainingJob(ctx, job); err != nil {
		slog.Error("training: persist job", "job_id", job.ID, "error", err)
	}
	slog.Info("training job started", "job_id", job.ID, "monitor", monitorID, "force", force)
	return job.ID, nil
}

// TriggerAll runs the scheduled cadence: monitors with a live job are
// silently skipped, the rest get a non-forced trigger.
func (o *Orchestrator) TriggerAll(ctx context.Context, monitorIDs []string) {
	for _, id := range monitorIDs {
		if _, err := o.Trigger(ctx, id, false); err != nil && !errors.Is(err, ErrAlreadyRunning) {
			slog.Error("training: scheduled trigger", "monitor", id, "error", err)
		}
	}
}

// JobStatus returns the monitor's latest job, live or terminal.
func (o *Orchestrator) JobStatus(ctx context.Context, monitorID string) (store.TrainingJob, error) {
	o.mu.Lock()
	job, ok := o.jobs[monitorID]
	o.mu.Unlock()
	if ok {
		return job, nil
	}
	return store.TrainingJob{}, store.ErrNotFound
}

// LatestPrediction returns the monitor's most recent prediction, consulting
// the per-monitor cache before the store.
func (o *Orchestrator) LatestPrediction(ctx context.Context, monitorID string) (store.Prediction, error) {
	o.mu.Lock()
	p, ok := o.cache[monitorID]
	o.mu.Unlock()
	if ok {
		return p, nil
	}

	p, err := o.st.LatestPrediction(ctx, monitorID)
	if err != nil {
		return store.Prediction{}, err
	}
	o.mu.Lock()
	o.cache[monitorID] = p
	o.mu.Unlock()
	return p, nil
}

// Forget drops a removed monitor's job slot and cache entry.
func (o *Orchestrator) Forget(monitorID string) {
	o.mu.Lock()
	delete(o.jobs, monitorID)
	delete(o.cache, monitorID)
	o.mu.Unlock()
}

// Run polls worker status until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) {
	t := time.NewTicker(o.pollInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			o.Poll(ctx)
		}
	}
}

// Poll fetches status for every live job and applies the observations. The
// worker call happens outside the orchestrator lock.
func (o *Orchestrator) Poll(ctx context.Context) {
	o.mu.Lock()
	live := make([]store.TrainingJob, 0, len(o.jobs))
	for _, j := range o.jobs {
		if !JobState(j.State).Terminal() {
			live = append(live, j)
		}
	}
	o.mu.Unlock()

	for _, job := range live {
		st, err := o.worker.Status(ctx, job.ID)
		if err != nil {
			slog.Warn("training: status poll failed", "job_id", job.ID, "error", err)
			o.reapIfStuck(ctx, job.MonitorID, job.ID)
			continue
		}
		o.apply(ctx, job.MonitorID, job.ID, st)
	}
}

// reapIfStuck forces the job to Error once its heartbeat is older than the
// safety timeout.
func (o *Orchestrator) reapIfStuck(ctx context.Context, monitorID, jobID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	cur, ok := o.jobs[monitorID]
	if !ok || cur.ID != jobID || JobState(cur.State).Terminal() {
		return
	}
	if o.now().Sub(cur.LastHeartbeatAt) > o.safetyTimeout {
		o.quarantineLocked(ctx, cur, "no heartbeat within safety timeout")
	}
}

// quarantineLocked forces a job into Error. Callers hold o.mu.
func (o *Orchestrator) quarantineLocked(ctx context.Context, job store.TrainingJob, msg string) {
	now := o.now()
	job.State = string(StateError)
	job.Message = msg
	job.FinishedAt = &now
	o.jobs[job.MonitorID] = job

	o.met.TrainingFinished("error", now.Sub(job.StartedAt))
	if err := o.st.SaveTrainingJob(ctx, job); err != nil {
		slog.Error("training: persist job", "job_id", job.ID, "error", err)
	}
	slog.Warn("training job quarantined", "job_id", job.ID, "monitor", job.MonitorID, "reason", msg)
}

// apply folds one status observation into the job slot.
func (o *Orchestrator) apply(ctx context.Context, monitorID, jobID string, st Status) {
	o.mu.Lock()

	cur, ok := o.jobs[monitorID]
	if !ok || cur.ID != jobID || JobState(cur.State).Terminal() {
		// The slot moved on (reaped or replaced); this observation is
		// for a job that no longer owns it.
		o.mu.Unlock()
		return
	}

	if !st.State.Known() {
		o.quarantineLocked(ctx, cur, fmt.Sprintf("worker reported unrecognized state %q", st.State))
		o.mu.Unlock()
		return
	}
	if stageRank[st.State] < stageRank[JobState(cur.State)] {
		// Stale observation from a slow poll; states never regress.
		o.mu.Unlock()
		return
	}

	now := o.now()
	advanced := string(st.State) != cur.State || st.Progress > cur.Progress
	if advanced {
		cur.LastHeartbeatAt = now
	} else if now.Sub(cur.LastHeartbeatAt) > o.safetyTimeout {
		o.quarantineLocked(ctx, cur, "no heartbeat within safety timeout")
		o.mu.Unlock()
		return
	}

	cur.State = string(st.State)
	if st.Progress > cur.Progress {
		cur.Progress = st.Progress
	}
	if st.Message != "" {
		cur.Message = st.Message
	}
	terminal := st.State.Terminal()
	if terminal {
		cur.FinishedAt = &now
	}
	o.jobs[monitorID] = cur

	var prediction *store.Prediction
	if st.State == StateCompleted && st.Prediction != nil {
		p := *st.Prediction
		o.cache[monitorID] = p
		prediction = &p
	}
	o.mu.Unlock()

	if err := o.st.SaveTrainingJob(ctx, cur); err != nil {
		slog.Error("training: persist job", "job_id", jobID, "error", err)
	}

	if !terminal {
		return
	}

	took := now.Sub(cur.StartedAt)
	o.met.TrainingFinished(string(st.State), took)

	switch st.State {
	case StateSkipped:
		slog.Info("training job skipped", "job_id", jobID, "monitor", monitorID, "message", cur.Message)
	case StateError:
		slog.Warn("training job failed", "job_id", jobID, "monitor", monitorID, "message", cur.Message)
	case StateCompleted:
		slog.Info("training job completed", "job_id", jobID, "monitor", monitorID, "took", took)
		if prediction == nil {
			slog.Warn("training completed without a prediction", "job_id", jobID, "monitor", monitorID)
			return
		}
		if err := o.st.SavePrediction(ctx, *prediction); err != nil {
			slog.Error("training: persist prediction", "job_id", jobID, "error", err)
		}
		if o.bus != nil {
			o.bus.Publish(event.Event{
				Type:      event.TypePredictionReady,
				MonitorID: monitorID,
				At:        now,
				Payload:   *prediction,
			})
		}
		if o.sink != nil {
			if _, _, err := o.sink.OnPredictiveRisk(ctx, monitorID, *prediction); err != nil {
				slog.Error("training: predictive risk dispatch", "monitor", monitorID, "error", err)
			}
		}
	}
}
