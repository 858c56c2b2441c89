package api

import (
	"time"

	"github.com/pulseguard/pulseguard/pkg/types"
	"github.com/pulseguard/pulseguard/server/internal/engine"
	"github.com/pulseguard/pulseguard/server/internal/slo"
	"github.com/pulseguard/pulseguard/server/internal/store"
)

type errorResponse struct {
	Error string `json:"error"`
}

// HealthResponse summarizes GET /api/v1/health.
type HealthResponse struct {
	MonitorCount int `json:"monitor_count"`
	UpCount      int `json:"up_count"`
	DownCount    int `json:"down_count"`
	PendingCount int `json:"pending_count"`
	OpenAlerts   int `json:"open_alerts"`
}

// WindowResponse is one SLO window's arithmetic.
type WindowResponse struct {
	Window                  string  `json:"window"`
	Total                   int     `json:"total_checks"`
	Failures                int     `json:"failed_checks"`
	UptimePct               float64 `json:"uptime_pct"`
	ErrorRate               float64 `json:"error_rate"`
	BurnRate                float64 `json:"burn_rate"`
	ErrorBudgetRemainingPct float64 `json:"error_budget_remaining_pct"`
	Valid                   bool    `json:"valid"`
}

// SLOResponse carries both windows and the alerting level.
type SLOResponse struct {
	TargetPct float64        `json:"target_pct"`
	Short     WindowResponse `json:"short"`
	Long      WindowResponse `json:"long"`
	Level     string         `json:"level"`
}

// AlertResponse is an alert record plus the sync flag the dashboard shows
// while the external reference is not yet attached.
type AlertResponse struct {
	store.AlertRecord
	SyncPending bool `json:"sync_pending"`
}

// TrainingResponse is the monitor's latest training job.
type TrainingResponse struct {
	JobID           string     `json:"job_id"`
	State           string     `json:"state"`
	ProgressPercent int        `json:"progress_percent"`
	StartedAt       time.Time  `json:"started_at"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
	Message         string     `json:"message,omitempty"`
}

// MonitorResponse is the composed snapshot of one monitor: engine state plus
// alerts, latest prediction, and training status.
type MonitorResponse struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	URL      string `json:"url"`
	Category string `json:"category,omitempty"`

	Status               string             `json:"status"`
	ConsecutiveFailures  int                `json:"consecutive_failures"`
	ConsecutiveSuccesses int                `json:"consecutive_successes"`
	LastCheckAt          *time.Time         `json:"last_check_at,omitempty"`
	LastTransitionAt     *time.Time         `json:"last_transition_at,omitempty"`
	LastResult           *types.CheckResult `json:"last_result,omitempty"`
	CertDaysLeft         *int               `json:"cert_days_left,omitempty"`

	SLO              SLOResponse       `json:"slo"`
	OpenAlerts       []AlertResponse   `json:"open_alerts"`
	LatestPrediction *store.Prediction `json:"latest_prediction,omitempty"`
	Training         *TrainingResponse `json:"training,omitempty"`
}

// TriggerTrainingRequest is the POST /monitors/{id}/training body.
type TriggerTrainingRequest struct {
	ForceRetrain bool `json:"force_retrain"`
}

// TriggerTrainingResponse carries the job id for both 202 and 409 replies;
// on 409 it is the already-running job.
type TriggerTrainingResponse struct {
	JobID string `json:"job_id"`
	Error string `json:"error,omitempty"`
}

func toWindowResponse(w slo.WindowReport) WindowResponse {
	return WindowResponse{
		Window:                  w.Window.String(),
		Total:                   w.Total,
		Failures:                w.Failures,
		UptimePct:               w.UptimePct,
		ErrorRate:               w.ErrorRate,
		BurnRate:                w.BurnRate,
		ErrorBudgetRemainingPct: w.ErrorBudgetRemainingPct,
		Valid:                   w.Valid,
	}
}

func toSLOResponse(targetPct float64, rep slo.Report) SLOResponse {
	return SLOResponse{
		TargetPct: targetPct,
		Short:     toWindowResponse(rep.Short),
		Long:      toWindowResponse(rep.Long),
		Level:     string(rep.Level),
	}
}

func toTrainingResponse(j store.TrainingJob) *TrainingResponse {
	return &TrainingResponse{
		JobID:           j.ID,
		State:           j.State,
		ProgressPercent: j.Progress,
		StartedAt:       j.StartedAt,
		FinishedAt:      j.FinishedAt,
		Message:         j.Message,
	}
}

func baseMonitorResponse(snap engine.Snapshot) MonitorResponse {
	out := MonitorResponse{
		ID:                   snap.Monitor.ID,
		Name:                 snap.Monitor.Name,
		URL:                  snap.Monitor.URL,
		Category:             snap.Monitor.Category,
		Status:               string(snap.Status),
		ConsecutiveFailures:  snap.ConsecutiveFailures,
		ConsecutiveSuccesses: snap.ConsecutiveSuccesses,
		LastResult:           snap.LastResult,
		CertDaysLeft:         snap.CertDaysLeft,
		SLO:                  toSLOResponse(snap.Monitor.SLOTargetPct, snap.SLO),
		OpenAlerts:           []AlertResponse{},
	}
	if !snap.LastCheckAt.IsZero() {
		t := snap.LastCheckAt
		out.LastCheckAt = &t
	}
	if !snap.LastTransitionAt.IsZero() {
		t := snap.LastTransitionAt
		out.LastTransitionAt = &t
	}
	return out
}
