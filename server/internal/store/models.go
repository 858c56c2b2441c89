package store

import "time"

// AlertKind distinguishes the three alert families the engine raises.
type AlertKind string

const (
	KindDowntime   AlertKind = "downtime"
	KindPredictive AlertKind = "predictive"
	KindBurnRate   AlertKind = "burn_rate"
)

// Severity of an alert. Downtime and predictive alerts are always critical
// and warning respectively; burn-rate alerts move between the two.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// AlertStatus is the lifecycle state of an alert record.
type AlertStatus string

const (
	AlertOpen AlertStatus = "open"
	// AlertSuppressed is an acknowledged alert: it still occupies the
	// monitor's open slot (no duplicate can open) but is muted.
	AlertSuppressed AlertStatus = "suppressed"
	AlertClosed     AlertStatus = "closed"
)

// MonitorState is the durable per-monitor record the engine persists after
// every ingested check, so a restart resumes counting instead of starting
// from pending.
type MonitorState struct {
	MonitorID            string    `json:"monitor_id"`
	Status               string    `json:"status"`
	ConsecutiveFailures  int       `json:"consecutive_failures"`
	ConsecutiveSuccesses int       `json:"consecutive_successes"`
	LastTransitionAt     time.Time `json:"last_transition_at,omitempty"`
	LastCheckAt          time.Time `json:"last_check_at,omitempty"`

	// Open-alert slots, one per alert kind. Empty means no open alert.
	OpenAlertID           string `json:"open_alert_id,omitempty"`
	OpenPredictiveAlertID string `json:"open_predictive_alert_id,omitempty"`
	OpenBurnRateAlertID   string `json:"open_burn_rate_alert_id,omitempty"`
}

// AlertRecord is one alert through its whole lifecycle. ExternalRef holds the
// issue-tracker reference once the open has been synced; CloseSynced records
// whether the tracker has been told about the close.
type AlertRecord struct {
	ID          string      `json:"id"`
	MonitorID   string      `json:"monitor_id"`
	Kind        AlertKind   `json:"kind"`
	Severity    Severity    `json:"severity"`
	Status      AlertStatus `json:"status"`
	Reason      string      `json:"reason"`
	RiskFactors []string    `json:"risk_factors,omitempty"`

	OpenedAt    time.Time  `json:"opened_at"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`
	CloseReason string     `json:"close_reason,omitempty"`

	ExternalRef  string `json:"external_ref,omitempty"`
	SyncAttempts int    `json:"sync_attempts"`
	CloseSynced  bool   `json:"close_synced"`
	// UpdatePending marks an already-filed issue whose severity changed
	// locally; the sync loop re-delivers it to the tracker.
	UpdatePending bool `json:"update_pending,omitempty"`
}

// SyncPending reports whether the issue tracker still needs to hear about
// this alert, given the per-alert attempt cap.
func (a AlertRecord) SyncPending(maxAttempts int) bool {
	if a.SyncAttempts >= maxAttempts {
		return false
	}
	switch a.Status {
	case AlertOpen, AlertSuppressed:
		return a.ExternalRef == "" || a.UpdatePending
	case AlertClosed:
		return a.ExternalRef != "" && !a.CloseSynced
	}
	return false
}

// Prediction is one completed training run's output. Predictions are
// append-only; the latest one per monitor is what the API and the predictive
// alert path consume.
type Prediction struct {
	MonitorID          string    `json:"monitor_id"`
	ProducedAt         time.Time `json:"produced_at"`
	FailureProbability float64   `json:"failure_probability"`
	Confidence         float64   `json:"confidence"`
	RiskFactors        []string  `json:"risk_factors,omitempty"`
	ModelVersion       string    `json:"model_version"`
}

// TrainingJob is the persisted view of one orchestrated training run.
type TrainingJob struct {
	ID              string     `json:"id"`
	MonitorID       string     `json:"monitor_id"`
	State           string     `json:"state"`
	Progress        int        `json:"progress"`
	StartedAt       time.Time  `json:"started_at"`
	LastHeartbeatAt time.Time  `json:"last_heartbeat_at"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
	Message         string     `json:"message,omitempty"`
}
