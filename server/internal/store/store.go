package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence surface the engine, alert manager, and training
// orchestrator write through. Memory is the default; Postgres is selected by
// configuration when durability across restarts matters.
//
// All implementations must be safe for concurrent use and must return copies:
// mutating a returned record never changes stored state until it is saved
// back.
type Store interface {
	// LoadMonitorState returns the persisted state for one monitor, or
	// ErrNotFound for a monitor never seen before.
	LoadMonitorState(ctx context.Context, monitorID string) (MonitorState, error)
	SaveMonitorState(ctx context.Context, st MonitorState) error
	DeleteMonitorState(ctx context.Context, monitorID string) error

	SaveAlert(ctx context.Context, a AlertRecord) error
	// UpdateAlert overwrites an existing record; ErrNotFound if absent.
	UpdateAlert(ctx context.Context, a AlertRecord) error
	GetAlert(ctx context.Context, id string) (AlertRecord, error)
	// ListOpenAlerts returns open and suppressed alerts, newest first.
	// An empty monitorID means all monitors.
	ListOpenAlerts(ctx context.Context, monitorID string) ([]AlertRecord, error)
	// ListAlerts returns alerts in any status, newest first, at most limit
	// (limit <= 0 means no cap). An empty monitorID means all monitors.
	ListAlerts(ctx context.Context, monitorID string, limit int) ([]AlertRecord, error)
	// ListSyncPending returns alerts the issue tracker has not confirmed
	// yet, per AlertRecord.SyncPending.
	ListSyncPending(ctx context.Context, maxAttempts int) ([]AlertRecord, error)

	SavePrediction(ctx context.Context, p Prediction) error
	// ListPredictions returns predictions newest first, at most limit
	// (limit <= 0 means no cap).
	ListPredictions(ctx context.Context, monitorID string, limit int) ([]Prediction, error)
	// LatestPrediction returns the most recent prediction for the monitor,
	// or ErrNotFound if none has been produced.
	LatestPrediction(ctx context.Context, monitorID string) (Prediction, error)

	SaveTrainingJob(ctx context.Context, j TrainingJob) error
	GetTrainingJob(ctx context.Context, id string) (TrainingJob, error)
}
