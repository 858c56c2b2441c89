package training

import (
	"context"

	"github.com/pulseguard/pulseguard/server/internal/store"
)

// JobState is one stage of a training job. States only ever advance; a
// regression reported by a worker is treated as stale and ignored.
type JobState string

const (
	StateIdle          JobState = "idle"
	StateStarting      JobState = "starting"
	StatePreparingData JobState = "preparing_data"
	StateTraining      JobState = "training"
	StateAnalyzing     JobState = "analyzing"
	StateCompleted     JobState = "completed"
	// StateError is a job failure. Skipped means insufficient history and
	// is explicitly not a failure.
	StateError   JobState = "error"
	StateSkipped JobState = "skipped"
)

// stageRank orders the non-terminal pipeline for monotonicity checks.
// Terminal states rank above everything.
var stageRank = map[JobState]int{
	StateIdle:          0,
	StateStarting:      1,
	StatePreparingData: 2,
	StateTraining:      3,
	StateAnalyzing:     4,
	StateCompleted:     5,
	StateError:         5,
	StateSkipped:       5,
}

// Known reports whether the state is part of the contract. Workers are
// free-form collaborators; anything unrecognized is quarantined to Error
// rather than propagated.
func (s JobState) Known() bool {
	_, ok := stageRank[s]
	return ok
}

// Terminal reports whether the job is finished.
func (s JobState) Terminal() bool {
	return s == StateCompleted || s == StateError || s == StateSkipped
}

// Status is one observation of a running job. Prediction is set only when
// State is Completed.
type Status struct {
	State      JobState
	Progress   int
	Message    string
	Prediction *store.Prediction
}

// Worker runs training jobs. The orchestrator assigns the job id before
// calling Start, so the id is known the moment the slot is reserved; Start
// returns immediately and the orchestrator polls Status until a terminal
// state.
type Worker interface {
	Start(ctx context.Context, jobID, monitorID string, force bool) error
	Status(ctx context.Context, jobID string) (Status, error)
}
