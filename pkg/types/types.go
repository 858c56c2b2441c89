package types

import (
	"errors"
	"time"
)

// CheckResult is one probe outcome for a monitor. It is produced by
// pulseguard-agent, shipped to the server, and consumed exactly once by the
// ingest pipeline. Results are immutable facts: the server never rewrites
// them, only appends them to the monitor's rolling window.
type CheckResult struct {
	MonitorID  string    `json:"monitor_id"`
	Timestamp  time.Time `json:"timestamp"`
	Success    bool      `json:"success"`
	LatencyMS  float64   `json:"latency_ms"`
	StatusCode int       `json:"status_code,omitempty"`
	Error      string    `json:"error,omitempty"`

	// CertDaysLeft is the target's leaf-certificate lifetime in days when the
	// target is HTTPS. Nil for plain HTTP or when the handshake failed.
	CertDaysLeft *int `json:"cert_days_left,omitempty"`
}

// ErrInvalidResult is returned by Validate for results that must not reach
// the health pipeline.
var ErrInvalidResult = errors.New("invalid check result")

// Validate rejects structurally malformed results at the ingest boundary.
func (r CheckResult) Validate() error {
	if r.MonitorID == "" {
		return errors.Join(ErrInvalidResult, errors.New("monitor_id is required"))
	}
	if r.Timestamp.IsZero() {
		return errors.Join(ErrInvalidResult, errors.New("timestamp is required"))
	}
	if r.LatencyMS < 0 {
		return errors.Join(ErrInvalidResult, errors.New("latency_ms must not be negative"))
	}
	return nil
}

// IngestRequest is the payload of POST /api/v1/ingest.
type IngestRequest struct {
	Results []CheckResult `json:"results"`
}

// IngestResponse reports how many results the server accepted or rejected.
// Rejections (stale timestamps, unknown monitors, malformed results) are
// not errors at the transport level; the batch as a whole still succeeds.
type IngestResponse struct {
	Accepted int    `json:"accepted"`
	Rejected int    `json:"rejected"`
	Message  string `json:"message,omitempty"`
}
