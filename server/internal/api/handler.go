package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/pulseguard/pulseguard/pkg/types"
	"github.com/pulseguard/pulseguard/server/internal/alerts"
	"github.com/pulseguard/pulseguard/server/internal/engine"
	"github.com/pulseguard/pulseguard/server/internal/store"
	"github.com/pulseguard/pulseguard/server/internal/training"
)

const defaultPredictionLimit = 50

// Handler is the HTTP handler for all /api/v1/* endpoints. It composes
// monitor snapshots from the engine with alert, prediction, and training
// state from the other components.
type Handler struct {
	eng     *engine.Engine
	orch    *training.Orchestrator
	mgr     *alerts.Manager
	st      store.Store
	maxSync int
	mux     *http.ServeMux
}

// New creates a Handler and registers all routes. maxSyncAttempts mirrors the
// alert manager's retry cap and drives the sync_pending flag.
func New(eng *engine.Engine, orch *training.Orchestrator, mgr *alerts.Manager, st store.Store, maxSyncAttempts int) http.Handler {
	h := &Handler{
		eng:     eng,
		orch:    orch,
		mgr:     mgr,
		st:      st,
		maxSync: maxSyncAttempts,
		mux:     http.NewServeMux(),
	}

	h.mux.HandleFunc("/api/v1/health", h.health)
	h.mux.HandleFunc("/api/v1/monitors", h.listMonitors)
	h.mux.HandleFunc("/api/v1/monitors/", h.monitorSubtree) // {id}, {id}/training, {id}/predictions
	h.mux.HandleFunc("/api/v1/alerts", h.listAlerts)
	h.mux.HandleFunc("/api/v1/alerts/", h.alertSubtree) // {id}/ack
	h.mux.HandleFunc("/api/v1/ingest", h.ingest)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// health returns GET /api/v1/health with monitor counts by status.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	snaps := h.eng.Snapshots()
	resp := HealthResponse{MonitorCount: len(snaps)}
	for _, s := range snaps {
		switch s.Status {
		case "up":
			resp.UpCount++
		case "down":
			resp.DownCount++
		default:
			resp.PendingCount++
		}
	}

	open, err := h.st.ListOpenAlerts(r.Context(), "")
	if err != nil {
		jsonErr(w, http.StatusInternalServerError, "store unavailable")
		return
	}
	resp.OpenAlerts = len(open)
	jsonResp(w, http.StatusOK, resp)
}

// listMonitors returns GET /api/v1/monitors, composed snapshots of all
// monitors.
func (h *Handler) listMonitors(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	snaps := h.eng.Snapshots()
	out := make([]MonitorResponse, 0, len(snaps))
	for _, snap := range snaps {
		out = append(out, h.compose(r, snap))
	}
	jsonResp(w, http.StatusOK, out)
}

// monitorSubtree dispatches /api/v1/monitors/{id}[/training|/predictions].
func (h *Handler) monitorSubtree(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/monitors/")
	if rest == "" {
		h.listMonitors(w, r)
		return
	}

	id, action, _ := strings.Cut(rest, "/")
	switch action {
	case "":
		h.getMonitor(w, r, id)
	case "training":
		h.training(w, r, id)
	case "predictions":
		h.predictions(w, r, id)
	default:
		jsonErr(w, http.StatusNotFound, "not found")
	}
}

// getMonitor returns GET /api/v1/monitors/{id}.
func (h *Handler) getMonitor(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	snap, err := h.eng.Snapshot(id)
	if err != nil {
		jsonErr(w, http.StatusNotFound, "monitor not found")
		return
	}
	jsonResp(w, http.StatusOK, h.compose(r, snap))
}

// training handles GET and POST /api/v1/monitors/{id}/training.
func (h *Handler) training(w http.ResponseWriter, r *http.Request, id string) {
	if _, err := h.eng.Snapshot(id); err != nil {
		jsonErr(w, http.StatusNotFound, "monitor not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		job, err := h.orch.JobStatus(r.Context(), id)
		if errors.Is(err, store.ErrNotFound) {
			jsonResp(w, http.StatusOK, TrainingResponse{State: string(training.StateIdle)})
			return
		}
		if err != nil {
			jsonErr(w, http.StatusInternalServerError, "training status unavailable")
			return
		}
		jsonResp(w, http.StatusOK, toTrainingResponse(job))

	case http.MethodPost:
		// An empty body means a plain, non-forced trigger.
		var req TriggerTrainingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			jsonErr(w, http.StatusBadRequest, "invalid request body")
			return
		}

		jobID, err := h.orch.Trigger(r.Context(), id, req.ForceRetrain)
		if errors.Is(err, training.ErrAlreadyRunning) {
			jsonResp(w, http.StatusConflict, TriggerTrainingResponse{
				JobID: jobID,
				Error: "training already running",
			})
			return
		}
		if err != nil {
			slog.Error("trigger training", "monitor", id, "error", err)
			jsonErr(w, http.StatusInternalServerError, "failed to start training")
			return
		}
		jsonResp(w, http.StatusAccepted, TriggerTrainingResponse{JobID: jobID})

	default:
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// predictions returns GET /api/v1/monitors/{id}/predictions: history,
// newest first, capped by ?limit=.
func (h *Handler) predictions(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if _, err := h.eng.Snapshot(id); err != nil {
		jsonErr(w, http.StatusNotFound, "monitor not found")
		return
	}

	limit := defaultPredictionLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			jsonErr(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	ps, err := h.st.ListPredictions(r.Context(), id, limit)
	if err != nil {
		jsonErr(w, http.StatusInternalServerError, "store unavailable")
		return
	}
	if ps == nil {
		ps = []store.Prediction{}
	}
	jsonResp(w, http.StatusOK, ps)
}

// listAlerts returns GET /api/v1/alerts: open alerts across monitors, or
// full history with ?include_closed=true; ?monitor= filters.
func (h *Handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	monitorID := r.URL.Query().Get("monitor")
	var (
		records []store.AlertRecord
		err     error
	)
	if r.URL.Query().Get("include_closed") == "true" {
		records, err = h.st.ListAlerts(r.Context(), monitorID, 0)
	} else {
		records, err = h.st.ListOpenAlerts(r.Context(), monitorID)
	}
	if err != nil {
		jsonErr(w, http.StatusInternalServerError, "store unavailable")
		return
	}

	out := make([]AlertResponse, 0, len(records))
	for _, a := range records {
		out = append(out, AlertResponse{AlertRecord: a, SyncPending: a.SyncPending(h.maxSync)})
	}
	jsonResp(w, http.StatusOK, out)
}

// alertSubtree dispatches POST /api/v1/alerts/{id}/ack.
func (h *Handler) alertSubtree(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/alerts/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" || action != "ack" {
		jsonErr(w, http.StatusNotFound, "not found")
		return
	}
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	a, err := h.mgr.Acknowledge(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		jsonErr(w, http.StatusNotFound, "alert not found")
	case errors.Is(err, alerts.ErrAlertClosed):
		jsonErr(w, http.StatusConflict, "alert already closed")
	case err != nil:
		jsonErr(w, http.StatusInternalServerError, "failed to acknowledge")
	default:
		jsonResp(w, http.StatusOK, AlertResponse{AlertRecord: a, SyncPending: a.SyncPending(h.maxSync)})
	}
}

// ingest handles POST /api/v1/ingest, the agent check-result batches.
func (h *Handler) ingest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req types.IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Results) == 0 {
		jsonErr(w, http.StatusBadRequest, "empty batch")
		return
	}

	accepted, rejected := h.eng.IngestBatch(r.Context(), req.Results)
	jsonResp(w, http.StatusOK, types.IngestResponse{
		Accepted: accepted,
		Rejected: rejected,
	})
}

// compose attaches alert, prediction, and training state to an engine
// snapshot.
func (h *Handler) compose(r *http.Request, snap engine.Snapshot) MonitorResponse {
	out := baseMonitorResponse(snap)
	id := snap.Monitor.ID

	if open, err := h.st.ListOpenAlerts(r.Context(), id); err == nil {
		for _, a := range open {
			out.OpenAlerts = append(out.OpenAlerts, AlertResponse{
				AlertRecord: a,
				SyncPending: a.SyncPending(h.maxSync),
			})
		}
	}
	if p, err := h.orch.LatestPrediction(r.Context(), id); err == nil {
		out.LatestPrediction = &p
	}
	if job, err := h.orch.JobStatus(r.Context(), id); err == nil {
		out.Training = toTrainingResponse(job)
	}
	return out
}

// --- helpers ----------------------------------------------------------------

func jsonResp(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}
