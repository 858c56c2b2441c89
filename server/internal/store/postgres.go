package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres is the durable Store, used when the server is configured with a
// database URL. Restarts resume monitor counters, keep alert history, and
// preserve issue-tracker sync state.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ Store = (*Postgres)(nil)

// NewPostgres connects a pool and verifies the connection with a ping.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Close releases the underlying pool.
func (p *Postgres) Close() { p.pool.Close() }

// Migrate creates the schema if it does not exist yet. The schema is small
// enough that idempotent DDL at startup beats a migration tool.
func (p *Postgres) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS monitor_state (
			monitor_id              TEXT PRIMARY KEY,
			status                  TEXT NOT NULL,
			consecutive_failures    INT NOT NULL DEFAULT 0,
			consecutive_successes   INT NOT NULL DEFAULT 0,
			last_transition_at      TIMESTAMPTZ,
			last_check_at           TIMESTAMPTZ,
			open_alert_id           TEXT NOT NULL DEFAULT '',
			open_predictive_alert_id TEXT NOT NULL DEFAULT '',
			open_burn_rate_alert_id TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id            TEXT PRIMARY KEY,
			monitor_id    TEXT NOT NULL,
			kind          TEXT NOT NULL,
			severity      TEXT NOT NULL,
			status        TEXT NOT NULL,
			reason        TEXT NOT NULL DEFAULT '',
			risk_factors  JSONB,
			opened_at     TIMESTAMPTZ NOT NULL,
			closed_at     TIMESTAMPTZ,
			close_reason  TEXT NOT NULL DEFAULT '',
			external_ref  TEXT NOT NULL DEFAULT '',
			sync_attempts INT NOT NULL DEFAULT 0,
			close_synced  BOOLEAN NOT NULL DEFAULT FALSE,
			update_pending BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`ALTER TABLE alerts ADD COLUMN IF NOT EXISTS update_pending BOOLEAN NOT NULL DEFAULT FALSE`,
		`CREATE INDEX IF NOT EXISTS alerts_monitor_opened_idx ON alerts (monitor_id, opened_at DESC)`,
		`CREATE TABLE IF NOT EXISTS predictions (
			monitor_id          TEXT NOT NULL,
			produced_at         TIMESTAMPTZ NOT NULL,
			failure_probability DOUBLE PRECISION NOT NULL,
			confidence          DOUBLE PRECISION NOT NULL,
			risk_factors        JSONB,
			model_version       TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (monitor_id, produced_at)
		)`,
		`CREATE TABLE IF NOT EXISTS training_jobs (
			id                TEXT PRIMARY KEY,
			monitor_id        TEXT NOT NULL,
			state             TEXT NOT NULL,
			progress          INT NOT NULL DEFAULT 0,
			started_at        TIMESTAMPTZ NOT NULL,
			last_heartbeat_at TIMESTAMPTZ NOT NULL,
			finished_at       TIMESTAMPTZ,
			message           TEXT NOT NULL DEFAULT ''
		)`,
	}
	for _, s := range stmts {
		if _, err := p.pool.Exec(ctx, s); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (p *Postgres) LoadMonitorState(ctx context.Context, monitorID string) (MonitorState, error) {
	var st MonitorState
	err := p.pool.QueryRow(ctx, `
		SELECT monitor_id, status, consecutive_failures, consecutive_successes,
		       COALESCE(last_transition_at, 'epoch'::timestamptz),
		       COALESCE(last_check_at, 'epoch'::timestamptz),
		       open_alert_id, open_predictive_alert_id, open_burn_rate_alert_id
		FROM monitor_state WHERE monitor_id = $1`, monitorID).
		Scan(&st.MonitorID, &st.Status, &st.ConsecutiveFailures, &st.ConsecutiveSuccesses,
			&st.LastTransitionAt, &st.LastCheckAt,
			&st.OpenAlertID, &st.OpenPredictiveAlertID, &st.OpenBurnRateAlertID)
	if errors.Is(err, pgx.ErrNoRows) {
		return MonitorState{}, ErrNotFound
	}
	if err != nil {
		return MonitorState{}, fmt.Errorf("load monitor state: %w", err)
	}
	return st, nil
}

func (p *Postgres) SaveMonitorState(ctx context.Context, st MonitorState) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO monitor_state (monitor_id, status, consecutive_failures, consecutive_successes,
			last_transition_at, last_check_at, open_alert_id, open_predictive_alert_id,
			open_burn_rate_alert_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (monitor_id) DO UPDATE SET
			status = EXCLUDED.status,
			consecutive_failures = EXCLUDED.consecutive_failures,
			consecutive_successes = EXCLUDED.consecutive_successes,
			last_transition_at = EXCLUDED.last_transition_at,
			last_check_at = EXCLUDED.last_check_at,
			open_alert_id = EXCLUDED.open_alert_id,
			open_predictive_alert_id = EXCLUDED.open_predictive_alert_id,
			open_burn_rate_alert_id = EXCLUDED.open_burn_rate_alert_id`,
		st.MonitorID, st.Status, st.ConsecutiveFailures, st.ConsecutiveSuccesses,
		st.LastTransitionAt, st.LastCheckAt, st.OpenAlertID, st.OpenPredictiveAlertID,
		st.OpenBurnRateAlertID)
	if err != nil {
		return fmt.Errorf("save monitor state: %w", err)
	}
	return nil
}

func (p *Postgres) DeleteMonitorState(ctx context.Context, monitorID string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM monitor_state WHERE monitor_id = $1`, monitorID); err != nil {
		return fmt.Errorf("delete monitor state: %w", err)
	}
	return nil
}

func (p *Postgres) SaveAlert(ctx context.Context, a AlertRecord) error {
	factors, err := json.Marshal(a.RiskFactors)
	if err != nil {
		return fmt.Errorf("marshal risk factors: %w", err)
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO alerts (id, monitor_id, kind, severity, status, reason, risk_factors,
			opened_at, closed_at, close_reason, external_ref, sync_attempts, close_synced,
			update_pending)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (id) DO UPDATE SET
			severity = EXCLUDED.severity,
			status = EXCLUDED.status,
			reason = EXCLUDED.reason,
			risk_factors = EXCLUDED.risk_factors,
			closed_at = EXCLUDED.closed_at,
			close_reason = EXCLUDED.close_reason,
			external_ref = EXCLUDED.external_ref,
			sync_attempts = EXCLUDED.sync_attempts,
			close_synced = EXCLUDED.close_synced,
			update_pending = EXCLUDED.update_pending`,
		a.ID, a.MonitorID, a.Kind, a.Severity, a.Status, a.Reason, factors,
		a.OpenedAt, a.ClosedAt, a.CloseReason, a.ExternalRef, a.SyncAttempts, a.CloseSynced,
		a.UpdatePending)
	if err != nil {
		return fmt.Errorf("save alert: %w", err)
	}
	return nil
}

func (p *Postgres) UpdateAlert(ctx context.Context, a AlertRecord) error {
	factors, err := json.Marshal(a.RiskFactors)
	if err != nil {
		return fmt.Errorf("marshal risk factors: %w", err)
	}
	tag, err := p.pool.Exec(ctx, `
		UPDATE alerts SET severity = $2, status = $3, reason = $4, risk_factors = $5,
			closed_at = $6, close_reason = $7, external_ref = $8,
			sync_attempts = $9, close_synced = $10, update_pending = $11
		WHERE id = $1`,
		a.ID, a.Severity, a.Status, a.Reason, factors,
		a.ClosedAt, a.CloseReason, a.ExternalRef, a.SyncAttempts, a.CloseSynced,
		a.UpdatePending)
	if err != nil {
		return fmt.Errorf("update alert: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const alertColumns = `id, monitor_id, kind, severity, status, reason, risk_factors,
	opened_at, closed_at, close_reason, external_ref, sync_attempts, close_synced,
	update_pending`

func scanAlert(row pgx.Row) (AlertRecord, error) {
	var a AlertRecord
	var factors []byte
	err := row.Scan(&a.ID, &a.MonitorID, &a.Kind, &a.Severity, &a.Status, &a.Reason, &factors,
		&a.OpenedAt, &a.ClosedAt, &a.CloseReason, &a.ExternalRef, &a.SyncAttempts, &a.CloseSynced,
		&a.UpdatePending)
	if err != nil {
		return AlertRecord{}, err
	}
	if len(factors) > 0 {
		if err := json.Unmarshal(factors, &a.RiskFactors); err != nil {
			return AlertRecord{}, fmt.Errorf("unmarshal risk factors: %w", err)
		}
	}
	return a, nil
}

func (p *Postgres) GetAlert(ctx context.Context, id string) (AlertRecord, error) {
	a, err := scanAlert(p.pool.QueryRow(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return AlertRecord{}, ErrNotFound
	}
	if err != nil {
		return AlertRecord{}, fmt.Errorf("get alert: %w", err)
	}
	return a, nil
}

func (p *Postgres) queryAlerts(ctx context.Context, q string, args ...any) ([]AlertRecord, error) {
	rows, err := p.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var out []AlertRecord
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (p *Postgres) ListOpenAlerts(ctx context.Context, monitorID string) ([]AlertRecord, error) {
	if monitorID == "" {
		return p.queryAlerts(ctx, `SELECT `+alertColumns+` FROM alerts
			WHERE status <> 'closed' ORDER BY opened_at DESC`)
	}
	return p.queryAlerts(ctx, `SELECT `+alertColumns+` FROM alerts
		WHERE status <> 'closed' AND monitor_id = $1 ORDER BY opened_at DESC`, monitorID)
}

func (p *Postgres) ListAlerts(ctx context.Context, monitorID string, limit int) ([]AlertRecord, error) {
	if limit <= 0 {
		limit = 1000
	}
	if monitorID == "" {
		return p.queryAlerts(ctx, `SELECT `+alertColumns+` FROM alerts
			ORDER BY opened_at DESC LIMIT $1`, limit)
	}
	return p.queryAlerts(ctx, `SELECT `+alertColumns+` FROM alerts
		WHERE monitor_id = $1 ORDER BY opened_at DESC LIMIT $2`, monitorID, limit)
}

func (p *Postgres) ListSyncPending(ctx context.Context, maxAttempts int) ([]AlertRecord, error) {
	return p.queryAlerts(ctx, `SELECT `+alertColumns+` FROM alerts
		WHERE sync_attempts < $1
		  AND ((status <> 'closed' AND (external_ref = '' OR update_pending))
		    OR (status = 'closed' AND external_ref <> '' AND NOT close_synced))
		ORDER BY opened_at ASC`, maxAttempts)
}

func (p *Postgres) SavePrediction(ctx context.Context, pr Prediction) error {
	factors, err := json.Marshal(pr.RiskFactors)
	if err != nil {
		return fmt.Errorf("marshal risk factors: %w", err)
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO predictions (monitor_id, produced_at, failure_probability, confidence,
			risk_factors, model_version)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (monitor_id, produced_at) DO UPDATE SET
			failure_probability = EXCLUDED.failure_probability,
			confidence = EXCLUDED.confidence,
			risk_factors = EXCLUDED.risk_factors,
			model_version = EXCLUDED.model_version`,
		pr.MonitorID, pr.ProducedAt, pr.FailureProbability, pr.Confidence, factors, pr.ModelVersion)
	if err != nil {
		return fmt.Errorf("save prediction: %w", err)
	}
	return nil
}

func (p *Postgres) ListPredictions(ctx context.Context, monitorID string, limit int) ([]Prediction, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := p.pool.Query(ctx, `
		SELECT monitor_id, produced_at, failure_probability, confidence, risk_factors, model_version
		FROM predictions WHERE monitor_id = $1 ORDER BY produced_at DESC LIMIT $2`,
		monitorID, limit)
	if err != nil {
		return nil, fmt.Errorf("query predictions: %w", err)
	}
	defer rows.Close()

	var out []Prediction
	for rows.Next() {
		var pr Prediction
		var factors []byte
		if err := rows.Scan(&pr.MonitorID, &pr.ProducedAt, &pr.FailureProbability,
			&pr.Confidence, &factors, &pr.ModelVersion); err != nil {
			return nil, fmt.Errorf("scan prediction: %w", err)
		}
		if len(factors) > 0 {
			if err := json.Unmarshal(factors, &pr.RiskFactors); err != nil {
				return nil, fmt.Errorf("unmarshal risk factors: %w", err)
			}
		}
		out = append(out, pr)
	}
	return out, rows.Err()
}

func (p *Postgres) LatestPrediction(ctx context.Context, monitorID string) (Prediction, error) {
	ps, err := p.ListPredictions(ctx, monitorID, 1)
	if err != nil {
		return Prediction{}, err
	}
	if len(ps) == 0 {
		return Prediction{}, ErrNotFound
	}
	return ps[0], nil
}

func (p *Postgres) SaveTrainingJob(ctx context.Context, j TrainingJob) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO training_jobs (id, monitor_id, state, progress, started_at,
			last_heartbeat_at, finished_at, message)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			progress = EXCLUDED.progress,
			last_heartbeat_at = EXCLUDED.last_heartbeat_at,
			finished_at = EXCLUDED.finished_at,
			message = EXCLUDED.message`,
		j.ID, j.MonitorID, j.State, j.Progress, j.StartedAt, j.LastHeartbeatAt, j.FinishedAt, j.Message)
	if err != nil {
		return fmt.Errorf("save training job: %w", err)
	}
	return nil
}

func (p *Postgres) GetTrainingJob(ctx context.Context, id string) (TrainingJob, error) {
	var j TrainingJob
	err := p.pool.QueryRow(ctx, `
		SELECT id, monitor_id, state, progress, started_at, last_heartbeat_at, finished_at, message
		FROM training_jobs WHERE id = $1`, id).
		Scan(&j.ID, &j.MonitorID, &j.State, &j.Progress, &j.StartedAt,
			&j.LastHeartbeatAt, &j.FinishedAt, &j.Message)
	if errors.Is(err, pgx.ErrNoRows) {
		return TrainingJob{}, ErrNotFound
	}
	if err != nil {
		return TrainingJob{}, fmt.Errorf("get training job: %w", err)
	}
	return j, nil
}
