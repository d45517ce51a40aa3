package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver (no CGO required)

	"github.com/cementai/optimizer-agent/internal/models"
)

// schema for the agent's persistence layer. Versions are tracked in the
// schema_versions table and applied in order.
var migrations = []struct {
	version int
	sql     string
}{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_versions (
    version     INTEGER PRIMARY KEY,
    applied_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS predictions_live (
    plant_id    TEXT NOT NULL,
    line_id     TEXT NOT NULL,
    timestamp   DATETIME NOT NULL,
    metrics     TEXT NOT NULL DEFAULT '{}',
    PRIMARY KEY (plant_id, line_id, timestamp)
);
CREATE INDEX IF NOT EXISTS idx_predictions_line ON predictions_live(plant_id, line_id, timestamp DESC);

CREATE TABLE IF NOT EXISTS ai_recommendations (
    id                           INTEGER PRIMARY KEY AUTOINCREMENT,
    plant_id                     TEXT NOT NULL,
    line_id                      TEXT NOT NULL,
    timestamp                    DATETIME NOT NULL,
    recommendation_type          TEXT NOT NULL,
    action_text                  TEXT NOT NULL DEFAULT '',
    expected_impact              TEXT NOT NULL DEFAULT '',
    confidence_score             REAL NOT NULL DEFAULT 0.0,
    priority                     TEXT NOT NULL DEFAULT 'LOW',
    energy_kwh_per_ton           REAL NOT NULL DEFAULT 0.0,
    predicted_energy_kwh_per_ton REAL NOT NULL DEFAULT 0.0,
    energy_gap_kwh               REAL NOT NULL DEFAULT 0.0,
    pm_risk_probability          REAL
);
CREATE INDEX IF NOT EXISTS idx_recommendations_line ON ai_recommendations(plant_id, line_id, timestamp DESC);

CREATE TABLE IF NOT EXISTS action_audit_log (
    id                  INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp           DATETIME NOT NULL,
    plant_id            TEXT NOT NULL,
    line_id             TEXT NOT NULL,
    action_text         TEXT NOT NULL DEFAULT '',
    recommendation_type TEXT NOT NULL,
    approved_by         TEXT NOT NULL,
    status              TEXT NOT NULL,
    recorded_at         DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE (timestamp, plant_id, line_id, recommendation_type)
);
CREATE INDEX IF NOT EXISTS idx_audit_line ON action_audit_log(plant_id, line_id, timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_audit_status ON action_audit_log(status);
`,
	},
}

// sqliteStore is the SQLite-backed implementation of Store.
type sqliteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path and
// runs all pending schema migrations. Pass ":memory:" for an in-memory store.
func NewSQLiteStore(path string) (Store, error) {
	sdb, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}

	// WAL mode for concurrent readers while the prediction pipeline appends.
	if _, err := sdb.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = sdb.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	s := &sqliteStore{db: sdb}
	if err := s.migrate(); err != nil {
		_ = sdb.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// migrate applies any unapplied migrations in order.
func (s *sqliteStore) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_versions (
        version    INTEGER PRIMARY KEY,
        applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
    )`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		if err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_versions WHERE version = ?`, m.version).Scan(&count); err != nil {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if count > 0 {
			continue // already applied
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}
		if _, err := s.db.Exec(`INSERT INTO schema_versions(version) VALUES(?)`, m.version); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func (s *sqliteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// ─── Process state ────────────────────────────────────────────────────────────

func (s *sqliteStore) GetLatestState(ctx context.Context, plantID, lineID string) (*models.ProcessState, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT timestamp, metrics
        FROM predictions_live
        WHERE plant_id = ? AND line_id = ?
        ORDER BY timestamp DESC
        LIMIT 1
    `, plantID, lineID)

	var ts, metricsJSON string
	if err := row.Scan(&ts, &metricsJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("state for %s/%s: %w", plantID, lineID, ErrNotFound)
		}
		return nil, fmt.Errorf("query latest state: %w", err)
	}

	state := &models.ProcessState{
		PlantID: plantID,
		LineID:  lineID,
		Metrics: map[string]float64{},
	}
	var err error
	if state.Timestamp, err = parseTime(ts); err != nil {
		return nil, fmt.Errorf("state timestamp: %w", err)
	}
	if err := json.Unmarshal([]byte(metricsJSON), &state.Metrics); err != nil {
		return nil, fmt.Errorf("decode state metrics: %w", err)
	}
	return state, nil
}

func (s *sqliteStore) UpsertState(ctx context.Context, state *models.ProcessState) error {
	metricsJSON, err := json.Marshal(state.Metrics)
	if err != nil {
		return fmt.Errorf("encode state metrics: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
        INSERT INTO predictions_live(plant_id, line_id, timestamp, metrics)
        VALUES(?,?,?,?)
        ON CONFLICT(plant_id, line_id, timestamp) DO UPDATE SET metrics = excluded.metrics
    `, state.PlantID, state.LineID, state.Timestamp.UTC(), string(metricsJSON))
	if err != nil {
		return fmt.Errorf("upsert state: %w", err)
	}
	return nil
}

// ─── Recommendations ──────────────────────────────────────────────────────────

func (s *sqliteStore) GetRecentRecommendations(ctx context.Context, plantID, lineID string, limit int) ([]*models.Recommendation, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT timestamp, recommendation_type, action_text, expected_impact,
               confidence_score, priority, energy_kwh_per_ton,
               predicted_energy_kwh_per_ton, energy_gap_kwh, pm_risk_probability
        FROM ai_recommendations
        WHERE plant_id = ? AND line_id = ?
        ORDER BY timestamp DESC, id DESC
        LIMIT ?
    `, plantID, lineID, limit)
	if err != nil {
		return nil, fmt.Errorf("query recommendations: %w", err)
	}
	defer rows.Close()

	recs := []*models.Recommendation{}
	for rows.Next() {
		rec := &models.Recommendation{PlantID: plantID, LineID: lineID}
		var ts string
		var pmRisk sql.NullFloat64
		err := rows.Scan(&ts, &rec.RecommendationType, &rec.ActionText, &rec.ExpectedImpact,
			&rec.ConfidenceScore, &rec.Priority, &rec.CurrentEnergyKWhPerTon,
			&rec.OptimalEnergyKWhPerTon, &rec.EnergyGapKWh, &pmRisk)
		if err != nil {
			return nil, fmt.Errorf("scan recommendation: %w", err)
		}
		if rec.Timestamp, err = parseTime(ts); err != nil {
			return nil, fmt.Errorf("recommendation timestamp: %w", err)
		}
		if pmRisk.Valid {
			v := pmRisk.Float64
			rec.PMRiskProbability = &v
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func (s *sqliteStore) InsertRecommendation(ctx context.Context, rec *models.Recommendation) error {
	var pmRisk any
	if rec.PMRiskProbability != nil {
		pmRisk = *rec.PMRiskProbability
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO ai_recommendations(plant_id, line_id, timestamp, recommendation_type,
            action_text, expected_impact, confidence_score, priority,
            energy_kwh_per_ton, predicted_energy_kwh_per_ton, energy_gap_kwh, pm_risk_probability)
        VALUES(?,?,?,?,?,?,?,?,?,?,?,?)
    `, rec.PlantID, rec.LineID, rec.Timestamp.UTC(), rec.RecommendationType,
		rec.ActionText, rec.ExpectedImpact, rec.ConfidenceScore, string(rec.Priority),
		rec.CurrentEnergyKWhPerTon, rec.OptimalEnergyKWhPerTon, rec.EnergyGapKWh, pmRisk)
	if err != nil {
		return fmt.Errorf("insert recommendation: %w", err)
	}
	return nil
}

// ─── Action audit log ─────────────────────────────────────────────────────────

func (s *sqliteStore) AppendActionRecord(ctx context.Context, rec *models.ActionRecord) error {
	// The natural-key conflict clause makes retried appends idempotent: a
	// caller re-running execute after a transient failure cannot create a
	// duplicate audit row.
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO action_audit_log(timestamp, plant_id, line_id, action_text,
            recommendation_type, approved_by, status)
        VALUES(?,?,?,?,?,?,?)
        ON CONFLICT(timestamp, plant_id, line_id, recommendation_type) DO NOTHING
    `, rec.Timestamp.UTC(), rec.PlantID, rec.LineID, rec.ActionText,
		rec.RecommendationType, rec.ApprovedBy, string(rec.Status))
	if err != nil {
		return fmt.Errorf("append action record: %w", err)
	}
	return nil
}

func (s *sqliteStore) QueryActionRecords(ctx context.Context, q AuditQuery) ([]*models.ActionRecord, error) {
	query := `SELECT timestamp, plant_id, line_id, action_text, recommendation_type, approved_by, status
        FROM action_audit_log WHERE 1=1`
	args := []any{}

	if q.PlantID != "" {
		query += ` AND plant_id = ?`
		args = append(args, q.PlantID)
	}
	if q.LineID != "" {
		query += ` AND line_id = ?`
		args = append(args, q.LineID)
	}
	if q.Status != "" {
		query += ` AND status = ?`
		args = append(args, q.Status)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	query += ` ORDER BY timestamp DESC LIMIT ? OFFSET ?`
	args = append(args, limit, q.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query action records: %w", err)
	}
	defer rows.Close()

	records := []*models.ActionRecord{}
	for rows.Next() {
		rec := &models.ActionRecord{}
		var ts, status string
		if err := rows.Scan(&ts, &rec.PlantID, &rec.LineID, &rec.ActionText,
			&rec.RecommendationType, &rec.ApprovedBy, &status); err != nil {
			return nil, fmt.Errorf("scan action record: %w", err)
		}
		if rec.Timestamp, err = parseTime(ts); err != nil {
			return nil, fmt.Errorf("action record timestamp: %w", err)
		}
		rec.Status = models.ActionStatus(status)
		records = append(records, rec)
	}
	return records, rows.Err()
}

func parseTime(s string) (time.Time, error) {
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05.999999999Z07:00",
		"2006-01-02 15:04:05Z07:00",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
	}
	for _, l := range layouts {
		if t, err := time.Parse(l, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse time %q", s)
}
