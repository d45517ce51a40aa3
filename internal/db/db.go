package db

import (
	"context"
	"errors"

	"github.com/cementai/optimizer-agent/internal/models"
)

// ErrNotFound is returned when no row exists for the requested plant/line.
// Callers treat a missing state snapshot as an empty result, not a failure.
var ErrNotFound = errors.New("not found")

// Store is the persistence interface for the agent: the latest-prediction
// table, the recommendation feed, and the append-only action audit log.
type Store interface {
	StateStore
	RecommendationStore
	AuditStore

	// Close releases database resources.
	Close() error

	// Ping verifies the connection is alive.
	Ping(ctx context.Context) error
}

// StateStore reads process-state snapshots written by the prediction pipeline.
type StateStore interface {
	// GetLatestState returns the most recent process-state row for a
	// (plant, line) pair, or ErrNotFound when none exists.
	GetLatestState(ctx context.Context, plantID, lineID string) (*models.ProcessState, error)

	// UpsertState writes a process-state snapshot. Used by ingestion and
	// tests; the orchestration core never writes state.
	UpsertState(ctx context.Context, state *models.ProcessState) error
}

// RecommendationStore reads the recommendation feed.
type RecommendationStore interface {
	// GetRecentRecommendations returns up to limit recommendations for a
	// (plant, line) pair, newest first. An empty slice is a valid result.
	GetRecentRecommendations(ctx context.Context, plantID, lineID string, limit int) ([]*models.Recommendation, error)

	// InsertRecommendation appends a recommendation. Used by ingestion and tests.
	InsertRecommendation(ctx context.Context, rec *models.Recommendation) error
}

// AuditStore is the append-only action audit log. The orchestration core
// never reads it back; queries exist for the API/compliance surface only.
type AuditStore interface {
	// AppendActionRecord appends an action record. Appends carrying the same
	// natural key (timestamp, plant_id, line_id, recommendation_type) as an
	// existing row are deduplicated, so a retried execute call cannot produce
	// duplicate audit rows.
	AppendActionRecord(ctx context.Context, rec *models.ActionRecord) error

	// QueryActionRecords returns audit rows, newest first.
	QueryActionRecords(ctx context.Context, q AuditQuery) ([]*models.ActionRecord, error)
}

// AuditQuery filters audit log queries.
type AuditQuery struct {
	PlantID string
	LineID  string
	Status  string
	Limit   int
	Offset  int
}
