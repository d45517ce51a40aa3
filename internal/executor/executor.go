package executor

// Package executor turns approved recommendations into audited action
// records. The audit append is the action in this system: the DCS command
// path lives outside the agent, so an action counts as executed exactly when
// its audit row is durably written.

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/cementai/optimizer-agent/internal/audit"
	"github.com/cementai/optimizer-agent/internal/db"
	"github.com/cementai/optimizer-agent/internal/metrics"
	"github.com/cementai/optimizer-agent/internal/models"
)

// ErrAuditWriteFailed is returned when the audit store append fails. The
// action is NOT considered executed: no audit row means no action.
var ErrAuditWriteFailed = errors.New("audit write failed")

// Executor records action outcomes against the audit store and the file trail.
type Executor struct {
	store  db.AuditStore
	trail  audit.Trail
	logger *zap.Logger
}

// New creates an Executor. trail may be nil to disable the file trail.
func New(store db.AuditStore, trail audit.Trail, logger *zap.Logger) *Executor {
	if trail == nil {
		trail = audit.NopTrail()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{store: store, trail: trail, logger: logger}
}

// Execute carries out (or defers) one recommendation.
//
// approved=false: returns a PENDING_APPROVAL record with no approver and
// performs no audit write; the caller surfaces the recommendation for manual
// approval.
//
// approved=true: appends exactly one EXECUTED record to the audit store with
// the given approver identity. The append is synchronous and its success is
// the success of the execution; on failure ErrAuditWriteFailed is returned
// and no ActionRecord is produced.
func (e *Executor) Execute(ctx context.Context, rec *models.Recommendation, approved bool, approver string) (*models.ActionRecord, error) {
	if err := rec.Validate(); err != nil {
		return nil, err
	}

	record := &models.ActionRecord{
		Timestamp:          rec.Timestamp,
		PlantID:            rec.PlantID,
		LineID:             rec.LineID,
		ActionText:         rec.ActionText,
		RecommendationType: rec.RecommendationType,
	}

	if !approved {
		record.Status = models.StatusPendingApproval
		_ = e.trail.LogActionDeferred(rec.PlantID, rec.LineID, rec.RecommendationType, rec.ActionText)
		metrics.RecommendationsProcessed.WithLabelValues(rec.RecommendationType, "deferred").Inc()
		return record, nil
	}

	if approver == "" {
		return nil, fmt.Errorf("%w: approver required for approved action", models.ErrInvalidRecommendation)
	}

	record.ApprovedBy = approver
	record.Status = models.StatusExecuted

	if err := e.store.AppendActionRecord(ctx, record); err != nil {
		metrics.AuditWriteFailures.Inc()
		_ = e.trail.LogActionFailed(rec.PlantID, rec.LineID, rec.RecommendationType, err)
		e.logger.Error("audit append failed, action not executed",
			zap.String("plant_id", rec.PlantID),
			zap.String("line_id", rec.LineID),
			zap.String("recommendation_type", rec.RecommendationType),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrAuditWriteFailed, err)
	}

	_ = e.trail.LogActionExecuted(rec.PlantID, rec.LineID, rec.RecommendationType, rec.ActionText, approver)
	metrics.RecommendationsProcessed.WithLabelValues(rec.RecommendationType, "executed").Inc()
	e.logger.Info("action executed",
		zap.String("plant_id", rec.PlantID),
		zap.String("line_id", rec.LineID),
		zap.String("recommendation_type", rec.RecommendationType),
		zap.String("approved_by", approver))
	return record, nil
}
