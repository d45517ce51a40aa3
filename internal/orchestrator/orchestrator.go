package orchestrator

// Package orchestrator runs the observe-predict-decide-act loop: fetch the
// newest recommendations for a line, explain each one, pass it through the
// approval policy, and execute or defer it. Each recommendation moves through
// FETCHED, EXPLAINED, DECIDED, then EXECUTED or DEFERRED; failures are
// isolated per item and never abort the cycle.

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cementai/optimizer-agent/internal/audit"
	"github.com/cementai/optimizer-agent/internal/db"
	"github.com/cementai/optimizer-agent/internal/metrics"
	"github.com/cementai/optimizer-agent/internal/models"
)

// ItemState is the terminal state a recommendation reached in the cycle.
type ItemState string

const (
	StateExecuted ItemState = "EXECUTED"
	StateDeferred ItemState = "DEFERRED"
	StateInvalid  ItemState = "INVALID"
	StateFailed   ItemState = "FAILED"
)

// CycleItem is one recommendation's journey through a cycle. The slice order
// in CycleResult matches the fetch order (newest recommendation first).
type CycleItem struct {
	Recommendation *models.Recommendation `json:"recommendation"`
	Explanation    string                 `json:"explanation"`
	Decision       *models.Decision       `json:"decision,omitempty"`
	Action         *models.ActionRecord   `json:"action,omitempty"`
	State          ItemState              `json:"state"`
	Error          string                 `json:"error,omitempty"`
}

// CycleResult is the outcome of one RunCycle call.
type CycleResult struct {
	CycleID   string        `json:"cycle_id"`
	PlantID   string        `json:"plant_id"`
	LineID    string        `json:"line_id"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Items     []CycleItem   `json:"items"`
}

// Explainer generates operator-facing prose for a recommendation.
type Explainer interface {
	Explain(ctx context.Context, rec *models.Recommendation, state *models.ProcessState) (string, error)
}

// DecisionEngine is the approval policy.
type DecisionEngine interface {
	Decide(rec *models.Recommendation) (models.Decision, error)
}

// ActionExecutor carries out or defers one recommendation.
type ActionExecutor interface {
	Execute(ctx context.Context, rec *models.Recommendation, approved bool, approver string) (*models.ActionRecord, error)
}

// Config tunes a cycle run.
type Config struct {
	// Approver is the identity recorded on autonomous executions.
	Approver string

	// FetchLimit caps how many recommendations one cycle processes.
	FetchLimit int

	// Concurrency bounds parallel per-item processing. Values below 2 mean
	// strictly sequential processing.
	Concurrency int
}

// DefaultConfig returns the production cycle settings.
func DefaultConfig() Config {
	return Config{
		Approver:    models.ApproverSystemAuto,
		FetchLimit:  5,
		Concurrency: 1,
	}
}

// Orchestrator wires the stores, policy, explainer and executor into cycles.
// It holds no state across cycles.
type Orchestrator struct {
	store     db.Store
	policy    DecisionEngine
	explainer Explainer
	executor  ActionExecutor
	trail     audit.Trail
	logger    *zap.Logger
	cfg       Config
}

// New creates an Orchestrator. trail may be nil to disable the file trail.
func New(store db.Store, policy DecisionEngine, explainer Explainer, executor ActionExecutor, trail audit.Trail, logger *zap.Logger, cfg Config) *Orchestrator {
	if trail == nil {
		trail = audit.NopTrail()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Approver == "" {
		cfg.Approver = models.ApproverSystemAuto
	}
	if cfg.FetchLimit <= 0 {
		cfg.FetchLimit = DefaultConfig().FetchLimit
	}
	return &Orchestrator{
		store:     store,
		policy:    policy,
		explainer: explainer,
		executor:  executor,
		trail:     trail,
		logger:    logger,
		cfg:       cfg,
	}
}

// RunCycle processes up to limit recommendations for a plant line. limit <= 0
// uses the configured fetch limit. The returned Items preserve fetch order.
// RunCycle fails as a whole only when the fetch itself fails or the context
// is cancelled; per-item failures are recorded on the item.
func (o *Orchestrator) RunCycle(ctx context.Context, plantID, lineID string, limit int) (*CycleResult, error) {
	if limit <= 0 {
		limit = o.cfg.FetchLimit
	}

	result := &CycleResult{
		CycleID:   uuid.NewString(),
		PlantID:   plantID,
		LineID:    lineID,
		StartedAt: time.Now().UTC(),
	}

	_ = o.trail.LogCycleStarted(result.CycleID, plantID, lineID)
	o.logger.Info("cycle started",
		zap.String("cycle_id", result.CycleID),
		zap.String("plant_id", plantID),
		zap.String("line_id", lineID),
		zap.Int("limit", limit))

	recs, err := o.store.GetRecentRecommendations(ctx, plantID, lineID, limit)
	if err != nil {
		metrics.CyclesTotal.WithLabelValues(plantID, lineID, "error").Inc()
		return nil, fmt.Errorf("fetch recommendations: %w", err)
	}

	// One state snapshot grounds every explanation in the cycle. A missing
	// snapshot is not an error: explanations just lose the live context.
	state, err := o.store.GetLatestState(ctx, plantID, lineID)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		metrics.CyclesTotal.WithLabelValues(plantID, lineID, "error").Inc()
		return nil, fmt.Errorf("fetch state: %w", err)
	}

	result.Items = make([]CycleItem, len(recs))
	if o.cfg.Concurrency > 1 {
		err = o.processParallel(ctx, recs, state, result.Items)
	} else {
		err = o.processSequential(ctx, recs, state, result.Items)
	}
	if err != nil {
		metrics.CyclesTotal.WithLabelValues(plantID, lineID, "cancelled").Inc()
		return nil, err
	}

	result.Duration = time.Since(result.StartedAt)
	metrics.CyclesTotal.WithLabelValues(plantID, lineID, "ok").Inc()
	metrics.CycleDuration.WithLabelValues(plantID, lineID).Observe(result.Duration.Seconds())
	_ = o.trail.LogCycleCompleted(result.CycleID, plantID, lineID, result.Duration)
	o.logger.Info("cycle completed",
		zap.String("cycle_id", result.CycleID),
		zap.Int("items", len(result.Items)),
		zap.Duration("duration", result.Duration))
	return result, nil
}

func (o *Orchestrator) processSequential(ctx context.Context, recs []*models.Recommendation, state *models.ProcessState, items []CycleItem) error {
	for i, rec := range recs {
		// Cancellation takes effect between items, never mid-item.
		if err := ctx.Err(); err != nil {
			return err
		}
		items[i] = o.processOne(ctx, rec, state)
	}
	return nil
}

// processParallel fans items out over a bounded worker group. Results are
// written by index, so output order stays the fetch order regardless of
// completion order.
func (o *Orchestrator) processParallel(ctx context.Context, recs []*models.Recommendation, state *models.ProcessState, items []CycleItem) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Concurrency)

	for i, rec := range recs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			items[i] = o.processOne(gctx, rec, state)
			return nil
		})
	}
	return g.Wait()
}

// processOne drives one recommendation through explain, decide, act. Every
// failure is absorbed into the returned item.
func (o *Orchestrator) processOne(ctx context.Context, rec *models.Recommendation, state *models.ProcessState) CycleItem {
	item := CycleItem{Recommendation: rec}

	if err := rec.Validate(); err != nil {
		item.State = StateInvalid
		item.Error = err.Error()
		metrics.RecommendationsProcessed.WithLabelValues(rec.RecommendationType, "invalid").Inc()
		o.logger.Warn("skipping invalid recommendation",
			zap.String("plant_id", rec.PlantID),
			zap.String("line_id", rec.LineID),
			zap.Error(err))
		return item
	}

	// EXPLAINED. Advisory only: a failed or timed-out model call degrades to
	// the sentinel and the item continues to Decide/Act.
	explanation, err := o.explainer.Explain(ctx, rec, state)
	if err != nil {
		explanation = models.ExplanationUnavailable
		metrics.ExplanationFallbacks.Inc()
		_ = o.trail.LogExplanationFallback(rec.PlantID, rec.LineID, rec.RecommendationType, err)
	}
	item.Explanation = explanation

	// DECIDED. Deterministic for a well-formed recommendation.
	decision, err := o.policy.Decide(rec)
	if err != nil {
		item.State = StateInvalid
		item.Error = err.Error()
		metrics.RecommendationsProcessed.WithLabelValues(rec.RecommendationType, "invalid").Inc()
		return item
	}
	item.Decision = &decision

	verdict := "manual"
	if decision.AutoApprove {
		verdict = "auto"
	}
	metrics.AutoApprovals.WithLabelValues(rec.RecommendationType, verdict).Inc()

	// EXECUTED or DEFERRED.
	action, err := o.executor.Execute(ctx, rec, decision.AutoApprove, o.cfg.Approver)
	if err != nil {
		item.State = StateFailed
		item.Error = err.Error()
		metrics.RecommendationsProcessed.WithLabelValues(rec.RecommendationType, "failed").Inc()
		return item
	}
	item.Action = action
	if action.Status == models.StatusExecuted {
		item.State = StateExecuted
	} else {
		item.State = StateDeferred
	}
	return item
}
