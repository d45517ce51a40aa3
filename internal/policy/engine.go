package policy

// Package policy provides the approval policy engine, the gatekeeper between
// AI recommendations and action execution.
//
// Key design principle: LLM-INDEPENDENT SAFETY. The language model writes
// explanations; it has no say in whether an action runs. Auto-approval is
// decided by deterministic, rule-based logic only:
//
//   auto_approve = confidence > threshold
//              AND priority in {MEDIUM, LOW}
//              AND recommendation_type not in denylist
//
// The three conjuncts are independent gates: the confidence threshold rejects
// low-certainty predictions, the priority gate keeps HIGH-priority items in
// human hands regardless of confidence, and the type denylist hard-excludes
// categories whose incorrect autonomous handling has outsized real-world risk
// (particulate-emission exceedances today). The cutoffs are operator policy,
// not derived constants, so they live in configuration rather than code.

import (
	"github.com/cementai/optimizer-agent/internal/models"
)

// Decision reasons surfaced to operators.
const (
	ReasonAutoApproved     = "High confidence, low risk"
	ReasonRequiresApproval = "Requires human approval"
)

// DefaultConfidenceThreshold is the strict lower bound a recommendation's
// confidence must exceed for autonomous handling.
const DefaultConfidenceThreshold = 0.90

// Config holds the tunable policy parameters.
type Config struct {
	// ConfidenceThreshold is exclusive: confidence must be strictly greater.
	ConfidenceThreshold float64

	// DenyTypes lists recommendation types that always require a human,
	// independent of confidence and priority.
	DenyTypes []string
}

// DefaultConfig returns the policy shipped with the agent.
func DefaultConfig() Config {
	return Config{
		ConfidenceThreshold: DefaultConfidenceThreshold,
		DenyTypes:           []string{models.TypePMRiskHigh},
	}
}

// Engine evaluates recommendations against the approval policy.
// It is pure: no I/O, no retries, no state beyond its configuration.
type Engine struct {
	threshold float64
	denied    map[string]struct{}
}

// NewEngine creates a policy engine. Zero-valued config fields fall back to
// the defaults.
func NewEngine(cfg Config) *Engine {
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = DefaultConfidenceThreshold
	}
	denied := make(map[string]struct{}, len(cfg.DenyTypes))
	if cfg.DenyTypes == nil {
		cfg.DenyTypes = DefaultConfig().DenyTypes
	}
	for _, t := range cfg.DenyTypes {
		denied[t] = struct{}{}
	}
	return &Engine{threshold: cfg.ConfidenceThreshold, denied: denied}
}

// Decide returns the verdict for a single recommendation. The only possible
// failure is malformed input, which returns models.ErrInvalidRecommendation
// rather than silently defaulting to "requires approval".
func (e *Engine) Decide(rec *models.Recommendation) (models.Decision, error) {
	if err := rec.Validate(); err != nil {
		return models.Decision{}, err
	}

	_, typeDenied := e.denied[rec.RecommendationType]
	autoApprove := rec.ConfidenceScore > e.threshold &&
		rec.Priority != models.PriorityHigh &&
		!typeDenied

	d := models.Decision{
		AutoApprove:      autoApprove,
		Reason:           ReasonRequiresApproval,
		ApprovalRequired: !autoApprove,
	}
	if autoApprove {
		d.Reason = ReasonAutoApproved
	}
	return d, nil
}
