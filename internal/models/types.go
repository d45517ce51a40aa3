package models

// Package models defines the core data types for the optimizer agent:
// process-state snapshots, recommendations, policy decisions, and the
// immutable action records written to the audit log.

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidRecommendation is returned when a recommendation is missing
// required fields or carries out-of-range values. It is fatal to that single
// recommendation's pipeline, never to the whole cycle.
var ErrInvalidRecommendation = errors.New("invalid recommendation")

// Priority is the coarse urgency classification attached to a recommendation.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
)

// Valid reports whether p is one of the three known priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Recommendation types produced by the predictive pipeline.
const (
	TypeEnergyExcess  = "ENERGY_EXCESS"
	TypePMRiskHigh    = "PM_RISK_HIGH"
	TypeStackHeatLoss = "STACK_HEAT_LOSS"
)

// ActionStatus is the terminal status of an action record.
type ActionStatus string

const (
	StatusExecuted        ActionStatus = "EXECUTED"
	StatusPendingApproval ActionStatus = "PENDING_APPROVAL"
)

// ApproverSystemAuto is the sentinel approver identity recorded when an
// action was executed autonomously rather than signed off by an operator.
const ApproverSystemAuto = "SYSTEM_AUTO"

// ExplanationUnavailable is the sentinel explanation substituted when the
// language model fails. Explanations are advisory, so this never blocks a
// decision.
const ExplanationUnavailable = "Explanation unavailable"

// ProcessState is a snapshot of plant telemetry at a single timestamp.
// Immutable once constructed.
type ProcessState struct {
	PlantID   string             `json:"plant_id"`
	LineID    string             `json:"line_id"`
	Timestamp time.Time          `json:"timestamp"`
	Metrics   map[string]float64 `json:"metrics"`
}

// Metric returns the named measurement and whether it was recorded.
func (s *ProcessState) Metric(name string) (float64, bool) {
	v, ok := s.Metrics[name]
	return v, ok
}

// Well-known metric names in ProcessState.Metrics. The set is open: the
// predictive pipeline may attach measurements not listed here.
const (
	MetricEnergyKWhPerTon   = "energy_kwh_per_ton"
	MetricPredictedEnergy   = "predicted_energy_kwh_per_ton"
	MetricEnergyGapKWh      = "energy_gap_kwh"
	MetricTotalPowerKW      = "total_power_kw"
	MetricFeedRateTPH       = "feed_rate_tph"
	MetricFinishMillPowerKW = "finish_mill_power_kw"
	MetricSeparatorSpeedPct = "separator_speed_pct"
	MetricIDFanSpeedPct     = "id_fan_speed_pct"
	MetricStackTempC        = "stack_temp_c"
	MetricPMRiskProbability = "pm_risk_probability"
	MetricBagFilterDPKPa    = "bag_filter_dp_kpa"
	MetricAltFuelPct        = "alt_fuel_pct"
)

// Recommendation is one suggested corrective action produced by the
// predictive pipeline. Immutable; the core only reads it.
type Recommendation struct {
	PlantID            string    `json:"plant_id"`
	LineID             string    `json:"line_id"`
	Timestamp          time.Time `json:"timestamp"`
	RecommendationType string    `json:"recommendation_type"`
	ActionText         string    `json:"action_text"`
	ExpectedImpact     string    `json:"expected_impact"`
	ConfidenceScore    float64   `json:"confidence_score"`
	Priority           Priority  `json:"priority"`

	// Optional numeric context. Zero means "not provided" for the energy
	// fields; PMRiskProbability uses a pointer since 0.0 is a real value.
	CurrentEnergyKWhPerTon float64  `json:"energy_kwh_per_ton,omitempty"`
	OptimalEnergyKWhPerTon float64  `json:"predicted_energy_kwh_per_ton,omitempty"`
	EnergyGapKWh           float64  `json:"energy_gap_kwh,omitempty"`
	PMRiskProbability      *float64 `json:"pm_risk_probability,omitempty"`
}

// Validate checks the fields the policy engine depends on. A recommendation
// that fails validation is skipped with ErrInvalidRecommendation rather than
// silently defaulted.
func (r *Recommendation) Validate() error {
	switch {
	case r.PlantID == "":
		return fmt.Errorf("%w: missing plant_id", ErrInvalidRecommendation)
	case r.LineID == "":
		return fmt.Errorf("%w: missing line_id", ErrInvalidRecommendation)
	case r.Timestamp.IsZero():
		return fmt.Errorf("%w: missing timestamp", ErrInvalidRecommendation)
	case r.RecommendationType == "":
		return fmt.Errorf("%w: missing recommendation_type", ErrInvalidRecommendation)
	case math.IsNaN(r.ConfidenceScore) || r.ConfidenceScore < 0 || r.ConfidenceScore > 1:
		return fmt.Errorf("%w: confidence_score %v out of range [0,1]", ErrInvalidRecommendation, r.ConfidenceScore)
	case !r.Priority.Valid():
		return fmt.Errorf("%w: unknown priority %q", ErrInvalidRecommendation, r.Priority)
	}
	return nil
}

// Decision is the policy engine's verdict for one recommendation.
// ApprovalRequired is always the negation of AutoApprove.
type Decision struct {
	AutoApprove      bool   `json:"auto_approve"`
	Reason           string `json:"reason"`
	ApprovalRequired bool   `json:"approval_required"`
}

// ActionRecord is the immutable result of executing (or deferring) an action.
// The quadruple (Timestamp, PlantID, LineID, RecommendationType) is the
// natural key used to deduplicate audit rows on retry.
type ActionRecord struct {
	Timestamp          time.Time    `json:"timestamp"`
	PlantID            string       `json:"plant_id"`
	LineID             string       `json:"line_id"`
	ActionText         string       `json:"action_text"`
	RecommendationType string       `json:"recommendation_type"`
	ApprovedBy         string       `json:"approved_by"`
	Status             ActionStatus `json:"status"`
}

// Round2 rounds to 2 decimal places. Presentation only: callers round
// serialized output, never the values fed into a policy decision.
func Round2(v float64) float64 { return math.Round(v*100) / 100 }

// Round3 rounds to 3 decimal places.
func Round3(v float64) float64 { return math.Round(v*1000) / 1000 }
