package server

// Rounding happens here and only here: decisions upstream always see the
// raw values, the wire gets 2-3 decimal places for presentation.

import (
	"time"

	"github.com/cementai/optimizer-agent/internal/models"
	"github.com/cementai/optimizer-agent/internal/orchestrator"
)

type recommendationDTO struct {
	PlantID            string   `json:"plant_id"`
	LineID             string   `json:"line_id"`
	Timestamp          string   `json:"timestamp"`
	RecommendationType string   `json:"recommendation_type"`
	ActionText         string   `json:"action"`
	ExpectedImpact     string   `json:"expected_impact"`
	ConfidenceScore    float64  `json:"confidence"`
	Priority           string   `json:"priority"`
	CurrentEnergy      float64  `json:"current_energy,omitempty"`
	OptimalEnergy      float64  `json:"optimal_energy,omitempty"`
	EnergyGapKWh       float64  `json:"energy_gap_kwh,omitempty"`
	PMRiskProbability  *float64 `json:"pm_risk_probability,omitempty"`
}

func toRecommendationDTO(rec *models.Recommendation) recommendationDTO {
	dto := recommendationDTO{
		PlantID:            rec.PlantID,
		LineID:             rec.LineID,
		Timestamp:          rec.Timestamp.UTC().Format(time.RFC3339),
		RecommendationType: rec.RecommendationType,
		ActionText:         rec.ActionText,
		ExpectedImpact:     rec.ExpectedImpact,
		ConfidenceScore:    models.Round2(rec.ConfidenceScore),
		Priority:           string(rec.Priority),
		CurrentEnergy:      models.Round2(rec.CurrentEnergyKWhPerTon),
		OptimalEnergy:      models.Round2(rec.OptimalEnergyKWhPerTon),
		EnergyGapKWh:       models.Round2(rec.EnergyGapKWh),
	}
	if rec.PMRiskProbability != nil {
		v := models.Round3(*rec.PMRiskProbability)
		dto.PMRiskProbability = &v
	}
	return dto
}

type actionRecordDTO struct {
	Timestamp          string `json:"timestamp"`
	PlantID            string `json:"plant_id"`
	LineID             string `json:"line_id"`
	ActionText         string `json:"action"`
	RecommendationType string `json:"recommendation_type"`
	ApprovedBy         string `json:"approved_by,omitempty"`
	Status             string `json:"status"`
}

func toActionRecordDTO(rec *models.ActionRecord) actionRecordDTO {
	return actionRecordDTO{
		Timestamp:          rec.Timestamp.UTC().Format(time.RFC3339),
		PlantID:            rec.PlantID,
		LineID:             rec.LineID,
		ActionText:         rec.ActionText,
		RecommendationType: rec.RecommendationType,
		ApprovedBy:         rec.ApprovedBy,
		Status:             string(rec.Status),
	}
}

type cycleItemDTO struct {
	Recommendation recommendationDTO `json:"recommendation"`
	Explanation    string            `json:"explanation"`
	Decision       *models.Decision  `json:"decision,omitempty"`
	Action         *actionRecordDTO  `json:"action,omitempty"`
	State          string            `json:"state"`
	Error          string            `json:"error,omitempty"`
}

type cycleResultDTO struct {
	CycleID    string         `json:"cycle_id"`
	PlantID    string         `json:"plant_id"`
	LineID     string         `json:"line_id"`
	StartedAt  string         `json:"started_at"`
	DurationMs int64          `json:"duration_ms"`
	Items      []cycleItemDTO `json:"items"`
}

func toCycleResultDTO(res *orchestrator.CycleResult) cycleResultDTO {
	dto := cycleResultDTO{
		CycleID:    res.CycleID,
		PlantID:    res.PlantID,
		LineID:     res.LineID,
		StartedAt:  res.StartedAt.Format(time.RFC3339),
		DurationMs: res.Duration.Milliseconds(),
		Items:      make([]cycleItemDTO, 0, len(res.Items)),
	}
	for _, item := range res.Items {
		itemDTO := cycleItemDTO{
			Recommendation: toRecommendationDTO(item.Recommendation),
			Explanation:    item.Explanation,
			Decision:       item.Decision,
			State:          string(item.State),
			Error:          item.Error,
		}
		if item.Action != nil {
			a := toActionRecordDTO(item.Action)
			itemDTO.Action = &a
		}
		dto.Items = append(dto.Items, itemDTO)
	}
	return dto
}

func roundedMetrics(metrics map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(metrics))
	for name, v := range metrics {
		out[name] = models.Round2(v)
	}
	return out
}
