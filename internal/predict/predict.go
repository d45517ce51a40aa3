package predict

// Package predict holds the typed contracts for the trained models and an
// HTTP client for a model-serving endpoint. Feature vectors are opaque
// name/value maps: the serving side owns the feature schema.

import (
	"context"
	"errors"
)

// ErrPrediction wraps model-serving failures.
var ErrPrediction = errors.New("prediction service error")

// Features is an opaque feature vector keyed by feature name.
type Features map[string]float64

// EnergyPrediction is the energy regressor's output.
type EnergyPrediction struct {
	PredictedEnergyKWhPerTon float64 `json:"predicted_energy_kwh_per_ton"`
}

// PMRiskPrediction is the particulate-emission classifier's output.
type PMRiskPrediction struct {
	Probability         float64 `json:"pm_risk_probability"`
	PredictedExceedance bool    `json:"predicted_exceedance"`
	RiskLevel           string  `json:"risk_level"`
}

// EnergyPredictor predicts specific energy consumption from plant features.
type EnergyPredictor interface {
	PredictEnergy(ctx context.Context, features Features) (*EnergyPrediction, error)
}

// PMRiskPredictor predicts the probability of a particulate emission
// exceedance from filter and stack features.
type PMRiskPredictor interface {
	PredictPMRisk(ctx context.Context, features Features) (*PMRiskPrediction, error)
}

// Risk level cutoffs for the PM classifier's probability output.
const (
	RiskLevelHigh   = "HIGH"
	RiskLevelMedium = "MEDIUM"
	RiskLevelLow    = "LOW"

	riskHighThreshold   = 0.7
	riskMediumThreshold = 0.4
)

// RiskLevel maps an exceedance probability to its operator-facing level.
func RiskLevel(probability float64) string {
	switch {
	case probability > riskHighThreshold:
		return RiskLevelHigh
	case probability > riskMediumThreshold:
		return RiskLevelMedium
	default:
		return RiskLevelLow
	}
}
