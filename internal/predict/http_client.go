package predict

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cementai/optimizer-agent/internal/metrics"
)

// DefaultTimeout bounds one prediction round trip.
const DefaultTimeout = 10 * time.Second

// HTTPClient calls a model-serving endpoint exposing the trained energy
// regressor and PM risk classifier. It implements both predictor interfaces.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

type predictRequest struct {
	Features Features `json:"features"`
}

type energyResponse struct {
	PredictedEnergyKWhPerTon float64 `json:"predicted_energy_kwh_per_ton"`
}

type pmRiskResponse struct {
	Probability         float64 `json:"pm_risk_probability"`
	PredictedExceedance bool    `json:"predicted_exceedance"`
}

// NewHTTPClient creates a client against a serving base URL.
func NewHTTPClient(baseURL string) (*HTTPClient, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("model serving base URL is required")
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}, nil
}

// PredictEnergy implements EnergyPredictor.
func (c *HTTPClient) PredictEnergy(ctx context.Context, features Features) (*EnergyPrediction, error) {
	var resp energyResponse
	if err := c.post(ctx, "/v1/models/energy:predict", features, &resp); err != nil {
		metrics.PredictorRequestsTotal.WithLabelValues("energy", "error").Inc()
		return nil, err
	}
	metrics.PredictorRequestsTotal.WithLabelValues("energy", "ok").Inc()
	return &EnergyPrediction{PredictedEnergyKWhPerTon: resp.PredictedEnergyKWhPerTon}, nil
}

// PredictPMRisk implements PMRiskPredictor. The risk level is derived from
// the probability client-side, so every caller sees the same cutoffs.
func (c *HTTPClient) PredictPMRisk(ctx context.Context, features Features) (*PMRiskPrediction, error) {
	var resp pmRiskResponse
	if err := c.post(ctx, "/v1/models/pm_risk:predict", features, &resp); err != nil {
		metrics.PredictorRequestsTotal.WithLabelValues("pm_risk", "error").Inc()
		return nil, err
	}
	metrics.PredictorRequestsTotal.WithLabelValues("pm_risk", "ok").Inc()
	return &PMRiskPrediction{
		Probability:         resp.Probability,
		PredictedExceedance: resp.PredictedExceedance,
		RiskLevel:           RiskLevel(resp.Probability),
	}, nil
}

func (c *HTTPClient) post(ctx context.Context, path string, features Features, out any) error {
	reqBody, err := json.Marshal(predictRequest{Features: features})
	if err != nil {
		return fmt.Errorf("%w: marshal request: %v", ErrPrediction, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewBuffer(reqBody))
	if err != nil {
		return fmt.Errorf("%w: create request: %v", ErrPrediction, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: request failed: %v", ErrPrediction, err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrPrediction, err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: serving error %d: %s", ErrPrediction, httpResp.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: unmarshal response: %v", ErrPrediction, err)
	}
	return nil
}

// SetBaseURL overrides the serving base URL.  Used in tests.
func (c *HTTPClient) SetBaseURL(url string) { c.baseURL = strings.TrimRight(url, "/") }
