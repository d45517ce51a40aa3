package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cementai/optimizer-agent/internal/config"
	"github.com/cementai/optimizer-agent/internal/db"
	"github.com/cementai/optimizer-agent/internal/executor"
	"github.com/cementai/optimizer-agent/internal/models"
	"github.com/cementai/optimizer-agent/internal/orchestrator"
	"github.com/cementai/optimizer-agent/internal/predict"
)

type fakeStore struct {
	state   *models.ProcessState
	recs    []*models.Recommendation
	audited []*models.ActionRecord
	pingErr error
}

func (f *fakeStore) GetLatestState(context.Context, string, string) (*models.ProcessState, error) {
	if f.state == nil {
		return nil, db.ErrNotFound
	}
	return f.state, nil
}

func (f *fakeStore) UpsertState(context.Context, *models.ProcessState) error { return nil }

func (f *fakeStore) GetRecentRecommendations(_ context.Context, _, _ string, limit int) ([]*models.Recommendation, error) {
	if limit > 0 && limit < len(f.recs) {
		return f.recs[:limit], nil
	}
	return f.recs, nil
}

func (f *fakeStore) InsertRecommendation(context.Context, *models.Recommendation) error { return nil }

func (f *fakeStore) AppendActionRecord(_ context.Context, rec *models.ActionRecord) error {
	f.audited = append(f.audited, rec)
	return nil
}

func (f *fakeStore) QueryActionRecords(context.Context, db.AuditQuery) ([]*models.ActionRecord, error) {
	return f.audited, nil
}

func (f *fakeStore) Close() error               { return nil }
func (f *fakeStore) Ping(context.Context) error { return f.pingErr }

type fakeRunner struct {
	result *orchestrator.CycleResult
	gotQ   struct {
		plantID, lineID string
		limit           int
	}
}

func (f *fakeRunner) RunCycle(_ context.Context, plantID, lineID string, limit int) (*orchestrator.CycleResult, error) {
	f.gotQ.plantID, f.gotQ.lineID, f.gotQ.limit = plantID, lineID, limit
	return f.result, nil
}

type fakeExplainer struct{}

func (fakeExplainer) Explain(context.Context, *models.Recommendation, *models.ProcessState) (string, error) {
	return "the mill is overdrawing", nil
}

func (fakeExplainer) Answer(_ context.Context, q string, _ *models.ProcessState) (string, error) {
	return "answer to: " + q, nil
}

type fakeEnergy struct{}

func (fakeEnergy) PredictEnergy(context.Context, predict.Features) (*predict.EnergyPrediction, error) {
	return &predict.EnergyPrediction{PredictedEnergyKWhPerTon: 89.516}, nil
}

type fakePMRisk struct{}

func (fakePMRisk) PredictPMRisk(context.Context, predict.Features) (*predict.PMRiskPrediction, error) {
	return &predict.PMRiskPrediction{Probability: 0.8312, PredictedExceedance: true, RiskLevel: "HIGH"}, nil
}

func newTestMux(t *testing.T, store *fakeStore, runner *fakeRunner) *http.ServeMux {
	t.Helper()
	cfg := config.DefaultConfig()
	s, err := New(cfg, Deps{
		Store:     store,
		Runner:    runner,
		Explainer: fakeExplainer{},
		Executor:  executor.New(store, nil, nil),
		Energy:    fakeEnergy{},
		PMRisk:    fakePMRisk{},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	mux := http.NewServeMux()
	s.registerHandlers(mux)
	return mux
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reqBody bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&reqBody).Encode(body); err != nil {
			t.Fatalf("encode request: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &reqBody)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return m
}

func TestHealth(t *testing.T) {
	mux := newTestMux(t, &fakeStore{}, &fakeRunner{})

	w := doJSON(t, mux, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got := decode(t, w)["status"]; got != "healthy" {
		t.Errorf("status field = %v", got)
	}
}

func TestPredictEnergyRounds(t *testing.T) {
	mux := newTestMux(t, &fakeStore{}, &fakeRunner{})

	w := doJSON(t, mux, http.MethodPost, "/api/v1/predict/energy", map[string]any{
		"plant_id": "plant_01",
		"line_id":  "line_2",
		"features": map[string]float64{"feed_rate_tph": 145},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if got := decode(t, w)["predicted_energy_kwh_per_ton"]; got != 89.52 {
		t.Errorf("expected rounded prediction 89.52, got %v", got)
	}
}

func TestPredictPMRisk(t *testing.T) {
	mux := newTestMux(t, &fakeStore{}, &fakeRunner{})

	w := doJSON(t, mux, http.MethodPost, "/api/v1/predict/pm_risk", map[string]any{
		"features": map[string]float64{"bag_filter_dp_kpa": 2.1},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	resp := decode(t, w)
	if resp["pm_risk_probability"] != 0.831 {
		t.Errorf("expected rounded probability 0.831, got %v", resp["pm_risk_probability"])
	}
	if resp["risk_level"] != "HIGH" {
		t.Errorf("expected HIGH, got %v", resp["risk_level"])
	}
	// Defaults fill missing plant/line.
	if resp["plant_id"] != "plant_01" || resp["line_id"] != "line_2" {
		t.Errorf("expected default plant/line, got %v/%v", resp["plant_id"], resp["line_id"])
	}
}

func TestRecommendationsEndpoint(t *testing.T) {
	store := &fakeStore{
		recs: []*models.Recommendation{
			{
				PlantID: "plant_01", LineID: "line_2",
				Timestamp:          time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC),
				RecommendationType: models.TypeEnergyExcess,
				ActionText:         "Reduce separator speed",
				ConfidenceScore:    0.92345,
				Priority:           models.PriorityMedium,
			},
		},
	}
	mux := newTestMux(t, store, &fakeRunner{})

	w := doJSON(t, mux, http.MethodGet, "/api/v1/recommendations?plant_id=plant_01&line_id=line_2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	resp := decode(t, w)
	if resp["count"] != float64(1) {
		t.Fatalf("expected count 1, got %v", resp["count"])
	}
	rec := resp["recommendations"].([]any)[0].(map[string]any)
	if rec["confidence"] != 0.92 {
		t.Errorf("expected rounded confidence 0.92, got %v", rec["confidence"])
	}
}

func TestRealtimeMetricsNotFound(t *testing.T) {
	mux := newTestMux(t, &fakeStore{}, &fakeRunner{})

	w := doJSON(t, mux, http.MethodGet, "/api/v1/metrics/realtime", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for missing state, got %d", w.Code)
	}
}

func TestRealtimeMetricsRounds(t *testing.T) {
	store := &fakeStore{
		state: &models.ProcessState{
			PlantID: "plant_01", LineID: "line_2",
			Timestamp: time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC),
			Metrics:   map[string]float64{models.MetricEnergyKWhPerTon: 95.237},
		},
	}
	mux := newTestMux(t, store, &fakeRunner{})

	w := doJSON(t, mux, http.MethodGet, "/api/v1/metrics/realtime", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	m := decode(t, w)["metrics"].(map[string]any)
	if m[models.MetricEnergyKWhPerTon] != 95.24 {
		t.Errorf("expected rounded 95.24, got %v", m[models.MetricEnergyKWhPerTon])
	}
}

func TestChatUsesDefaultsAndContext(t *testing.T) {
	store := &fakeStore{
		state: &models.ProcessState{
			PlantID: "plant_01", LineID: "line_2",
			Timestamp: time.Now(),
			Metrics:   map[string]float64{models.MetricStackTempC: 341},
		},
	}
	mux := newTestMux(t, store, &fakeRunner{})

	w := doJSON(t, mux, http.MethodPost, "/api/v1/chat", map[string]any{
		"message": "Why did energy spike?",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	resp := decode(t, w)
	if resp["agent_response"] != "answer to: Why did energy spike?" {
		t.Errorf("unexpected response %v", resp["agent_response"])
	}
	if _, ok := resp["plant_context"]; !ok {
		t.Error("expected plant_context when a state snapshot exists")
	}
}

func TestChatRequiresMessage(t *testing.T) {
	mux := newTestMux(t, &fakeStore{}, &fakeRunner{})

	w := doJSON(t, mux, http.MethodPost, "/api/v1/chat", map[string]any{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestExecuteActionEndpoint(t *testing.T) {
	store := &fakeStore{}
	mux := newTestMux(t, store, &fakeRunner{})

	w := doJSON(t, mux, http.MethodPost, "/api/v1/action/execute", map[string]any{
		"plant_id":            "plant_01",
		"line_id":             "line_2",
		"timestamp":           "2026-08-25T10:00:00Z",
		"recommendation_type": models.TypeEnergyExcess,
		"action_text":         "Reduce separator speed",
		"confidence_score":    0.95,
		"priority":            "LOW",
		"approved":            true,
		"approver":            "operator_jsmith",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	action := decode(t, w)["action"].(map[string]any)
	if action["status"] != string(models.StatusExecuted) {
		t.Errorf("expected EXECUTED, got %v", action["status"])
	}
	if len(store.audited) != 1 {
		t.Errorf("expected 1 audit append, got %d", len(store.audited))
	}
}

func TestExecuteActionRejectsInvalid(t *testing.T) {
	mux := newTestMux(t, &fakeStore{}, &fakeRunner{})

	w := doJSON(t, mux, http.MethodPost, "/api/v1/action/execute", map[string]any{
		"approved": true,
		"approver": "x",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid recommendation, got %d", w.Code)
	}
}

func TestRunCycleEndpoint(t *testing.T) {
	runner := &fakeRunner{
		result: &orchestrator.CycleResult{
			CycleID:   "cyc-1",
			PlantID:   "plant_01",
			LineID:    "line_2",
			StartedAt: time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC),
			Items: []orchestrator.CycleItem{
				{
					Recommendation: &models.Recommendation{
						PlantID: "plant_01", LineID: "line_2",
						Timestamp:          time.Date(2026, 8, 25, 9, 59, 0, 0, time.UTC),
						RecommendationType: models.TypeEnergyExcess,
						ConfidenceScore:    0.95,
						Priority:           models.PriorityLow,
					},
					Explanation: "ok",
					State:       orchestrator.StateExecuted,
				},
			},
		},
	}
	mux := newTestMux(t, &fakeStore{}, runner)

	w := doJSON(t, mux, http.MethodPost, "/api/v1/cycle/run", map[string]any{"limit": 3})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	resp := decode(t, w)
	if resp["cycle_id"] != "cyc-1" {
		t.Errorf("unexpected cycle_id %v", resp["cycle_id"])
	}
	// Defaults from config fill plant/line; limit passes through.
	if runner.gotQ.plantID != "plant_01" || runner.gotQ.lineID != "line_2" || runner.gotQ.limit != 3 {
		t.Errorf("unexpected runner args %+v", runner.gotQ)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	mux := newTestMux(t, &fakeStore{}, &fakeRunner{})

	w := doJSON(t, mux, http.MethodGet, "/api/v1/cycle/run", nil)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", w.Code)
	}
}
