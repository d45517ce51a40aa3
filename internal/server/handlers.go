package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/cementai/optimizer-agent/internal/db"
	"github.com/cementai/optimizer-agent/internal/executor"
	"github.com/cementai/optimizer-agent/internal/models"
	"github.com/cementai/optimizer-agent/internal/predict"
)

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// plantLine resolves plant/line parameters, falling back to the configured
// defaults the way the original service did.
func (s *Server) plantLine(plantID, lineID string) (string, string) {
	if plantID == "" {
		plantID = s.cfg.Plant.DefaultPlantID
	}
	if lineID == "" {
		lineID = s.cfg.Plant.DefaultLineID
	}
	return plantID, lineID
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	status := "healthy"
	code := http.StatusOK
	if err := s.deps.Store.Ping(r.Context()); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, map[string]string{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

type predictEnergyRequest struct {
	PlantID  string           `json:"plant_id"`
	LineID   string           `json:"line_id"`
	Features predict.Features `json:"features"`
}

func (s *Server) handlePredictEnergy(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Energy == nil {
		s.writeError(w, http.StatusNotImplemented, "energy predictor not configured")
		return
	}

	var req predictEnergyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	plantID, lineID := s.plantLine(req.PlantID, req.LineID)

	pred, err := s.deps.Energy.PredictEnergy(r.Context(), req.Features)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"plant_id":                     plantID,
		"line_id":                      lineID,
		"predicted_energy_kwh_per_ton": models.Round2(pred.PredictedEnergyKWhPerTon),
		"timestamp":                    time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handlePredictPMRisk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.deps.PMRisk == nil {
		s.writeError(w, http.StatusNotImplemented, "pm risk predictor not configured")
		return
	}

	var req predictEnergyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	plantID, lineID := s.plantLine(req.PlantID, req.LineID)

	pred, err := s.deps.PMRisk.PredictPMRisk(r.Context(), req.Features)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"plant_id":             plantID,
		"line_id":              lineID,
		"pm_risk_probability":  models.Round3(pred.Probability),
		"predicted_exceedance": pred.PredictedExceedance,
		"risk_level":           pred.RiskLevel,
		"timestamp":            time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	plantID, lineID := s.plantLine(r.URL.Query().Get("plant_id"), r.URL.Query().Get("line_id"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	recs, err := s.deps.Store.GetRecentRecommendations(r.Context(), plantID, lineID, limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	dtos := make([]recommendationDTO, 0, len(recs))
	for _, rec := range recs {
		dtos = append(dtos, toRecommendationDTO(rec))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"plant_id":        plantID,
		"line_id":         lineID,
		"count":           len(dtos),
		"recommendations": dtos,
	})
}

func (s *Server) handleRealtimeMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	plantID, lineID := s.plantLine(r.URL.Query().Get("plant_id"), r.URL.Query().Get("line_id"))

	state, err := s.deps.Store.GetLatestState(r.Context(), plantID, lineID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "no live metrics for "+plantID+"/"+lineID)
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"plant_id":  state.PlantID,
		"line_id":   state.LineID,
		"timestamp": state.Timestamp.UTC().Format(time.RFC3339),
		"metrics":   roundedMetrics(state.Metrics),
	})
}

func (s *Server) handleExplain(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var rec models.Recommendation
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := rec.Validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Ground in the latest snapshot when one exists.
	state, err := s.deps.Store.GetLatestState(r.Context(), rec.PlantID, rec.LineID)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	explanation, err := s.deps.Explainer.Explain(r.Context(), &rec, state)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"recommendation": toRecommendationDTO(&rec),
		"explanation":    explanation,
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	})
}

type chatRequest struct {
	Message string `json:"message"`
	PlantID string `json:"plant_id"`
	LineID  string `json:"line_id"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		s.writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	plantID, lineID := s.plantLine(req.PlantID, req.LineID)

	state, err := s.deps.Store.GetLatestState(r.Context(), plantID, lineID)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	answer, err := s.deps.Explainer.Answer(r.Context(), req.Message, state)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	resp := map[string]any{
		"user_message":   req.Message,
		"agent_response": answer,
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}
	if state != nil {
		resp["plant_context"] = roundedMetrics(state.Metrics)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

type executeActionRequest struct {
	models.Recommendation
	Approved bool   `json:"approved"`
	Approver string `json:"approver"`
}

func (s *Server) handleExecuteAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req executeActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	record, err := s.deps.Executor.Execute(r.Context(), &req.Recommendation, req.Approved, req.Approver)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrInvalidRecommendation):
			s.writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, executor.ErrAuditWriteFailed):
			s.writeError(w, http.StatusInternalServerError, err.Error())
		default:
			s.writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"action":    toActionRecordDTO(record),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

type runCycleRequest struct {
	PlantID string `json:"plant_id"`
	LineID  string `json:"line_id"`
	Limit   int    `json:"limit"`
}

func (s *Server) handleRunCycle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req runCycleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	plantID, lineID := s.plantLine(req.PlantID, req.LineID)

	result, err := s.deps.Runner.RunCycle(r.Context(), plantID, lineID, req.Limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	dto := toCycleResultDTO(result)
	s.hub.Broadcast(dto)
	s.writeJSON(w, http.StatusOK, dto)
}

func (s *Server) handleAuditLog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := db.AuditQuery{
		PlantID: r.URL.Query().Get("plant_id"),
		LineID:  r.URL.Query().Get("line_id"),
		Status:  r.URL.Query().Get("status"),
	}
	q.Limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	q.Offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))

	records, err := s.deps.Store.QueryActionRecords(r.Context(), q)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	dtos := make([]actionRecordDTO, 0, len(records))
	for _, rec := range records {
		dtos = append(dtos, toActionRecordDTO(rec))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(dtos),
		"actions": dtos,
	})
}
