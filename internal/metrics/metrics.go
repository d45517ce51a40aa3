package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Agent metrics for production monitoring
var (
	// Cycle metrics
	CyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cementai_agent_cycles_total",
			Help: "Total number of orchestration cycles run",
		},
		[]string{"plant_id", "line_id", "status"},
	)

	CycleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cementai_agent_cycle_duration_seconds",
			Help:    "Orchestration cycle duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~1min
		},
		[]string{"plant_id", "line_id"},
	)

	// Decision metrics
	RecommendationsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cementai_agent_recommendations_processed_total",
			Help: "Total number of recommendations processed, by outcome",
		},
		[]string{"recommendation_type", "outcome"}, // outcome: executed/deferred/invalid/failed
	)

	AutoApprovals = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cementai_agent_auto_approvals_total",
			Help: "Total number of policy decisions, by verdict",
		},
		[]string{"recommendation_type", "verdict"}, // verdict: auto/manual
	)

	// Audit metrics
	AuditWriteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cementai_agent_audit_write_failures_total",
			Help: "Total number of failed audit log appends",
		},
	)

	// LLM metrics
	LLMRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cementai_agent_llm_requests_total",
			Help: "Total number of language model requests",
		},
		[]string{"operation", "status"}, // operation: explain/chat
	)

	LLMRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cementai_agent_llm_request_duration_seconds",
			Help:    "Language model request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		},
		[]string{"operation"},
	)

	ExplanationFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cementai_agent_explanation_fallbacks_total",
			Help: "Total number of explanations degraded to the unavailable sentinel",
		},
	)

	// Predictor metrics
	PredictorRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cementai_agent_predictor_requests_total",
			Help: "Total number of model-serving prediction requests",
		},
		[]string{"model", "status"}, // model: energy/pm_risk
	)

	// WebSocket metrics
	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cementai_agent_websocket_connections",
			Help: "Current number of active WebSocket cycle-feed connections",
		},
	)
)
