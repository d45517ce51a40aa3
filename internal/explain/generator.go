package explain

// Package explain turns recommendations into operator-facing prose and powers
// the conversational interface. Output is advisory only: nothing here feeds
// back into approval decisions.

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cementai/optimizer-agent/internal/llm"
	"github.com/cementai/optimizer-agent/internal/metrics"
	"github.com/cementai/optimizer-agent/internal/models"
)

// ErrExplanationUnavailable is returned when the language model fails or
// produces empty output. Non-fatal: callers substitute
// models.ExplanationUnavailable and continue.
var ErrExplanationUnavailable = errors.New("explanation unavailable")

// Generator produces explanations and chat answers via a language model.
type Generator struct {
	client llm.Client
	logger *zap.Logger
}

// NewGenerator creates a Generator.
func NewGenerator(client llm.Client, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{client: client, logger: logger}
}

// Explain generates a natural-language explanation for one recommendation.
// state is optional extra grounding and may be nil.
func (g *Generator) Explain(ctx context.Context, rec *models.Recommendation, state *models.ProcessState) (string, error) {
	prompt := buildExplainPrompt(rec, state)

	text, err := g.generate(ctx, "explain", prompt)
	if err != nil {
		g.logger.Warn("explanation generation failed",
			zap.String("plant_id", rec.PlantID),
			zap.String("line_id", rec.LineID),
			zap.String("recommendation_type", rec.RecommendationType),
			zap.Error(err))
		return "", fmt.Errorf("%w: %v", ErrExplanationUnavailable, err)
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: model returned empty output", ErrExplanationUnavailable)
	}
	return text, nil
}

// Answer responds to an operator question grounded in the latest process
// state. state may be nil when no snapshot exists for the plant/line.
func (g *Generator) Answer(ctx context.Context, question string, state *models.ProcessState) (string, error) {
	if strings.TrimSpace(question) == "" {
		return "", fmt.Errorf("%w: empty question", ErrExplanationUnavailable)
	}

	prompt := buildChatPrompt(question, state)
	text, err := g.generate(ctx, "chat", prompt)
	if err != nil {
		g.logger.Warn("chat answer failed", zap.Error(err))
		return "", fmt.Errorf("%w: %v", ErrExplanationUnavailable, err)
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: model returned empty output", ErrExplanationUnavailable)
	}
	return text, nil
}

// generate wraps the model call with request metrics.
func (g *Generator) generate(ctx context.Context, operation, prompt string) (string, error) {
	start := time.Now()
	text, err := g.client.Generate(ctx, prompt)
	metrics.LLMRequestDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())

	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.LLMRequestsTotal.WithLabelValues(operation, status).Inc()
	return text, err
}
