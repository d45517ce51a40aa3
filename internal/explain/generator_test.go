package explain

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cementai/optimizer-agent/internal/llm"
	"github.com/cementai/optimizer-agent/internal/models"
)

// fakeLLM records the last prompt and returns a canned reply or error.
type fakeLLM struct {
	reply      string
	err        error
	lastPrompt string
}

func (f *fakeLLM) Generate(_ context.Context, prompt string) (string, error) {
	f.lastPrompt = prompt
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func testRec() *models.Recommendation {
	risk := 0.82
	return &models.Recommendation{
		PlantID:                "PLANT_01",
		LineID:                 "LINE_A",
		Timestamp:              time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC),
		RecommendationType:     models.TypeEnergyExcess,
		ActionText:             "Reduce separator speed to 78%",
		ExpectedImpact:         "Save 5.7 kWh/ton",
		ConfidenceScore:        0.95,
		Priority:               models.PriorityMedium,
		CurrentEnergyKWhPerTon: 95.2,
		OptimalEnergyKWhPerTon: 89.5,
		PMRiskProbability:      &risk,
	}
}

func TestExplainBuildsGroundedPrompt(t *testing.T) {
	f := &fakeLLM{reply: "The finish mill is drawing more power than the grind requires."}
	g := NewGenerator(f, nil)

	state := &models.ProcessState{
		PlantID: "PLANT_01", LineID: "LINE_A",
		Timestamp: time.Now(),
		Metrics: map[string]float64{
			models.MetricEnergyKWhPerTon:   95.2,
			models.MetricSeparatorSpeedPct: 82,
		},
	}

	out, err := g.Explain(context.Background(), testRec(), state)
	if err != nil {
		t.Fatalf("Explain: %v", err)
	}
	if out != f.reply {
		t.Errorf("explanation must be returned verbatim, got %q", out)
	}

	for _, want := range []string{
		models.TypeEnergyExcess,
		"Reduce separator speed to 78%",
		"95.2 kWh/ton",
		"89.5 kWh/ton",
		"PLANT_01/LINE_A",
		"Separator speed: 82%",
	} {
		if !strings.Contains(f.lastPrompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, f.lastPrompt)
		}
	}
}

func TestExplainWithoutState(t *testing.T) {
	f := &fakeLLM{reply: "ok"}
	g := NewGenerator(f, nil)

	if _, err := g.Explain(context.Background(), testRec(), nil); err != nil {
		t.Fatalf("Explain without state: %v", err)
	}
	if strings.Contains(f.lastPrompt, "Current plant state") {
		t.Error("prompt should not include plant state section when state is nil")
	}
}

func TestExplainServiceFailure(t *testing.T) {
	f := &fakeLLM{err: llm.ErrService}
	g := NewGenerator(f, nil)

	_, err := g.Explain(context.Background(), testRec(), nil)
	if !errors.Is(err, ErrExplanationUnavailable) {
		t.Errorf("expected ErrExplanationUnavailable, got %v", err)
	}
}

func TestExplainEmptyOutput(t *testing.T) {
	f := &fakeLLM{reply: "   \n"}
	g := NewGenerator(f, nil)

	_, err := g.Explain(context.Background(), testRec(), nil)
	if !errors.Is(err, ErrExplanationUnavailable) {
		t.Errorf("expected ErrExplanationUnavailable for blank output, got %v", err)
	}
}

func TestAnswerIncludesQuestionAndState(t *testing.T) {
	f := &fakeLLM{reply: "Energy spiked because the separator ramped."}
	g := NewGenerator(f, nil)

	state := &models.ProcessState{
		PlantID: "PLANT_01", LineID: "LINE_A",
		Timestamp: time.Now(),
		Metrics: map[string]float64{
			models.MetricStackTempC: 341,
		},
	}

	out, err := g.Answer(context.Background(), "Why did energy spike at 11:15 AM?", state)
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if out != f.reply {
		t.Errorf("answer must be returned verbatim, got %q", out)
	}
	if !strings.Contains(f.lastPrompt, "Why did energy spike at 11:15 AM?") {
		t.Error("prompt missing question")
	}
	if !strings.Contains(f.lastPrompt, "Stack temp: 341°C") {
		t.Errorf("prompt missing state line:\n%s", f.lastPrompt)
	}
}

func TestAnswerEmptyQuestion(t *testing.T) {
	g := NewGenerator(&fakeLLM{reply: "x"}, nil)

	_, err := g.Answer(context.Background(), "  ", nil)
	if !errors.Is(err, ErrExplanationUnavailable) {
		t.Errorf("expected ErrExplanationUnavailable, got %v", err)
	}
}
