package explain

import (
	"fmt"
	"strings"

	"github.com/cementai/optimizer-agent/internal/models"
)

const systemPersona = "You are CementGPT, an expert AI assistant for cement plant optimization."

// buildExplainPrompt renders the operator-facing explanation prompt for one
// recommendation, optionally grounded in the current process state.
func buildExplainPrompt(rec *models.Recommendation, state *models.ProcessState) string {
	var b strings.Builder
	b.WriteString(systemPersona)
	b.WriteString("\n\nExplain this recommendation to a plant operator:\n\n")
	fmt.Fprintf(&b, "Issue: %s\n", rec.RecommendationType)
	if rec.CurrentEnergyKWhPerTon > 0 {
		fmt.Fprintf(&b, "Current energy: %.1f kWh/ton\n", rec.CurrentEnergyKWhPerTon)
	}
	if rec.OptimalEnergyKWhPerTon > 0 {
		fmt.Fprintf(&b, "Optimal energy: %.1f kWh/ton\n", rec.OptimalEnergyKWhPerTon)
	}
	if rec.PMRiskProbability != nil {
		fmt.Fprintf(&b, "PM emission risk: %.2f\n", *rec.PMRiskProbability)
	}
	fmt.Fprintf(&b, "Recommended action: %s\n", rec.ActionText)
	if rec.ExpectedImpact != "" {
		fmt.Fprintf(&b, "Expected impact: %s\n", rec.ExpectedImpact)
	}

	if state != nil {
		b.WriteString("\n")
		writePlantState(&b, state)
	}

	b.WriteString("\nProvide a clear, concise explanation (3-4 sentences) covering:\n")
	b.WriteString("1. What the problem is\n")
	b.WriteString("2. Why the action will help\n")
	b.WriteString("3. Expected savings or improvement\n\n")
	b.WriteString("Be specific and use plant terminology.")
	return b.String()
}

// buildChatPrompt renders the context-aware operator Q&A prompt.
func buildChatPrompt(question string, state *models.ProcessState) string {
	var b strings.Builder
	b.WriteString(systemPersona)
	b.WriteString("\n\n")
	if state != nil {
		writePlantState(&b, state)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "User question: %s\n\n", question)
	b.WriteString("Provide a helpful, specific answer based on the current plant state.")
	return b.String()
}

func writePlantState(b *strings.Builder, state *models.ProcessState) {
	fmt.Fprintf(b, "Current plant state (%s/%s):\n", state.PlantID, state.LineID)
	lines := []struct {
		metric string
		label  string
		unit   string
	}{
		{models.MetricEnergyKWhPerTon, "Energy", " kWh/ton"},
		{models.MetricFinishMillPowerKW, "Mill power", " kW"},
		{models.MetricSeparatorSpeedPct, "Separator speed", "%"},
		{models.MetricIDFanSpeedPct, "ID fan", "%"},
		{models.MetricStackTempC, "Stack temp", "°C"},
		{models.MetricPMRiskProbability, "PM risk", ""},
	}
	for _, l := range lines {
		if v, ok := state.Metric(l.metric); ok {
			fmt.Fprintf(b, "- %s: %g%s\n", l.label, v, l.unit)
		}
	}
}
