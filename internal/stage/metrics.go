package stage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/vitalia-ai/vitalia/internal/inference"
	"github.com/vitalia-ai/vitalia/internal/model"
)

// MetricResult is the output of the metric-analysis stage: a free-text
// narrative plus a small derived insight map. The narrative is the single
// hand-off artifact consumed by both planning stages.
type MetricResult struct {
	Narrative string
	Insights  map[string]any
}

// maxSummaryChars bounds the insight summary carried in the audit trail.
const maxSummaryChars = 200

// MetricAnalyzer turns a telemetry snapshot and continuity context into a
// narrative health assessment.
type MetricAnalyzer struct {
	llm    inference.Client
	logger *slog.Logger
}

// NewMetricAnalyzer creates the metric-analysis stage adapter.
func NewMetricAnalyzer(llm inference.Client, logger *slog.Logger) *MetricAnalyzer {
	return &MetricAnalyzer{llm: llm, logger: logger}
}

// Run executes the stage. Empty telemetry is valid input: the prompt carries
// explicit no-data markers and the model is asked to say what it can.
// recalled holds semantically similar prior narratives, newest-relevance
// first; nil when recall is not configured.
func (a *MetricAnalyzer) Run(ctx context.Context, snap model.TelemetrySnapshot, memory model.ContinuityRecord, recalled []string) Result[MetricResult] {
	prompt := a.BuildPrompt(snap, memory, recalled)

	narrative, err := a.llm.GenerateText(ctx, prompt)
	if err != nil {
		a.logger.Warn("metric analysis failed", "user_id", snap.UserID, "error", err)
		return Failf[MetricResult]("metric analysis: %v", err)
	}
	narrative = strings.TrimSpace(narrative)
	if narrative == "" {
		return Fail[MetricResult]("metric analysis: empty narrative")
	}

	return OK(MetricResult{
		Narrative: narrative,
		Insights:  deriveInsights(narrative, snap),
	})
}

// BuildPrompt formats the stage request. Exported so tests can pin the
// byte-for-byte reproducibility contract: identical inputs, including the
// recalled slice and its order, produce identical prompts.
func (a *MetricAnalyzer) BuildPrompt(snap model.TelemetrySnapshot, memory model.ContinuityRecord, recalled []string) string {
	var b strings.Builder
	b.WriteString("You are a health analyst. Write a personalized narrative assessment of this user's recent health telemetry.\n")
	b.WriteString("Cover trends, notable changes, and concrete observations. If a section has no data, say so plainly.\n\n")
	fmt.Fprintf(&b, "Window: %s\n\n", formatWindow(snap.Window))
	fmt.Fprintf(&b, "User context:\n%s\n\n", formatContinuity(memory))
	if len(recalled) > 0 {
		fmt.Fprintf(&b, "Similar past analyses:\n%s\n\n", formatRecalled(recalled))
	}
	fmt.Fprintf(&b, "Scores:\n%s\n\n", formatScores(snap.Scores))
	fmt.Fprintf(&b, "Behavioral tags:\n%s\n\n", formatArchetypes(snap.Archetypes))
	fmt.Fprintf(&b, "Biomarkers:\n%s\n", formatBiomarkers(snap.Biomarkers))
	return b.String()
}

// deriveInsights extracts a small structured summary from the narrative and
// snapshot. Deterministic: same narrative and snapshot, same map.
func deriveInsights(narrative string, snap model.TelemetrySnapshot) map[string]any {
	summary := narrative
	if len(summary) > maxSummaryChars {
		summary = truncate(summary, maxSummaryChars)
	}
	return map[string]any{
		"summary":         summary,
		"narrative_chars": len(narrative),
		"score_count":     len(snap.Scores),
		"archetype_count": len(snap.Archetypes),
		"biomarker_count": len(snap.Biomarkers),
		"window_days":     snap.Window.Days,
	}
}
