package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/vitalia-ai/vitalia/internal/inference"
	"github.com/vitalia-ai/vitalia/internal/model"
)

// BehaviorAnalyzer infers a structured behavior profile. The quantitative
// half (indicators, sophistication score, readiness band) is computed locally
// from telemetry; the model contributes the qualitative half (signature,
// habit stage, motivation profile, recommendations).
type BehaviorAnalyzer struct {
	llm    inference.Client
	logger *slog.Logger
}

// NewBehaviorAnalyzer creates the behavior-analysis stage adapter.
func NewBehaviorAnalyzer(llm inference.Client, logger *slog.Logger) *BehaviorAnalyzer {
	return &BehaviorAnalyzer{llm: llm, logger: logger}
}

var behaviorSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"behavioral_signature": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"signature":  map[string]any{"type": "string"},
				"confidence": map[string]any{"type": "number"},
			},
			"required": []any{"signature", "confidence"},
		},
		"habit_formation_stage": map[string]any{
			"type": "string",
			"enum": []any{"Initiation", "Learning", "Stabilization", "Established"},
		},
		"motivation_profile": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"primary_drivers": map[string]any{
					"type":  "array",
					"items": map[string]any{"type": "string"},
				},
				"secondary_drivers": map[string]any{
					"type":  "array",
					"items": map[string]any{"type": "string"},
				},
				"motivation_type": map[string]any{
					"type": "string",
					"enum": []any{"Intrinsic", "Extrinsic", "Mixed"},
				},
				"accountability_level": map[string]any{
					"type": "string",
					"enum": []any{"High", "Medium", "Low", "None"},
				},
				"social_motivation": map[string]any{
					"type": "string",
					"enum": []any{"High", "Medium", "Low", "None"},
				},
			},
			"required": []any{"primary_drivers", "motivation_type", "accountability_level", "social_motivation"},
		},
		"recommendations": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string"},
		},
	},
	"required": []any{"behavioral_signature", "habit_formation_stage", "motivation_profile", "recommendations"},
}

type behaviorCompletion struct {
	Signature       model.BehaviorSignature `json:"behavioral_signature"`
	HabitStage      string                  `json:"habit_formation_stage"`
	Motivation      model.MotivationProfile `json:"motivation_profile"`
	Recommendations []string                `json:"recommendations"`
}

// Run executes the stage. The narrative may be empty if metric analysis was
// skipped upstream; the profile then rests on the indicators alone.
func (a *BehaviorAnalyzer) Run(ctx context.Context, snap model.TelemetrySnapshot, narrative string) Result[model.BehaviorProfile] {
	ind := ComputeIndicators(snap)
	score := SophisticationScore(ind)

	prompt := a.BuildPrompt(ind, score, narrative)

	raw, err := a.llm.GenerateJSON(ctx, prompt, behaviorSchema)
	if err != nil {
		a.logger.Warn("behavior analysis failed", "user_id", snap.UserID, "error", err)
		return Failf[model.BehaviorProfile]("behavior analysis: %v", err)
	}

	var completion behaviorCompletion
	if err := json.Unmarshal(raw, &completion); err != nil {
		return Failf[model.BehaviorProfile]("behavior analysis: malformed model output: %v", err)
	}
	if completion.HabitStage == "" || completion.Signature.Signature == "" {
		return Fail[model.BehaviorProfile]("behavior analysis: model output missing required fields")
	}
	normalizeCompletion(&completion)

	return OK(model.BehaviorProfile{
		SophisticationScore: score,
		Readiness:           model.ReadinessFor(score),
		Signature:           completion.Signature,
		HabitStage:          completion.HabitStage,
		Motivation:          completion.Motivation,
		Recommendations:     completion.Recommendations,
		Indicators:          ind,
	})
}

// normalizeCompletion clamps the signature confidence to [0,1] and fills the
// motivation enums with "Unknown" when the model left them blank, so stored
// profiles never carry empty categorical fields.
func normalizeCompletion(c *behaviorCompletion) {
	if c.Signature.Confidence < 0 {
		c.Signature.Confidence = 0
	}
	if c.Signature.Confidence > 1 {
		c.Signature.Confidence = 1
	}
	fill := func(s *string) {
		if *s == "" {
			*s = "Unknown"
		}
	}
	fill(&c.Motivation.MotivationType)
	fill(&c.Motivation.AccountabilityLevel)
	fill(&c.Motivation.SocialMotivation)
	if len(c.Recommendations) == 0 {
		c.Recommendations = []string{"Keep logging daily to build a clearer behavioral picture."}
	}
}

// BuildPrompt formats the stage request deterministically.
func (a *BehaviorAnalyzer) BuildPrompt(ind model.BehaviorIndicators, score float64, narrative string) string {
	var b strings.Builder
	b.WriteString("You are a behavioral coach. Given the engagement indicators below, produce a 2-3 word behavioral signature with your confidence, classify the user's habit formation stage, assess their motivation profile (primary and secondary drivers, intrinsic/extrinsic type, accountability preference, social motivation), and give 3-5 actionable recommendations.\n\n")
	fmt.Fprintf(&b, "Completion rate: %.2f\n", ind.CompletionRate)
	fmt.Fprintf(&b, "On-time rate: %.2f\n", ind.OnTimeRate)
	fmt.Fprintf(&b, "Current streak: %d days\n", ind.CurrentStreak)
	fmt.Fprintf(&b, "Longest streak: %d days\n", ind.LongestStreak)
	fmt.Fprintf(&b, "Proactive sessions: %d\n", ind.ProactiveCount)
	fmt.Fprintf(&b, "Total sessions: %d\n", ind.SessionCount)
	fmt.Fprintf(&b, "Sessions per active day: %.1f\n", ind.AvgDailySessions)
	fmt.Fprintf(&b, "Average session length: %.1f minutes\n", ind.AvgSessionMinutes)
	fmt.Fprintf(&b, "Average score: %.1f\n", ind.AvgSessionScore)
	fmt.Fprintf(&b, "Active days: %d\n", ind.ActiveDays)
	fmt.Fprintf(&b, "Trend: %s\n", ind.TrendDirection)
	fmt.Fprintf(&b, "Sophistication score: %.1f (%s)\n", score, model.ReadinessFor(score))

	if narrative != "" {
		prior := narrative
		if len(prior) > maxPriorAnalysisChars {
			prior = truncate(prior, maxPriorAnalysisChars) + "..."
		}
		fmt.Fprintf(&b, "\nHealth assessment:\n%s\n", prior)
	} else {
		fmt.Fprintf(&b, "\nHealth assessment:\n%s\n", noDataMarker)
	}
	return b.String()
}
