package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/vitalia-ai/vitalia/internal/archetype"
	"github.com/vitalia-ai/vitalia/internal/inference"
	"github.com/vitalia-ai/vitalia/internal/model"
)

// RoutinePlanner produces a full-day routine from the narrative analysis,
// the behavior profile (optional), and the resolved archetype variant.
// The archetype changes only the prompt style — the output shape is the
// same four blocks for every archetype.
type RoutinePlanner struct {
	llm    inference.Client
	logger *slog.Logger
}

// NewRoutinePlanner creates the routine-plan stage adapter.
func NewRoutinePlanner(llm inference.Client, logger *slog.Logger) *RoutinePlanner {
	return &RoutinePlanner{llm: llm, logger: logger}
}

// defaultBlockTimes are the fallback time ranges when the model omits one.
var defaultBlockTimes = map[string]string{
	"morning_wakeup":     "06:00-08:00",
	"focus_block":        "09:00-12:00",
	"afternoon_recharge": "13:00-15:00",
	"evening_winddown":   "20:00-22:00",
}

// defaultBlockTasks pad a block up to the two-task minimum.
var defaultBlockTasks = map[string][]model.RoutineTask{
	"morning_wakeup": {
		{Task: "Drink a glass of water", Reason: "Rehydrate after sleep before caffeine."},
		{Task: "Get 10 minutes of daylight", Reason: "Morning light anchors the circadian rhythm."},
	},
	"focus_block": {
		{Task: "Work on the day's most important task first", Reason: "Willpower and focus peak early."},
		{Task: "Silence notifications for one block", Reason: "Context switching taxes deep work."},
	},
	"afternoon_recharge": {
		{Task: "Take a 10-minute walk", Reason: "Light movement counters the afternoon dip."},
		{Task: "Have a protein-forward snack", Reason: "Stabilizes energy without a sugar spike."},
	},
	"evening_winddown": {
		{Task: "Dim screens an hour before bed", Reason: "Blue light delays melatonin release."},
		{Task: "Note tomorrow's first task", Reason: "Closing open loops eases sleep onset."},
	},
}

func timeBlockSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"time_range":     map[string]any{"type": "string"},
			"why_it_matters": map[string]any{"type": "string"},
			"tasks": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"task":   map[string]any{"type": "string"},
						"reason": map[string]any{"type": "string"},
					},
					"required": []any{"task", "reason"},
				},
			},
		},
		"required": []any{"time_range", "why_it_matters", "tasks"},
	}
}

var routineSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"morning_wakeup":     timeBlockSchema(),
		"focus_block":        timeBlockSchema(),
		"afternoon_recharge": timeBlockSchema(),
		"evening_winddown":   timeBlockSchema(),
	},
	"required": []any{"morning_wakeup", "focus_block", "afternoon_recharge", "evening_winddown"},
}

// Run executes the stage. A successful result always contains exactly four
// time blocks with 2-4 tasks each.
func (p *RoutinePlanner) Run(ctx context.Context, narrative string, behavior *model.BehaviorProfile, variant archetype.Variant) Result[model.RoutinePlan] {
	prompt := p.BuildPrompt(narrative, behavior, variant)

	raw, err := p.llm.GenerateJSON(ctx, prompt, routineSchema)
	if err != nil {
		p.logger.Warn("routine plan failed", "archetype", string(variant.Archetype), "error", err)
		return Failf[model.RoutinePlan]("routine plan: %v", err)
	}

	var plan model.RoutinePlan
	if err := json.Unmarshal(raw, &plan); err != nil {
		return Failf[model.RoutinePlan]("routine plan: malformed model output: %v", err)
	}

	NormalizeRoutinePlan(&plan)
	return OK(plan)
}

// BuildPrompt formats the stage request deterministically. The archetype's
// prompt style is the only part that varies between variants.
func (p *RoutinePlanner) BuildPrompt(narrative string, behavior *model.BehaviorProfile, variant archetype.Variant) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a daily-routine coach for a %q user. %s\n", string(variant.Archetype), variant.PromptStyle)
	b.WriteString("Build a daily routine with exactly four blocks (morning_wakeup, focus_block, afternoon_recharge, evening_winddown), each with a time range, why it matters, and 2-4 tasks with reasons.\n\n")

	if narrative == "" {
		narrative = noDataMarker
	}
	fmt.Fprintf(&b, "Health assessment:\n%s\n", narrative)

	if behavior != nil {
		fmt.Fprintf(&b, "\nBehavior profile: readiness %s, habit stage %s, sophistication %.1f\n",
			behavior.Readiness, behavior.HabitStage, behavior.SophisticationScore)
		if len(behavior.Motivation.PrimaryDrivers) > 0 {
			fmt.Fprintf(&b, "Motivation drivers: %s\n", strings.Join(behavior.Motivation.PrimaryDrivers, ", "))
		}
		fmt.Fprintf(&b, "Motivation type: %s, accountability %s, social %s\n",
			behavior.Motivation.MotivationType, behavior.Motivation.AccountabilityLevel, behavior.Motivation.SocialMotivation)
	}
	return b.String()
}

// NormalizeRoutinePlan enforces the output invariants on a decoded plan:
// every block has a time range, a rationale, and 2-4 tasks. Short blocks are
// padded from the per-block defaults, long ones truncated.
func NormalizeRoutinePlan(plan *model.RoutinePlan) {
	for _, nb := range plan.Blocks() {
		if nb.Block.TimeRange == "" {
			nb.Block.TimeRange = defaultBlockTimes[nb.Label]
		}
		if nb.Block.WhyItMatters == "" {
			nb.Block.WhyItMatters = "Keeps the day's energy and focus on track."
		}
		for i := 0; len(nb.Block.Tasks) < 2 && i < len(defaultBlockTasks[nb.Label]); i++ {
			nb.Block.Tasks = append(nb.Block.Tasks, defaultBlockTasks[nb.Label][i])
		}
		if len(nb.Block.Tasks) > 4 {
			nb.Block.Tasks = nb.Block.Tasks[:4]
		}
	}
}
