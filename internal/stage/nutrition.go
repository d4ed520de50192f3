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

// NutritionPlanner produces a full-day meal plan from the narrative analysis.
type NutritionPlanner struct {
	llm    inference.Client
	logger *slog.Logger
}

// NewNutritionPlanner creates the nutrition-plan stage adapter.
func NewNutritionPlanner(llm inference.Client, logger *slog.Logger) *NutritionPlanner {
	return &NutritionPlanner{llm: llm, logger: logger}
}

// defaultMealTimes are the fallback time ranges when the model omits one.
var defaultMealTimes = map[string]string{
	"Early_Morning":   "06:00-06:30",
	"Breakfast":       "07:00-08:00",
	"Morning_Snack":   "10:00-10:30",
	"Lunch":           "12:30-13:30",
	"Afternoon_Snack": "16:00-16:30",
	"Dinner":          "19:00-20:00",
	"Evening_Snack":   "21:00-21:30",
}

func mealBlockSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"time_range":    map[string]any{"type": "string"},
			"nutrition_tip": map[string]any{"type": "string"},
			"meals": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"name":     map[string]any{"type": "string"},
						"details":  map[string]any{"type": "string"},
						"calories": map[string]any{"type": "number"},
						"protein":  map[string]any{"type": "number"},
						"macros": map[string]any{
							"type": "object",
							"properties": map[string]any{
								"carbs": map[string]any{"type": "number"},
								"fat":   map[string]any{"type": "number"},
							},
							"required": []any{"carbs", "fat"},
						},
					},
					"required": []any{"name", "details", "calories", "protein", "macros"},
				},
			},
		},
		"required": []any{"time_range", "nutrition_tip", "meals"},
	}
}

var nutritionSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"Early_Morning":   mealBlockSchema(),
		"Breakfast":       mealBlockSchema(),
		"Morning_Snack":   mealBlockSchema(),
		"Lunch":           mealBlockSchema(),
		"Afternoon_Snack": mealBlockSchema(),
		"Dinner":          mealBlockSchema(),
		"Evening_Snack":   mealBlockSchema(),
		"nutritional_info": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"calories":        map[string]any{"type": "number"},
				"protein":         map[string]any{"type": "number"},
				"protein_percent": map[string]any{"type": "number"},
				"carbs":           map[string]any{"type": "number"},
				"carbs_percent":   map[string]any{"type": "number"},
				"fat":             map[string]any{"type": "number"},
				"fat_percent":     map[string]any{"type": "number"},
				"fiber":           map[string]any{"type": "number"},
				"sugar":           map[string]any{"type": "number"},
				"sodium":          map[string]any{"type": "number"},
				"potassium":       map[string]any{"type": "number"},
				"vitamins": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"Vitamin_D": map[string]any{"type": "string"},
						"Calcium":   map[string]any{"type": "string"},
						"Iron":      map[string]any{"type": "string"},
						"Magnesium": map[string]any{"type": "string"},
					},
					"required": []any{"Vitamin_D", "Calcium", "Iron", "Magnesium"},
				},
			},
			"required": []any{"calories", "protein", "carbs", "fat", "vitamins"},
		},
	},
	"required": []any{
		"Early_Morning", "Breakfast", "Morning_Snack", "Lunch",
		"Afternoon_Snack", "Dinner", "Evening_Snack", "nutritional_info",
	},
}

// Run executes the stage. However sparse the narrative, a successful result
// always contains exactly seven meal blocks with 1-2 meals each.
func (p *NutritionPlanner) Run(ctx context.Context, narrative string) Result[model.NutritionPlan] {
	prompt := p.BuildPrompt(narrative)

	raw, err := p.llm.GenerateJSON(ctx, prompt, nutritionSchema)
	if err != nil {
		p.logger.Warn("nutrition plan failed", "error", err)
		return Failf[model.NutritionPlan]("nutrition plan: %v", err)
	}

	var plan model.NutritionPlan
	if err := json.Unmarshal(raw, &plan); err != nil {
		return Failf[model.NutritionPlan]("nutrition plan: malformed model output: %v", err)
	}

	NormalizeNutritionPlan(&plan)
	return OK(plan)
}

// BuildPrompt formats the stage request deterministically.
func (p *NutritionPlanner) BuildPrompt(narrative string) string {
	var b strings.Builder
	b.WriteString("You are a nutritionist. Build a personalized full-day meal plan from the health assessment below.\n")
	b.WriteString("Produce all seven meal blocks (Early_Morning, Breakfast, Morning_Snack, Lunch, Afternoon_Snack, Dinner, Evening_Snack), each with a time range, one nutrition tip, and 1-2 concrete meals with calories, protein, carbs, and fat. Finish with the daily nutritional_info roll-up.\n\n")
	if narrative == "" {
		narrative = noDataMarker
	}
	fmt.Fprintf(&b, "Health assessment:\n%s\n", narrative)
	return b.String()
}

// NormalizeNutritionPlan enforces the output invariants on a decoded plan:
// every block has a time range, a tip, and 1-2 meals. Blocks the model left
// empty get a labeled placeholder meal rather than disappearing.
func NormalizeNutritionPlan(plan *model.NutritionPlan) {
	for _, nb := range plan.Blocks() {
		if nb.Block.TimeRange == "" {
			nb.Block.TimeRange = defaultMealTimes[nb.Label]
		}
		if nb.Block.NutritionTip == "" {
			nb.Block.NutritionTip = "Stay hydrated and eat mindfully."
		}
		if len(nb.Block.Meals) == 0 {
			nb.Block.Meals = []model.Meal{{
				Name:     "Balanced option",
				Details:  fmt.Sprintf("No specific suggestion was generated for %s; choose a light, balanced option.", strings.ReplaceAll(nb.Label, "_", " ")),
				Calories: 0,
				Protein:  0,
			}}
		}
		if len(nb.Block.Meals) > 2 {
			nb.Block.Meals = nb.Block.Meals[:2]
		}
	}
}
