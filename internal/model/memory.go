package model

import (
	"encoding/json"
	"time"
)

// ContinuityRecord is the single durable row per user. It carries free-form
// context maps owned by upstream callers and the last result of each pipeline
// stage. Structured plan results are stored as opaque JSON blobs — the store
// never interprets their shape.
type ContinuityRecord struct {
	UserID string `json:"user_id"`

	// Free-form context maps; semantics owned by whoever patches them.
	Preferences         map[string]any `json:"preferences"`
	Goals               map[string]any `json:"goals"`
	DietaryRestrictions map[string]any `json:"dietary_restrictions"`
	LifestyleContext    map[string]any `json:"lifestyle_context"`
	MedicalConditions   map[string]any `json:"medical_conditions"`

	// Last narrative analysis.
	LastAnalysis   string         `json:"last_analysis,omitempty"`
	LastInsights   map[string]any `json:"last_insights,omitempty"`
	LastAnalysisAt *time.Time     `json:"last_analysis_at,omitempty"`

	// Last structured plans.
	LastNutritionPlan   json.RawMessage `json:"last_nutrition_plan,omitempty"`
	LastNutritionAt     *time.Time      `json:"last_nutrition_at,omitempty"`
	LastBehaviorProfile json.RawMessage `json:"last_behavior_profile,omitempty"`
	LastBehaviorAt      *time.Time      `json:"last_behavior_at,omitempty"`

	// Routine plans: one slot per archetype label plus a generic slot used
	// when no archetype was chosen. LastArchetype points at the most recent one.
	RoutinePlans    map[string]json.RawMessage `json:"routine_plans,omitempty"`
	LastRoutinePlan json.RawMessage            `json:"last_routine_plan,omitempty"`
	LastRoutineAt   *time.Time                 `json:"last_routine_at,omitempty"`
	LastArchetype   *string                    `json:"last_archetype,omitempty"`

	// Total successful metric analyses, ever. Monotonically increasing.
	AnalysisCount int `json:"analysis_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ContextPatch is a partial update of the free-form context maps.
// Nil maps are left untouched; non-nil maps are merged key-by-key.
type ContextPatch struct {
	Preferences         map[string]any `json:"preferences,omitempty"`
	Goals               map[string]any `json:"goals,omitempty"`
	DietaryRestrictions map[string]any `json:"dietary_restrictions,omitempty"`
	LifestyleContext    map[string]any `json:"lifestyle_context,omitempty"`
	MedicalConditions   map[string]any `json:"medical_conditions,omitempty"`
}

// Empty reports whether the patch carries no changes.
func (p ContextPatch) Empty() bool {
	return len(p.Preferences) == 0 && len(p.Goals) == 0 && len(p.DietaryRestrictions) == 0 &&
		len(p.LifestyleContext) == 0 && len(p.MedicalConditions) == 0
}
