package model

import (
	"time"

	"github.com/google/uuid"
)

// Stage identifies one step of the analysis pipeline.
type Stage string

const (
	StageLoadMemory       Stage = "load_memory"
	StageFetchTelemetry   Stage = "fetch_telemetry"
	StageMetricAnalysis   Stage = "metric_analysis"
	StageBehaviorAnalysis Stage = "behavior_analysis"
	StageNutritionPlan    Stage = "nutrition_plan"
	StageRoutinePlan      Stage = "routine_plan"
)

// StageState is the terminal state of one stage within a run.
type StageState string

const (
	StageSucceeded StageState = "succeeded"
	StageFailed    StageState = "failed"
	StageSkipped   StageState = "skipped" // never attempted (upstream abort)
)

// StageStatus is one entry of the per-stage status vector.
type StageStatus struct {
	Stage      Stage      `json:"stage"`
	State      StageState `json:"state"`
	Reason     string     `json:"reason,omitempty"` // diagnostic, set on failure
	DurationMS int64      `json:"duration_ms"`
}

// RunRequest asks for one pipeline run.
type RunRequest struct {
	UserID    string `json:"user_id"`
	Days      int    `json:"days"`
	Archetype string `json:"archetype,omitempty"`
}

// RunReport is the outcome of a run. There is deliberately no overall
// pass/fail — callers inspect the stage vector. A run with a failed routine
// plan but a persisted narrative is a normal outcome, not an error.
type RunReport struct {
	RunID       uuid.UUID     `json:"run_id"`
	UserID      string        `json:"user_id"`
	Archetype   string        `json:"archetype"` // resolved label actually used
	StartedAt   time.Time     `json:"started_at"`
	FinishedAt  time.Time     `json:"finished_at"`
	Aborted     bool          `json:"aborted"`
	AbortReason string        `json:"abort_reason,omitempty"`
	Stages      []StageStatus `json:"stages"`

	// Stage outputs, present only for stages that succeeded.
	Narrative     string           `json:"narrative,omitempty"`
	Insights      map[string]any   `json:"insights,omitempty"`
	Behavior      *BehaviorProfile `json:"behavior,omitempty"`
	NutritionPlan *NutritionPlan   `json:"nutrition_plan,omitempty"`
	RoutinePlan   *RoutinePlan     `json:"routine_plan,omitempty"`
}

// StageStatusFor returns the status entry for the given stage, if present.
func (r RunReport) StageStatusFor(stage Stage) (StageStatus, bool) {
	for _, s := range r.Stages {
		if s.Stage == stage {
			return s, true
		}
	}
	return StageStatus{}, false
}
