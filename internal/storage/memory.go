package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/vitalia-ai/vitalia/internal/archetype"
	"github.com/vitalia-ai/vitalia/internal/model"
)

// memoryColumns is the SELECT list for user_memory, kept in one place so the
// scan order below is the single thing that has to match it.
const memoryColumns = `user_id, preferences, goals, dietary_restrictions, lifestyle_context, medical_conditions,
	last_analysis, last_insights, last_analysis_at,
	last_nutrition_plan, last_nutrition_at,
	last_behavior_profile, last_behavior_at,
	last_routine_plan, last_routine_at, last_archetype,
	routine_plan_foundation_builder, routine_plan_transformation_seeker, routine_plan_systematic_improver,
	routine_plan_peak_performer, routine_plan_resilience_rebuilder, routine_plan_connected_explorer,
	analysis_count, created_at, updated_at`

// GetMemory reads the continuity record for userID.
// Returns ErrNotFound when no row exists; connection faults surface as-is.
func (db *DB) GetMemory(ctx context.Context, userID string) (model.ContinuityRecord, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+memoryColumns+` FROM user_memory WHERE user_id = $1`, userID)
	rec, err := scanMemory(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ContinuityRecord{}, ErrNotFound
		}
		return model.ContinuityRecord{}, fmt.Errorf("storage: get memory: %w", err)
	}
	return rec, nil
}

func scanMemory(row pgx.Row) (model.ContinuityRecord, error) {
	var (
		rec      model.ContinuityRecord
		analysis *string
		perPlan  = make([]json.RawMessage, len(archetype.All))
		planPtrs = make([]any, len(archetype.All))
	)
	for i := range perPlan {
		planPtrs[i] = &perPlan[i]
	}

	dest := []any{
		&rec.UserID, &rec.Preferences, &rec.Goals, &rec.DietaryRestrictions,
		&rec.LifestyleContext, &rec.MedicalConditions,
		&analysis, &rec.LastInsights, &rec.LastAnalysisAt,
		&rec.LastNutritionPlan, &rec.LastNutritionAt,
		&rec.LastBehaviorProfile, &rec.LastBehaviorAt,
		&rec.LastRoutinePlan, &rec.LastRoutineAt, &rec.LastArchetype,
	}
	dest = append(dest, planPtrs...)
	dest = append(dest, &rec.AnalysisCount, &rec.CreatedAt, &rec.UpdatedAt)

	if err := row.Scan(dest...); err != nil {
		return model.ContinuityRecord{}, err
	}
	if analysis != nil {
		rec.LastAnalysis = *analysis
	}
	rec.RoutinePlans = make(map[string]json.RawMessage)
	for i, a := range archetype.All {
		if len(perPlan[i]) > 0 {
			rec.RoutinePlans[string(a)] = perPlan[i]
		}
	}
	return rec, nil
}

// CreateMemoryIfAbsent inserts an empty continuity record for userID.
// Idempotent: an existing row is never overwritten.
func (db *DB) CreateMemoryIfAbsent(ctx context.Context, userID string) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO user_memory (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, userID)
	if err != nil {
		return fmt.Errorf("storage: create memory: %w", err)
	}
	return nil
}

// PatchAnalysis overwrites the last-analysis fields, increments the analysis
// counter, and stamps the current time. The counter moves exactly once per
// successful call, never per retry that failed.
func (db *DB) PatchAnalysis(ctx context.Context, userID, narrative string, insights map[string]any) error {
	if insights == nil {
		insights = map[string]any{}
	}
	tag, err := db.pool.Exec(ctx,
		`UPDATE user_memory
		 SET last_analysis = $2, last_insights = $3, last_analysis_at = now(),
		     analysis_count = analysis_count + 1, updated_at = now()
		 WHERE user_id = $1`,
		userID, narrative, insights)
	if err != nil {
		return fmt.Errorf("storage: patch analysis: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// PatchNutrition overwrites the last nutrition plan blob and its timestamp.
func (db *DB) PatchNutrition(ctx context.Context, userID string, plan json.RawMessage) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE user_memory
		 SET last_nutrition_plan = $2, last_nutrition_at = now(), updated_at = now()
		 WHERE user_id = $1`,
		userID, plan)
	if err != nil {
		return fmt.Errorf("storage: patch nutrition: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// PatchBehavior overwrites the last behavior profile blob and its timestamp.
func (db *DB) PatchBehavior(ctx context.Context, userID string, profile json.RawMessage) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE user_memory
		 SET last_behavior_profile = $2, last_behavior_at = now(), updated_at = now()
		 WHERE user_id = $1`,
		userID, profile)
	if err != nil {
		return fmt.Errorf("storage: patch behavior: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// PatchRoutine stores a routine plan. With a nil label the plan goes to the
// generic slot. With a recognized label it goes to that archetype's slot and
// the last-archetype pointer is updated. An unrecognized label fails with
// ErrUnknownArchetype and the record is left unchanged.
func (db *DB) PatchRoutine(ctx context.Context, userID string, plan json.RawMessage, label *string) error {
	if label == nil {
		tag, err := db.pool.Exec(ctx,
			`UPDATE user_memory
			 SET last_routine_plan = $2, last_routine_at = now(), last_archetype = NULL, updated_at = now()
			 WHERE user_id = $1`,
			userID, plan)
		if err != nil {
			return fmt.Errorf("storage: patch routine: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	}

	if !archetype.Known(*label) {
		return fmt.Errorf("%w: %q", ErrUnknownArchetype, *label)
	}
	v := archetype.Resolve(*label)

	// v.Column comes from the closed archetype table, never from caller input.
	query := fmt.Sprintf(
		`UPDATE user_memory
		 SET %s = $2, last_routine_at = now(), last_archetype = $3, updated_at = now()
		 WHERE user_id = $1`, v.Column)
	tag, err := db.pool.Exec(ctx, query, userID, plan, string(v.Archetype))
	if err != nil {
		return fmt.Errorf("storage: patch routine: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateContext merges the non-empty context groups of the patch into the
// record, key by key. Existing keys not named in the patch are kept.
func (db *DB) UpdateContext(ctx context.Context, userID string, patch model.ContextPatch) error {
	sets := make([]string, 0, 5)
	args := []any{userID}

	add := func(column string, m map[string]any) {
		if len(m) == 0 {
			return
		}
		args = append(args, m)
		sets = append(sets, fmt.Sprintf("%s = %s || $%d", column, column, len(args)))
	}
	add("preferences", patch.Preferences)
	add("goals", patch.Goals)
	add("dietary_restrictions", patch.DietaryRestrictions)
	add("lifestyle_context", patch.LifestyleContext)
	add("medical_conditions", patch.MedicalConditions)

	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = now()")

	tag, err := db.pool.Exec(ctx,
		`UPDATE user_memory SET `+strings.Join(sets, ", ")+` WHERE user_id = $1`, args...)
	if err != nil {
		return fmt.Errorf("storage: update context: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchedAt returns the record's updated_at, mostly for tests and diagnostics.
func (db *DB) TouchedAt(ctx context.Context, userID string) (time.Time, error) {
	var ts time.Time
	err := db.pool.QueryRow(ctx,
		`SELECT updated_at FROM user_memory WHERE user_id = $1`, userID).Scan(&ts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, ErrNotFound
		}
		return time.Time{}, fmt.Errorf("storage: touched at: %w", err)
	}
	return ts, nil
}
