package storage_test

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalia-ai/vitalia/internal/model"
	"github.com/vitalia-ai/vitalia/internal/storage"
	"github.com/vitalia-ai/vitalia/internal/testutil"
)

// testDB holds a shared test database connection for all tests in this package.
var testDB *storage.DB

func TestMain(m *testing.M) {
	tc := testutil.MustStartPostgres()
	code := setupAndRun(m, tc)
	tc.Terminate()
	os.Exit(code)
}

func setupAndRun(m *testing.M, tc *testutil.TestContainer) int {
	ctx := context.Background()

	var err error
	testDB, err = tc.NewTestDB(ctx, testutil.TestLogger())
	if err != nil {
		fmt.Fprintf(os.Stderr, "storage test: create DB: %v\n", err)
		return 1
	}
	defer testDB.Close()

	return m.Run()
}

// newUserID returns a user ID unique to one test so tests never share rows.
func newUserID(prefix string) string {
	return prefix + "-" + uuid.New().String()[:8]
}

func TestCreateMemoryIfAbsentIdempotent(t *testing.T) {
	ctx := context.Background()
	userID := newUserID("mem-create")

	require.NoError(t, testDB.CreateMemoryIfAbsent(ctx, userID))
	require.NoError(t, testDB.PatchAnalysis(ctx, userID, "first narrative", nil))

	// A second create must not reset the existing row.
	require.NoError(t, testDB.CreateMemoryIfAbsent(ctx, userID))

	rec, err := testDB.GetMemory(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, "first narrative", rec.LastAnalysis)
	assert.Equal(t, 1, rec.AnalysisCount)
}

func TestGetMemoryNotFound(t *testing.T) {
	_, err := testDB.GetMemory(context.Background(), newUserID("mem-missing"))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestNewMemoryStartsEmpty(t *testing.T) {
	ctx := context.Background()
	userID := newUserID("mem-empty")

	require.NoError(t, testDB.CreateMemoryIfAbsent(ctx, userID))

	rec, err := testDB.GetMemory(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, userID, rec.UserID)
	assert.Empty(t, rec.LastAnalysis)
	assert.Nil(t, rec.LastAnalysisAt)
	assert.Nil(t, rec.LastArchetype)
	assert.Empty(t, rec.RoutinePlans)
	assert.Zero(t, rec.AnalysisCount)
	assert.False(t, rec.CreatedAt.IsZero())
}

func TestPatchAnalysisIncrementsCounter(t *testing.T) {
	ctx := context.Background()
	userID := newUserID("mem-analysis")
	require.NoError(t, testDB.CreateMemoryIfAbsent(ctx, userID))

	insights := map[string]any{"sleep_trend": "improving"}
	require.NoError(t, testDB.PatchAnalysis(ctx, userID, "sleep is improving", insights))
	require.NoError(t, testDB.PatchAnalysis(ctx, userID, "activity is flat", nil))

	rec, err := testDB.GetMemory(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, "activity is flat", rec.LastAnalysis)
	assert.Equal(t, 2, rec.AnalysisCount)
	require.NotNil(t, rec.LastAnalysisAt)
}

func TestPatchAnalysisMissingUser(t *testing.T) {
	err := testDB.PatchAnalysis(context.Background(), newUserID("mem-ghost"), "x", nil)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPatchNutritionAndBehavior(t *testing.T) {
	ctx := context.Background()
	userID := newUserID("mem-plans")
	require.NoError(t, testDB.CreateMemoryIfAbsent(ctx, userID))

	nutrition := json.RawMessage(`{"Breakfast": {"meals": [{"name": "oats"}]}}`)
	behavior := json.RawMessage(`{"habit_formation_stage": "Learning"}`)
	require.NoError(t, testDB.PatchNutrition(ctx, userID, nutrition))
	require.NoError(t, testDB.PatchBehavior(ctx, userID, behavior))

	rec, err := testDB.GetMemory(ctx, userID)
	require.NoError(t, err)
	assert.JSONEq(t, string(nutrition), string(rec.LastNutritionPlan))
	assert.JSONEq(t, string(behavior), string(rec.LastBehaviorProfile))
	require.NotNil(t, rec.LastNutritionAt)
	require.NotNil(t, rec.LastBehaviorAt)
}

func TestPatchRoutineGenericSlot(t *testing.T) {
	ctx := context.Background()
	userID := newUserID("mem-routine-generic")
	require.NoError(t, testDB.CreateMemoryIfAbsent(ctx, userID))

	plan := json.RawMessage(`{"morning_wakeup": {"tasks": []}}`)
	require.NoError(t, testDB.PatchRoutine(ctx, userID, plan, nil))

	rec, err := testDB.GetMemory(ctx, userID)
	require.NoError(t, err)
	assert.JSONEq(t, string(plan), string(rec.LastRoutinePlan))
	assert.Nil(t, rec.LastArchetype)
	assert.Empty(t, rec.RoutinePlans)
}

func TestPatchRoutineArchetypeSlot(t *testing.T) {
	ctx := context.Background()
	userID := newUserID("mem-routine-arch")
	require.NoError(t, testDB.CreateMemoryIfAbsent(ctx, userID))

	plan := json.RawMessage(`{"focus_block": {"tasks": []}}`)
	label := "Peak Performer"
	require.NoError(t, testDB.PatchRoutine(ctx, userID, plan, &label))

	rec, err := testDB.GetMemory(ctx, userID)
	require.NoError(t, err)
	require.NotNil(t, rec.LastArchetype)
	assert.Equal(t, "Peak Performer", *rec.LastArchetype)
	assert.JSONEq(t, string(plan), string(rec.RoutinePlans["Peak Performer"]))
	assert.Empty(t, rec.LastRoutinePlan)

	// A second archetype keeps the first plan in its own slot.
	plan2 := json.RawMessage(`{"evening_winddown": {"tasks": []}}`)
	label2 := "Foundation Builder"
	require.NoError(t, testDB.PatchRoutine(ctx, userID, plan2, &label2))

	rec, err = testDB.GetMemory(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, "Foundation Builder", *rec.LastArchetype)
	assert.Len(t, rec.RoutinePlans, 2)
}

func TestPatchRoutineUnknownArchetype(t *testing.T) {
	ctx := context.Background()
	userID := newUserID("mem-routine-bad")
	require.NoError(t, testDB.CreateMemoryIfAbsent(ctx, userID))

	label := "Moon Walker"
	err := testDB.PatchRoutine(ctx, userID, json.RawMessage(`{}`), &label)
	require.ErrorIs(t, err, storage.ErrUnknownArchetype)

	// Record untouched.
	rec, gerr := testDB.GetMemory(ctx, userID)
	require.NoError(t, gerr)
	assert.Nil(t, rec.LastRoutineAt)
}

func TestUpdateContextMerges(t *testing.T) {
	ctx := context.Background()
	userID := newUserID("mem-context")
	require.NoError(t, testDB.CreateMemoryIfAbsent(ctx, userID))

	require.NoError(t, testDB.UpdateContext(ctx, userID, model.ContextPatch{
		Goals:       map[string]any{"sleep_hours": 8, "steps": 10000},
		Preferences: map[string]any{"diet": "vegetarian"},
	}))
	// Patch one goal key; the other must survive.
	require.NoError(t, testDB.UpdateContext(ctx, userID, model.ContextPatch{
		Goals: map[string]any{"steps": 12000},
	}))

	rec, err := testDB.GetMemory(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, float64(8), rec.Goals["sleep_hours"])
	assert.Equal(t, float64(12000), rec.Goals["steps"])
	assert.Equal(t, "vegetarian", rec.Preferences["diet"])
}

func TestUpdateContextEmptyPatchIsNoop(t *testing.T) {
	// An all-empty patch succeeds even for a missing user: nothing to write.
	err := testDB.UpdateContext(context.Background(), newUserID("mem-noop"), model.ContextPatch{})
	assert.NoError(t, err)
}

func TestUpdateContextMissingUser(t *testing.T) {
	err := testDB.UpdateContext(context.Background(), newUserID("mem-ghost"), model.ContextPatch{
		Goals: map[string]any{"steps": 1},
	})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestAuditAppendAndList(t *testing.T) {
	ctx := context.Background()
	userID := newUserID("audit")
	runID := uuid.New()

	in := model.AuditEntry{
		RunID: runID, UserID: userID, Direction: model.AuditInput,
		Payload:   json.RawMessage(`{"days": 7}`),
		CreatedAt: time.Now().UTC().Add(-time.Second),
	}
	out := model.AuditEntry{
		RunID: runID, UserID: userID, Direction: model.AuditOutput,
		Payload: json.RawMessage(`{"aborted": false}`),
	}
	require.NoError(t, testDB.AppendAudit(ctx, in))
	require.NoError(t, testDB.AppendAudit(ctx, out))

	byRun, err := testDB.ListAuditByRun(ctx, runID)
	require.NoError(t, err)
	require.Len(t, byRun, 2)
	assert.Equal(t, model.AuditInput, byRun[0].Direction)
	assert.Equal(t, model.AuditOutput, byRun[1].Direction)
	assert.NotEqual(t, uuid.Nil, byRun[0].ID)

	byUser, err := testDB.ListAuditByUser(ctx, userID, 1)
	require.NoError(t, err)
	require.Len(t, byUser, 1)
	assert.Equal(t, model.AuditOutput, byUser[0].Direction)
}

func TestFetchSnapshotWindow(t *testing.T) {
	ctx := context.Background()
	userID := newUserID("telemetry")
	now := time.Now().UTC()

	insertScore := func(score float64, at time.Time) {
		_, err := testDB.Pool().Exec(ctx,
			`INSERT INTO scores (profile_id, type, score, data, score_date_time)
			 VALUES ($1, 'sleep', $2, '{}', $3)`, userID, score, at)
		require.NoError(t, err)
	}
	insertScore(70, now.AddDate(0, 0, -1))
	insertScore(80, now.AddDate(0, 0, -3))
	insertScore(90, now.AddDate(0, 0, -30)) // outside a 7-day window

	_, err := testDB.Pool().Exec(ctx,
		`INSERT INTO archetypes (profile_id, name, periodicity, value, data, start_time, end_time)
		 VALUES ($1, 'sleep_chronotype', 'weekly', 'night_owl', '{}', $2, $3)`,
		userID, now.AddDate(0, 0, -2), now.AddDate(0, 0, -2))
	require.NoError(t, err)

	_, err = testDB.Pool().Exec(ctx,
		`INSERT INTO biomarkers (profile_id, category, type, data, start_time, end_time)
		 VALUES ($1, 'heart', 'resting_hr', '{"bpm": 52}', $2, $3)`,
		userID, now.AddDate(0, 0, -1), now.AddDate(0, 0, -1))
	require.NoError(t, err)

	snap, err := testDB.FetchSnapshot(ctx, userID, 7)
	require.NoError(t, err)

	require.Len(t, snap.Scores, 2)
	// Most recent first.
	assert.Equal(t, float64(70), snap.Scores[0].Score)
	assert.Equal(t, float64(80), snap.Scores[1].Score)
	require.Len(t, snap.Archetypes, 1)
	assert.Equal(t, "night_owl", snap.Archetypes[0].Value)
	require.Len(t, snap.Biomarkers, 1)
	assert.Equal(t, float64(52), snap.Biomarkers[0].Data["bpm"])
	assert.Equal(t, 7, snap.Window.Days)
}

func TestFetchSnapshotUnknownUserIsEmpty(t *testing.T) {
	snap, err := testDB.FetchSnapshot(context.Background(), newUserID("telemetry-none"), 7)
	require.NoError(t, err)
	assert.True(t, snap.Empty())
}

func TestAnalysisHistoryRecall(t *testing.T) {
	ctx := context.Background()
	userID := newUserID("history")

	vec := func(head float32) pgvector.Vector {
		v := make([]float32, 1536)
		v[0] = head
		v[1] = 1 - head
		return pgvector.NewVector(v)
	}

	require.NoError(t, testDB.AppendAnalysisHistory(ctx, userID, "sleep improved steadily", vec(1)))
	require.NoError(t, testDB.AppendAnalysisHistory(ctx, userID, "activity dropped sharply", vec(0)))
	// No embedding: excluded from similarity search.
	require.NoError(t, testDB.AppendAnalysisHistory(ctx, userID, "unembedded note", pgvector.NewVector(nil)))

	got, err := testDB.SimilarAnalyses(ctx, userID, vec(0.9), 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "sleep improved steadily", got[0].Narrative)
	assert.Less(t, got[0].Distance, got[1].Distance)
}

func TestSQLiteAuditRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	sink, err := storage.OpenSQLiteAudit(path)
	require.NoError(t, err)
	defer sink.Close()

	ctx := context.Background()
	runID := uuid.New()
	require.NoError(t, sink.AppendAudit(ctx, model.AuditEntry{
		RunID: runID, UserID: "alice", Direction: model.AuditInput,
		Payload:   json.RawMessage(`{"days": 7}`),
		CreatedAt: time.Now().UTC().Add(-time.Second),
	}))
	require.NoError(t, sink.AppendAudit(ctx, model.AuditEntry{
		RunID: runID, UserID: "alice", Direction: model.AuditOutput,
		Payload: json.RawMessage(`{"aborted": false}`),
	}))

	entries, err := sink.ListAuditByRun(ctx, runID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, model.AuditInput, entries[0].Direction)
	assert.JSONEq(t, `{"aborted": false}`, string(entries[1].Payload))
}
