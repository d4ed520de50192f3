package stage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNutritionRunAlwaysSevenBlocks(t *testing.T) {
	// The model returned a single populated block; the other six must still
	// come back labeled, timed, and with at least one meal.
	stub := &stubClient{raw: `{
		"Breakfast": {
			"time_range": "07:30-08:00",
			"nutrition_tip": "Front-load protein.",
			"meals": [{"name": "Greek yogurt bowl", "details": "Yogurt, berries, walnuts", "calories": 420, "protein": 32, "macros": {"carbs": 38, "fat": 16}}]
		},
		"nutritional_info": {"calories": 2100, "protein": 140, "carbs": 210, "fat": 70,
			"vitamins": {"Vitamin_D": "15mcg", "Calcium": "1000mg", "Iron": "12mg", "Magnesium": "400mg"}}
	}`}
	p := NewNutritionPlanner(stub, testLogger())

	res := p.Run(context.Background(), "Protein intake is low on training days.")
	require.True(t, res.OK)

	blocks := res.Value.Blocks()
	require.Len(t, blocks, 7)
	for _, nb := range blocks {
		assert.NotEmpty(t, nb.Block.TimeRange, nb.Label)
		assert.NotEmpty(t, nb.Block.NutritionTip, nb.Label)
		count := len(nb.Block.Meals)
		assert.GreaterOrEqual(t, count, 1, nb.Label)
		assert.LessOrEqual(t, count, 2, nb.Label)
	}
	assert.Equal(t, "Greek yogurt bowl", res.Value.Breakfast.Meals[0].Name)
	assert.Equal(t, "06:00-06:30", res.Value.EarlyMorning.TimeRange)
	assert.Equal(t, "15mcg", res.Value.Summary.Vitamins.VitaminD)
}

func TestNutritionRunTruncatesExtraMeals(t *testing.T) {
	stub := &stubClient{raw: `{
		"Lunch": {"time_range": "12:30-13:30", "nutrition_tip": "Eat slowly.", "meals": [
			{"name": "a", "details": "", "calories": 1, "protein": 1, "macros": {"carbs": 1, "fat": 1}},
			{"name": "b", "details": "", "calories": 1, "protein": 1, "macros": {"carbs": 1, "fat": 1}},
			{"name": "c", "details": "", "calories": 1, "protein": 1, "macros": {"carbs": 1, "fat": 1}}
		]}
	}`}
	p := NewNutritionPlanner(stub, testLogger())

	res := p.Run(context.Background(), "narrative")
	require.True(t, res.OK)
	require.Len(t, res.Value.Lunch.Meals, 2)
	assert.Equal(t, "b", res.Value.Lunch.Meals[1].Name)
}

func TestNutritionRunFailure(t *testing.T) {
	p := NewNutritionPlanner(&stubClient{err: errStub}, testLogger())

	res := p.Run(context.Background(), "narrative")
	assert.False(t, res.OK)
	assert.Contains(t, res.Reason, "nutrition plan")
}

func TestNutritionRunMalformedOutput(t *testing.T) {
	p := NewNutritionPlanner(&stubClient{raw: `not json`}, testLogger())

	res := p.Run(context.Background(), "narrative")
	assert.False(t, res.OK)
	assert.Contains(t, res.Reason, "malformed model output")
}

func TestNutritionPromptHandlesEmptyNarrative(t *testing.T) {
	p := NewNutritionPlanner(&stubClient{}, testLogger())

	prompt := p.BuildPrompt("")
	assert.Contains(t, prompt, noDataMarker)
	assert.Equal(t, prompt, p.BuildPrompt(""))
}
