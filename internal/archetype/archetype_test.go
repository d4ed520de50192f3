package archetype

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveKnownLabels(t *testing.T) {
	seen := make(map[string]bool)
	for _, a := range All {
		v := Resolve(string(a))
		assert.Equal(t, a, v.Archetype)
		assert.NotEmpty(t, v.PromptStyle)
		require.NotEmpty(t, v.Column)
		assert.NotEqual(t, GenericColumn, v.Column, "recognized label must get its own column")
		assert.False(t, seen[v.Column], "columns must be distinct: %s", v.Column)
		seen[v.Column] = true
	}
	assert.Len(t, seen, 6)
}

func TestResolveUnknownDefaultsToFoundationBuilder(t *testing.T) {
	for _, label := range []string{"", "  ", "Ninja Warrior", "foundation builder", "FOUNDATION BUILDER"} {
		v := Resolve(label)
		assert.Equal(t, FoundationBuilder, v.Archetype, "label %q", label)
		assert.Equal(t, GenericColumn, v.Column, "label %q", label)
	}
}

func TestResolveTrimsWhitespace(t *testing.T) {
	v := Resolve("  Peak Performer  ")
	assert.Equal(t, PeakPerformer, v.Archetype)
	assert.Equal(t, "routine_plan_peak_performer", v.Column)
}

func TestKnown(t *testing.T) {
	assert.True(t, Known("Peak Performer"))
	assert.True(t, Known(" Connected Explorer "))
	assert.False(t, Known("peak performer"))
	assert.False(t, Known(""))
}

func TestColumns(t *testing.T) {
	cols := Columns()
	require.Len(t, cols, 6)
	for _, c := range cols {
		assert.NotEqual(t, GenericColumn, c)
	}
}
