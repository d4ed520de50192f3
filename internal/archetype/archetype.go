// Package archetype maps user-chosen archetype labels to routine-planning
// variants. Resolution is total: any unrecognized label degrades to the
// Foundation Builder default instead of erroring.
package archetype

import "strings"

// Archetype is one of the six recognized planning variants.
type Archetype string

const (
	FoundationBuilder    Archetype = "Foundation Builder"
	TransformationSeeker Archetype = "Transformation Seeker"
	SystematicImprover   Archetype = "Systematic Improver"
	PeakPerformer        Archetype = "Peak Performer"
	ResilienceRebuilder  Archetype = "Resilience Rebuilder"
	ConnectedExplorer    Archetype = "Connected Explorer"
)

// GenericColumn is the continuity-record slot used when no archetype was
// chosen (or the label was unrecognized).
const GenericColumn = "last_routine_plan"

// Variant is the resolved behavior for the routine-plan stage: which prompt
// style to use and which continuity-record column receives the result.
type Variant struct {
	Archetype   Archetype
	PromptStyle string
	Column      string
}

// All lists the six recognized archetypes in their canonical order.
var All = []Archetype{
	FoundationBuilder,
	TransformationSeeker,
	SystematicImprover,
	PeakPerformer,
	ResilienceRebuilder,
	ConnectedExplorer,
}

var variants = map[Archetype]Variant{
	FoundationBuilder: {
		Archetype:   FoundationBuilder,
		PromptStyle: "Keep guidance gentle and incremental. Favor small, repeatable habits over ambitious targets, and explain the basics without jargon.",
		Column:      "routine_plan_foundation_builder",
	},
	TransformationSeeker: {
		Archetype:   TransformationSeeker,
		PromptStyle: "Emphasize visible progress and momentum. Frame each block around a concrete milestone the user can feel moving toward.",
		Column:      "routine_plan_transformation_seeker",
	},
	SystematicImprover: {
		Archetype:   SystematicImprover,
		PromptStyle: "Be precise and data-driven. Reference measurable targets, tracking, and iteration on what the numbers show.",
		Column:      "routine_plan_systematic_improver",
	},
	PeakPerformer: {
		Archetype:   PeakPerformer,
		PromptStyle: "Optimize for output under an already-demanding schedule. Favor high-leverage recovery and performance protocols over volume.",
		Column:      "routine_plan_peak_performer",
	},
	ResilienceRebuilder: {
		Archetype:   ResilienceRebuilder,
		PromptStyle: "Prioritize recovery and stress reduction. Keep intensity low, emphasize rest quality, and avoid anything that reads as pressure.",
		Column:      "routine_plan_resilience_rebuilder",
	},
	ConnectedExplorer: {
		Archetype:   ConnectedExplorer,
		PromptStyle: "Favor variety and social settings. Suggest activities with other people, new environments, and playful experimentation.",
		Column:      "routine_plan_connected_explorer",
	},
}

// Resolve maps an archetype label to its Variant. Unknown or empty labels
// resolve to the Foundation Builder prompt style writing to the generic
// column. Resolve never fails.
func Resolve(label string) Variant {
	if v, ok := variants[Archetype(strings.TrimSpace(label))]; ok {
		return v
	}
	def := variants[FoundationBuilder]
	def.Column = GenericColumn
	return def
}

// Known reports whether label is one of the six recognized archetypes.
func Known(label string) bool {
	_, ok := variants[Archetype(strings.TrimSpace(label))]
	return ok
}

// Columns returns the six archetype-specific continuity-record columns.
func Columns() []string {
	cols := make([]string, 0, len(All))
	for _, a := range All {
		cols = append(cols, variants[a].Column)
	}
	return cols
}
