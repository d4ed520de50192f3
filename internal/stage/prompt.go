package stage

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/vitalia-ai/vitalia/internal/model"
)

// Prompt formatting is deterministic by construction: fixed section order,
// fixed field order, records capped at maxPromptRecords, maps rendered with
// sorted keys. Identical inputs produce byte-identical prompts, which is what
// the stage tests pin down.
const (
	maxPromptRecords = 10
	noDataMarker     = "No data available"

	// maxPriorAnalysisChars bounds how much of the previous narrative is
	// carried into the next prompt as continuity context.
	maxPriorAnalysisChars = 500
)

const promptTimeLayout = "2006-01-02 15:04"

func formatScores(scores []model.ScoreRecord) string {
	if len(scores) == 0 {
		return noDataMarker
	}
	var b strings.Builder
	for i, s := range scores {
		if i == maxPromptRecords {
			fmt.Fprintf(&b, "... and %d more\n", len(scores)-maxPromptRecords)
			break
		}
		fmt.Fprintf(&b, "- [%s] %s: %.1f\n", s.RecordedAt.UTC().Format(promptTimeLayout), s.Type, s.Score)
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatArchetypes(records []model.ArchetypeRecord) string {
	if len(records) == 0 {
		return noDataMarker
	}
	var b strings.Builder
	for i, r := range records {
		if i == maxPromptRecords {
			fmt.Fprintf(&b, "... and %d more\n", len(records)-maxPromptRecords)
			break
		}
		fmt.Fprintf(&b, "- [%s] %s (%s): %s\n", r.StartTime.UTC().Format(promptTimeLayout), r.Name, r.Periodicity, r.Value)
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatBiomarkers(records []model.BiomarkerRecord) string {
	if len(records) == 0 {
		return noDataMarker
	}
	var b strings.Builder
	for i, r := range records {
		if i == maxPromptRecords {
			fmt.Fprintf(&b, "... and %d more\n", len(records)-maxPromptRecords)
			break
		}
		fmt.Fprintf(&b, "- [%s] %s/%s: %s\n", r.StartTime.UTC().Format(promptTimeLayout), r.Category, r.Type, formatMap(r.Data))
	}
	return strings.TrimRight(b.String(), "\n")
}

// formatMap renders a free-form map with sorted keys so prompts are stable.
func formatMap(m map[string]any) string {
	if len(m) == 0 {
		return "{}"
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v, err := json.Marshal(m[k])
		if err != nil {
			v = []byte(fmt.Sprintf("%q", fmt.Sprint(m[k])))
		}
		parts = append(parts, fmt.Sprintf("%s=%s", k, v))
	}
	return strings.Join(parts, ", ")
}

// formatContinuity renders the carried-over user context for a prompt.
// The prior narrative is truncated to maxPriorAnalysisChars.
func formatContinuity(rec model.ContinuityRecord) string {
	var b strings.Builder

	section := func(name string, m map[string]any) {
		if len(m) == 0 {
			return
		}
		fmt.Fprintf(&b, "%s: %s\n", name, formatMap(m))
	}
	section("Preferences", rec.Preferences)
	section("Goals", rec.Goals)
	section("Dietary restrictions", rec.DietaryRestrictions)
	section("Lifestyle", rec.LifestyleContext)
	section("Medical conditions", rec.MedicalConditions)

	if rec.LastAnalysis != "" {
		prior := rec.LastAnalysis
		if len(prior) > maxPriorAnalysisChars {
			prior = truncate(prior, maxPriorAnalysisChars) + "..."
		}
		fmt.Fprintf(&b, "Previous analysis (%d total so far): %s\n", rec.AnalysisCount, prior)
	}

	if b.Len() == 0 {
		return "No prior context for this user."
	}
	return strings.TrimRight(b.String(), "\n")
}

// formatRecalled renders semantically recalled prior narratives in retrieval
// order, each truncated like the prior analysis above.
func formatRecalled(narratives []string) string {
	if len(narratives) == 0 {
		return noDataMarker
	}
	var b strings.Builder
	for i, n := range narratives {
		if len(n) > maxPriorAnalysisChars {
			n = truncate(n, maxPriorAnalysisChars) + "..."
		}
		fmt.Fprintf(&b, "%d. %s\n", i+1, n)
	}
	return strings.TrimRight(b.String(), "\n")
}

// truncate cuts s to at most max bytes, backing up to a rune boundary so a
// multi-byte character is never split.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}

func formatWindow(w model.Window) string {
	return fmt.Sprintf("%s to %s (%d days)",
		w.Start.UTC().Format("2006-01-02"), w.End.UTC().Format("2006-01-02"), w.Days)
}
