package stage

import (
	"sort"
	"time"

	"github.com/vitalia-ai/vitalia/internal/model"
)

// proactiveScoreThreshold marks a score record as self-driven engagement.
const proactiveScoreThreshold = 80

// ComputeIndicators derives the behavioral indicators from the score
// collection by pure aggregation. When data is insufficient every indicator
// defaults to zero — the profile says "no evidence", it never invents
// engagement that was not observed.
func ComputeIndicators(snap model.TelemetrySnapshot) model.BehaviorIndicators {
	ind := model.BehaviorIndicators{TrendDirection: model.TrendStable}
	if len(snap.Scores) == 0 {
		return ind
	}

	ind.SessionCount = len(snap.Scores)

	var (
		total      float64
		onTimeSeen int
		onTimeTrue int
		durTotal   float64
		durCount   int
	)
	days := make(map[string]bool)
	for _, s := range snap.Scores {
		total += s.Score
		days[s.RecordedAt.UTC().Format("2006-01-02")] = true
		if s.Score >= proactiveScoreThreshold {
			ind.ProactiveCount++
		}
		if onTime, ok := s.Data["on_time"].(bool); ok {
			onTimeSeen++
			if onTime {
				onTimeTrue++
			}
		}
		if mins, ok := asNumber(s.Data["duration_minutes"]); ok {
			durTotal += mins
			durCount++
		}
	}
	ind.AvgSessionScore = total / float64(len(snap.Scores))
	ind.ActiveDays = len(days)
	ind.AvgDailySessions = float64(ind.SessionCount) / float64(ind.ActiveDays)

	if onTimeSeen > 0 {
		ind.OnTimeRate = float64(onTimeTrue) / float64(onTimeSeen)
	}
	if durCount > 0 {
		ind.AvgSessionMinutes = durTotal / float64(durCount)
	}

	if snap.Window.Days > 0 {
		ind.CompletionRate = float64(ind.ActiveDays) / float64(snap.Window.Days)
		if ind.CompletionRate > 1 {
			ind.CompletionRate = 1
		}
	}

	ind.CurrentStreak, ind.LongestStreak = streaks(days, snap.Scores[0].RecordedAt)
	ind.TrendDirection = trendDirection(snap.Scores)
	return ind
}

// asNumber reads a numeric value out of a free-form jsonb map, where numbers
// arrive as float64 but fixture data may carry ints.
func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

// trendWindow is how many of the newest records feed the trend comparison.
const trendWindow = 5

// trendDirection compares the average of the older half of the newest
// trendWindow records against the newer half. A swing past 5% either way
// counts as a trend; anything else is stable.
func trendDirection(scores []model.ScoreRecord) string {
	if len(scores) < 2 {
		return model.TrendStable
	}
	recent := make([]model.ScoreRecord, len(scores))
	copy(recent, scores)
	sort.Slice(recent, func(i, j int) bool {
		return recent[i].RecordedAt.Before(recent[j].RecordedAt)
	})
	if len(recent) > trendWindow {
		recent = recent[len(recent)-trendWindow:]
	}

	half := len(recent) / 2
	avg := func(rs []model.ScoreRecord) float64 {
		var sum float64
		for _, r := range rs {
			sum += r.Score
		}
		return sum / float64(len(rs))
	}
	earlier, later := avg(recent[:half]), avg(recent[half:])

	switch {
	case later > earlier*1.05:
		return model.TrendImproving
	case later < earlier*0.95:
		return model.TrendDeclining
	default:
		return model.TrendStable
	}
}

// streaks walks the active-day set to find the longest run of consecutive
// days and the run ending at the newest record's day.
func streaks(days map[string]bool, newest time.Time) (current, longest int) {
	// Current streak: walk backwards from the newest active day.
	day := newest.UTC().Truncate(24 * time.Hour)
	for days[day.Format("2006-01-02")] {
		current++
		day = day.AddDate(0, 0, -1)
	}

	// Longest streak: extend each day that starts a run.
	for d := range days {
		t, err := time.Parse("2006-01-02", d)
		if err != nil {
			continue
		}
		if days[t.AddDate(0, 0, -1).Format("2006-01-02")] {
			continue // not the start of a run
		}
		run := 0
		for days[t.Format("2006-01-02")] {
			run++
			t = t.AddDate(0, 0, 1)
		}
		if run > longest {
			longest = run
		}
	}
	return current, longest
}

// SophisticationScore folds the indicators into a single [0,100] score.
// Weights: consistency 40, streak depth 20, proactivity 20, score quality 20.
// Deterministic, so the readiness band is testable without a model.
func SophisticationScore(ind model.BehaviorIndicators) float64 {
	capped := func(v, max float64) float64 {
		if v > max {
			return max
		}
		return v
	}

	score := ind.CompletionRate * 40
	score += capped(float64(ind.LongestStreak), 14) / 14 * 20
	score += capped(float64(ind.ProactiveCount), 10) / 10 * 20
	score += capped(ind.AvgSessionScore, 100) / 100 * 20

	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
