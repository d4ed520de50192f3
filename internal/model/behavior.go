package model

// Readiness categories, assigned from the sophistication score by fixed bands.
const (
	ReadinessNovice     = "Novice"     // 0-30
	ReadinessDeveloping = "Developing" // 31-50
	ReadinessAdvanced   = "Advanced"   // 51-75
	ReadinessExpert     = "Expert"     // 76-100
)

// ReadinessFor maps a sophistication score in [0,100] to its readiness band.
// Out-of-range scores are clamped to the nearest band.
func ReadinessFor(score float64) string {
	switch {
	case score <= 30:
		return ReadinessNovice
	case score <= 50:
		return ReadinessDeveloping
	case score <= 75:
		return ReadinessAdvanced
	default:
		return ReadinessExpert
	}
}

// Trend directions for the engagement score series.
const (
	TrendImproving = "improving"
	TrendDeclining = "declining"
	TrendStable    = "stable"
)

// BehaviorIndicators are derived engagement metrics, each computed by a pure
// aggregation over the score collection. When the snapshot has too little data
// the documented defaults apply (zeros and a stable trend, not invented
// placeholders).
type BehaviorIndicators struct {
	CompletionRate    float64 `json:"completion_rate"`     // fraction of window days with at least one score, [0,1]
	OnTimeRate        float64 `json:"on_time_rate"`        // fraction of on_time-flagged records that were on time, 0 when none are flagged
	CurrentStreak     int     `json:"current_streak"`      // consecutive active days ending at the newest record
	LongestStreak     int     `json:"longest_streak"`      // longest run of consecutive active days in the window
	ProactiveCount    int     `json:"proactive_count"`     // records scoring 80+ (self-driven engagement proxy)
	SessionCount      int     `json:"session_count"`       // total score records in the window
	AvgDailySessions  float64 `json:"avg_daily_sessions"`  // records per active day, 0 when no active days
	AvgSessionMinutes float64 `json:"avg_session_minutes"` // mean duration_minutes from record data, 0 when absent
	AvgSessionScore   float64 `json:"avg_session_score"`   // mean score across all records, 0 when empty
	ActiveDays        int     `json:"active_days"`         // distinct days with at least one record
	TrendDirection    string  `json:"trend_direction"`     // improving, declining, or stable
}

// BehaviorSignature is a short phrase capturing the user's behavioral essence,
// with the model's confidence in it.
type BehaviorSignature struct {
	Signature  string  `json:"signature"`
	Confidence float64 `json:"confidence"` // [0,1]
}

// MotivationProfile is the structured motivation assessment.
type MotivationProfile struct {
	PrimaryDrivers      []string `json:"primary_drivers"`
	SecondaryDrivers    []string `json:"secondary_drivers,omitempty"`
	MotivationType      string   `json:"motivation_type"`      // Intrinsic, Extrinsic, Mixed, Unknown
	AccountabilityLevel string   `json:"accountability_level"` // High, Medium, Low, None, Unknown
	SocialMotivation    string   `json:"social_motivation"`    // High, Medium, Low, None, Unknown
}

// BehaviorProfile is the structured output of the behavior-analysis stage.
type BehaviorProfile struct {
	SophisticationScore float64            `json:"sophistication_score"` // [0,100]
	Readiness           string             `json:"readiness"`
	Signature           BehaviorSignature  `json:"behavioral_signature"`
	HabitStage          string             `json:"habit_formation_stage"`
	Motivation          MotivationProfile  `json:"motivation_profile"`
	Recommendations     []string           `json:"recommendations"`
	Indicators          BehaviorIndicators `json:"indicators"`
}
