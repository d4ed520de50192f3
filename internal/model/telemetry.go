// Package model defines the core domain types shared across the Vitalia
// pipeline: telemetry snapshots, the per-user continuity record, structured
// plan outputs, and the HTTP API envelope.
package model

import "time"

// Window is the bounded historical range a telemetry snapshot covers.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Days  int       `json:"days"`
}

// ScoreRecord is one scored health measurement (sleep, activity, readiness...).
type ScoreRecord struct {
	ID         int64          `json:"id"`
	ProfileID  string         `json:"profile_id"`
	Type       string         `json:"type"`
	Score      float64        `json:"score"`
	Data       map[string]any `json:"data,omitempty"`
	RecordedAt time.Time      `json:"recorded_at"`
}

// ArchetypeRecord is a periodic behavioral-tag observation for a user.
type ArchetypeRecord struct {
	ID          int64          `json:"id"`
	ProfileID   string         `json:"profile_id"`
	Name        string         `json:"name"`
	Periodicity string         `json:"periodicity"`
	Value       string         `json:"value"`
	Data        map[string]any `json:"data,omitempty"`
	StartTime   time.Time      `json:"start_time"`
	EndTime     time.Time      `json:"end_time"`
}

// BiomarkerRecord is one physiological measurement series entry.
type BiomarkerRecord struct {
	ID        int64          `json:"id"`
	ProfileID string         `json:"profile_id"`
	Category  string         `json:"category"`
	Type      string         `json:"type"`
	Data      map[string]any `json:"data,omitempty"`
	StartTime time.Time      `json:"start_time"`
	EndTime   time.Time      `json:"end_time"`
}

// TelemetrySnapshot is the immutable input to one pipeline run: three
// collections ordered most-recent-first, covering Window. Empty collections
// are valid — a user with no data still gets a run.
type TelemetrySnapshot struct {
	UserID     string            `json:"user_id"`
	Window     Window            `json:"window"`
	Scores     []ScoreRecord     `json:"scores"`
	Archetypes []ArchetypeRecord `json:"archetypes"`
	Biomarkers []BiomarkerRecord `json:"biomarkers"`
}

// Empty reports whether the snapshot carries no records at all.
func (s TelemetrySnapshot) Empty() bool {
	return len(s.Scores) == 0 && len(s.Archetypes) == 0 && len(s.Biomarkers) == 0
}
