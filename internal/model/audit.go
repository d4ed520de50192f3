package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Audit entry directions. Each run appends exactly one input entry (after the
// telemetry fetch) and exactly one output entry (always, at the end).
const (
	AuditInput  = "input"
	AuditOutput = "output"
)

// AuditEntry is one append-only snapshot of a run's inputs or outputs.
// Entries are independently parseable and never overwritten.
type AuditEntry struct {
	ID        uuid.UUID       `json:"id"`
	RunID     uuid.UUID       `json:"run_id"`
	UserID    string          `json:"user_id"`
	Direction string          `json:"direction"` // AuditInput or AuditOutput
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}
