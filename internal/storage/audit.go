package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vitalia-ai/vitalia/internal/model"
)

// AppendAudit inserts one audit entry. Entries are append-only: there is no
// update or delete path, so each run's input/output snapshots stay inspectable
// exactly as written.
func (db *DB) AppendAudit(ctx context.Context, entry model.AuditEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO run_audit (id, run_id, user_id, direction, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.ID, entry.RunID, entry.UserID, entry.Direction, entry.Payload, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("storage: append audit: %w", err)
	}
	return nil
}

// ListAuditByRun returns the audit entries for one run, oldest first.
func (db *DB) ListAuditByRun(ctx context.Context, runID uuid.UUID) ([]model.AuditEntry, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, run_id, user_id, direction, payload, created_at
		 FROM run_audit WHERE run_id = $1 ORDER BY created_at ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("storage: list audit: %w", err)
	}
	defer rows.Close()

	var out []model.AuditEntry
	for rows.Next() {
		var e model.AuditEntry
		if err := rows.Scan(&e.ID, &e.RunID, &e.UserID, &e.Direction, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan audit: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListAuditByUser returns the most recent audit entries for a user.
func (db *DB) ListAuditByUser(ctx context.Context, userID string, limit int) ([]model.AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.pool.Query(ctx,
		`SELECT id, run_id, user_id, direction, payload, created_at
		 FROM run_audit WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: list audit: %w", err)
	}
	defer rows.Close()

	var out []model.AuditEntry
	for rows.Next() {
		var e model.AuditEntry
		if err := rows.Scan(&e.ID, &e.RunID, &e.UserID, &e.Direction, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan audit: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
