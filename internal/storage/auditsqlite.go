package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver

	"github.com/vitalia-ai/vitalia/internal/model"
)

// SQLiteAudit is a file-backed audit sink for deployments that want the run
// audit trail on local disk instead of Postgres (e.g. single-node installs
// shipping the file to offline analysis). Same append-only contract as the
// Postgres sink.
type SQLiteAudit struct {
	db *sql.DB
}

// OpenSQLiteAudit opens (or creates) the audit database at path.
func OpenSQLiteAudit(path string) (*SQLiteAudit, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage: open sqlite audit: %w", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS run_audit (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			direction TEXT NOT NULL,
			payload TEXT NOT NULL,
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_run_audit_run ON run_audit (run_id);
		CREATE INDEX IF NOT EXISTS idx_run_audit_user ON run_audit (user_id, created_at);
	`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: init sqlite audit schema: %w", err)
	}
	return &SQLiteAudit{db: db}, nil
}

// AppendAudit inserts one audit entry.
func (s *SQLiteAudit) AppendAudit(ctx context.Context, entry model.AuditEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_audit (id, run_id, user_id, direction, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID.String(), entry.RunID.String(), entry.UserID, entry.Direction,
		string(entry.Payload), entry.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("storage: sqlite append audit: %w", err)
	}
	return nil
}

// ListAuditByRun returns the audit entries for one run, oldest first.
func (s *SQLiteAudit) ListAuditByRun(ctx context.Context, runID uuid.UUID) ([]model.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, user_id, direction, payload, created_at
		 FROM run_audit WHERE run_id = ? ORDER BY created_at ASC`, runID.String())
	if err != nil {
		return nil, fmt.Errorf("storage: sqlite list audit: %w", err)
	}
	defer rows.Close()

	var out []model.AuditEntry
	for rows.Next() {
		var (
			e               model.AuditEntry
			id, rid         string
			payload, stamp  string
		)
		if err := rows.Scan(&id, &rid, &e.UserID, &e.Direction, &payload, &stamp); err != nil {
			return nil, fmt.Errorf("storage: sqlite scan audit: %w", err)
		}
		if e.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("storage: sqlite parse audit id: %w", err)
		}
		if e.RunID, err = uuid.Parse(rid); err != nil {
			return nil, fmt.Errorf("storage: sqlite parse run id: %w", err)
		}
		if e.CreatedAt, err = time.Parse(time.RFC3339Nano, stamp); err != nil {
			return nil, fmt.Errorf("storage: sqlite parse audit timestamp: %w", err)
		}
		e.Payload = []byte(payload)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the underlying database file.
func (s *SQLiteAudit) Close() error {
	return s.db.Close()
}
