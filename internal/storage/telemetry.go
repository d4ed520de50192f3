package storage

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vitalia-ai/vitalia/internal/model"
)

// FetchSnapshot pulls the three telemetry collections for userID over the
// last `days` days. Each collection is ordered most-recent-first. The three
// queries run concurrently; any failure fails the whole fetch, because a
// partial snapshot would silently bias every downstream stage.
func (db *DB) FetchSnapshot(ctx context.Context, userID string, days int) (model.TelemetrySnapshot, error) {
	now := time.Now().UTC()
	snap := model.TelemetrySnapshot{
		UserID: userID,
		Window: model.Window{Start: now.AddDate(0, 0, -days), End: now, Days: days},
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		snap.Scores, err = db.fetchScores(gctx, userID, snap.Window)
		return err
	})
	g.Go(func() error {
		var err error
		snap.Archetypes, err = db.fetchArchetypes(gctx, userID, snap.Window)
		return err
	})
	g.Go(func() error {
		var err error
		snap.Biomarkers, err = db.fetchBiomarkers(gctx, userID, snap.Window)
		return err
	})

	if err := g.Wait(); err != nil {
		return model.TelemetrySnapshot{}, err
	}
	return snap, nil
}

func (db *DB) fetchScores(ctx context.Context, userID string, w model.Window) ([]model.ScoreRecord, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, profile_id, type, score, data, score_date_time
		 FROM scores
		 WHERE profile_id = $1 AND score_date_time BETWEEN $2 AND $3
		 ORDER BY score_date_time DESC`,
		userID, w.Start, w.End)
	if err != nil {
		return nil, fmt.Errorf("storage: fetch scores: %w", err)
	}
	defer rows.Close()

	var out []model.ScoreRecord
	for rows.Next() {
		var r model.ScoreRecord
		if err := rows.Scan(&r.ID, &r.ProfileID, &r.Type, &r.Score, &r.Data, &r.RecordedAt); err != nil {
			return nil, fmt.Errorf("storage: scan score: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (db *DB) fetchArchetypes(ctx context.Context, userID string, w model.Window) ([]model.ArchetypeRecord, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, profile_id, name, periodicity, value, data, start_time, end_time
		 FROM archetypes
		 WHERE profile_id = $1 AND start_time BETWEEN $2 AND $3
		 ORDER BY start_time DESC`,
		userID, w.Start, w.End)
	if err != nil {
		return nil, fmt.Errorf("storage: fetch archetypes: %w", err)
	}
	defer rows.Close()

	var out []model.ArchetypeRecord
	for rows.Next() {
		var r model.ArchetypeRecord
		if err := rows.Scan(&r.ID, &r.ProfileID, &r.Name, &r.Periodicity, &r.Value, &r.Data, &r.StartTime, &r.EndTime); err != nil {
			return nil, fmt.Errorf("storage: scan archetype: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (db *DB) fetchBiomarkers(ctx context.Context, userID string, w model.Window) ([]model.BiomarkerRecord, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, profile_id, category, type, data, start_time, end_time
		 FROM biomarkers
		 WHERE profile_id = $1 AND start_time BETWEEN $2 AND $3
		 ORDER BY start_time DESC`,
		userID, w.Start, w.End)
	if err != nil {
		return nil, fmt.Errorf("storage: fetch biomarkers: %w", err)
	}
	defer rows.Close()

	var out []model.BiomarkerRecord
	for rows.Next() {
		var r model.BiomarkerRecord
		if err := rows.Scan(&r.ID, &r.ProfileID, &r.Category, &r.Type, &r.Data, &r.StartTime, &r.EndTime); err != nil {
			return nil, fmt.Errorf("storage: scan biomarker: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
