package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// AnalysisRecall is one prior narrative surfaced by similarity search.
type AnalysisRecall struct {
	Narrative string
	CreatedAt time.Time
	Distance  float64
}

// AppendAnalysisHistory stores a narrative with its embedding so later runs
// can recall semantically similar prior analyses. A zero-length embedding is
// stored as NULL and the row is excluded from similarity search.
func (db *DB) AppendAnalysisHistory(ctx context.Context, userID, narrative string, embedding pgvector.Vector) error {
	var emb any
	if len(embedding.Slice()) > 0 {
		emb = embedding
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO analysis_history (id, user_id, narrative, embedding, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		uuid.New(), userID, narrative, emb, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("storage: append analysis history: %w", err)
	}
	return nil
}

// SimilarAnalyses returns up to limit prior narratives for userID ordered by
// cosine distance to the query embedding (closest first).
func (db *DB) SimilarAnalyses(ctx context.Context, userID string, query pgvector.Vector, limit int) ([]AnalysisRecall, error) {
	if limit <= 0 {
		limit = 3
	}
	rows, err := db.pool.Query(ctx,
		`SELECT narrative, created_at, embedding <=> $2 AS distance
		 FROM analysis_history
		 WHERE user_id = $1 AND embedding IS NOT NULL
		 ORDER BY embedding <=> $2
		 LIMIT $3`,
		userID, query, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: similar analyses: %w", err)
	}
	defer rows.Close()

	var out []AnalysisRecall
	for rows.Next() {
		var r AnalysisRecall
		if err := rows.Scan(&r.Narrative, &r.CreatedAt, &r.Distance); err != nil {
			return nil, fmt.Errorf("storage: scan analysis recall: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
