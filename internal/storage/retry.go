package storage

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// retriable reports whether err is a transient Postgres conflict worth
// replaying. Two pipeline runs for the same user can collide on user_memory;
// Postgres surfaces that as a serialization failure or a deadlock, and both
// resolve on a fresh attempt.
func retriable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	// 40001 serialization_failure, 40P01 deadlock_detected
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

// WithRetry runs fn and replays it on transient conflicts, up to maxRetries
// extra attempts. Waits double each round, starting at baseDelay, with up to
// one baseDelay of jitter so colliding runs desynchronize. Any other error,
// and the first success, return immediately.
func WithRetry(ctx context.Context, maxRetries int, baseDelay time.Duration, fn func() error) error {
	delay := baseDelay
	for {
		err := fn()
		if err == nil || !retriable(err) || maxRetries <= 0 {
			return err
		}
		maxRetries--

		jitter := time.Duration(rand.Int64N(int64(baseDelay)))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay + jitter):
		}
		delay *= 2
	}
}
