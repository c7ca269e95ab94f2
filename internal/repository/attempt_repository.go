package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/welldanyogia/authguard/internal/metrics"
)

// attemptLog implements AttemptLog using PostgreSQL
type attemptLog struct {
	pool *pgxpool.Pool
}

// NewAttemptLog creates a new AttemptLog backed by the login_attempts table
func NewAttemptLog(pool *pgxpool.Pool) AttemptLog {
	return &attemptLog{pool: pool}
}

// Record appends an attempt. The insert runs in autocommit mode, so the row
// is visible to every other connection once Exec returns.
func (r *attemptLog) Record(ctx context.Context, rec *AttemptRecord) error {
	defer metrics.TimeQuery("attempt_record")()

	if !rec.Outcome.Valid() {
		return ErrInvalidOutcome
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}

	query := `
		INSERT INTO login_attempts (id, identifier, origin_address, occurred_at, outcome)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.pool.Exec(ctx, query,
		rec.ID,
		rec.Identifier,
		rec.OriginAddress,
		rec.OccurredAt.UTC(),
		string(rec.Outcome),
	)
	return err
}

// CountFailures counts failed attempts for the exact (identifier, origin) pair
// inside [windowStart, now]
func (r *attemptLog) CountFailures(ctx context.Context, identifier, origin string, windowStart, now time.Time) (int, time.Time, error) {
	defer metrics.TimeQuery("attempt_count_failures")()

	query := `
		SELECT COUNT(*), MAX(occurred_at)
		FROM login_attempts
		WHERE identifier = $1
		  AND origin_address = $2
		  AND outcome = 'failure'
		  AND occurred_at >= $3
		  AND occurred_at <= $4
	`

	var (
		count int
		last  *time.Time
	)
	err := r.pool.QueryRow(ctx, query, identifier, origin, windowStart.UTC(), now.UTC()).Scan(&count, &last)
	if err != nil {
		return 0, time.Time{}, err
	}

	if last == nil {
		return count, time.Time{}, nil
	}
	return count, last.UTC(), nil
}

// Purge removes attempts older than the cutoff
func (r *attemptLog) Purge(ctx context.Context, olderThan time.Time) (int64, error) {
	defer metrics.TimeQuery("attempt_purge")()

	query := `DELETE FROM login_attempts WHERE occurred_at < $1`

	result, err := r.pool.Exec(ctx, query, olderThan.UTC())
	if err != nil {
		return 0, err
	}

	return result.RowsAffected(), nil
}
