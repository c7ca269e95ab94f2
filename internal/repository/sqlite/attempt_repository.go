package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/welldanyogia/authguard/internal/repository"
)

// AttemptLog implements repository.AttemptLog on SQLite
type AttemptLog struct {
	db *sqlx.DB
}

// NewAttemptLog creates a new AttemptLog
func NewAttemptLog(db *sqlx.DB) *AttemptLog {
	return &AttemptLog{db: db}
}

var _ repository.AttemptLog = (*AttemptLog)(nil)

// Record appends an attempt
func (l *AttemptLog) Record(ctx context.Context, rec *repository.AttemptRecord) error {
	if !rec.Outcome.Valid() {
		return repository.ErrInvalidOutcome
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}

	_, err := l.db.ExecContext(ctx,
		`INSERT INTO login_attempts (id, identifier, origin_address, occurred_at, outcome)
		 VALUES (?, ?, ?, ?, ?)`,
		rec.ID.String(), rec.Identifier, rec.OriginAddress, toNanos(rec.OccurredAt), string(rec.Outcome),
	)
	return err
}

// CountFailures counts failures for the exact pair inside [windowStart, now]
func (l *AttemptLog) CountFailures(ctx context.Context, identifier, origin string, windowStart, now time.Time) (int, time.Time, error) {
	var row struct {
		Count int           `db:"count"`
		Last  sql.NullInt64 `db:"last"`
	}
	err := l.db.GetContext(ctx, &row,
		`SELECT COUNT(*) AS count, MAX(occurred_at) AS last
		 FROM login_attempts
		 WHERE identifier = ? AND origin_address = ? AND outcome = 'failure'
		   AND occurred_at >= ? AND occurred_at <= ?`,
		identifier, origin, toNanos(windowStart), toNanos(now),
	)
	if err != nil {
		return 0, time.Time{}, err
	}
	if !row.Last.Valid {
		return row.Count, time.Time{}, nil
	}
	return row.Count, fromNanos(row.Last.Int64), nil
}

// Purge removes attempts older than the cutoff
func (l *AttemptLog) Purge(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := l.db.ExecContext(ctx,
		`DELETE FROM login_attempts WHERE occurred_at < ?`, toNanos(olderThan))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
