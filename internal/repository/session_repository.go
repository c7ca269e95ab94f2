package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/welldanyogia/authguard/internal/metrics"
)

const (
	insertSessionSQL = `
		INSERT INTO sessions (token_hash, identifier, created_at, expires_at, attributes)
		VALUES (@token_hash, @identifier, @created_at, @expires_at, @attributes)`

	selectSessionSQL = `
		SELECT token_hash, identifier, created_at, expires_at, attributes
		FROM sessions
		WHERE token_hash = $1`

	// Only moves expiry forward, and only for a session still active at now
	extendSessionSQL = `
		UPDATE sessions
		SET expires_at = @expires_at
		WHERE token_hash = @token_hash AND expires_at > @now AND expires_at < @expires_at`
)

// sessionRow mirrors the sessions table; attributes are stored as JSONB
type sessionRow struct {
	TokenHash  string    `db:"token_hash"`
	Identifier string    `db:"identifier"`
	CreatedAt  time.Time `db:"created_at"`
	ExpiresAt  time.Time `db:"expires_at"`
	Attributes []byte    `db:"attributes"`
}

// sessionRepository implements SessionRepository using PostgreSQL
type sessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository creates a new SessionRepository instance
func NewSessionRepository(pool *pgxpool.Pool) SessionRepository {
	return &sessionRepository{pool: pool}
}

func (r *sessionRepository) Create(ctx context.Context, session *Session) error {
	defer metrics.TimeQuery("session_create")()

	attrs, err := EncodeAttributes(session.Attributes)
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx, insertSessionSQL, pgx.NamedArgs{
		"token_hash": session.TokenHash,
		"identifier": session.Identifier,
		"created_at": session.CreatedAt.UTC(),
		"expires_at": session.ExpiresAt.UTC(),
		"attributes": attrs,
	})
	if isUniqueViolation(err) {
		return ErrSessionConflict
	}
	return err
}

// GetByTokenHash does not check expiry; callers decide with their own clock
func (r *sessionRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*Session, error) {
	defer metrics.TimeQuery("session_get")()

	rows, err := r.pool.Query(ctx, selectSessionSQL, tokenHash)
	if err != nil {
		return nil, err
	}
	row, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[sessionRow])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}

	attrs, err := DecodeAttributes(row.Attributes)
	if err != nil {
		return nil, err
	}
	return &Session{
		TokenHash:  row.TokenHash,
		Identifier: row.Identifier,
		CreatedAt:  row.CreatedAt,
		ExpiresAt:  row.ExpiresAt,
		Attributes: attrs,
	}, nil
}

func (r *sessionRepository) DeleteByTokenHash(ctx context.Context, tokenHash string) error {
	defer metrics.TimeQuery("session_delete")()

	tag, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE token_hash = $1`, tokenHash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (r *sessionRepository) UpdateExpiry(ctx context.Context, tokenHash string, now, expiresAt time.Time) error {
	defer metrics.TimeQuery("session_extend")()

	_, err := r.pool.Exec(ctx, extendSessionSQL, pgx.NamedArgs{
		"token_hash": tokenHash,
		"now":        now.UTC(),
		"expires_at": expiresAt.UTC(),
	})
	return err
}

func (r *sessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	defer metrics.TimeQuery("session_sweep")()

	tag, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE expires_at < $1`, now.UTC())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
