package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/welldanyogia/authguard/internal/repository"
)

type sessionRow struct {
	TokenHash  string `db:"token_hash"`
	Identifier string `db:"identifier"`
	CreatedAt  int64  `db:"created_at"`
	ExpiresAt  int64  `db:"expires_at"`
	Attributes string `db:"attributes"`
}

// SessionRepository implements repository.SessionRepository on SQLite
type SessionRepository struct {
	db *sqlx.DB
}

// NewSessionRepository creates a new SessionRepository
func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

var _ repository.SessionRepository = (*SessionRepository)(nil)

// Create inserts a session; a duplicate token hash is reported, not replaced
func (r *SessionRepository) Create(ctx context.Context, session *repository.Session) error {
	attrs, err := repository.EncodeAttributes(session.Attributes)
	if err != nil {
		return err
	}

	_, err = r.db.NamedExecContext(ctx,
		`INSERT INTO sessions (token_hash, identifier, created_at, expires_at, attributes)
		 VALUES (:token_hash, :identifier, :created_at, :expires_at, :attributes)`,
		sessionRow{
			TokenHash:  session.TokenHash,
			Identifier: session.Identifier,
			CreatedAt:  toNanos(session.CreatedAt),
			ExpiresAt:  toNanos(session.ExpiresAt),
			Attributes: string(attrs),
		},
	)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrSessionConflict
		}
		return err
	}
	return nil
}

// GetByTokenHash retrieves a session by its token hash
func (r *SessionRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*repository.Session, error) {
	var row sessionRow
	err := r.db.GetContext(ctx, &row,
		`SELECT token_hash, identifier, created_at, expires_at, attributes
		 FROM sessions WHERE token_hash = ?`,
		tokenHash,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrSessionNotFound
		}
		return nil, err
	}

	attrs, err := repository.DecodeAttributes([]byte(row.Attributes))
	if err != nil {
		return nil, err
	}

	return &repository.Session{
		TokenHash:  row.TokenHash,
		Identifier: row.Identifier,
		CreatedAt:  fromNanos(row.CreatedAt),
		ExpiresAt:  fromNanos(row.ExpiresAt),
		Attributes: attrs,
	}, nil
}

// DeleteByTokenHash removes a session by its token hash
func (r *SessionRepository) DeleteByTokenHash(ctx context.Context, tokenHash string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE token_hash = ?`, tokenHash)
	if err != nil {
		return err
	}
	return requireRow(result, repository.ErrSessionNotFound)
}

// UpdateExpiry extends a still-active session
func (r *SessionRepository) UpdateExpiry(ctx context.Context, tokenHash string, now, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET expires_at = ?
		 WHERE token_hash = ? AND expires_at > ? AND expires_at < ?`,
		toNanos(expiresAt), tokenHash, toNanos(now), toNanos(expiresAt),
	)
	return err
}

// DeleteExpired removes sessions that expired before now
func (r *SessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < ?`, toNanos(now))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
