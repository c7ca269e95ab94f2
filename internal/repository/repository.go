// Package repository defines the durable stores behind the authentication core
// and their PostgreSQL implementations. The sqlite subpackage provides an
// embedded implementation of the same interfaces.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Common errors
var (
	ErrCredentialNotFound = errors.New("credential not found")
	ErrIdentifierExists   = errors.New("identifier already exists")
	ErrSessionNotFound    = errors.New("session not found")
	ErrSessionConflict    = errors.New("session token already exists")
	ErrInvalidOutcome     = errors.New("invalid attempt outcome")
)

// CredentialRepository defines the interface for credential data access
type CredentialRepository interface {
	Create(ctx context.Context, cred *Credential) error
	GetByIdentifier(ctx context.Context, identifier string) (*Credential, error)
	Exists(ctx context.Context, identifier string) (bool, error)
	UpdateLastAuthenticated(ctx context.Context, identifier string, at time.Time) error
	UpdateHash(ctx context.Context, identifier, hash string) error
}

// AttemptLog is the append-only record of login attempts.
// Record must be durable before it returns so that a later CountFailures
// from any goroutine observes it.
type AttemptLog interface {
	Record(ctx context.Context, rec *AttemptRecord) error
	// CountFailures counts failures for the exact (identifier, origin) pair
	// with windowStart <= occurred_at <= now.
	CountFailures(ctx context.Context, identifier, origin string, windowStart, now time.Time) (count int, lastFailureAt time.Time, err error)
	// Purge deletes records with occurred_at strictly before olderThan.
	Purge(ctx context.Context, olderThan time.Time) (int64, error)
}

// SessionRepository defines the interface for session data access
type SessionRepository interface {
	// Create inserts a session and returns ErrSessionConflict if the token
	// hash is already present. Existing rows are never overwritten.
	Create(ctx context.Context, session *Session) error
	GetByTokenHash(ctx context.Context, tokenHash string) (*Session, error)
	DeleteByTokenHash(ctx context.Context, tokenHash string) error
	// UpdateExpiry extends a session that is still active at now. It never
	// shortens a session and never revives an expired one.
	UpdateExpiry(ctx context.Context, tokenHash string, now, expiresAt time.Time) error
	// DeleteExpired removes sessions with expires_at strictly before now.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// EncodeAttributes serializes session attributes as a JSON object
func EncodeAttributes(attrs map[string]string) ([]byte, error) {
	if attrs == nil {
		attrs = map[string]string{}
	}
	return json.Marshal(attrs)
}

// DecodeAttributes is the inverse of EncodeAttributes
func DecodeAttributes(data []byte) (map[string]string, error) {
	attrs := map[string]string{}
	if len(data) == 0 {
		return attrs, nil
	}
	if err := json.Unmarshal(data, &attrs); err != nil {
		return nil, err
	}
	return attrs, nil
}
