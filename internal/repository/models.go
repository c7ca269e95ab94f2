package repository

import (
	"time"

	"github.com/google/uuid"
)

// Credential represents a registered identifier and its password hash
type Credential struct {
	ID                  uuid.UUID  `db:"id"`
	Identifier          string     `db:"identifier"`
	Hash                string     `db:"password_hash"`
	CreatedAt           time.Time  `db:"created_at"`
	LastAuthenticatedAt *time.Time `db:"last_authenticated_at"`
}

// Outcome is the result of a single login attempt
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Valid reports whether o is one of the known outcomes
func (o Outcome) Valid() bool {
	return o == OutcomeSuccess || o == OutcomeFailure
}

// AttemptRecord is an immutable entry of the login attempt log.
// Identifier need not reference an existing Credential.
type AttemptRecord struct {
	ID            uuid.UUID `db:"id"`
	Identifier    string    `db:"identifier"`
	OriginAddress string    `db:"origin_address"`
	OccurredAt    time.Time `db:"occurred_at"`
	Outcome       Outcome   `db:"outcome"`
}

// Session represents a persisted authentication session.
// Only the SHA-256 of the opaque token is stored.
type Session struct {
	TokenHash  string            `db:"token_hash"`
	Identifier string            `db:"identifier"`
	CreatedAt  time.Time         `db:"created_at"`
	ExpiresAt  time.Time         `db:"expires_at"`
	Attributes map[string]string `db:"-"`
}

// IsExpired reports whether the session is no longer active at now
func (s *Session) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
