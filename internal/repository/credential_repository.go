package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/welldanyogia/authguard/internal/metrics"
)

// credentialRepository implements CredentialRepository using PostgreSQL
type credentialRepository struct {
	pool *pgxpool.Pool
}

// NewCredentialRepository creates a new CredentialRepository instance
func NewCredentialRepository(pool *pgxpool.Pool) CredentialRepository {
	return &credentialRepository{pool: pool}
}

// Create inserts a new credential. Identifiers are compared case-sensitively.
func (r *credentialRepository) Create(ctx context.Context, cred *Credential) error {
	defer metrics.TimeQuery("credential_create")()

	if cred.ID == uuid.Nil {
		cred.ID = uuid.New()
	}
	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO credentials (id, identifier, password_hash, created_at)
		VALUES ($1, $2, $3, $4)
	`

	_, err := r.pool.Exec(ctx, query, cred.ID, cred.Identifier, cred.Hash, cred.CreatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return ErrIdentifierExists
		}
		return err
	}

	return nil
}

// GetByIdentifier retrieves a credential by its exact identifier
func (r *credentialRepository) GetByIdentifier(ctx context.Context, identifier string) (*Credential, error) {
	defer metrics.TimeQuery("credential_get_by_identifier")()

	query := `
		SELECT id, identifier, password_hash, created_at, last_authenticated_at
		FROM credentials
		WHERE identifier = $1
	`

	cred := &Credential{}
	err := r.pool.QueryRow(ctx, query, identifier).Scan(
		&cred.ID,
		&cred.Identifier,
		&cred.Hash,
		&cred.CreatedAt,
		&cred.LastAuthenticatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCredentialNotFound
		}
		return nil, err
	}

	return cred, nil
}

// Exists checks if an identifier is already registered
func (r *credentialRepository) Exists(ctx context.Context, identifier string) (bool, error) {
	defer metrics.TimeQuery("credential_exists")()

	query := `SELECT EXISTS(SELECT 1 FROM credentials WHERE identifier = $1)`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, identifier).Scan(&exists); err != nil {
		return false, err
	}

	return exists, nil
}

// UpdateLastAuthenticated sets last_authenticated_at for a credential
func (r *credentialRepository) UpdateLastAuthenticated(ctx context.Context, identifier string, at time.Time) error {
	defer metrics.TimeQuery("credential_update_last_authenticated")()

	query := `
		UPDATE credentials
		SET last_authenticated_at = $1
		WHERE identifier = $2
	`

	result, err := r.pool.Exec(ctx, query, at.UTC(), identifier)
	if err != nil {
		return err
	}

	if result.RowsAffected() == 0 {
		return ErrCredentialNotFound
	}

	return nil
}

// UpdateHash replaces the stored hash, used when parameters are upgraded
func (r *credentialRepository) UpdateHash(ctx context.Context, identifier, hash string) error {
	defer metrics.TimeQuery("credential_update_hash")()

	query := `UPDATE credentials SET password_hash = $1 WHERE identifier = $2`

	result, err := r.pool.Exec(ctx, query, hash, identifier)
	if err != nil {
		return err
	}

	if result.RowsAffected() == 0 {
		return ErrCredentialNotFound
	}

	return nil
}
