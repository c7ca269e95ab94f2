package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/welldanyogia/authguard/internal/repository"
)

type credentialRow struct {
	ID                  string        `db:"id"`
	Identifier          string        `db:"identifier"`
	Hash                string        `db:"password_hash"`
	CreatedAt           int64         `db:"created_at"`
	LastAuthenticatedAt sql.NullInt64 `db:"last_authenticated_at"`
}

func (r credentialRow) toModel() (*repository.Credential, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return nil, err
	}
	cred := &repository.Credential{
		ID:         id,
		Identifier: r.Identifier,
		Hash:       r.Hash,
		CreatedAt:  fromNanos(r.CreatedAt),
	}
	if r.LastAuthenticatedAt.Valid {
		at := fromNanos(r.LastAuthenticatedAt.Int64)
		cred.LastAuthenticatedAt = &at
	}
	return cred, nil
}

// CredentialRepository implements repository.CredentialRepository on SQLite
type CredentialRepository struct {
	db *sqlx.DB
}

// NewCredentialRepository creates a new CredentialRepository
func NewCredentialRepository(db *sqlx.DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

var _ repository.CredentialRepository = (*CredentialRepository)(nil)

// Create inserts a new credential
func (r *CredentialRepository) Create(ctx context.Context, cred *repository.Credential) error {
	if cred.ID == uuid.Nil {
		cred.ID = uuid.New()
	}
	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO credentials (id, identifier, password_hash, created_at) VALUES (?, ?, ?, ?)`,
		cred.ID.String(), cred.Identifier, cred.Hash, toNanos(cred.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrIdentifierExists
		}
		return err
	}
	return nil
}

// GetByIdentifier retrieves a credential by its exact identifier
func (r *CredentialRepository) GetByIdentifier(ctx context.Context, identifier string) (*repository.Credential, error) {
	var row credentialRow
	err := r.db.GetContext(ctx, &row,
		`SELECT id, identifier, password_hash, created_at, last_authenticated_at
		 FROM credentials WHERE identifier = ?`,
		identifier,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrCredentialNotFound
		}
		return nil, err
	}
	return row.toModel()
}

// Exists checks if an identifier is already registered
func (r *CredentialRepository) Exists(ctx context.Context, identifier string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists,
		`SELECT EXISTS(SELECT 1 FROM credentials WHERE identifier = ?)`, identifier)
	return exists, err
}

// UpdateLastAuthenticated sets last_authenticated_at for a credential
func (r *CredentialRepository) UpdateLastAuthenticated(ctx context.Context, identifier string, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE credentials SET last_authenticated_at = ? WHERE identifier = ?`,
		toNanos(at), identifier,
	)
	if err != nil {
		return err
	}
	return requireRow(result, repository.ErrCredentialNotFound)
}

// UpdateHash replaces the stored hash
func (r *CredentialRepository) UpdateHash(ctx context.Context, identifier, hash string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE credentials SET password_hash = ? WHERE identifier = ?`,
		hash, identifier,
	)
	if err != nil {
		return err
	}
	return requireRow(result, repository.ErrCredentialNotFound)
}

func requireRow(result sql.Result, notFound error) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}
