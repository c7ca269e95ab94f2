package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/welldanyogia/authguard/internal/repository"
)

const (
	// DefaultSessionTTL is how long a session lives without refresh
	DefaultSessionTTL = 24 * time.Hour

	// SessionTokenBytes gives 256 bits of entropy per token
	SessionTokenBytes = 32

	// maxTokenAttempts bounds regeneration on a token hash collision
	maxTokenAttempts = 3
)

// Session attribute limits
const (
	MaxAttributes          = 16
	MaxAttributeKeyLength  = 64
	MaxAttributeValueBytes = 256
)

// SessionStore maps opaque session tokens to sessions. Only the SHA-256 of a
// token is persisted; the token itself is returned to the caller once.
type SessionStore struct {
	repo     repository.SessionRepository
	clock    Clock
	newToken func() (string, error)
}

// NewSessionStore creates a session store over repo
func NewSessionStore(repo repository.SessionRepository, clock Clock) *SessionStore {
	if clock == nil {
		clock = SystemClock{}
	}
	return &SessionStore{
		repo:     repo,
		clock:    clock,
		newToken: generateToken,
	}
}

// Create issues a new session for identifier valid for ttl. A token whose
// hash already exists is discarded and regenerated, never overwritten.
func (s *SessionStore) Create(ctx context.Context, identifier string, ttl time.Duration, attributes map[string]string) (string, *repository.Session, error) {
	if ttl <= 0 {
		return "", nil, fmt.Errorf("session ttl must be positive, got %s", ttl)
	}
	if err := ValidateAttributes(attributes); err != nil {
		return "", nil, err
	}

	now := s.clock.Now()
	for range maxTokenAttempts {
		token, err := s.newToken()
		if err != nil {
			return "", nil, fmt.Errorf("failed to generate session token: %w", err)
		}

		session := &repository.Session{
			TokenHash:  HashToken(token),
			Identifier: identifier,
			CreatedAt:  now,
			ExpiresAt:  now.Add(ttl),
			Attributes: attributes,
		}
		err = s.repo.Create(ctx, session)
		if errors.Is(err, repository.ErrSessionConflict) {
			continue
		}
		if err != nil {
			return "", nil, err
		}
		return token, session, nil
	}
	return "", nil, fmt.Errorf("failed to create session: %w", repository.ErrSessionConflict)
}

// Load returns the session for token. Unknown and expired tokens both report
// found == false; err is reserved for storage failures.
func (s *SessionStore) Load(ctx context.Context, token string) (*repository.Session, bool, error) {
	if token == "" {
		return nil, false, nil
	}

	session, err := s.repo.GetByTokenHash(ctx, HashToken(token))
	if errors.Is(err, repository.ErrSessionNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if session.IsExpired(s.clock.Now()) {
		return nil, false, nil
	}
	return session, true, nil
}

// Destroy deletes the session for token. Destroying an unknown token is not
// an error.
func (s *SessionStore) Destroy(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	err := s.repo.DeleteByTokenHash(ctx, HashToken(token))
	if err != nil && !errors.Is(err, repository.ErrSessionNotFound) {
		return err
	}
	return nil
}

// Sweep deletes every session that expired before now
func (s *SessionStore) Sweep(ctx context.Context, now time.Time) (int64, error) {
	return s.repo.DeleteExpired(ctx, now)
}

// Refresh pushes the expiry of a still-active session out to expiresAt.
// Expired sessions stay expired.
func (s *SessionStore) Refresh(ctx context.Context, token string, expiresAt time.Time) error {
	return s.repo.UpdateExpiry(ctx, HashToken(token), s.clock.Now(), expiresAt)
}

// HashToken returns the storage key for a session token
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func generateToken() (string, error) {
	b := make([]byte, SessionTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// ValidateAttributes enforces the session attribute contract: at most
// MaxAttributes entries, keys of 1..64 bytes from [A-Za-z0-9_.-], values of
// at most 256 bytes.
func ValidateAttributes(attributes map[string]string) error {
	if len(attributes) > MaxAttributes {
		return fmt.Errorf("%w: at most %d entries allowed", ErrInvalidAttributes, MaxAttributes)
	}
	for k, v := range attributes {
		if len(k) == 0 || len(k) > MaxAttributeKeyLength {
			return fmt.Errorf("%w: key length must be 1..%d", ErrInvalidAttributes, MaxAttributeKeyLength)
		}
		for i := 0; i < len(k); i++ {
			if !isAttributeKeyByte(k[i]) {
				return fmt.Errorf("%w: key %q has invalid characters", ErrInvalidAttributes, k)
			}
		}
		if len(v) > MaxAttributeValueBytes {
			return fmt.Errorf("%w: value for %q exceeds %d bytes", ErrInvalidAttributes, k, MaxAttributeValueBytes)
		}
	}
	return nil
}

func isAttributeKeyByte(c byte) bool {
	return (c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9') ||
		c == '_' || c == '.' || c == '-'
}
