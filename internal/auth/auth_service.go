package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/welldanyogia/authguard/internal/metrics"
	"github.com/welldanyogia/authguard/internal/repository"
)

// RegisterRequest represents the registration request payload
type RegisterRequest struct {
	Identifier string `json:"identifier"`
	Secret     string `json:"secret"`
}

// LoginRequest carries a login attempt. OriginAddress is the caller's
// network origin as determined by the transport layer.
type LoginRequest struct {
	Identifier    string            `json:"identifier"`
	Secret        string            `json:"secret"`
	OriginAddress string            `json:"-"`
	Attributes    map[string]string `json:"attributes,omitempty"`
}

// LoginResult is returned on a successful login
type LoginResult struct {
	Token      string    `json:"token"`
	Identifier string    `json:"identifier"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// SessionInfo describes the session behind a valid token
type SessionInfo struct {
	Identifier string            `json:"identifier"`
	CreatedAt  time.Time         `json:"created_at"`
	ExpiresAt  time.Time         `json:"expires_at"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// ServiceConfig holds the session settings of the service
type ServiceConfig struct {
	SessionTTL        time.Duration
	SlidingExpiration bool
}

// Dependencies groups the collaborators of AuthService
type Dependencies struct {
	Credentials repository.CredentialRepository
	Attempts    repository.AttemptLog
	Lockout     *LockoutEngine
	Sessions    *SessionStore
	HashPool    *HashPool
	Policy      *PasswordPolicy
	Refresher   *SessionRefresher // optional, used when SlidingExpiration is set
	Clock       Clock
	Logger      *slog.Logger
}

// AuthService handles registration, login, logout and session validation
type AuthService struct {
	credentials repository.CredentialRepository
	attempts    repository.AttemptLog
	lockout     *LockoutEngine
	sessions    *SessionStore
	pool        *HashPool
	policy      *PasswordPolicy
	refresher   *SessionRefresher
	clock       Clock
	config      ServiceConfig
	logger      *slog.Logger

	dummyMu sync.Mutex
	dummy   string
}

// NewAuthService creates a new AuthService instance
func NewAuthService(deps Dependencies, config ServiceConfig) *AuthService {
	if config.SessionTTL <= 0 {
		config.SessionTTL = DefaultSessionTTL
	}
	if deps.Policy == nil {
		deps.Policy = DefaultPolicy()
	}
	if deps.Clock == nil {
		deps.Clock = SystemClock{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	return &AuthService{
		credentials: deps.Credentials,
		attempts:    deps.Attempts,
		lockout:     deps.Lockout,
		sessions:    deps.Sessions,
		pool:        deps.HashPool,
		policy:      deps.Policy,
		refresher:   deps.Refresher,
		clock:       deps.Clock,
		config:      config,
		logger:      deps.Logger,
	}
}

// Register creates a credential for identifier
func (s *AuthService) Register(ctx context.Context, identifier, secret string) error {
	violations := ValidateIdentifier(identifier)
	if ok, policyViolations := s.policy.Validate(secret); !ok {
		violations = append(violations, policyViolations...)
	}
	if len(violations) > 0 {
		metrics.RegistrationsTotal.WithLabelValues("rejected").Inc()
		return &PolicyViolationError{Violations: violations}
	}

	exists, err := s.credentials.Exists(ctx, identifier)
	if err != nil {
		return s.fail("register", err)
	}
	if exists {
		metrics.RegistrationsTotal.WithLabelValues("taken").Inc()
		return ErrIdentifierTaken
	}

	hash, err := s.pool.Hash(ctx, secret)
	if err != nil {
		return s.fail("register", err)
	}

	cred := &repository.Credential{
		Identifier: identifier,
		Hash:       hash,
		CreatedAt:  s.clock.Now(),
	}
	if err := s.credentials.Create(ctx, cred); err != nil {
		if errors.Is(err, repository.ErrIdentifierExists) {
			metrics.RegistrationsTotal.WithLabelValues("taken").Inc()
			return ErrIdentifierTaken
		}
		return s.fail("register", err)
	}

	metrics.RegistrationsTotal.WithLabelValues("created").Inc()
	s.logger.InfoContext(ctx, "Credential registered", "identifier", identifier)
	return nil
}

// Login authenticates req and issues a session. The lockout decision comes
// first so a locked pair never reaches the hasher, and is repeated once a
// hash slot is held. Unknown identifiers and wrong secrets produce the same
// ErrInvalidCredentials, and both are recorded against the identifier as given.
func (s *AuthService) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	if err := ValidateAttributes(req.Attributes); err != nil {
		return nil, err
	}

	now := s.clock.Now()

	if err := s.checkLockout(ctx, req, now); err != nil {
		return nil, s.loginFail(err)
	}

	cred, err := s.credentials.GetByIdentifier(ctx, req.Identifier)
	if err != nil && !errors.Is(err, repository.ErrCredentialNotFound) {
		return nil, s.loginFail(err)
	}

	blob := ""
	if cred != nil {
		blob = cred.Hash
	} else if blob, err = s.dummyHash(ctx); err != nil {
		return nil, s.loginFail(err)
	}

	verified, err := s.attempt(ctx, req, blob, cred != nil, now)
	if err != nil {
		return nil, s.loginFail(err)
	}

	if !verified {
		metrics.LoginAttemptsTotal.WithLabelValues("failure").Inc()
		return nil, ErrInvalidCredentials
	}

	if err := s.credentials.UpdateLastAuthenticated(ctx, cred.Identifier, now); err != nil {
		return nil, s.loginFail(err)
	}

	if s.pool.NeedsRehash(cred.Hash) {
		s.rehash(ctx, cred.Identifier, req.Secret)
	}

	token, session, err := s.sessions.Create(ctx, cred.Identifier, s.config.SessionTTL, req.Attributes)
	if err != nil {
		return nil, s.loginFail(err)
	}

	metrics.LoginAttemptsTotal.WithLabelValues("success").Inc()
	metrics.SessionsCreated.Inc()
	s.logger.InfoContext(ctx, "Login succeeded", "identifier", cred.Identifier, "origin", req.OriginAddress)

	return &LoginResult{
		Token:      token,
		Identifier: session.Identifier,
		ExpiresAt:  session.ExpiresAt,
	}, nil
}

// Logout destroys the session behind token. Unknown tokens are not an error.
func (s *AuthService) Logout(ctx context.Context, token string) error {
	if err := s.sessions.Destroy(ctx, token); err != nil {
		return s.fail("logout", err)
	}
	return nil
}

// ValidateSession returns the identifier owning token
func (s *AuthService) ValidateSession(ctx context.Context, token string) (string, error) {
	info, err := s.Session(ctx, token)
	if err != nil {
		return "", err
	}
	return info.Identifier, nil
}

// Session returns the session behind token, or ErrNotAuthenticated when it
// does not exist or has expired
func (s *AuthService) Session(ctx context.Context, token string) (*SessionInfo, error) {
	session, found, err := s.sessions.Load(ctx, token)
	if err != nil {
		return nil, s.fail("validate_session", err)
	}
	if !found {
		return nil, ErrNotAuthenticated
	}

	if s.config.SlidingExpiration && s.refresher != nil {
		now := s.clock.Now()
		if session.ExpiresAt.Sub(now) < s.config.SessionTTL/2 {
			s.refresher.Enqueue(session.TokenHash, now.Add(s.config.SessionTTL))
		}
	}

	return &SessionInfo{
		Identifier: session.Identifier,
		CreatedAt:  session.CreatedAt,
		ExpiresAt:  session.ExpiresAt,
		Attributes: session.Attributes,
	}, nil
}

// ValidatePassword validates a password against the configured policy
func (s *AuthService) ValidatePassword(password string) []Violation {
	_, violations := s.policy.Validate(password)
	return violations
}

// checkLockout returns a *LockedOutError when the pair may not attempt a login
func (s *AuthService) checkLockout(ctx context.Context, req LoginRequest, now time.Time) error {
	status, err := s.lockout.Evaluate(ctx, req.Identifier, req.OriginAddress, now)
	if err != nil {
		return err
	}
	if !status.Locked {
		return nil
	}
	metrics.LoginAttemptsTotal.WithLabelValues("locked").Inc()
	s.logger.WarnContext(ctx, "Login rejected by lockout",
		"identifier", req.Identifier,
		"origin", req.OriginAddress,
		"failures", status.FailureCount,
		"retry_after", status.RetryAfter,
	)
	return &LockedOutError{RetryAfter: status.RetryAfter}
}

// attempt verifies and records one login on a pool slot. The lockout is
// evaluated again once the slot is held: requests that queued behind the pool
// passed the first check before the failures ahead of them were recorded.
// Holding the slot until the outcome is written keeps the failures a pair can
// accumulate past its threshold below the pool size.
func (s *AuthService) attempt(ctx context.Context, req LoginRequest, blob string, known bool, now time.Time) (bool, error) {
	slot, err := s.pool.Acquire(ctx)
	if err != nil {
		return false, err
	}
	defer slot.Release()

	if err := s.checkLockout(ctx, req, s.clock.Now()); err != nil {
		return false, err
	}

	verified := slot.Verify(req.Secret, blob) && known

	outcome := repository.OutcomeFailure
	if verified {
		outcome = repository.OutcomeSuccess
	}
	if err := s.attempts.Record(ctx, &repository.AttemptRecord{
		Identifier:    req.Identifier,
		OriginAddress: req.OriginAddress,
		OccurredAt:    now,
		Outcome:       outcome,
	}); err != nil {
		// An untracked attempt would let an attacker bypass the lockout
		return false, err
	}
	return verified, nil
}

// rehash upgrades a verified credential to the current parameters. Failure
// leaves the old, still valid hash in place.
func (s *AuthService) rehash(ctx context.Context, identifier, secret string) {
	hash, err := s.pool.Hash(ctx, secret)
	if err != nil {
		s.logger.WarnContext(ctx, "Credential rehash skipped", "identifier", identifier, "error", err)
		return
	}
	if err := s.credentials.UpdateHash(ctx, identifier, hash); err != nil {
		s.logger.WarnContext(ctx, "Credential rehash not stored", "identifier", identifier, "error", err)
		return
	}
	s.logger.InfoContext(ctx, "Credential rehashed", "identifier", identifier)
}

// dummyHash returns the blob unknown identifiers are verified against, so
// they cost as much as a wrong secret. It is derived on a pool slot the first
// time it is needed; a failed derivation is retried by the next caller.
func (s *AuthService) dummyHash(ctx context.Context) (string, error) {
	s.dummyMu.Lock()
	defer s.dummyMu.Unlock()
	if s.dummy != "" {
		return s.dummy, nil
	}

	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	blob, err := s.pool.Hash(ctx, base64.RawStdEncoding.EncodeToString(b))
	if err != nil {
		return "", err
	}
	s.dummy = blob
	return blob, nil
}

func (s *AuthService) loginFail(err error) error {
	var locked *LockedOutError
	if errors.As(err, &locked) {
		return err
	}
	if errors.Is(err, ErrBusy) {
		metrics.LoginAttemptsTotal.WithLabelValues("busy").Inc()
	} else {
		metrics.LoginAttemptsTotal.WithLabelValues("error").Inc()
	}
	return s.fail("login", err)
}

// fail converts infrastructure failures to ErrInternal. ErrBusy and errors
// already classified pass through unchanged.
func (s *AuthService) fail(op string, err error) error {
	if errors.Is(err, ErrBusy) {
		return ErrBusy
	}
	s.logger.Error("Authentication operation failed", "operation", op, "error", err)
	if errors.Is(err, ErrInternal) {
		return err
	}
	return internalError(err)
}
