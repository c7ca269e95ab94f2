package auth

import (
	"context"
	"io"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/welldanyogia/authguard/internal/repository"
)

// Mock implementations for testing

// mockCredentialRepository implements repository.CredentialRepository for testing
type mockCredentialRepository struct {
	mu          sync.Mutex
	credentials map[string]*repository.Credential
	getErr      error
}

func newMockCredentialRepository() *mockCredentialRepository {
	return &mockCredentialRepository{credentials: make(map[string]*repository.Credential)}
}

func (m *mockCredentialRepository) Create(ctx context.Context, cred *repository.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.credentials[cred.Identifier]; ok {
		return repository.ErrIdentifierExists
	}
	cred.ID = uuid.New()
	stored := *cred
	m.credentials[cred.Identifier] = &stored
	return nil
}

func (m *mockCredentialRepository) GetByIdentifier(ctx context.Context, identifier string) (*repository.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	cred, ok := m.credentials[identifier]
	if !ok {
		return nil, repository.ErrCredentialNotFound
	}
	c := *cred
	return &c, nil
}

func (m *mockCredentialRepository) Exists(ctx context.Context, identifier string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.credentials[identifier]
	return ok, nil
}

func (m *mockCredentialRepository) UpdateLastAuthenticated(ctx context.Context, identifier string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cred, ok := m.credentials[identifier]
	if !ok {
		return repository.ErrCredentialNotFound
	}
	cred.LastAuthenticatedAt = &at
	return nil
}

func (m *mockCredentialRepository) UpdateHash(ctx context.Context, identifier, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cred, ok := m.credentials[identifier]
	if !ok {
		return repository.ErrCredentialNotFound
	}
	cred.Hash = hash
	return nil
}

func (m *mockCredentialRepository) hash(identifier string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cred, ok := m.credentials[identifier]; ok {
		return cred.Hash
	}
	return ""
}

// mockAttemptLog implements repository.AttemptLog for testing
type mockAttemptLog struct {
	mu        sync.Mutex
	records   []repository.AttemptRecord
	recordErr error
	countErr  error
}

func newMockAttemptLog() *mockAttemptLog {
	return &mockAttemptLog{}
}

func (m *mockAttemptLog) Record(ctx context.Context, rec *repository.AttemptRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recordErr != nil {
		return m.recordErr
	}
	if !rec.Outcome.Valid() {
		return repository.ErrInvalidOutcome
	}
	m.records = append(m.records, *rec)
	return nil
}

func (m *mockAttemptLog) CountFailures(ctx context.Context, identifier, origin string, windowStart, now time.Time) (int, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.countErr != nil {
		return 0, time.Time{}, m.countErr
	}
	var (
		count int
		last  time.Time
	)
	for _, r := range m.records {
		if r.Identifier != identifier || r.OriginAddress != origin || r.Outcome != repository.OutcomeFailure {
			continue
		}
		if r.OccurredAt.Before(windowStart) || r.OccurredAt.After(now) {
			continue
		}
		count++
		if r.OccurredAt.After(last) {
			last = r.OccurredAt
		}
	}
	return count, last, nil
}

func (m *mockAttemptLog) Purge(ctx context.Context, olderThan time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.records[:0]
	var purged int64
	for _, r := range m.records {
		if r.OccurredAt.Before(olderThan) {
			purged++
			continue
		}
		kept = append(kept, r)
	}
	m.records = kept
	return purged, nil
}

func (m *mockAttemptLog) add(identifier, origin string, at time.Time, outcome repository.Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, repository.AttemptRecord{
		ID:            uuid.New(),
		Identifier:    identifier,
		OriginAddress: origin,
		OccurredAt:    at,
		Outcome:       outcome,
	})
}

func (m *mockAttemptLog) count(outcome repository.Outcome) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.records {
		if r.Outcome == outcome {
			n++
		}
	}
	return n
}

// mockSessionRepository implements repository.SessionRepository for testing
type mockSessionRepository struct {
	mu        sync.Mutex
	sessions  map[string]*repository.Session
	createErr error
	getErr    error
	updateErr error
}

func newMockSessionRepository() *mockSessionRepository {
	return &mockSessionRepository{sessions: make(map[string]*repository.Session)}
}

func (m *mockSessionRepository) Create(ctx context.Context, session *repository.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	if _, ok := m.sessions[session.TokenHash]; ok {
		return repository.ErrSessionConflict
	}
	s := *session
	s.Attributes = maps.Clone(session.Attributes)
	m.sessions[session.TokenHash] = &s
	return nil
}

func (m *mockSessionRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*repository.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	s, ok := m.sessions[tokenHash]
	if !ok {
		return nil, repository.ErrSessionNotFound
	}
	c := *s
	c.Attributes = maps.Clone(s.Attributes)
	return &c, nil
}

func (m *mockSessionRepository) DeleteByTokenHash(ctx context.Context, tokenHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[tokenHash]; !ok {
		return repository.ErrSessionNotFound
	}
	delete(m.sessions, tokenHash)
	return nil
}

func (m *mockSessionRepository) UpdateExpiry(ctx context.Context, tokenHash string, now, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	s, ok := m.sessions[tokenHash]
	if ok && s.ExpiresAt.After(now) && expiresAt.After(s.ExpiresAt) {
		s.ExpiresAt = expiresAt
	}
	return nil
}

func (m *mockSessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, s := range m.sessions {
		if s.ExpiresAt.Before(now) {
			delete(m.sessions, k)
			n++
		}
	}
	return n, nil
}

func (m *mockSessionRepository) expiry(tokenHash string) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[tokenHash]; ok {
		return s.ExpiresAt
	}
	return time.Time{}
}

func (m *mockSessionRepository) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// fakeClock is a manually advanced Clock
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// testHashParams keeps Argon2id cheap enough for property tests
var testHashParams = HashParams{
	Memory:      1024,
	Iterations:  1,
	Parallelism: 1,
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestHasher() *CredentialHasher {
	return NewCredentialHasher(testHashParams, discardLogger())
}

type testEnv struct {
	svc         *AuthService
	credentials *mockCredentialRepository
	attempts    *mockAttemptLog
	sessions    *mockSessionRepository
	pool        *HashPool
	refresher   *SessionRefresher
	clock       *fakeClock
}

func newTestEnv() *testEnv {
	return newTestEnvWithConfig(ServiceConfig{SessionTTL: time.Hour}, 4, time.Second)
}

func newTestEnvWithConfig(config ServiceConfig, poolSize int, queueTimeout time.Duration) *testEnv {
	env := &testEnv{
		credentials: newMockCredentialRepository(),
		attempts:    newMockAttemptLog(),
		sessions:    newMockSessionRepository(),
		clock:       newFakeClock(),
	}
	log := discardLogger()
	env.pool = NewHashPool(newTestHasher(), poolSize, queueTimeout, log)
	env.refresher = NewSessionRefresher(env.sessions, env.clock, RefresherConfig{}, log)
	env.svc = NewAuthService(Dependencies{
		Credentials: env.credentials,
		Attempts:    env.attempts,
		Lockout:     NewLockoutEngine(env.attempts, LockoutConfig{}),
		Sessions:    NewSessionStore(env.sessions, env.clock),
		HashPool:    env.pool,
		Refresher:   env.refresher,
		Clock:       env.clock,
		Logger:      log,
	}, config)
	return env
}
