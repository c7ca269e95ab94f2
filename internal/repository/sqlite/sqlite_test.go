package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/welldanyogia/authguard/internal/repository"
	"pgregory.net/rapid"
)

func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "auth.db"))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestCredentialRepository_IdentifierIsCaseSensitiveAndUnique(t *testing.T) {
	ctx := context.Background()
	repo := NewCredentialRepository(openTestDB(t))

	if err := repo.Create(ctx, &repository.Credential{Identifier: "alice", Hash: "h1", CreatedAt: base}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := repo.Create(ctx, &repository.Credential{Identifier: "Alice", Hash: "h2", CreatedAt: base}); err != nil {
		t.Fatalf("differently cased identifier should be distinct: %v", err)
	}
	err := repo.Create(ctx, &repository.Credential{Identifier: "alice", Hash: "h3", CreatedAt: base})
	if !errors.Is(err, repository.ErrIdentifierExists) {
		t.Fatalf("expected ErrIdentifierExists, got %v", err)
	}

	cred, err := repo.GetByIdentifier(ctx, "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cred.Hash != "h1" {
		t.Errorf("expected original hash to survive, got %q", cred.Hash)
	}
	if cred.LastAuthenticatedAt != nil {
		t.Error("new credential should not have last_authenticated_at")
	}

	if _, err := repo.GetByIdentifier(ctx, "bob"); !errors.Is(err, repository.ErrCredentialNotFound) {
		t.Errorf("expected ErrCredentialNotFound, got %v", err)
	}
}

func TestCredentialRepository_UpdateLastAuthenticated(t *testing.T) {
	ctx := context.Background()
	repo := NewCredentialRepository(openTestDB(t))

	if err := repo.Create(ctx, &repository.Credential{Identifier: "alice", Hash: "h", CreatedAt: base}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	at := base.Add(time.Hour)
	if err := repo.UpdateLastAuthenticated(ctx, "alice", at); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cred, _ := repo.GetByIdentifier(ctx, "alice")
	if cred.LastAuthenticatedAt == nil || !cred.LastAuthenticatedAt.Equal(at) {
		t.Errorf("expected last_authenticated_at %v, got %v", at, cred.LastAuthenticatedAt)
	}

	if err := repo.UpdateLastAuthenticated(ctx, "nobody", at); !errors.Is(err, repository.ErrCredentialNotFound) {
		t.Errorf("expected ErrCredentialNotFound, got %v", err)
	}

	if err := repo.UpdateHash(ctx, "alice", "h2"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cred, _ = repo.GetByIdentifier(ctx, "alice")
	if cred.Hash != "h2" {
		t.Errorf("expected updated hash, got %q", cred.Hash)
	}
}

func record(t *testing.T, log *AttemptLog, identifier, origin string, outcome repository.Outcome, at time.Time) {
	t.Helper()
	err := log.Record(context.Background(), &repository.AttemptRecord{
		Identifier:    identifier,
		OriginAddress: origin,
		OccurredAt:    at,
		Outcome:       outcome,
	})
	if err != nil {
		t.Fatalf("failed to record attempt: %v", err)
	}
}

func TestAttemptLog_CountFailuresExactPairInclusiveWindow(t *testing.T) {
	ctx := context.Background()
	log := NewAttemptLog(openTestDB(t))

	windowStart := base
	now := base.Add(15 * time.Minute)

	record(t, log, "alice", "1.2.3.4", repository.OutcomeFailure, windowStart) // boundary counts
	record(t, log, "alice", "1.2.3.4", repository.OutcomeFailure, base.Add(time.Minute))
	record(t, log, "alice", "1.2.3.4", repository.OutcomeFailure, windowStart.Add(-time.Nanosecond))
	record(t, log, "alice", "1.2.3.4", repository.OutcomeSuccess, base.Add(2*time.Minute))
	record(t, log, "alice", "5.6.7.8", repository.OutcomeFailure, base.Add(time.Minute))
	record(t, log, "bob", "1.2.3.4", repository.OutcomeFailure, base.Add(time.Minute))
	record(t, log, "alice", "1.2.3.4", repository.OutcomeFailure, now.Add(time.Nanosecond))

	count, last, err := log.CountFailures(ctx, "alice", "1.2.3.4", windowStart, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 failures, got %d", count)
	}
	if !last.Equal(base.Add(time.Minute)) {
		t.Errorf("expected last failure at %v, got %v", base.Add(time.Minute), last)
	}

	count, last, err = log.CountFailures(ctx, "carol", "1.2.3.4", windowStart, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 0 || !last.IsZero() {
		t.Errorf("expected no failures, got %d at %v", count, last)
	}
}

func TestAttemptLog_RejectsUnknownOutcome(t *testing.T) {
	log := NewAttemptLog(openTestDB(t))
	err := log.Record(context.Background(), &repository.AttemptRecord{
		Identifier: "alice", OriginAddress: "1.2.3.4", OccurredAt: base, Outcome: "maybe",
	})
	if !errors.Is(err, repository.ErrInvalidOutcome) {
		t.Errorf("expected ErrInvalidOutcome, got %v", err)
	}
}

func TestAttemptLog_PurgeIsStrictlyOlderThan(t *testing.T) {
	ctx := context.Background()
	log := NewAttemptLog(openTestDB(t))

	cutoff := base
	record(t, log, "alice", "1.2.3.4", repository.OutcomeFailure, cutoff.Add(-time.Second))
	record(t, log, "alice", "1.2.3.4", repository.OutcomeFailure, cutoff)
	record(t, log, "alice", "1.2.3.4", repository.OutcomeFailure, cutoff.Add(time.Second))

	deleted, err := log.Purge(ctx, cutoff)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 deleted record, got %d", deleted)
	}

	count, _, _ := log.CountFailures(ctx, "alice", "1.2.3.4", cutoff.Add(-time.Hour), cutoff.Add(time.Hour))
	if count != 2 {
		t.Errorf("expected 2 surviving failures, got %d", count)
	}

	deleted, _ = log.Purge(ctx, cutoff)
	if deleted != 0 {
		t.Errorf("second purge should be a no-op, deleted %d", deleted)
	}
}

// Feature: attempt-log, Property: Window Counting Matches Reference
// *For any* set of failure offsets, CountFailures returns exactly the number
// of offsets inside [windowStart, now].
func TestProperty_CountFailuresMatchesReference(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	rapid.Check(t, func(rt *rapid.T) {
		if _, err := db.ExecContext(ctx, `DELETE FROM login_attempts`); err != nil {
			rt.Fatalf("failed to reset table: %v", err)
		}
		log := NewAttemptLog(db)

		offsets := rapid.SliceOfN(rapid.IntRange(-30, 30), 0, 20).Draw(rt, "offsets")
		lo := rapid.IntRange(-30, 30).Draw(rt, "lo")
		span := rapid.IntRange(0, 30).Draw(rt, "span")

		expected := 0
		for _, off := range offsets {
			at := base.Add(time.Duration(off) * time.Minute)
			if err := log.Record(ctx, &repository.AttemptRecord{
				Identifier: "alice", OriginAddress: "1.2.3.4", OccurredAt: at, Outcome: repository.OutcomeFailure,
			}); err != nil {
				rt.Fatalf("failed to record: %v", err)
			}
			if off >= lo && off <= lo+span {
				expected++
			}
		}

		windowStart := base.Add(time.Duration(lo) * time.Minute)
		now := base.Add(time.Duration(lo+span) * time.Minute)
		count, _, err := log.CountFailures(ctx, "alice", "1.2.3.4", windowStart, now)
		if err != nil {
			rt.Fatalf("unexpected error: %v", err)
		}
		if count != expected {
			rt.Errorf("expected %d failures, got %d", expected, count)
		}
	})
}

func TestSessionRepository_Lifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository(openTestDB(t))

	session := &repository.Session{
		TokenHash:  "hash-1",
		Identifier: "alice",
		CreatedAt:  base,
		ExpiresAt:  base.Add(time.Hour),
		Attributes: map[string]string{"role": "admin"},
	}
	if err := repo.Create(ctx, session); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	dup := *session
	dup.Identifier = "mallory"
	if err := repo.Create(ctx, &dup); !errors.Is(err, repository.ErrSessionConflict) {
		t.Fatalf("expected ErrSessionConflict, got %v", err)
	}

	got, err := repo.GetByTokenHash(ctx, "hash-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Identifier != "alice" {
		t.Errorf("conflicting create must not overwrite, got identifier %q", got.Identifier)
	}
	if got.Attributes["role"] != "admin" {
		t.Errorf("expected attributes to round trip, got %v", got.Attributes)
	}

	if err := repo.DeleteByTokenHash(ctx, "hash-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := repo.DeleteByTokenHash(ctx, "hash-1"); !errors.Is(err, repository.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound on second delete, got %v", err)
	}
	if _, err := repo.GetByTokenHash(ctx, "hash-1"); !errors.Is(err, repository.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestSessionRepository_UpdateExpiryNeverRevives(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository(openTestDB(t))

	if err := repo.Create(ctx, &repository.Session{
		TokenHash: "h", Identifier: "alice", CreatedAt: base, ExpiresAt: base.Add(time.Hour),
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Active: extended.
	if err := repo.UpdateExpiry(ctx, "h", base.Add(30*time.Minute), base.Add(2*time.Hour)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, _ := repo.GetByTokenHash(ctx, "h")
	if !got.ExpiresAt.Equal(base.Add(2 * time.Hour)) {
		t.Errorf("expected extended expiry, got %v", got.ExpiresAt)
	}

	// Shorter target: ignored.
	_ = repo.UpdateExpiry(ctx, "h", base.Add(30*time.Minute), base.Add(90*time.Minute))
	got, _ = repo.GetByTokenHash(ctx, "h")
	if !got.ExpiresAt.Equal(base.Add(2 * time.Hour)) {
		t.Errorf("expiry must not shrink, got %v", got.ExpiresAt)
	}

	// Already expired at now: ignored.
	_ = repo.UpdateExpiry(ctx, "h", base.Add(3*time.Hour), base.Add(5*time.Hour))
	got, _ = repo.GetByTokenHash(ctx, "h")
	if !got.ExpiresAt.Equal(base.Add(2 * time.Hour)) {
		t.Errorf("expired session must not be revived, got %v", got.ExpiresAt)
	}
}

func TestSessionRepository_DeleteExpired(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository(openTestDB(t))

	now := base.Add(time.Hour)
	for i, exp := range []time.Time{now.Add(-time.Second), now, now.Add(time.Second)} {
		if err := repo.Create(ctx, &repository.Session{
			TokenHash: string(rune('a' + i)), Identifier: "alice", CreatedAt: base, ExpiresAt: exp,
		}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	deleted, err := repo.DeleteExpired(ctx, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 expired session deleted, got %d", deleted)
	}
	if _, err := repo.GetByTokenHash(ctx, "b"); err != nil {
		t.Errorf("session expiring exactly at now is left for the next sweep: %v", err)
	}
}
