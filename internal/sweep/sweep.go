// Package sweep implements the retention job: it purges login attempts that
// can no longer influence a lockout decision and deletes expired sessions.
//
// The job is one-shot and idempotent. Scheduling belongs to the caller
// (cron, a Kubernetes CronJob, cmd/sweep); nothing here starts a timer.
package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/welldanyogia/authguard/internal/metrics"
	"github.com/welldanyogia/authguard/internal/repository"
	"golang.org/x/sync/errgroup"
)

// Config holds configuration for the retention job
type Config struct {
	LockoutWindow  time.Duration // Longest window an attempt can count in
	RetentionGrace time.Duration // Extra margin kept beyond the window (default: 1 hour)
}

// Job purges stale attempts and expired sessions
type Job struct {
	attempts repository.AttemptLog
	sessions repository.SessionRepository
	config   Config
	logger   *slog.Logger
}

// Result holds the outcome of a run
type Result struct {
	StartTime       time.Time
	EndTime         time.Time
	AttemptCutoff   time.Time
	SessionCutoff   time.Time
	AttemptsPurged  int64
	SessionsDeleted int64
}

// NewJob creates a new retention job
func NewJob(attempts repository.AttemptLog, sessions repository.SessionRepository, config Config, logger *slog.Logger) *Job {
	if config.LockoutWindow <= 0 {
		config.LockoutWindow = 15 * time.Minute
	}
	if config.RetentionGrace < 0 {
		config.RetentionGrace = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Job{
		attempts: attempts,
		sessions: sessions,
		config:   config,
		logger:   logger,
	}
}

// Cutoffs returns the instants before which attempts and sessions are
// removed when the job runs at now
func (j *Job) Cutoffs(now time.Time) (attempts, sessions time.Time) {
	return now.Add(-(j.config.LockoutWindow + j.config.RetentionGrace)), now
}

// Run performs a single pass. Both deletions only touch rows strictly older
// than their cutoff, so the job is safe next to live traffic and running it
// twice is harmless.
func (j *Job) Run(ctx context.Context, now time.Time) (*Result, error) {
	attemptCutoff, sessionCutoff := j.Cutoffs(now)
	result := &Result{
		StartTime:     time.Now(),
		AttemptCutoff: attemptCutoff,
		SessionCutoff: sessionCutoff,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := j.attempts.Purge(gctx, attemptCutoff)
		if err != nil {
			return fmt.Errorf("failed to purge attempts: %w", err)
		}
		result.AttemptsPurged = n
		return nil
	})
	g.Go(func() error {
		n, err := j.sessions.DeleteExpired(gctx, sessionCutoff)
		if err != nil {
			return fmt.Errorf("failed to delete expired sessions: %w", err)
		}
		result.SessionsDeleted = n
		return nil
	})

	err := g.Wait()
	result.EndTime = time.Now()

	metrics.SweepDeleted.WithLabelValues("attempts").Add(float64(result.AttemptsPurged))
	metrics.SweepDeleted.WithLabelValues("sessions").Add(float64(result.SessionsDeleted))

	if err != nil {
		j.logger.Error("Retention sweep failed", "error", err,
			"attempts_purged", result.AttemptsPurged,
			"sessions_deleted", result.SessionsDeleted,
		)
		return result, err
	}

	j.logger.Info("Retention sweep completed",
		"attempt_cutoff", attemptCutoff,
		"attempts_purged", result.AttemptsPurged,
		"sessions_deleted", result.SessionsDeleted,
		"duration", result.EndTime.Sub(result.StartTime),
	)
	return result, nil
}
