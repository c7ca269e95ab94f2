package auth

import (
	"context"
	"time"

	"github.com/welldanyogia/authguard/internal/repository"
)

// Brute force protection defaults
const (
	DefaultMaxAttempts   = 5
	DefaultLockoutWindow = 15 * time.Minute
)

// LockoutConfig tunes the lockout engine
type LockoutConfig struct {
	MaxAttempts int
	Window      time.Duration
}

// LockoutStatus is derived from the attempt log on demand and never stored
type LockoutStatus struct {
	Locked       bool
	FailureCount int
	WindowStart  time.Time
	RetryAfter   time.Duration
}

// LockoutEngine decides whether an (identifier, origin) pair is locked by
// counting its failures inside a sliding window. Only the exact pair is
// counted: other identifiers on the same origin, and the same identifier
// from other origins, are unaffected.
type LockoutEngine struct {
	attempts repository.AttemptLog
	config   LockoutConfig
}

// NewLockoutEngine creates a lockout engine. Zero config fields take the
// defaults.
func NewLockoutEngine(attempts repository.AttemptLog, config LockoutConfig) *LockoutEngine {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultMaxAttempts
	}
	if config.Window <= 0 {
		config.Window = DefaultLockoutWindow
	}
	return &LockoutEngine{attempts: attempts, config: config}
}

// Config returns the effective configuration
func (e *LockoutEngine) Config() LockoutConfig {
	return e.config
}

// Evaluate computes the lockout status at now. A failure exactly at
// now - window is still inside the window.
func (e *LockoutEngine) Evaluate(ctx context.Context, identifier, origin string, now time.Time) (LockoutStatus, error) {
	windowStart := now.Add(-e.config.Window)

	count, lastFailure, err := e.attempts.CountFailures(ctx, identifier, origin, windowStart, now)
	if err != nil {
		return LockoutStatus{}, err
	}

	status := LockoutStatus{
		FailureCount: count,
		WindowStart:  windowStart,
	}
	if count >= e.config.MaxAttempts {
		status.Locked = true
		status.RetryAfter = max(lastFailure.Add(e.config.Window).Sub(now), 0)
	}
	return status, nil
}
