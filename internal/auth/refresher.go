package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/welldanyogia/authguard/internal/metrics"
	"github.com/welldanyogia/authguard/internal/repository"
)

// RefresherConfig holds configuration for the deferred session refresher
type RefresherConfig struct {
	Interval     time.Duration // Interval between flushes (default: 5 seconds)
	MaxPending   int           // Distinct sessions buffered before new ones are dropped (default: 10000)
	FlushTimeout time.Duration // Deadline for a single flush (default: 10 seconds)
}

// DefaultRefresherConfig returns default configuration
func DefaultRefresherConfig() RefresherConfig {
	return RefresherConfig{
		Interval:     5 * time.Second,
		MaxPending:   10000,
		FlushTimeout: 10 * time.Second,
	}
}

// SessionRefresher batches sliding-expiration writes so that validating a
// session never waits on a write. Requests for the same session collapse
// into one pending entry carrying the latest expiry.
type SessionRefresher struct {
	repo    repository.SessionRepository
	clock   Clock
	config  RefresherConfig
	logger  *slog.Logger
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	pending map[string]time.Time
	running bool
}

// NewSessionRefresher creates a refresher; call Start to begin flushing
func NewSessionRefresher(repo repository.SessionRepository, clock Clock, config RefresherConfig, logger *slog.Logger) *SessionRefresher {
	defaults := DefaultRefresherConfig()
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.MaxPending <= 0 {
		config.MaxPending = defaults.MaxPending
	}
	if config.FlushTimeout <= 0 {
		config.FlushTimeout = defaults.FlushTimeout
	}
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionRefresher{
		repo:    repo,
		clock:   clock,
		config:  config,
		logger:  logger,
		pending: make(map[string]time.Time),
	}
}

// Enqueue schedules tokenHash to be extended to expiresAt. It returns false
// when the queue is full and the request was dropped.
func (r *SessionRefresher) Enqueue(tokenHash string, expiresAt time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.pending[tokenHash]; ok {
		if expiresAt.After(current) {
			r.pending[tokenHash] = expiresAt
		}
		return true
	}
	if len(r.pending) >= r.config.MaxPending {
		metrics.SessionRefreshes.WithLabelValues("dropped").Inc()
		return false
	}
	r.pending[tokenHash] = expiresAt
	return true
}

// Pending returns the number of sessions waiting for a flush
func (r *SessionRefresher) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Flush writes every pending refresh. Sessions that expired in the meantime
// are left alone by the repository.
func (r *SessionRefresher) Flush(ctx context.Context) (int, error) {
	r.mu.Lock()
	batch := r.pending
	r.pending = make(map[string]time.Time, len(batch))
	r.mu.Unlock()

	if len(batch) == 0 {
		return 0, nil
	}

	now := r.clock.Now()
	var errs []error
	written := 0
	for tokenHash, expiresAt := range batch {
		if err := r.repo.UpdateExpiry(ctx, tokenHash, now, expiresAt); err != nil {
			metrics.SessionRefreshes.WithLabelValues("error").Inc()
			errs = append(errs, err)
			continue
		}
		metrics.SessionRefreshes.WithLabelValues("written").Inc()
		written++
	}
	return written, errors.Join(errs...)
}

// Start begins periodic flushing
func (r *SessionRefresher) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return fmt.Errorf("session refresher is already running")
	}

	r.running = true
	r.stopCh = make(chan struct{})
	r.wg.Add(1)

	go r.run()

	r.logger.Info("Session refresher started", "interval", r.config.Interval, "max_pending", r.config.MaxPending)
	return nil
}

// Stop stops the loop and flushes what is still pending
func (r *SessionRefresher) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.stopCh)
	r.mu.Unlock()

	r.wg.Wait()
	r.flushWithTimeout()
	r.logger.Info("Session refresher stopped")
}

func (r *SessionRefresher) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.flushWithTimeout()
		case <-r.stopCh:
			return
		}
	}
}

func (r *SessionRefresher) flushWithTimeout() {
	ctx, cancel := context.WithTimeout(context.Background(), r.config.FlushTimeout)
	defer cancel()

	written, err := r.Flush(ctx)
	if err != nil {
		r.logger.Error("Session refresh flush failed", "written", written, "error", err)
		return
	}
	if written > 0 {
		r.logger.Debug("Session refresh flush completed", "written", written)
	}
}
