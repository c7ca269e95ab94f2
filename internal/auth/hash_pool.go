package auth

import (
	"context"
	"log/slog"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/welldanyogia/authguard/internal/metrics"
	"golang.org/x/sync/semaphore"
)

// DefaultHashQueueTimeout is how long a caller waits for a free slot
const DefaultHashQueueTimeout = 2 * time.Second

// HashPool bounds how many Argon2id derivations run at once. Each derivation
// reserves its full memory cost, so the bound is what keeps attack traffic
// from exhausting memory. Callers that cannot get a slot within the queue
// timeout receive ErrBusy.
type HashPool struct {
	hasher       *CredentialHasher
	sem          *semaphore.Weighted
	size         int64
	queueTimeout time.Duration
	logger       *slog.Logger
}

// NewHashPool creates a pool of size slots (GOMAXPROCS when size <= 0)
func NewHashPool(hasher *CredentialHasher, size int, queueTimeout time.Duration, logger *slog.Logger) *HashPool {
	if size <= 0 {
		size = runtime.GOMAXPROCS(0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HashPool{
		hasher:       hasher,
		sem:          semaphore.NewWeighted(int64(size)),
		size:         int64(size),
		queueTimeout: queueTimeout,
		logger:       logger,
	}
}

// Size returns the number of concurrent slots
func (p *HashPool) Size() int {
	return int(p.size)
}

// Hash runs CredentialHasher.Hash on a pool slot
func (p *HashPool) Hash(ctx context.Context, secret string) (string, error) {
	var (
		blob string
		err  error
	)
	runErr := p.run(ctx, "hash", func() {
		blob, err = p.hasher.Hash(secret)
	})
	if runErr != nil {
		return "", runErr
	}
	if err != nil {
		return "", internalError(err)
	}
	return blob, nil
}

// Verify runs CredentialHasher.Verify on a pool slot. The bool is only
// meaningful when err is nil; a timeout is an error, never a mismatch.
func (p *HashPool) Verify(ctx context.Context, secret, blob string) (bool, error) {
	var ok bool
	if err := p.run(ctx, "verify", func() {
		ok = p.hasher.Verify(secret, blob)
	}); err != nil {
		return false, err
	}
	return ok, nil
}

// NeedsRehash does not take a slot; it only parses the blob
func (p *HashPool) NeedsRehash(blob string) bool {
	return p.hasher.NeedsRehash(blob)
}

// Slot is a pool slot held by the caller. Login holds one while it checks
// the lockout, verifies and records the outcome, so at most Size attempts
// are between check and record at any time.
type Slot struct {
	pool     *HashPool
	released atomic.Bool
}

// Acquire waits for a slot like Hash and Verify do. The caller must Release it.
func (p *HashPool) Acquire(ctx context.Context) (*Slot, error) {
	if err := p.acquire(ctx); err != nil {
		return nil, err
	}
	metrics.HashInFlight.Inc()
	return &Slot{pool: p}, nil
}

// Verify runs CredentialHasher.Verify on the held slot
func (s *Slot) Verify(secret, blob string) bool {
	start := time.Now()
	ok := s.pool.hasher.Verify(secret, blob)
	metrics.ObserveHash("verify", time.Since(start))
	return ok
}

// Release returns the slot; later calls are no-ops
func (s *Slot) Release() {
	if s.released.CompareAndSwap(false, true) {
		metrics.HashInFlight.Dec()
		s.pool.sem.Release(1)
	}
}

func (p *HashPool) run(ctx context.Context, op string, fn func()) error {
	if err := p.acquire(ctx); err != nil {
		return err
	}
	metrics.HashInFlight.Inc()

	done := make(chan struct{})
	go func() {
		// The slot is held until the derivation really ends, even if the
		// caller has already given up.
		defer p.sem.Release(1)
		defer metrics.HashInFlight.Dec()

		start := time.Now()
		fn()
		metrics.ObserveHash(op, time.Since(start))
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		p.logger.Warn("Hash operation abandoned by caller", "operation", op, "error", ctx.Err())
		return internalError(ctx.Err())
	}
}

func (p *HashPool) acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return internalError(err)
	}

	if p.queueTimeout <= 0 {
		if !p.sem.TryAcquire(1) {
			metrics.HashRejected.Inc()
			return ErrBusy
		}
		return nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, p.queueTimeout)
	defer cancel()

	if err := p.sem.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return internalError(ctx.Err())
		}
		metrics.HashRejected.Inc()
		return ErrBusy
	}
	return nil
}
