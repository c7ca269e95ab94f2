// Package cache provides a Redis read-through cache in front of the durable
// session repository. The durable store stays authoritative: writes go there
// first and the cache is only ever invalidated or filled from it.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/welldanyogia/authguard/internal/metrics"
	"github.com/welldanyogia/authguard/internal/repository"
	"golang.org/x/sync/singleflight"
)

// KeyPrefix namespaces session entries in Redis
const KeyPrefix = "authguard:session:"

// DefaultTTL caps how long an entry may live in the cache
const DefaultTTL = time.Minute

// readTimeout bounds the durable read shared by concurrent misses
const readTimeout = 5 * time.Second

// tombstone marks a destroyed session. It outlives any fill that read the
// row before the delete, and fills never overwrite it.
const tombstone = "destroyed"

// evictScript drops a cached entry but leaves a tombstone in place
const evictScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then return 0 end
return redis.call("DEL", KEYS[1])`

// Client is the subset of the go-redis API the cache uses.
// *redis.Client and *redis.ClusterClient satisfy it.
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

type cachedSession struct {
	Identifier string            `json:"identifier"`
	CreatedAt  time.Time         `json:"created_at"`
	ExpiresAt  time.Time         `json:"expires_at"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// SessionCache decorates a repository.SessionRepository with Redis
type SessionCache struct {
	next   repository.SessionRepository
	client Client
	ttl    time.Duration
	now    func() time.Time
	group  singleflight.Group
	logger *slog.Logger
}

// NewSessionCache wraps next. Entries live for at most ttl and never past
// the session's own expiry.
func NewSessionCache(next repository.SessionRepository, client Client, ttl time.Duration, logger *slog.Logger) *SessionCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionCache{
		next:   next,
		client: client,
		ttl:    ttl,
		now:    time.Now,
		logger: logger,
	}
}

var _ repository.SessionRepository = (*SessionCache)(nil)

// Create writes through to the durable store and warms the cache
func (c *SessionCache) Create(ctx context.Context, session *repository.Session) error {
	if err := c.next.Create(ctx, session); err != nil {
		return err
	}
	c.store(ctx, session, false)
	return nil
}

// GetByTokenHash serves from Redis when possible. Concurrent misses for the
// same token share one durable read. Redis failures degrade to the durable
// store.
func (c *SessionCache) GetByTokenHash(ctx context.Context, tokenHash string) (*repository.Session, error) {
	raw, err := c.client.Get(ctx, key(tokenHash)).Bytes()
	switch {
	case err == nil && string(raw) == tombstone:
		metrics.SessionCacheRequests.WithLabelValues("hit").Inc()
		return nil, repository.ErrSessionNotFound
	case err == nil:
		var cached cachedSession
		if jsonErr := json.Unmarshal(raw, &cached); jsonErr == nil {
			metrics.SessionCacheRequests.WithLabelValues("hit").Inc()
			return cached.toSession(tokenHash), nil
		}
		c.logger.Warn("Discarding undecodable session cache entry")
		metrics.SessionCacheRequests.WithLabelValues("error").Inc()
		if err := c.evict(ctx, tokenHash); err != nil {
			c.logger.Warn("Session cache eviction failed", "error", err)
		}
	case errors.Is(err, redis.Nil):
		metrics.SessionCacheRequests.WithLabelValues("miss").Inc()
	default:
		c.logger.Warn("Session cache read failed", "error", err)
		metrics.SessionCacheRequests.WithLabelValues("error").Inc()
	}

	// The shared read must not fail every waiter because the caller that
	// started it went away
	ch := c.group.DoChan(tokenHash, func() (interface{}, error) {
		readCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), readTimeout)
		defer cancel()

		session, err := c.next.GetByTokenHash(readCtx, tokenHash)
		if err != nil {
			return nil, err
		}
		c.store(readCtx, session, true)
		return session, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if res.Err != nil {
		return nil, res.Err
	}

	// Callers may mutate the result; each gets its own copy
	shared := res.Val.(*repository.Session)
	session := *shared
	session.Attributes = maps.Clone(shared.Attributes)
	return &session, nil
}

// DeleteByTokenHash deletes from the durable store, then replaces the cached
// entry with a tombstone so a read already in flight cannot bring the session
// back. A cache failure is reported because a stale entry would keep the
// session alive until its cache TTL runs out.
func (c *SessionCache) DeleteByTokenHash(ctx context.Context, tokenHash string) error {
	dbErr := c.next.DeleteByTokenHash(ctx, tokenHash)
	if dbErr != nil && !errors.Is(dbErr, repository.ErrSessionNotFound) {
		return dbErr
	}
	if err := c.client.Set(ctx, key(tokenHash), tombstone, c.tombstoneTTL()).Err(); err != nil {
		return fmt.Errorf("failed to evict cached session: %w", err)
	}
	return dbErr
}

// UpdateExpiry updates the durable store and drops the cached copy
func (c *SessionCache) UpdateExpiry(ctx context.Context, tokenHash string, now, expiresAt time.Time) error {
	if err := c.next.UpdateExpiry(ctx, tokenHash, now, expiresAt); err != nil {
		return err
	}
	if err := c.evict(ctx, tokenHash); err != nil {
		c.logger.Warn("Session cache eviction after refresh failed", "error", err)
	}
	return nil
}

// DeleteExpired runs against the durable store only; cache entries never
// outlive the session they describe
func (c *SessionCache) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return c.next.DeleteExpired(ctx, now)
}

// store caches session. A fill from a durable read only sets an absent key,
// so it never replaces a tombstone written by a concurrent delete.
func (c *SessionCache) store(ctx context.Context, session *repository.Session, fill bool) {
	ttl := min(c.ttl, session.ExpiresAt.Sub(c.now()))
	if ttl <= 0 {
		return
	}

	raw, err := json.Marshal(cachedSession{
		Identifier: session.Identifier,
		CreatedAt:  session.CreatedAt,
		ExpiresAt:  session.ExpiresAt,
		Attributes: session.Attributes,
	})
	if err != nil {
		return
	}

	k := key(session.TokenHash)
	if fill {
		err = c.client.SetNX(ctx, k, raw, ttl).Err()
	} else {
		err = c.client.Set(ctx, k, raw, ttl).Err()
	}
	if err != nil {
		c.logger.Warn("Session cache write failed", "error", err)
	}
}

func (c *SessionCache) evict(ctx context.Context, tokenHash string) error {
	return c.client.Eval(ctx, evictScript, []string{key(tokenHash)}, tombstone).Err()
}

func (c *SessionCache) tombstoneTTL() time.Duration {
	return c.ttl + readTimeout
}

func (s cachedSession) toSession(tokenHash string) *repository.Session {
	return &repository.Session{
		TokenHash:  tokenHash,
		Identifier: s.Identifier,
		CreatedAt:  s.CreatedAt,
		ExpiresAt:  s.ExpiresAt,
		Attributes: s.Attributes,
	}
}

func key(tokenHash string) string {
	return KeyPrefix + tokenHash
}
