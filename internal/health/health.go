// Package health serves the liveness, readiness and dependency health
// endpoints of the authentication service.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/welldanyogia/authguard/internal/metrics"
	"golang.org/x/sync/errgroup"
)

// Overall statuses reported by Health
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// ServiceStatus represents the status of a single dependency
type ServiceStatus struct {
	Status   string `json:"status"`
	Critical bool   `json:"critical"`
	Latency  string `json:"latency,omitempty"`
	Error    string `json:"error,omitempty"`
}

// HealthResponse represents the structured health check response
type HealthResponse struct {
	Status    string                   `json:"status"`
	Timestamp string                   `json:"timestamp"`
	Services  map[string]ServiceStatus `json:"services"`
	Version   string                   `json:"version,omitempty"`
}

// ProbeResponse is the body of the readiness and liveness probes
type ProbeResponse struct {
	OK        bool   `json:"ok"`
	Timestamp string `json:"timestamp"`
}

// check is one named dependency probe. A failing critical check makes the
// service unhealthy; a failing optional one only degrades it.
type check struct {
	name     string
	critical bool
	ping     func(ctx context.Context) error
}

// Handler handles health check requests
type Handler struct {
	checks  []check
	version string
	timeout time.Duration
	ready   atomic.Bool
}

// Config holds health handler configuration
type Config struct {
	Store       metrics.Pinger // *pgxpool.Pool, or metrics.PingFunc(db.PingContext) for SQLite
	StoreName   string         // reported name of the store check (default: database)
	RedisClient *redis.Client  // optional session cache
	Version     string
	Timeout     time.Duration // default: 5 seconds
}

// NewHandler creates a new health check handler. The store is critical; the
// Redis cache is optional since sessions fall back to the store without it.
func NewHandler(cfg Config) *Handler {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.StoreName == "" {
		cfg.StoreName = "database"
	}

	h := &Handler{version: cfg.Version, timeout: cfg.Timeout}
	h.ready.Store(true)

	store := cfg.Store
	h.checks = append(h.checks, check{
		name:     cfg.StoreName,
		critical: true,
		ping: func(ctx context.Context) error {
			if store == nil {
				return errNotConfigured
			}
			return metrics.PingDatabase(ctx, store)
		},
	})

	if cfg.RedisClient != nil {
		client := cfg.RedisClient
		h.checks = append(h.checks, check{
			name: "redis",
			ping: func(ctx context.Context) error { return client.Ping(ctx).Err() },
		})
	}

	return h
}

type healthError string

func (e healthError) Error() string { return string(e) }

const errNotConfigured = healthError("store not configured")

// SetReady flips the readiness probe; the server clears it before draining
func (h *Handler) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady returns the current readiness state
func (h *Handler) IsReady() bool {
	return h.ready.Load()
}

// Health runs every dependency check concurrently
// GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	services := h.run(ctx, false)

	overall := StatusHealthy
	for _, s := range services {
		if s.Status == "up" {
			continue
		}
		if s.Critical {
			overall = StatusUnhealthy
			break
		}
		overall = StatusDegraded
	}

	code := http.StatusOK
	if overall == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, HealthResponse{
		Status:    overall,
		Timestamp: now(),
		Services:  services,
		Version:   h.version,
	})
}

// Readiness reports whether the service should receive traffic: it is not
// shutting down and every critical dependency answers
// GET /health/ready
func (h *Handler) Readiness(w http.ResponseWriter, r *http.Request) {
	ready := h.IsReady()
	if ready {
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
		defer cancel()
		for _, s := range h.run(ctx, true) {
			if s.Status != "up" {
				ready = false
			}
		}
	}

	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, ProbeResponse{OK: ready, Timestamp: now()})
}

// Liveness answers as long as the process can serve HTTP
// GET /health/live
func (h *Handler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ProbeResponse{OK: true, Timestamp: now()})
}

func (h *Handler) run(ctx context.Context, criticalOnly bool) map[string]ServiceStatus {
	var (
		mu       sync.Mutex
		services = make(map[string]ServiceStatus, len(h.checks))
		g        errgroup.Group
	)
	for _, c := range h.checks {
		if criticalOnly && !c.critical {
			continue
		}
		g.Go(func() error {
			start := time.Now()
			err := c.ping(ctx)
			status := ServiceStatus{
				Status:   "up",
				Critical: c.critical,
				Latency:  time.Since(start).String(),
			}
			if err != nil {
				status.Status = "down"
				status.Error = err.Error()
			}
			mu.Lock()
			services[c.name] = status
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	return services
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
