package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/welldanyogia/authguard/internal/metrics"
)

func TestHealth_StoreUp(t *testing.T) {
	h := NewHandler(Config{
		Store:     metrics.PingFunc(func(ctx context.Context) error { return nil }),
		StoreName: "sqlite",
		Version:   "test",
	})

	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Services["sqlite"].Status != "up" {
		t.Errorf("expected sqlite up, got %+v", resp.Services)
	}
}

func TestHealth_StoreDown(t *testing.T) {
	h := NewHandler(Config{
		Store: metrics.PingFunc(func(ctx context.Context) error { return errors.New("connection refused") }),
	})

	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	var resp HealthResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp.Status != StatusUnhealthy || resp.Services["database"].Status != "down" || !resp.Services["database"].Critical {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestReadiness_FollowsShutdownState(t *testing.T) {
	h := NewHandler(Config{
		Store: metrics.PingFunc(func(ctx context.Context) error { return nil }),
	})

	rec := httptest.NewRecorder()
	h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	h.SetReady(false)
	rec = httptest.NewRecorder()
	h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 while shutting down, got %d", rec.Code)
	}
}

func TestLiveness(t *testing.T) {
	h := NewHandler(Config{})
	rec := httptest.NewRecorder()
	h.Liveness(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestHealth_CacheDownIsDegraded(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer client.Close()

	h := NewHandler(Config{
		Store:       metrics.PingFunc(func(ctx context.Context) error { return nil }),
		RedisClient: client,
		Timeout:     time.Second,
	})

	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("an optional dependency must not fail the check, got %d", rec.Code)
	}
	var resp HealthResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp.Status != StatusDegraded || resp.Services["redis"].Status != "down" {
		t.Errorf("unexpected response %+v", resp)
	}

	// Readiness only considers the store
	rec = httptest.NewRecorder()
	h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected ready without the cache, got %d", rec.Code)
	}
}

func TestHealth_NoStoreConfigured(t *testing.T) {
	h := NewHandler(Config{})
	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}
