package metrics

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	_ "modernc.org/sqlite"
)

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	HTTPRequestsTotal.Reset()

	r := chi.NewRouter()
	r.Use(Middleware)
	r.Post("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	r.Get("/auth/session", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/auth/login", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/auth/session", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/no/such/path/123", nil))

	tests := []struct {
		method, path, status string
	}{
		{"POST", "/auth/login", "429"},
		{"GET", "/auth/session", "200"},
		{"GET", "unmatched", "404"},
	}
	for _, tt := range tests {
		if got := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues(tt.method, tt.path, tt.status)); got != 1 {
			t.Errorf("%s %s %s: expected 1 request, got %v", tt.method, tt.path, tt.status, got)
		}
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	HTTPRequestsTotal.WithLabelValues("GET", "/health", "200").Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "authguard_http_requests_total") {
		t.Error("Expected body to contain authguard_http_requests_total")
	}
}

func TestObserveHash(t *testing.T) {
	HashDuration.Reset()

	ObserveHash("verify", 150*time.Millisecond)
	ObserveHash("verify", 250*time.Millisecond)
	ObserveHash("hash", 200*time.Millisecond)

	if n := testutil.CollectAndCount(HashDuration); n != 2 {
		t.Errorf("Expected one series per operation, got %d", n)
	}
}

func TestDBStatsCollector_SQL(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	db.SetMaxOpenConns(3)
	if err := db.Ping(); err != nil {
		t.Fatal(err)
	}

	collector := NewDBStatsCollector(nil, db)
	if n := testutil.CollectAndCount(collector); n != 5 {
		t.Fatalf("Expected 5 series, got %d", n)
	}

	expected := `
# HELP authguard_db_connections_max_open Maximum number of open store connections
# TYPE authguard_db_connections_max_open gauge
authguard_db_connections_max_open{store="sqlite"} 3
`
	if err := testutil.CollectAndCompare(collector, strings.NewReader(expected), "authguard_db_connections_max_open"); err != nil {
		t.Error(err)
	}

	reg := prometheus.NewPedanticRegistry()
	if err := reg.Register(collector); err != nil {
		t.Errorf("collector should register cleanly: %v", err)
	}
}

func TestDBStatsCollector_NoStore(t *testing.T) {
	if n := testutil.CollectAndCount(NewDBStatsCollector(nil, nil)); n != 0 {
		t.Errorf("Expected no series without a store, got %d", n)
	}
}

func TestPingDatabase(t *testing.T) {
	DBQueryDuration.Reset()
	fail := errors.New("down")

	if err := PingDatabase(context.Background(), PingFunc(func(ctx context.Context) error { return fail })); !errors.Is(err, fail) {
		t.Errorf("Expected ping error to pass through, got %v", err)
	}
	if n := testutil.CollectAndCount(DBQueryDuration); n != 1 {
		t.Errorf("Expected the ping to be timed, got %d series", n)
	}
}
