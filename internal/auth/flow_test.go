package auth_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/welldanyogia/authguard/internal/auth"
	"github.com/welldanyogia/authguard/internal/config"
	authmw "github.com/welldanyogia/authguard/internal/middleware"
	"github.com/welldanyogia/authguard/internal/repository"
	"github.com/welldanyogia/authguard/internal/store"
)

// flowEnv wires the real service, handler and middleware over a store
type flowEnv struct {
	router *chi.Mux
	store  *store.Store
}

type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *auth.APIError  `json:"error,omitempty"`
}

func newFlowEnv(st *store.Store) *flowEnv {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := auth.SystemClock{}

	hasher := auth.NewCredentialHasher(auth.HashParams{Memory: 1024, Iterations: 1, Parallelism: 1}, log)
	pool := auth.NewHashPool(hasher, 2, time.Second, log)

	svc := auth.NewAuthService(auth.Dependencies{
		Credentials: st.Credentials,
		Attempts:    st.Attempts,
		Lockout:     auth.NewLockoutEngine(st.Attempts, auth.LockoutConfig{MaxAttempts: 3, Window: time.Minute}),
		Sessions:    auth.NewSessionStore(st.Sessions, clock),
		HashPool:    pool,
		Clock:       clock,
		Logger:      log,
	}, auth.ServiceConfig{SessionTTL: time.Hour})

	handler := auth.NewAuthHandler(svc, time.Second)
	sessionMiddleware := authmw.NewSessionMiddleware(svc, log)

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		auth.RegisterRoutes(r, handler, sessionMiddleware.Authenticate)
	})
	return &flowEnv{router: r, store: st}
}

func (e *flowEnv) request(t *testing.T, method, path string, body interface{}, token string) (int, apiResponse) {
	t.Helper()
	var reqBody []byte
	if body != nil {
		var err error
		if reqBody, err = json.Marshal(body); err != nil {
			t.Fatalf("Failed to marshal request body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, bytes.NewReader(reqBody))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "198.51.100.20:40000"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)

	var resp apiResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response %q: %v", rr.Body.String(), err)
	}
	return rr.Code, resp
}

// runFullFlow drives register, login, session, lockout and logout end to end
func runFullFlow(t *testing.T, env *flowEnv, identifier string) {
	secret := "ValidPass1!"

	t.Run("Register", func(t *testing.T) {
		status, resp := env.request(t, http.MethodPost, "/api/v1/auth/register",
			map[string]string{"identifier": identifier, "secret": secret}, "")
		if status != http.StatusCreated || !resp.Success {
			t.Fatalf("Expected 201, got %d: %+v", status, resp.Error)
		}

		status, resp = env.request(t, http.MethodPost, "/api/v1/auth/register",
			map[string]string{"identifier": identifier, "secret": secret}, "")
		if status != http.StatusConflict || resp.Error.Code != auth.CodeIdentifierTaken {
			t.Errorf("Expected 409 on duplicate, got %d", status)
		}
	})

	var token string
	t.Run("Login", func(t *testing.T) {
		status, resp := env.request(t, http.MethodPost, "/api/v1/auth/login", map[string]interface{}{
			"identifier": identifier,
			"secret":     secret,
			"attributes": map[string]string{"client": "flow-test"},
		}, "")
		if status != http.StatusOK {
			t.Fatalf("Expected 200, got %d: %+v", status, resp.Error)
		}
		var data struct {
			Token string `json:"token"`
		}
		if err := json.Unmarshal(resp.Data, &data); err != nil || data.Token == "" {
			t.Fatalf("Missing token in %s", resp.Data)
		}
		token = data.Token

		cred, err := env.store.Credentials.GetByIdentifier(context.Background(), identifier)
		if err != nil {
			t.Fatalf("Failed to load credential: %v", err)
		}
		if cred.LastAuthenticatedAt == nil {
			t.Error("Expected last authenticated time to be set")
		}
	})

	t.Run("Session", func(t *testing.T) {
		status, resp := env.request(t, http.MethodGet, "/api/v1/auth/session", nil, token)
		if status != http.StatusOK {
			t.Fatalf("Expected 200, got %d", status)
		}
		var data struct {
			Session auth.SessionInfo `json:"session"`
		}
		if err := json.Unmarshal(resp.Data, &data); err != nil {
			t.Fatal(err)
		}
		if data.Session.Identifier != identifier || data.Session.Attributes["client"] != "flow-test" {
			t.Errorf("Unexpected session %+v", data.Session)
		}

		status, _ = env.request(t, http.MethodGet, "/api/v1/auth/me", nil, token)
		if status != http.StatusOK {
			t.Errorf("Expected 200 from /me, got %d", status)
		}
	})

	t.Run("Lockout", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			status, _ := env.request(t, http.MethodPost, "/api/v1/auth/login",
				map[string]string{"identifier": identifier, "secret": "WrongPass1!"}, "")
			if status != http.StatusUnauthorized {
				t.Fatalf("Attempt %d: expected 401, got %d", i+1, status)
			}
		}
		status, resp := env.request(t, http.MethodPost, "/api/v1/auth/login",
			map[string]string{"identifier": identifier, "secret": secret}, "")
		if status != http.StatusTooManyRequests || resp.Error.Code != auth.CodeLockedOut {
			t.Errorf("Expected 429 with the correct secret while locked, got %d", status)
		}

		count, _, err := env.store.Attempts.CountFailures(context.Background(), identifier, "198.51.100.20",
			time.Now().Add(-time.Minute), time.Now())
		if err != nil || count != 3 {
			t.Errorf("Locked attempts must not be recorded, got %d failures (%v)", count, err)
		}
	})

	t.Run("Logout", func(t *testing.T) {
		status, _ := env.request(t, http.MethodPost, "/api/v1/auth/logout", nil, token)
		if status != http.StatusOK {
			t.Fatalf("Expected 200, got %d", status)
		}

		status, resp := env.request(t, http.MethodGet, "/api/v1/auth/me", nil, token)
		if status != http.StatusUnauthorized || resp.Error.Code != auth.CodeNotAuthenticated {
			t.Errorf("Expected 401 after logout, got %d", status)
		}

		if _, err := env.store.Sessions.GetByTokenHash(context.Background(), auth.HashToken(token)); !errors.Is(err, repository.ErrSessionNotFound) {
			t.Errorf("Expected session row to be gone, got %v", err)
		}
	})
}

func TestFlow_SQLite(t *testing.T) {
	st, err := store.Open(context.Background(), config.StoreConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "flow.db"),
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	runFullFlow(t, newFlowEnv(st), "flow-user")
}
