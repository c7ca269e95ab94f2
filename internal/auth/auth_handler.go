package auth

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	appctx "github.com/welldanyogia/authguard/internal/context"
)

// maxBodyBytes bounds request bodies; secrets are capped well below this
const maxBodyBytes = 16 << 10

// APIResponse represents the standard API response format
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// APIError represents the error detail in API response
type APIError struct {
	Code    string              `json:"code"`
	Message string              `json:"message"`
	Details map[string][]string `json:"details,omitempty"`
}

// AuthHandler handles HTTP requests for authentication endpoints
type AuthHandler struct {
	authService *AuthService
	retryBusy   time.Duration
}

// NewAuthHandler creates a new AuthHandler instance. retryBusy is the
// Retry-After advertised when the hash pool is saturated.
func NewAuthHandler(authService *AuthService, retryBusy time.Duration) *AuthHandler {
	if retryBusy <= 0 {
		retryBusy = time.Second
	}
	return &AuthHandler{
		authService: authService,
		retryBusy:   retryBusy,
	}
}

// Register handles credential registration
// POST /auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.authService.Register(r.Context(), req.Identifier, req.Secret); err != nil {
		h.writeAuthError(w, err)
		return
	}

	h.writeSuccess(w, http.StatusCreated, map[string]string{
		"identifier": req.Identifier,
	})
}

// Login handles authentication
// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.OriginAddress = ClientOrigin(r)

	result, err := h.authService.Login(r.Context(), req)
	if err != nil {
		h.writeAuthError(w, err)
		return
	}

	h.writeSuccess(w, http.StatusOK, map[string]interface{}{
		"token":      result.Token,
		"token_type": "Bearer",
		"identifier": result.Identifier,
		"expires_at": result.ExpiresAt,
	})
}

// Logout destroys the session carried in the Authorization header.
// Logging out an unknown or expired session succeeds.
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token, ok := BearerToken(r)
	if !ok {
		h.writeError(w, http.StatusUnauthorized, CodeNotAuthenticated, "Authorization header with a bearer token is required", nil)
		return
	}

	if err := h.authService.Logout(r.Context(), token); err != nil {
		h.writeAuthError(w, err)
		return
	}

	h.writeSuccess(w, http.StatusOK, map[string]string{
		"message": "Successfully logged out",
	})
}

// Session describes the session carried in the Authorization header
// GET /auth/session
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	token, ok := BearerToken(r)
	if !ok {
		h.writeError(w, http.StatusUnauthorized, CodeNotAuthenticated, "Authorization header with a bearer token is required", nil)
		return
	}

	info, err := h.authService.Session(r.Context(), token)
	if err != nil {
		h.writeAuthError(w, err)
		return
	}

	h.writeSuccess(w, http.StatusOK, map[string]interface{}{
		"session": info,
	})
}

// Me returns the identifier placed in the context by the session middleware
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	identifier, ok := appctx.ExtractIdentifier(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, CodeNotAuthenticated, "Invalid or expired session", nil)
		return
	}

	h.writeSuccess(w, http.StatusOK, map[string]string{
		"identifier": identifier,
	})
}

func (h *AuthHandler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		h.writeError(w, http.StatusBadRequest, CodeValidationError, "Invalid request body", nil)
		return false
	}
	return true
}

// writeAuthError maps service errors onto status codes. Internal causes are
// never rendered.
func (h *AuthHandler) writeAuthError(w http.ResponseWriter, err error) {
	var policyErr *PolicyViolationError
	var lockedErr *LockedOutError

	switch {
	case errors.As(err, &policyErr):
		details := make(map[string][]string)
		for _, v := range policyErr.Violations {
			details[v.Field] = append(details[v.Field], v.Message)
		}
		h.writeError(w, http.StatusBadRequest, CodeValidationError, "Request validation failed", details)
	case errors.Is(err, ErrInvalidAttributes):
		h.writeError(w, http.StatusBadRequest, CodeValidationError, "Invalid session attributes", nil)
	case errors.Is(err, ErrIdentifierTaken):
		h.writeError(w, http.StatusConflict, CodeIdentifierTaken, "An account with this identifier already exists", nil)
	case errors.Is(err, ErrInvalidCredentials):
		h.writeError(w, http.StatusUnauthorized, CodeInvalidCredentials, "Invalid identifier or secret", nil)
	case errors.As(err, &lockedErr):
		retry := strconv.FormatInt(lockedErr.RetryAfterSeconds(), 10)
		w.Header().Set("Retry-After", retry)
		h.writeError(w, http.StatusTooManyRequests, CodeLockedOut, "Too many failed login attempts. Please try again later.", map[string][]string{
			"retry_after": {retry},
		})
	case errors.Is(err, ErrNotAuthenticated):
		h.writeError(w, http.StatusUnauthorized, CodeNotAuthenticated, "Invalid or expired session", nil)
	case errors.Is(err, ErrBusy):
		w.Header().Set("Retry-After", strconv.Itoa(int((h.retryBusy+time.Second-1)/time.Second)))
		h.writeError(w, http.StatusServiceUnavailable, CodeBusy, "Service is busy. Please retry shortly.", nil)
	default:
		h.writeError(w, http.StatusInternalServerError, CodeInternal, "An unexpected error occurred", nil)
	}
}

// writeSuccess writes a successful JSON response
func (h *AuthHandler) writeSuccess(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := APIResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}

	json.NewEncoder(w).Encode(response)
}

// writeError writes an error JSON response
func (h *AuthHandler) writeError(w http.ResponseWriter, statusCode int, code, message string, details map[string][]string) {
	WriteError(w, statusCode, code, message, details)
}

// WriteError writes an error JSON response in the standard envelope
func WriteError(w http.ResponseWriter, statusCode int, code, message string, details map[string][]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := APIResponse{
		Success: false,
		Error: &APIError{
			Code:    code,
			Message: message,
			Details: details,
		},
		Timestamp: time.Now().UTC(),
	}

	json.NewEncoder(w).Encode(response)
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" header
func BearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// ClientOrigin returns the request's network origin without the port.
// Forwarding headers are only honoured when the server installs chi's
// RealIP middleware, which rewrites RemoteAddr.
func ClientOrigin(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
