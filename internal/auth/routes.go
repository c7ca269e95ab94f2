package auth

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Middleware is an interface for HTTP middleware
type Middleware func(http.Handler) http.Handler

// RegisterRoutes registers all authentication routes with the Chi router
// Public routes: /register, /login, /logout, /session
// Protected routes: /me
func RegisterRoutes(r chi.Router, handler *AuthHandler, sessionMiddleware Middleware) {
	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", handler.Register)
		r.Post("/login", handler.Login)
		r.Post("/logout", handler.Logout)
		r.Get("/session", handler.Session)

		r.Group(func(r chi.Router) {
			r.Use(sessionMiddleware)
			r.Get("/me", handler.Me)
		})
	})
}
