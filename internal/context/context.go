package context

import (
	"context"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	// IdentifierKey is the context key for the authenticated identifier
	IdentifierKey ContextKey = "identifier"
	// SessionTokenKey is the context key for the presented session token
	SessionTokenKey ContextKey = "session_token"
)

// WithIdentifier returns a copy of ctx carrying the authenticated identifier
func WithIdentifier(ctx context.Context, identifier string) context.Context {
	return context.WithValue(ctx, IdentifierKey, identifier)
}

// ExtractIdentifier extracts the authenticated identifier from the request context
func ExtractIdentifier(ctx context.Context) (string, bool) {
	identifier, ok := ctx.Value(IdentifierKey).(string)
	return identifier, ok && identifier != ""
}

// WithSessionToken returns a copy of ctx carrying the session token
func WithSessionToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, SessionTokenKey, token)
}

// ExtractSessionToken extracts the session token from the request context
func ExtractSessionToken(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(SessionTokenKey).(string)
	return token, ok && token != ""
}
