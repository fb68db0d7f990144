// Package middleware provides HTTP middleware for authentication.
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// ContextKey is a typed key for context values to avoid collisions.
type ContextKey string

// requesterIDKey is the context key for the authenticated requester ID.
const requesterIDKey ContextKey = "requesterID"

// ErrNoRequester is returned when a request carries no authenticated requester.
var ErrNoRequester = errors.New("requester ID not found in request context")

// TokenValidator validates bearer tokens.
// It lets the middleware work with any token service implementation.
type TokenValidator interface {
	ValidateToken(tokenString string) (RequesterGetter, error)
}

// RequesterGetter extracts the requester ID from validated token claims.
type RequesterGetter interface {
	GetRequesterID() string
}

// AuthMiddleware validates the bearer token and stores the requester ID in the request context.
func AuthMiddleware(tokens TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				unauthorized(w)
				return
			}
			claims, err := tokens.ValidateToken(token)
			if err != nil {
				unauthorized(w)
				return
			}
			id := claims.GetRequesterID()
			if id == "" {
				unauthorized(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithRequesterID(r.Context(), id)))
		})
	}
}

// bearerToken parses an Authorization header. The scheme is case-insensitive.
func bearerToken(header string) (string, bool) {
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return parts[1], true
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="conciliador"`)
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"Unauthorized"}` + "\n"))
}

// WithRequesterID returns a context carrying id.
func WithRequesterID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requesterIDKey, id)
}

// GetRequesterID extracts the authenticated requester ID from the request context.
func GetRequesterID(r *http.Request) (string, error) {
	id, ok := r.Context().Value(requesterIDKey).(string)
	if !ok || id == "" {
		return "", ErrNoRequester
	}
	return id, nil
}
