// Package middleware provides HTTP middleware for authentication and team
// resolution.
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// ContextKey is a typed key for context values to avoid collisions.
type ContextKey string

// teamIDKey is the context key for storing the authenticated team ID.
const teamIDKey ContextKey = "teamID"

// TokenValidator is an interface for validating bearer tokens.
// This allows the middleware to work with any JWT service implementation.
type TokenValidator interface {
	ValidateToken(tokenString string) (TeamIDGetter, error)
}

// TeamIDGetter extracts the team a token was issued for.
type TeamIDGetter interface {
	GetTeamID() uuid.UUID
}

// AuthMiddleware creates middleware that validates bearer tokens and adds the
// team ID to the request context. Every pool query is scoped by that team.
func AuthMiddleware(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				unauthorized(w)
				return
			}

			claims, err := validator.ValidateToken(tokenString)
			if err != nil {
				unauthorized(w)
				return
			}
			teamID := claims.GetTeamID()
			if teamID == uuid.Nil {
				unauthorized(w)
				return
			}

			ctx := WithTeamID(r.Context(), teamID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken parses a case-insensitive "Bearer <token>" header.
func bearerToken(header string) (string, bool) {
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized"}` + "\n"))
}

// WithTeamID returns a context carrying teamID.
func WithTeamID(ctx context.Context, teamID uuid.UUID) context.Context {
	return context.WithValue(ctx, teamIDKey, teamID)
}

// GetTeamID extracts the authenticated team ID from the request context.
func GetTeamID(r *http.Request) (uuid.UUID, error) {
	teamID, ok := r.Context().Value(teamIDKey).(uuid.UUID)
	if !ok || teamID == uuid.Nil {
		return uuid.Nil, fmt.Errorf("team ID not found in request context")
	}
	return teamID, nil
}
