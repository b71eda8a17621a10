// Package middleware provides HTTP middleware for the SAGE API.
//
// This file implements the AuthMiddleware that verifies bearer tokens and
// extracts the user identity into the request context. Tokens are minted by
// an external identity service; this middleware only verifies them.
package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// contextKey is a type for context keys.
type contextKey string

const (
	// IdentityKey is the context key for the verified user identity.
	IdentityKey contextKey = "identity"
)

// Identity is the verified caller extracted from the bearer token.
type Identity struct {
	// UserID is the token subject.
	UserID string

	// Username is the display name claim.
	Username string

	// SessionID scopes caching and audit ordering.
	SessionID string

	// Roles are the caller's role claims.
	Roles []string
}

// GetIdentity returns the verified identity from the request context.
func GetIdentity(ctx context.Context) *Identity {
	identity, _ := ctx.Value(IdentityKey).(*Identity)
	return identity
}

// AuthMiddleware verifies the Authorization bearer token with the shared
// HMAC secret and stores the identity in the request context. Requests to
// /health and /ready pass through unauthenticated.
func AuthMiddleware(secret string, logger *slog.Logger) func(http.Handler) http.Handler {
	key := []byte(secret)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" || r.URL.Path == "/ready" {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				logger.Debug("missing authorization header",
					slog.String("path", r.URL.Path),
				)
				writeUnauthorized(w, "missing authorization header")
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				writeUnauthorized(w, "invalid authorization header format")
				return
			}

			identity, err := verifyToken(parts[1], key)
			if err != nil {
				logger.Warn("token verification failed",
					slog.String("path", r.URL.Path),
					slog.Any("error", err),
				)
				writeUnauthorized(w, "invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), IdentityKey, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// tokenClaims is the claim shape accepted from the identity service.
type tokenClaims struct {
	Username  string   `json:"preferred_username"`
	SessionID string   `json:"sid"`
	Roles     []string `json:"roles"`
	jwt.RegisteredClaims
}

// verifyToken parses and verifies one bearer token.
func verifyToken(tokenString string, key []byte) (*Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &tokenClaims{},
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return key, nil
		},
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
	)
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*tokenClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}

	return &Identity{
		UserID:    claims.Subject,
		Username:  claims.Username,
		SessionID: claims.SessionID,
		Roles:     claims.Roles,
	}, nil
}

// writeUnauthorized writes a 401 JSON response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
