// Package middleware provides HTTP middleware for the SAGE API.
// This file implements per-user rate limiting with token buckets.
package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitMiddleware limits requests per user. Users are identified by the
// verified token subject, falling back to the remote address for
// unauthenticated paths. Default: 60 requests per minute per user.
func RateLimitMiddleware(requestsPerMinute int, logger *slog.Logger) func(http.Handler) http.Handler {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 60
	}

	limiters := &userLimiters{
		limit:   rate.Every(time.Minute / time.Duration(requestsPerMinute)),
		burst:   requestsPerMinute,
		entries: make(map[string]*rate.Limiter),
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" || r.URL.Path == "/ready" {
				next.ServeHTTP(w, r)
				return
			}

			key := r.RemoteAddr
			if identity := GetIdentity(r.Context()); identity != nil {
				key = identity.UserID
			}

			if !limiters.get(key).Allow() {
				logger.Warn("rate limit exceeded",
					slog.String("user", key),
					slog.String("path", r.URL.Path),
				)
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "60")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(map[string]string{
					"error": "rate limit exceeded, try again shortly",
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// userLimiters holds one token bucket per user.
type userLimiters struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	entries map[string]*rate.Limiter
}

// get returns the limiter for a user, creating it on first sight.
func (u *userLimiters) get(key string) *rate.Limiter {
	u.mu.Lock()
	defer u.mu.Unlock()

	limiter, ok := u.entries[key]
	if !ok {
		limiter = rate.NewLimiter(u.limit, u.burst)
		u.entries[key] = limiter
	}
	return limiter
}
