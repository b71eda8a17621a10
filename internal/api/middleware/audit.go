// Package middleware provides HTTP middleware for the SAGE API.
// This file implements request auditing. Excluded path prefixes (health,
// docs, the audit endpoints themselves, static assets) are never logged,
// preventing feedback loops; sensitive body fields are redacted before
// storage by the audit service.
package middleware

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"github.com/rshinytools/sage/internal/audit"
)

// maxAuditedBodyBytes bounds the request body captured into the trail.
const maxAuditedBodyBytes = 4096

// AuditMiddleware records one audit event per request.
func AuditMiddleware(service *audit.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if service == nil || service.IsExcluded(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()

			// Capture the body and restore the reader. The whole body is
			// redacted before the copy is bounded, so a JSON body longer than
			// the bound is still parsed and masked.
			var body string
			if r.Body != nil {
				raw, _ := io.ReadAll(r.Body)
				r.Body = io.NopCloser(bytes.NewReader(raw))
				body = audit.RedactBody(string(raw))
				if len(body) > maxAuditedBodyBytes {
					body = body[:maxAuditedBodyBytes]
				}
			}

			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(recorder, r)

			event := audit.Event{
				Timestamp:      start,
				UserID:         "anonymous",
				Username:       "anonymous",
				Status:         statusFor(recorder.status),
				IPAddress:      r.RemoteAddr,
				UserAgent:      r.UserAgent(),
				RequestMethod:  r.Method,
				RequestPath:    r.URL.Path,
				RequestBody:    body,
				ResponseStatus: recorder.status,
				DurationMS:     time.Since(start).Milliseconds(),
			}
			if identity := GetIdentity(r.Context()); identity != nil {
				event.UserID = identity.UserID
				event.Username = identity.Username
			}

			service.LogRequest(r.Context(), event)
		})
	}
}

// statusRecorder captures the response status code.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

// WriteHeader records the status before delegating.
func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// statusFor maps an HTTP status onto an audit status.
func statusFor(status int) audit.Status {
	switch {
	case status >= 500:
		return audit.StatusError
	case status >= 400:
		return audit.StatusFailure
	default:
		return audit.StatusSuccess
	}
}
