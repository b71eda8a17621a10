// Package audit provides the append-only, tamper-evident audit trail.
// This file implements the service layer: event recording with body
// redaction, path exclusions, and the adapter the pipeline uses to record
// query outcomes.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/rshinytools/sage/internal/engine"
)

// RedactionMarker replaces sensitive request-body fields before storage.
const RedactionMarker = "[REDACTED]"

// sensitiveFields are request-body keys whose values are never stored.
var sensitiveFields = []string{"password", "token", "secret", "api_key"}

// Service records audit events and exposes verification.
type Service struct {
	store         *Store
	excludedPaths []string
	logRequests   bool
	logQueries    bool
	logger        *slog.Logger
}

// ServiceConfig holds configuration for the audit service.
type ServiceConfig struct {
	Store *Store

	// ExcludedPaths are request path prefixes never audited, preventing
	// feedback loops (health, docs, the audit endpoints themselves).
	ExcludedPaths []string

	// LogRequests enables API request auditing.
	LogRequests bool

	// LogQueries enables per-query detail records.
	LogQueries bool

	Logger *slog.Logger
}

// NewService creates an audit service.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		store:         cfg.Store,
		excludedPaths: cfg.ExcludedPaths,
		logRequests:   cfg.LogRequests,
		logQueries:    cfg.LogQueries,
		logger:        cfg.Logger.With(slog.String("component", "audit")),
	}
}

// Store exposes the underlying store for verification endpoints.
func (s *Service) Store() *Store {
	return s.store
}

// IsExcluded reports whether a request path is never audited.
func (s *Service) IsExcluded(path string) bool {
	for _, prefix := range s.excludedPaths {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// LogEvent records one event. Failures are logged, never propagated: audit
// unavailability must not fail the request being audited.
func (s *Service) LogEvent(ctx context.Context, event Event) int64 {
	event.RequestBody = RedactBody(event.RequestBody)

	id, err := s.store.InsertLog(ctx, event)
	if err != nil {
		s.logger.Error("failed to record audit event",
			slog.String("action", string(event.Action)),
			slog.Any("error", err),
		)
		return 0
	}
	return id
}

// LogRequest records an API request unless its path is excluded.
func (s *Service) LogRequest(ctx context.Context, event Event) {
	if !s.logRequests || s.IsExcluded(event.RequestPath) {
		return
	}
	event.Action = ActionAPIRequest
	s.LogEvent(ctx, event)
}

// QueryCompleted implements engine.QueryAuditor: one event per terminal
// pipeline outcome, with the per-query artefacts attached.
func (s *Service) QueryCompleted(ctx context.Context, question engine.Question, result *engine.PipelineResult, artifacts engine.QueryArtifacts) {
	action := ActionQuery
	status := StatusSuccess
	if !result.Success {
		action = ActionQueryFailed
		status = StatusFailure
	}

	event := Event{
		Timestamp:    question.Timestamp,
		UserID:       question.UserID,
		Username:     question.Username,
		Action:       action,
		ResourceType: "query",
		ResourceID:   question.SessionID,
		Status:       status,
		DurationMS:   result.TotalTimeMS,
		ErrorMessage: result.Error,
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	logID, err := s.store.InsertLog(ctx, event)
	if err != nil {
		s.logger.Error("failed to record query audit event", slog.Any("error", err))
		return
	}

	if !s.logQueries {
		return
	}

	entities, _ := json.Marshal(artifacts.Entities)
	breakdown, _ := json.Marshal(result.Confidence.Components)

	details := QueryDetails{
		AuditLogID:           logID,
		OriginalQuestion:     question.Text,
		SanitizedQuestion:    artifacts.SanitizedQuestion,
		IntentClassification: string(artifacts.Intent),
		MatchedEntities:      string(entities),
		GeneratedSQL:         artifacts.GeneratedSQL,
		LLMPrompt:            artifacts.Prompt,
		LLMModel:             artifacts.ModelID,
		ConfidenceScore:      result.Confidence.Score,
		ConfidenceBreakdown:  string(breakdown),
		ExecutionTimeMS:      result.TotalTimeMS,
		ResultRowCount:       result.RowCount,
		TablesAccessed:       artifacts.TablesAccessed,
		ColumnsUsed:          artifacts.ColumnsUsed,
	}

	if _, err := s.store.InsertQueryDetails(ctx, details); err != nil {
		s.logger.Error("failed to record query details", slog.Any("error", err))
	}
}

// RedactBody replaces sensitive field values in a JSON request body. Bodies
// that do not parse as JSON are returned unchanged.
func RedactBody(body string) string {
	if body == "" {
		return body
	}

	var parsed map[string]any
	if err := json.Unmarshal([]byte(body), &parsed); err != nil {
		return body
	}

	redactMap(parsed)

	redacted, err := json.Marshal(parsed)
	if err != nil {
		return body
	}
	return string(redacted)
}

// redactMap recursively masks sensitive keys.
func redactMap(m map[string]any) {
	for key, value := range m {
		if isSensitiveKey(key) {
			m[key] = RedactionMarker
			continue
		}
		if nested, ok := value.(map[string]any); ok {
			redactMap(nested)
		}
	}
}

// isSensitiveKey reports whether a body key holds a secret.
func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, field := range sensitiveFields {
		if strings.Contains(lower, field) {
			return true
		}
	}
	return false
}
