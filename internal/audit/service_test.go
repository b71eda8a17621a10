// Package audit tests the service layer.
package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rshinytools/sage/internal/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) *Service {
	t.Helper()

	store, err := OpenStore(StoreConfig{
		Path:      filepath.Join(t.TempDir(), "audit.db"),
		SecretKey: "test-secret",
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return NewService(ServiceConfig{
		Store:         store,
		ExcludedPaths: []string{"/health", "/docs", "/audit", "/static"},
		LogRequests:   true,
		LogQueries:    true,
	})
}

func TestService_ExcludedPaths(t *testing.T) {
	service := newTestService(t)

	assert.True(t, service.IsExcluded("/health"))
	assert.True(t, service.IsExcluded("/audit/logs"))
	assert.True(t, service.IsExcluded("/static/app.js"))
	assert.False(t, service.IsExcluded("/chat/message"))
}

func TestService_ExcludedRequestsNeverLogged(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	service.LogRequest(ctx, Event{
		UserID:      "u-1",
		Username:    "tester",
		Status:      StatusSuccess,
		RequestPath: "/health",
	})

	result, err := service.Store().List(ctx, Filters{})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Total)
}

func TestService_LogRequestRedactsBody(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	service.LogRequest(ctx, Event{
		UserID:      "u-1",
		Username:    "tester",
		Status:      StatusSuccess,
		RequestPath: "/chat/message",
		RequestBody: `{"message":"hello","token":"abc123"}`,
	})

	result, err := service.Store().List(ctx, Filters{})
	require.NoError(t, err)
	require.Equal(t, 1, result.Total)
	assert.NotContains(t, result.Logs[0].RequestBody, "abc123")
	assert.Contains(t, result.Logs[0].RequestBody, RedactionMarker)
}

func TestService_QueryCompletedRecordsQueryAction(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	question := engine.Question{
		Text:      "How many patients had headaches?",
		SessionID: "sess-1",
		UserID:    "u-1",
		Username:  "tester",
		Timestamp: time.Now(),
	}
	result := &engine.PipelineResult{
		Success:     true,
		Query:       question.Text,
		SQL:         "SELECT COUNT(*) FROM ADAE LIMIT 10000",
		RowCount:    1,
		TotalTimeMS: 120,
		Confidence:  engine.FullScore(),
	}

	service.QueryCompleted(ctx, question, result, engine.QueryArtifacts{
		SanitizedQuestion: question.Text,
		Intent:            engine.IntentClinicalData,
		GeneratedSQL:      result.SQL,
		TablesAccessed:    []string{"ADAE"},
	})

	logs, err := service.Store().List(ctx, Filters{Action: ActionQuery})
	require.NoError(t, err)
	assert.Equal(t, 1, logs.Total)
}

func TestService_FailedQueryRecordsQueryFailed(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	question := engine.Question{Text: "bad", UserID: "u-1", Username: "tester"}
	result := &engine.PipelineResult{
		Success:    false,
		Error:      "sanitization_failure",
		ErrorStage: "sanitization",
		Confidence: engine.ZeroScore(),
	}

	service.QueryCompleted(ctx, question, result, engine.QueryArtifacts{})

	logs, err := service.Store().List(ctx, Filters{Action: ActionQueryFailed})
	require.NoError(t, err)
	assert.Equal(t, 1, logs.Total)
	assert.Equal(t, string(StatusFailure), logs.Logs[0].Status)
}
