// Package audit tests the tamper-evident store.
package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := OpenStore(StoreConfig{
		Path:      filepath.Join(t.TempDir(), "audit.db"),
		SecretKey: "test-secret",
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleEvent() Event {
	return Event{
		Timestamp:     time.Now(),
		UserID:        "u-1",
		Username:      "tester",
		Action:        ActionQuery,
		ResourceType:  "query",
		ResourceID:    "sess-1",
		Status:        StatusSuccess,
		IPAddress:     "10.0.0.1",
		RequestMethod: "POST",
		RequestPath:   "/chat/message",
		DurationMS:    1234,
	}
}

func TestStore_InsertAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.InsertLog(ctx, sampleEvent())
	require.NoError(t, err)
	require.Greater(t, id, int64(0))

	log, err := store.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "u-1", log.UserID)
	assert.Equal(t, string(ActionQuery), log.Action)
	assert.NotEmpty(t, log.Checksum)
}

func TestStore_IntegrityValidAfterInsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.InsertLog(ctx, sampleEvent())
	require.NoError(t, err)

	result, err := store.VerifyIntegrity(ctx, id)
	require.NoError(t, err)
	assert.True(t, result.IntegrityValid)
	assert.Equal(t, result.StoredChecksum, result.ComputedChecksum)
	assert.Empty(t, result.Discrepancy)
}

func TestStore_IntegrityDetectsTamper(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.InsertLog(ctx, sampleEvent())
	require.NoError(t, err)

	// Simulate a byte flip in the stored row, outside the public API.
	_, err = store.db.ExecContext(ctx,
		"UPDATE audit_logs SET username = ? WHERE id = ?", "attacker", id)
	require.NoError(t, err)

	result, err := store.VerifyIntegrity(ctx, id)
	require.NoError(t, err)
	assert.False(t, result.IntegrityValid)
	assert.Contains(t, result.Discrepancy, "checksum mismatch")
}

func TestStore_ChecksumDeterministic(t *testing.T) {
	subset := checksumSubset("2026-08-01T12:00:00Z", "u-1", "tester", "QUERY",
		"query", "sess-1", "success", "POST", "/chat/message")

	assert.Equal(t, computeChecksum(subset), computeChecksum(subset))

	changed := checksumSubset("2026-08-01T12:00:00Z", "u-1", "tester", "QUERY",
		"query", "sess-1", "failure", "POST", "/chat/message")
	assert.NotEqual(t, computeChecksum(subset), computeChecksum(changed))
}

func TestStore_SignatureRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	logID, err := store.InsertLog(ctx, sampleEvent())
	require.NoError(t, err)

	sigID, err := store.InsertSignature(ctx, logID, "u-2", "reviewer", "approved")
	require.NoError(t, err)

	valid, err := store.VerifySignature(ctx, sigID)
	require.NoError(t, err)
	assert.True(t, valid)
}

func TestStore_SignatureDetectsTamper(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	logID, err := store.InsertLog(ctx, sampleEvent())
	require.NoError(t, err)

	sigID, err := store.InsertSignature(ctx, logID, "u-2", "reviewer", "approved")
	require.NoError(t, err)

	_, err = store.db.ExecContext(ctx,
		"UPDATE electronic_signatures SET signature_meaning = ? WHERE id = ?",
		"rejected", sigID)
	require.NoError(t, err)

	valid, err := store.VerifySignature(ctx, sigID)
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestStore_QueryDetailsLinked(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	logID, err := store.InsertLog(ctx, sampleEvent())
	require.NoError(t, err)

	detailsID, err := store.InsertQueryDetails(ctx, QueryDetails{
		AuditLogID:       logID,
		OriginalQuestion: "How many patients had headaches?",
		GeneratedSQL:     "SELECT COUNT(*) FROM ADAE LIMIT 10000",
		ConfidenceScore:  87.5,
		ResultRowCount:   1,
		TablesAccessed:   []string{"ADAE"},
		ColumnsUsed:      []string{"USUBJID", "AEDECOD"},
	})
	require.NoError(t, err)
	assert.Greater(t, detailsID, int64(0))
}

func TestStore_ListFiltersAndPaginates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		event := sampleEvent()
		if i%2 == 0 {
			event.Action = ActionQueryFailed
			event.Status = StatusFailure
		}
		event.Timestamp = time.Now().Add(time.Duration(i) * time.Millisecond)
		_, err := store.InsertLog(ctx, event)
		require.NoError(t, err)
	}

	all, err := store.List(ctx, Filters{})
	require.NoError(t, err)
	assert.Equal(t, 5, all.Total)

	failed, err := store.List(ctx, Filters{Action: ActionQueryFailed})
	require.NoError(t, err)
	assert.Equal(t, 3, failed.Total)

	page, err := store.List(ctx, Filters{Page: 1, PageSize: 2})
	require.NoError(t, err)
	assert.Len(t, page.Logs, 2)
	assert.Equal(t, 3, page.TotalPages)
}

func TestStore_OrderedByTimestampDescending(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Now()
	for i := 0; i < 3; i++ {
		event := sampleEvent()
		event.Timestamp = base.Add(time.Duration(i) * time.Second)
		_, err := store.InsertLog(ctx, event)
		require.NoError(t, err)
	}

	result, err := store.List(ctx, Filters{})
	require.NoError(t, err)
	require.Len(t, result.Logs, 3)
	assert.True(t, result.Logs[0].Timestamp >= result.Logs[1].Timestamp)
	assert.True(t, result.Logs[1].Timestamp >= result.Logs[2].Timestamp)
}

func TestRedactBody(t *testing.T) {
	body := `{"username":"alice","password":"hunter2","nested":{"api_key":"sk-123","note":"ok"}}`
	redacted := RedactBody(body)

	assert.NotContains(t, redacted, "hunter2")
	assert.NotContains(t, redacted, "sk-123")
	assert.Contains(t, redacted, RedactionMarker)
	assert.Contains(t, redacted, "alice")

	assert.Equal(t, "not json", RedactBody("not json"))
	assert.Equal(t, "", RedactBody(""))
}
