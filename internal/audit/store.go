// Package audit provides the append-only, tamper-evident audit trail.
// This file implements the SQLite-backed store. Insertion is atomic per
// record; the store exposes no update path, and its only delete path is the
// retention purge in PurgeOlderThan.
package audit

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store persists audit records in a local SQLite database.
type Store struct {
	db     *sql.DB
	secret []byte
}

// StoreConfig holds configuration for the audit store.
type StoreConfig struct {
	// Path is the SQLite database file path.
	Path string

	// SecretKey keys the HMAC for electronic signatures.
	SecretKey string
}

// OpenStore opens (or creates) the audit database and applies migrations.
func OpenStore(cfg StoreConfig) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("audit: store path is required")
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("audit: failed to open store: %w", err)
	}

	// SQLite writes are serialised through a single connection.
	db.SetMaxOpenConns(1)

	store := &Store{
		db:     db,
		secret: []byte(cfg.SecretKey),
	}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// migrate applies the embedded schema migrations.
func (s *Store) migrate() error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("audit: failed to load migrations: %w", err)
	}

	driver, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("audit: failed to prepare migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("audit: failed to build migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("audit: migration failed: %w", err)
	}

	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// checksumTimestampLayout is the canonical timestamp rendering hashed into
// the checksum and stored verbatim, so verification reads back the exact
// string that was hashed. Fixed-width fractional seconds keep string order
// equal to time order.
const checksumTimestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// computeChecksum hashes the canonical subset of fields: JSON with sorted
// keys, SHA-256, hex.
func computeChecksum(data map[string]any) string {
	serialized, _ := json.Marshal(data) // map keys marshal sorted
	sum := sha256.Sum256(serialized)
	return hex.EncodeToString(sum[:])
}

// checksumSubset builds the canonical field subset for one record.
func checksumSubset(timestamp, userID, username, action, resourceType, resourceID, status, method, path string) map[string]any {
	return map[string]any{
		"timestamp":      timestamp,
		"user_id":        userID,
		"username":       username,
		"action":         action,
		"resource_type":  resourceType,
		"resource_id":    resourceID,
		"status":         status,
		"request_method": method,
		"request_path":   path,
	}
}

// signatureHash seals an electronic signature tuple with the store secret.
func (s *Store) signatureHash(auditLogID int64, userID, meaning, timestamp string) string {
	message := fmt.Sprintf("%d:%s:%s:%s", auditLogID, userID, meaning, timestamp)
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// InsertLog appends one audit record and returns its ID.
func (s *Store) InsertLog(ctx context.Context, event Event) (int64, error) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	timestamp := event.Timestamp.UTC().Format(checksumTimestampLayout)

	checksum := computeChecksum(checksumSubset(
		timestamp, event.UserID, event.Username, string(event.Action),
		event.ResourceType, event.ResourceID, string(event.Status),
		event.RequestMethod, event.RequestPath,
	))

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (
			timestamp, user_id, username, action, resource_type, resource_id,
			status, ip_address, user_agent, request_method, request_path,
			request_body, response_status, duration_ms, error_message,
			checksum, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		timestamp, event.UserID, event.Username, string(event.Action),
		event.ResourceType, event.ResourceID, string(event.Status),
		event.IPAddress, event.UserAgent, event.RequestMethod, event.RequestPath,
		event.RequestBody, event.ResponseStatus, event.DurationMS, event.ErrorMessage,
		checksum, time.Now().UTC().Format(checksumTimestampLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("audit: failed to insert log: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("audit: failed to read inserted id: %w", err)
	}
	return id, nil
}

// InsertQueryDetails appends the per-query artefacts linked to a log record.
func (s *Store) InsertQueryDetails(ctx context.Context, details QueryDetails) (int64, error) {
	tables, _ := json.Marshal(details.TablesAccessed)
	columns, _ := json.Marshal(details.ColumnsUsed)

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO query_audit_details (
			audit_log_id, original_question, sanitized_question,
			intent_classification, matched_entities, generated_sql,
			llm_prompt, llm_model, confidence_score, confidence_breakdown,
			execution_time_ms, result_row_count, tables_accessed, columns_used
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		details.AuditLogID, details.OriginalQuestion, details.SanitizedQuestion,
		details.IntentClassification, details.MatchedEntities, details.GeneratedSQL,
		details.LLMPrompt, details.LLMModel, details.ConfidenceScore, details.ConfidenceBreakdown,
		details.ExecutionTimeMS, details.ResultRowCount, string(tables), string(columns),
	)
	if err != nil {
		return 0, fmt.Errorf("audit: failed to insert query details: %w", err)
	}

	return result.LastInsertId()
}

// InsertSignature attaches an electronic signature to a log record.
func (s *Store) InsertSignature(ctx context.Context, auditLogID int64, signerUserID, signerName, meaning string) (int64, error) {
	timestamp := time.Now().UTC().Format(checksumTimestampLayout)
	hash := s.signatureHash(auditLogID, signerUserID, meaning, timestamp)

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO electronic_signatures (
			audit_log_id, signer_user_id, signer_username,
			signature_meaning, signature_timestamp, signature_hash
		) VALUES (?, ?, ?, ?, ?, ?)`,
		auditLogID, signerUserID, signerName, meaning, timestamp, hash,
	)
	if err != nil {
		return 0, fmt.Errorf("audit: failed to insert signature: %w", err)
	}

	return result.LastInsertId()
}

// GetByID reads one audit record.
func (s *Store) GetByID(ctx context.Context, id int64) (*Log, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, timestamp, user_id, username, action, resource_type,
		       resource_id, status, ip_address, user_agent, request_method,
		       request_path, request_body, response_status, duration_ms,
		       error_message, checksum, created_at
		  FROM audit_logs WHERE id = ?`, id)

	log, err := scanLog(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("audit: log %d not found", id)
		}
		return nil, fmt.Errorf("audit: failed to read log: %w", err)
	}
	return log, nil
}

// VerifyIntegrity recomputes the checksum of one record from its stored
// fields and compares it to the stored checksum.
func (s *Store) VerifyIntegrity(ctx context.Context, id int64) (*IntegrityResult, error) {
	log, err := s.GetByID(ctx, id)
	if err != nil {
		return &IntegrityResult{
			LogID:       id,
			Discrepancy: "record not found",
		}, nil
	}

	computed := computeChecksum(checksumSubset(
		log.Timestamp, log.UserID, log.Username, log.Action,
		log.ResourceType, log.ResourceID, log.Status,
		log.RequestMethod, log.RequestPath,
	))

	result := &IntegrityResult{
		LogID:            id,
		IntegrityValid:   computed == log.Checksum,
		StoredChecksum:   log.Checksum,
		ComputedChecksum: computed,
	}
	if !result.IntegrityValid {
		result.Discrepancy = "checksum mismatch - record may have been tampered"
	}
	return result, nil
}

// VerifySignature recomputes a signature's HMAC and compares it.
func (s *Store) VerifySignature(ctx context.Context, signatureID int64) (bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT audit_log_id, signer_user_id, signature_meaning,
		       signature_timestamp, signature_hash
		  FROM electronic_signatures WHERE id = ?`, signatureID)

	var sig Signature
	if err := row.Scan(&sig.AuditLogID, &sig.SignerUserID, &sig.Meaning, &sig.Timestamp, &sig.SignatureHash); err != nil {
		if err == sql.ErrNoRows {
			return false, fmt.Errorf("audit: signature %d not found", signatureID)
		}
		return false, fmt.Errorf("audit: failed to read signature: %w", err)
	}

	expected := s.signatureHash(sig.AuditLogID, sig.SignerUserID, sig.Meaning, sig.Timestamp)
	return hmac.Equal([]byte(expected), []byte(sig.SignatureHash)), nil
}

// List returns one page of audit records ordered by insertion timestamp,
// newest first.
func (s *Store) List(ctx context.Context, filters Filters) (*ListResult, error) {
	where, args := buildFilter(filters)

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_logs"+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("audit: failed to count logs: %w", err)
	}

	page := filters.Page
	if page < 1 {
		page = 1
	}
	pageSize := filters.PageSize
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	totalPages := (total + pageSize - 1) / pageSize
	offset := (page - 1) * pageSize

	query := `
		SELECT id, timestamp, user_id, username, action, resource_type,
		       resource_id, status, ip_address, user_agent, request_method,
		       request_path, request_body, response_status, duration_ms,
		       error_message, checksum, created_at
		  FROM audit_logs` + where + `
		 ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, pageSize, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: failed to list logs: %w", err)
	}
	defer rows.Close()

	var logs []Log
	for rows.Next() {
		log, err := scanLog(rows)
		if err != nil {
			return nil, fmt.Errorf("audit: failed to scan log: %w", err)
		}
		logs = append(logs, *log)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: log iteration failed: %w", err)
	}

	return &ListResult{
		Logs:       logs,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
	}, nil
}

// PurgeOlderThan removes records past the retention window. This is the one
// sanctioned deletion path, driven by the configured retention policy.
func (s *Store) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM audit_logs WHERE timestamp < ?",
		cutoff.UTC().Format(checksumTimestampLayout))
	if err != nil {
		return 0, fmt.Errorf("audit: retention purge failed: %w", err)
	}
	return result.RowsAffected()
}

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// scanLog reads one audit_logs row.
func scanLog(sc scanner) (*Log, error) {
	var log Log
	var resourceType, resourceID, ip, ua, method, path, body, errMsg sql.NullString
	var responseStatus, durationMS sql.NullInt64
	var createdAt string

	err := sc.Scan(
		&log.ID, &log.Timestamp, &log.UserID, &log.Username, &log.Action,
		&resourceType, &resourceID, &log.Status, &ip, &ua, &method,
		&path, &body, &responseStatus, &durationMS, &errMsg,
		&log.Checksum, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	log.ResourceType = resourceType.String
	log.ResourceID = resourceID.String
	log.IPAddress = ip.String
	log.UserAgent = ua.String
	log.RequestMethod = method.String
	log.RequestPath = path.String
	log.RequestBody = body.String
	log.ErrorMessage = errMsg.String
	log.ResponseStatus = int(responseStatus.Int64)
	log.DurationMS = durationMS.Int64
	if t, err := time.Parse(checksumTimestampLayout, createdAt); err == nil {
		log.CreatedAt = t
	}

	return &log, nil
}

// buildFilter assembles the WHERE clause for List.
func buildFilter(filters Filters) (string, []any) {
	var clauses []string
	var args []any

	if filters.UserID != "" {
		clauses = append(clauses, "user_id = ?")
		args = append(args, filters.UserID)
	}
	if filters.Action != "" {
		clauses = append(clauses, "action = ?")
		args = append(args, string(filters.Action))
	}
	if filters.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(filters.Status))
	}
	if filters.ResourceType != "" {
		clauses = append(clauses, "resource_type = ?")
		args = append(args, filters.ResourceType)
	}
	if filters.From != nil {
		clauses = append(clauses, "timestamp >= ?")
		args = append(args, filters.From.UTC().Format(checksumTimestampLayout))
	}
	if filters.To != nil {
		clauses = append(clauses, "timestamp <= ?")
		args = append(args, filters.To.UTC().Format(checksumTimestampLayout))
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}
