// Package audit provides the append-only, tamper-evident audit trail for
// SAGE, in the style required by 21 CFR Part 11.
//
// Every record carries a SHA-256 checksum over a canonical, sorted subset of
// its fields, computed at insert time. A verifier recomputes the checksum
// from the stored fields; a mismatch indicates tamper or corruption.
// Electronic signatures attach a {signer, meaning, timestamp} tuple to any
// record, sealed with an HMAC keyed by a process-wide secret. The store
// never updates records; its only deletion path is the retention purge,
// PurgeOlderThan.
package audit

import "time"

// Action is the type of audited event.
type Action string

// Audit actions.
const (
	ActionLogin          Action = "LOGIN"
	ActionLoginFailed    Action = "LOGIN_FAILED"
	ActionLogout         Action = "LOGOUT"
	ActionTokenRefresh   Action = "TOKEN_REFRESH"
	ActionPasswordChange Action = "PASSWORD_CHANGE"
	ActionQuery          Action = "QUERY"
	ActionQueryFailed    Action = "QUERY_FAILED"
	ActionDataUpload     Action = "DATA_UPLOAD"
	ActionDataExport     Action = "DATA_EXPORT"
	ActionAPIRequest     Action = "API_REQUEST"
	ActionSystemStartup  Action = "SYSTEM_STARTUP"
	ActionSystemShutdown Action = "SYSTEM_SHUTDOWN"
	ActionConfigChange   Action = "CONFIG_CHANGE"
)

// Status is the outcome of an audited event.
type Status string

// Audit statuses.
const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusError   Status = "error"
)

// Event is one event to be recorded in the trail.
type Event struct {
	Timestamp      time.Time
	UserID         string
	Username       string
	Action         Action
	ResourceType   string
	ResourceID     string
	Status         Status
	IPAddress      string
	UserAgent      string
	RequestMethod  string
	RequestPath    string
	RequestBody    string
	ResponseStatus int
	DurationMS     int64
	ErrorMessage   string
}

// Log is one stored audit record.
type Log struct {
	ID             int64     `json:"id"`
	Timestamp      string    `json:"timestamp"`
	UserID         string    `json:"user_id"`
	Username       string    `json:"username"`
	Action         string    `json:"action"`
	ResourceType   string    `json:"resource_type,omitempty"`
	ResourceID     string    `json:"resource_id,omitempty"`
	Status         string    `json:"status"`
	IPAddress      string    `json:"ip_address,omitempty"`
	UserAgent      string    `json:"user_agent,omitempty"`
	RequestMethod  string    `json:"request_method,omitempty"`
	RequestPath    string    `json:"request_path,omitempty"`
	RequestBody    string    `json:"request_body,omitempty"`
	ResponseStatus int       `json:"response_status,omitempty"`
	DurationMS     int64     `json:"duration_ms,omitempty"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	Checksum       string    `json:"checksum"`
	CreatedAt      time.Time `json:"created_at"`
}

// QueryDetails captures the per-query artefacts of one LLM interaction.
type QueryDetails struct {
	AuditLogID           int64    `json:"audit_log_id"`
	OriginalQuestion     string   `json:"original_question"`
	SanitizedQuestion    string   `json:"sanitized_question,omitempty"`
	IntentClassification string   `json:"intent_classification,omitempty"`
	MatchedEntities      string   `json:"matched_entities,omitempty"`
	GeneratedSQL         string   `json:"generated_sql,omitempty"`
	LLMPrompt            string   `json:"llm_prompt,omitempty"`
	LLMModel             string   `json:"llm_model,omitempty"`
	ConfidenceScore      float64  `json:"confidence_score,omitempty"`
	ConfidenceBreakdown  string   `json:"confidence_breakdown,omitempty"`
	ExecutionTimeMS      int64    `json:"execution_time_ms,omitempty"`
	ResultRowCount       int      `json:"result_row_count,omitempty"`
	TablesAccessed       []string `json:"tables_accessed,omitempty"`
	ColumnsUsed          []string `json:"columns_used,omitempty"`
}

// Signature is an electronic signature attached to an audit record.
type Signature struct {
	ID            int64  `json:"id"`
	AuditLogID    int64  `json:"audit_log_id"`
	SignerUserID  string `json:"signer_user_id"`
	SignerName    string `json:"signer_username"`
	Meaning       string `json:"signature_meaning"`
	Timestamp     string `json:"signature_timestamp"`
	SignatureHash string `json:"signature_hash"`
}

// IntegrityResult is the outcome of verifying one record's checksum.
type IntegrityResult struct {
	LogID            int64  `json:"log_id"`
	IntegrityValid   bool   `json:"integrity_valid"`
	StoredChecksum   string `json:"stored_checksum"`
	ComputedChecksum string `json:"computed_checksum"`
	Discrepancy      string `json:"discrepancy_details,omitempty"`
}

// Filters narrows audit log listings.
type Filters struct {
	UserID       string
	Action       Action
	Status       Status
	ResourceType string
	From         *time.Time
	To           *time.Time
	Page         int
	PageSize     int
}

// ListResult is one page of audit records.
type ListResult struct {
	Logs       []Log `json:"logs"`
	Total      int   `json:"total"`
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	TotalPages int   `json:"total_pages"`
}
