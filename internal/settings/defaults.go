// Package settings provides the persisted, runtime-adjustable configuration
// store for SAGE.
// This file holds the seed catalogue: every known setting with its category,
// type, default value and sensitivity flag.
package settings

// Setting is one configuration entry.
type Setting struct {
	Category    string `json:"category"`
	Key         string `json:"key"`
	Value       string `json:"value"`
	ValueType   string `json:"value_type"`
	Label       string `json:"label"`
	Description string `json:"description"`
	Sensitive   bool   `json:"sensitive"`
}

// Setting categories.
const (
	CategoryGeneral    = "general"
	CategoryAuth       = "auth"
	CategoryLLM        = "llm"
	CategoryData       = "data"
	CategoryMetadata   = "metadata"
	CategoryDictionary = "dictionary"
	CategoryAudit      = "audit"
	CategorySystem     = "system"
)

// Defaults returns the seed catalogue. Values are strings; ValueType drives
// parsing on the consumer side.
func Defaults() []Setting {
	return []Setting{
		// general
		{CategoryGeneral, "site_name", "SAGE Clinical Analytics", "string", "Site Name", "Display name shown in the UI", false},
		{CategoryGeneral, "default_theme", "light", "string", "Default Theme", "Default UI theme (light, dark)", false},
		{CategoryGeneral, "timezone", "UTC", "string", "Timezone", "Display timezone for timestamps", false},
		{CategoryGeneral, "maintenance_mode", "false", "bool", "Maintenance Mode", "Reject query traffic while enabled", false},

		// auth
		{CategoryAuth, "session_timeout_minutes", "30", "int", "Session Timeout", "Minutes before an idle session expires", false},
		{CategoryAuth, "max_login_attempts", "5", "int", "Max Login Attempts", "Failed attempts before lockout", false},
		{CategoryAuth, "lockout_duration_minutes", "15", "int", "Lockout Duration", "Minutes an account stays locked", false},
		{CategoryAuth, "password_min_length", "12", "int", "Password Min Length", "Minimum password length", false},
		{CategoryAuth, "password_require_uppercase", "true", "bool", "Require Uppercase", "Passwords must contain an uppercase letter", false},
		{CategoryAuth, "password_require_number", "true", "bool", "Require Number", "Passwords must contain a digit", false},
		{CategoryAuth, "password_require_special", "true", "bool", "Require Special", "Passwords must contain a special character", false},

		// llm
		{CategoryLLM, "llm_provider", "ollama", "string", "Provider", "LLM provider (openai, ollama)", false},
		{CategoryLLM, "llm_model", "llama3.1:8b", "string", "Model", "Model identifier", false},
		{CategoryLLM, "llm_api_key", "", "string", "API Key", "API key for cloud LLM providers", true},
		{CategoryLLM, "llm_base_url", "http://localhost:11434", "string", "Base URL", "Provider endpoint", false},
		{CategoryLLM, "llm_temperature", "0.1", "float", "Temperature", "Sampling temperature", false},
		{CategoryLLM, "llm_max_tokens", "1024", "int", "Max Tokens", "Maximum response tokens", false},
		{CategoryLLM, "llm_timeout_seconds", "60", "int", "Request Timeout", "Seconds before an LLM call times out", false},
		{CategoryLLM, "confidence_threshold_high", "80", "float", "High Confidence Threshold", "Score at or above which confidence is high", false},
		{CategoryLLM, "confidence_threshold_medium", "60", "float", "Medium Confidence Threshold", "Score at or above which confidence is medium", false},

		// data
		{CategoryData, "max_upload_size_mb", "500", "int", "Max Upload Size", "Maximum accepted upload in MB", false},
		{CategoryData, "allowed_file_types", "sas7bdat,xpt,csv,parquet", "string", "Allowed File Types", "Accepted upload extensions", false},
		{CategoryData, "duckdb_memory_limit", "4GB", "string", "DuckDB Memory Limit", "Warehouse memory ceiling", false},
		{CategoryData, "duckdb_threads", "4", "int", "DuckDB Threads", "Warehouse thread count", false},

		// metadata
		{CategoryMetadata, "require_approval", "true", "bool", "Require Approval", "Metadata changes require reviewer approval", false},
		{CategoryMetadata, "auto_draft_enabled", "true", "bool", "Auto Draft", "Draft metadata automatically on upload", false},
		{CategoryMetadata, "approval_workflow", "single", "string", "Approval Workflow", "Workflow style (single, dual)", false},

		// dictionary
		{CategoryDictionary, "fuzzy_match_threshold", "0.85", "float", "Fuzzy Threshold", "Minimum similarity for fuzzy entity matches", false},
		{CategoryDictionary, "vector_similarity_weight", "0.6", "float", "Vector Weight", "Weight of vector similarity in combined scoring", false},
		{CategoryDictionary, "fuzzy_similarity_weight", "0.4", "float", "Fuzzy Weight", "Weight of fuzzy similarity in combined scoring", false},
		{CategoryDictionary, "embedding_model", "all-MiniLM-L6-v2", "string", "Embedding Model", "Embedding model identifier", false},

		// audit
		{CategoryAudit, "retention_days", "2555", "int", "Retention Days", "Days audit records are kept", false},
		{CategoryAudit, "log_requests", "true", "bool", "Log Requests", "Record API requests in the audit trail", false},
		{CategoryAudit, "log_queries", "true", "bool", "Log Queries", "Record query details in the audit trail", false},
		{CategoryAudit, "log_responses", "false", "bool", "Log Responses", "Record response bodies in the audit trail", false},
		{CategoryAudit, "checksum_enabled", "true", "bool", "Checksums", "Compute integrity checksums at insert", false},
		{CategoryAudit, "export_format", "csv", "string", "Export Format", "Default audit export format", false},

		// system
		{CategorySystem, "cache_enabled", "true", "bool", "Cache Enabled", "Memoise query responses", false},
		{CategorySystem, "cache_ttl_seconds", "3600", "int", "Cache TTL", "Seconds before a cached response expires", false},
		{CategorySystem, "cache_max_size", "1000", "int", "Cache Max Size", "Maximum cached responses", false},
		{CategorySystem, "query_timeout_seconds", "30", "int", "Query Timeout", "Seconds before a warehouse query is stopped", false},
		{CategorySystem, "max_concurrent_queries", "10", "int", "Max Concurrent Queries", "Parallel pipeline runs allowed", false},
		{CategorySystem, "dashboard_refresh_seconds", "30", "int", "Dashboard Refresh", "Dashboard polling interval", false},
	}
}
