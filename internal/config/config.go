// Package config provides environment configuration loading for the SAGE services.
//
// Configuration is loaded from environment variables with sensible defaults for
// development. Every subsystem (LLM provider, DuckDB warehouse, audit store,
// query cache, NATS events, HTTP server) is configured through this package.
//
// Usage:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal("Failed to load configuration:", err)
//	}
//
// Environment variables can be set directly or loaded from a .env file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment represents the application environment.
type Environment string

const (
	// EnvDevelopment indicates a development environment.
	EnvDevelopment Environment = "development"
	// EnvStaging indicates a staging environment.
	EnvStaging Environment = "staging"
	// EnvProduction indicates a production environment.
	EnvProduction Environment = "production"
)

// SensitiveMask replaces sensitive values whenever configuration or settings
// are rendered outward.
const SensitiveMask = "********"

// Config holds all application configuration.
type Config struct {
	// Application settings
	App AppConfig

	// Auth holds token verification and session policy.
	Auth AuthConfig

	// LLM provider configuration
	LLM LLMConfig

	// Data warehouse (DuckDB) configuration
	Data DataConfig

	// Dictionary / entity matching configuration
	Dictionary DictionaryConfig

	// Audit trail configuration
	Audit AuditConfig

	// System (pipeline, cache, timeouts) configuration
	System SystemConfig

	// Events (NATS) configuration
	Events EventsConfig

	// Server configuration
	Server ServerConfig
}

// AppConfig holds general application settings.
type AppConfig struct {
	// Environment is the application environment (development, staging, production).
	Environment Environment

	// SiteName is the display name reported by the API.
	SiteName string

	// LogLevel is the logging level (debug, info, warn, error).
	LogLevel string

	// LogFormat is the log output format (json, text).
	LogFormat string

	// Timezone is the application timezone.
	Timezone string

	// MaintenanceMode rejects query traffic when set.
	MaintenanceMode bool
}

// AuthConfig holds bearer-token verification settings. Token minting is done
// by an external identity service; this service only verifies.
type AuthConfig struct {
	// JWTSecret is the HMAC secret used to verify bearer tokens.
	JWTSecret string

	// SessionTimeout is the configured session timeout. The auth middleware
	// does not read it.
	SessionTimeout time.Duration

	// MaxLoginAttempts is the configured failed-attempt threshold. No code
	// path in this service reads it.
	MaxLoginAttempts int

	// LockoutDuration is the account lockout duration after repeated failures.
	LockoutDuration time.Duration
}

// LLMConfig holds LLM provider settings.
type LLMConfig struct {
	// Provider is the LLM provider (openai, ollama).
	Provider string

	// Model is the model identifier to use.
	Model string

	// APIKey is the API key for cloud providers. Sensitive.
	APIKey string

	// BaseURL is the base URL for the provider API.
	BaseURL string

	// Temperature is the sampling temperature.
	Temperature float64

	// MaxTokens is the maximum tokens for responses.
	MaxTokens int

	// Timeout is the per-request timeout. Bounded to [30s, 300s].
	Timeout time.Duration

	// ConfidenceHighThreshold is the score at or above which confidence is "high".
	ConfidenceHighThreshold float64

	// ConfidenceMediumThreshold is the score at or above which confidence is "medium".
	ConfidenceMediumThreshold float64
}

// DataConfig holds DuckDB warehouse settings.
type DataConfig struct {
	// Path is the DuckDB database file path (empty for in-memory).
	Path string

	// MemoryLimit is the DuckDB memory ceiling (e.g. "4GB").
	MemoryLimit string

	// Threads is the DuckDB thread count.
	Threads int

	// MaxUploadSizeMB is the configured upload size bound. This service has
	// no upload endpoint and does not enforce it.
	MaxUploadSizeMB int

	// AllowedFileTypes lists accepted upload extensions.
	AllowedFileTypes []string
}

// DictionaryConfig holds entity-matching settings.
type DictionaryConfig struct {
	// FuzzyThreshold is the minimum similarity for a fuzzy entity match (0-1).
	FuzzyThreshold float64

	// FuzzyWeight is the weight of fuzzy similarity in combined scoring.
	FuzzyWeight float64

	// VectorWeight is the weight of vector similarity in combined scoring.
	VectorWeight float64
}

// AuditConfig holds audit trail settings.
type AuditConfig struct {
	// Path is the SQLite database file path for the audit store.
	Path string

	// SecretKey keys the HMAC for electronic signatures. Sensitive.
	SecretKey string

	// RetentionDays is how long records are retained.
	RetentionDays int

	// LogRequests enables request auditing middleware.
	LogRequests bool

	// LogQueries enables per-query detail records.
	LogQueries bool

	// ChecksumEnabled is the configured checksum flag. It is only logged; the
	// audit store computes a checksum for every record regardless.
	ChecksumEnabled bool

	// ExcludedPaths are request path prefixes never audited.
	ExcludedPaths []string
}

// SystemConfig holds pipeline and cache settings.
type SystemConfig struct {
	// CacheEnabled toggles the query-response cache.
	CacheEnabled bool

	// CacheTTL is the default cache entry TTL.
	CacheTTL time.Duration

	// CacheMaxSize is the maximum number of cached responses.
	CacheMaxSize int

	// QueryTimeout bounds a single warehouse execution.
	QueryTimeout time.Duration

	// PipelineTimeout bounds one whole question, including one correction round.
	PipelineTimeout time.Duration

	// MaxCorrectionAttempts bounds the self-correction loop.
	MaxCorrectionAttempts int

	// MaxConcurrentQueries is the configured bound on parallel pipeline
	// runs. It is loaded but not enforced; pipeline runs are not limited by it.
	MaxConcurrentQueries int

	// MaxQuestionLength bounds accepted question text.
	MaxQuestionLength int

	// SQLRowLimit is the LIMIT appended to unbounded SELECTs.
	SQLRowLimit int

	// MaxJoins is the join count above which the validator warns.
	MaxJoins int

	// PromptTokenBudget bounds the assembled LLM context.
	PromptTokenBudget int

	// RulesPath optionally points at a YAML clinical-rules file overriding
	// the compiled-in table registry and population map.
	RulesPath string
}

// EventsConfig holds NATS settings for query lifecycle events.
type EventsConfig struct {
	// Enabled toggles event publishing.
	Enabled bool

	// URL is the NATS server URL.
	URL string

	// Name is the client connection name.
	Name string

	// MaxReconnects is the maximum reconnection attempts.
	MaxReconnects int

	// ReconnectWait is the wait duration between reconnection attempts.
	ReconnectWait time.Duration
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Port is the server port.
	Port int

	// Host is the server host.
	Host string

	// ReadTimeout is the read timeout.
	ReadTimeout time.Duration

	// WriteTimeout is the write timeout.
	WriteTimeout time.Duration

	// ShutdownTimeout is the graceful shutdown timeout.
	ShutdownTimeout time.Duration

	// RateLimitPerMinute bounds requests per user per minute.
	RateLimitPerMinute int
}

// Load reads configuration from environment variables and returns a Config struct.
// It applies sensible defaults for development and validates required fields.
func Load() (*Config, error) {
	cfg := &Config{
		App:        loadAppConfig(),
		Auth:       loadAuthConfig(),
		LLM:        loadLLMConfig(),
		Data:       loadDataConfig(),
		Dictionary: loadDictionaryConfig(),
		Audit:      loadAuditConfig(),
		System:     loadSystemConfig(),
		Events:     loadEventsConfig(),
		Server:     loadServerConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration and panics on error.
// Use this for application startup where configuration is required.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks that all required configuration values are present and valid.
func (c *Config) Validate() error {
	var errs []error

	if c.LLM.Provider == "" {
		errs = append(errs, errors.New("llm: provider must be set"))
	}
	if c.LLM.Model == "" {
		errs = append(errs, errors.New("llm: model must be set"))
	}
	if c.LLM.Timeout < 30*time.Second || c.LLM.Timeout > 300*time.Second {
		errs = append(errs, errors.New("llm: timeout must be between 30s and 300s"))
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errs = append(errs, errors.New("llm: temperature must be between 0 and 2"))
	}

	if c.System.MaxCorrectionAttempts < 1 || c.System.MaxCorrectionAttempts > 3 {
		errs = append(errs, errors.New("system: max correction attempts must be between 1 and 3"))
	}
	if c.System.QueryTimeout < time.Second {
		errs = append(errs, errors.New("system: query timeout must be at least 1 second"))
	}
	if c.System.PipelineTimeout <= c.System.QueryTimeout {
		errs = append(errs, errors.New("system: pipeline timeout must exceed the query timeout"))
	}
	if c.System.CacheMaxSize < 1 {
		errs = append(errs, errors.New("system: cache max size must be at least 1"))
	}
	if c.System.SQLRowLimit < 1 {
		errs = append(errs, errors.New("system: sql row limit must be at least 1"))
	}

	if c.Dictionary.FuzzyThreshold < 0 || c.Dictionary.FuzzyThreshold > 1 {
		errs = append(errs, errors.New("dictionary: fuzzy threshold must be between 0 and 1"))
	}

	if c.Audit.Path == "" {
		errs = append(errs, errors.New("audit: store path must be set"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// ValidateForProduction performs stricter validation for production environments.
func (c *Config) ValidateForProduction() error {
	if err := c.Validate(); err != nil {
		return err
	}

	var errs []error

	if c.App.Environment != EnvProduction {
		errs = append(errs, errors.New("app: environment must be 'production' for production deployment"))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth: JWT secret must be set in production"))
	}
	if c.Audit.SecretKey == "" {
		errs = append(errs, errors.New("audit: signature secret must be set in production"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// IsProduction returns true if running in production environment.
func (c *Config) IsProduction() bool {
	return c.App.Environment == EnvProduction
}

// IsDevelopment returns true if running in development environment.
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == EnvDevelopment
}

// LogConfig logs the current configuration (with sensitive values masked).
func (c *Config) LogConfig(logger *slog.Logger) {
	logger.Info("Configuration loaded",
		slog.Group("app",
			slog.String("environment", string(c.App.Environment)),
			slog.String("site_name", c.App.SiteName),
			slog.String("log_level", c.App.LogLevel),
			slog.String("timezone", c.App.Timezone),
			slog.Bool("maintenance_mode", c.App.MaintenanceMode),
		),
		slog.Group("llm",
			slog.String("provider", c.LLM.Provider),
			slog.String("model", c.LLM.Model),
			slog.Bool("api_key_set", c.LLM.APIKey != ""),
			slog.String("base_url", c.LLM.BaseURL),
			slog.Duration("timeout", c.LLM.Timeout),
		),
		slog.Group("data",
			slog.String("path", c.Data.Path),
			slog.String("memory_limit", c.Data.MemoryLimit),
			slog.Int("threads", c.Data.Threads),
		),
		slog.Group("audit",
			slog.String("path", c.Audit.Path),
			slog.Int("retention_days", c.Audit.RetentionDays),
			slog.Bool("checksum_enabled", c.Audit.ChecksumEnabled),
		),
		slog.Group("system",
			slog.Bool("cache_enabled", c.System.CacheEnabled),
			slog.Duration("cache_ttl", c.System.CacheTTL),
			slog.Int("cache_max_size", c.System.CacheMaxSize),
			slog.Duration("query_timeout", c.System.QueryTimeout),
			slog.Int("max_correction_attempts", c.System.MaxCorrectionAttempts),
		),
		slog.Group("events",
			slog.Bool("enabled", c.Events.Enabled),
			slog.String("url", c.Events.URL),
		),
		slog.Group("server",
			slog.String("host", c.Server.Host),
			slog.Int("port", c.Server.Port),
		),
	)
}

// loadAppConfig loads application settings from environment variables.
func loadAppConfig() AppConfig {
	return AppConfig{
		Environment:     parseEnvironment(getEnv("APP_ENV", "development")),
		SiteName:        getEnv("SITE_NAME", "SAGE Clinical Analytics"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogFormat:       getEnv("LOG_FORMAT", "json"),
		Timezone:        getEnv("TIMEZONE", "UTC"),
		MaintenanceMode: getEnvBool("MAINTENANCE_MODE", false),
	}
}

// loadAuthConfig loads auth settings from environment variables.
func loadAuthConfig() AuthConfig {
	return AuthConfig{
		JWTSecret:        getEnv("JWT_SECRET", ""),
		SessionTimeout:   getEnvDuration("SESSION_TIMEOUT", 30*time.Minute),
		MaxLoginAttempts: getEnvInt("MAX_LOGIN_ATTEMPTS", 5),
		LockoutDuration:  getEnvDuration("LOCKOUT_DURATION", 15*time.Minute),
	}
}

// loadLLMConfig loads LLM provider settings from environment variables.
func loadLLMConfig() LLMConfig {
	return LLMConfig{
		Provider:                  getEnv("LLM_PROVIDER", "ollama"),
		Model:                     getEnv("LLM_MODEL", "llama3.1:8b"),
		APIKey:                    getEnv("LLM_API_KEY", ""),
		BaseURL:                   getEnv("LLM_BASE_URL", "http://localhost:11434"),
		Temperature:               getEnvFloat("LLM_TEMPERATURE", 0.1),
		MaxTokens:                 getEnvInt("LLM_MAX_TOKENS", 1024),
		Timeout:                   getEnvDuration("LLM_TIMEOUT", 60*time.Second),
		ConfidenceHighThreshold:   getEnvFloat("CONFIDENCE_THRESHOLD_HIGH", 80),
		ConfidenceMediumThreshold: getEnvFloat("CONFIDENCE_THRESHOLD_MEDIUM", 60),
	}
}

// loadDataConfig loads warehouse settings from environment variables.
func loadDataConfig() DataConfig {
	return DataConfig{
		Path:             getEnv("DUCKDB_PATH", "data/study.duckdb"),
		MemoryLimit:      getEnv("DUCKDB_MEMORY_LIMIT", "4GB"),
		Threads:          getEnvInt("DUCKDB_THREADS", 4),
		MaxUploadSizeMB:  getEnvInt("MAX_UPLOAD_SIZE_MB", 500),
		AllowedFileTypes: splitList(getEnv("ALLOWED_FILE_TYPES", "sas7bdat,xpt,csv,parquet")),
	}
}

// loadDictionaryConfig loads entity-matching settings from environment variables.
func loadDictionaryConfig() DictionaryConfig {
	return DictionaryConfig{
		FuzzyThreshold: getEnvFloat("FUZZY_MATCH_THRESHOLD", 0.85),
		FuzzyWeight:    getEnvFloat("FUZZY_SIMILARITY_WEIGHT", 0.4),
		VectorWeight:   getEnvFloat("VECTOR_SIMILARITY_WEIGHT", 0.6),
	}
}

// loadAuditConfig loads audit settings from environment variables.
func loadAuditConfig() AuditConfig {
	return AuditConfig{
		Path:            getEnv("AUDIT_DB_PATH", "data/audit.db"),
		SecretKey:       getEnv("AUDIT_SECRET_KEY", "sage-audit-dev-secret"),
		RetentionDays:   getEnvInt("AUDIT_RETENTION_DAYS", 2555),
		LogRequests:     getEnvBool("AUDIT_LOG_REQUESTS", true),
		LogQueries:      getEnvBool("AUDIT_LOG_QUERIES", true),
		ChecksumEnabled: getEnvBool("AUDIT_CHECKSUM_ENABLED", true),
		ExcludedPaths:   splitList(getEnv("AUDIT_EXCLUDED_PATHS", "/health,/docs,/audit,/static")),
	}
}

// loadSystemConfig loads pipeline and cache settings from environment variables.
func loadSystemConfig() SystemConfig {
	return SystemConfig{
		CacheEnabled:          getEnvBool("CACHE_ENABLED", true),
		CacheTTL:              getEnvDuration("CACHE_TTL", time.Hour),
		CacheMaxSize:          getEnvInt("CACHE_MAX_SIZE", 1000),
		QueryTimeout:          getEnvDuration("QUERY_TIMEOUT", 30*time.Second),
		PipelineTimeout:       getEnvDuration("PIPELINE_TIMEOUT", 180*time.Second),
		MaxCorrectionAttempts: getEnvInt("MAX_CORRECTION_ATTEMPTS", 2),
		MaxConcurrentQueries:  getEnvInt("MAX_CONCURRENT_QUERIES", 10),
		MaxQuestionLength:     getEnvInt("MAX_QUESTION_LENGTH", 2000),
		SQLRowLimit:           getEnvInt("SQL_ROW_LIMIT", 10000),
		MaxJoins:              getEnvInt("SQL_MAX_JOINS", 3),
		PromptTokenBudget:     getEnvInt("PROMPT_TOKEN_BUDGET", 1500),
		RulesPath:             getEnv("CLINICAL_RULES_PATH", ""),
	}
}

// loadEventsConfig loads NATS settings from environment variables.
func loadEventsConfig() EventsConfig {
	return EventsConfig{
		Enabled:       getEnvBool("EVENTS_ENABLED", false),
		URL:           getEnv("NATS_URL", "nats://localhost:4222"),
		Name:          getEnv("NATS_CLIENT_NAME", "sage-api"),
		MaxReconnects: getEnvInt("NATS_MAX_RECONNECTS", 10),
		ReconnectWait: getEnvDuration("NATS_RECONNECT_WAIT", 2*time.Second),
	}
}

// loadServerConfig loads HTTP server settings from environment variables.
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Port:               getEnvInt("API_PORT", 8080),
		Host:               getEnv("API_HOST", "0.0.0.0"),
		ReadTimeout:        getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:       getEnvDuration("SERVER_WRITE_TIMEOUT", 240*time.Second),
		ShutdownTimeout:    getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 60),
	}
}

// parseEnvironment converts a string to Environment type.
func parseEnvironment(env string) Environment {
	switch strings.ToLower(env) {
	case "production", "prod":
		return EnvProduction
	case "staging", "stage":
		return EnvStaging
	default:
		return EnvDevelopment
	}
}

// splitList parses a comma-separated environment value into a slice.
func splitList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an environment variable as an integer or returns a default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves an environment variable as a float or returns a default value.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvBool retrieves an environment variable as a boolean or returns a default value.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvDuration retrieves an environment variable as a duration or returns a default value.
// Supports Go duration strings (e.g., "5m", "1h30m", "300s").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
