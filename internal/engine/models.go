// Package engine implements the SAGE inference pipeline.
//
// The pipeline transforms one natural-language question about clinical study
// data into one answered response: sanitize -> classify intent -> extract
// entities -> resolve table -> build context -> generate SQL -> validate SQL
// -> execute -> score -> format. Each stage produces an immutable value that
// is handed read-only to the next stage; no stage mutates upstream objects.
package engine

import (
	"time"

	"github.com/rshinytools/sage/internal/warehouse"
)

// Question is the raw user input entering the pipeline.
type Question struct {
	// Text is the question exactly as received.
	Text string `json:"text"`

	// SessionID scopes caching and audit ordering. Optional.
	SessionID string `json:"session_id,omitempty"`

	// UserID identifies the requesting user.
	UserID string `json:"user_id"`

	// Username is the display name for audit records.
	Username string `json:"username"`

	// Timestamp is when the question arrived.
	Timestamp time.Time `json:"timestamp"`
}

// SanitizationResult is the verdict of the input security gate.
type SanitizationResult struct {
	// IsSafe reports whether processing may continue.
	IsSafe bool `json:"is_safe"`

	// SanitizedText is the normalized question text when safe.
	SanitizedText string `json:"sanitized_text"`

	// BlockedReason names the category that blocked the question,
	// e.g. "PHI:ssn" or "SQL:drop_table".
	BlockedReason string `json:"blocked_reason,omitempty"`

	// Detections lists every pattern that fired, not just the first.
	Detections []string `json:"detections,omitempty"`
}

// Intent is the classified purpose of a question.
type Intent string

// Intent values returned by the classifier.
const (
	IntentClinicalData Intent = "CLINICAL_DATA"
	IntentGreeting     Intent = "GREETING"
	IntentHelp         Intent = "HELP"
	IntentIdentity     Intent = "IDENTITY"
	IntentFarewell     Intent = "FAREWELL"
	IntentStatus       Intent = "STATUS"
	IntentGeneral      Intent = "GENERAL"
)

// IsClinical reports whether the intent requires the SQL pipeline.
func (i Intent) IsClinical() bool {
	return i == IntentClinicalData
}

// MatchType describes how an entity was resolved.
type MatchType string

// Match types, one per resolution strategy. The order below is not a
// priority order: the extractor tries medical synonyms first, then UK/US
// spellings, then exact dictionary matches, then fuzzy matches.
const (
	MatchExact          MatchType = "exact"
	MatchMedicalSynonym MatchType = "medical_synonym"
	MatchUKUSSpelling   MatchType = "uk_us_spelling"
	MatchFuzzy          MatchType = "fuzzy"
	MatchMedDRA         MatchType = "meddra"
)

// EntityMatch is one clinical term resolved to its canonical database value.
type EntityMatch struct {
	// OriginalTerm is the phrase found in the question.
	OriginalTerm string `json:"original_term"`

	// CanonicalTerm is the preferred dictionary value.
	CanonicalTerm string `json:"canonical_term"`

	// MatchType records which resolution strategy matched.
	MatchType MatchType `json:"match_type"`

	// Confidence is the match quality in [0, 100].
	Confidence float64 `json:"confidence"`

	// Table is the physical table the value belongs to.
	Table string `json:"table,omitempty"`

	// Column is the column holding the value.
	Column string `json:"column,omitempty"`

	// AllVariants holds every known spelling of the canonical concept.
	// When more than one exists, the generated SQL must filter with an
	// IN (...) list covering all of them.
	AllVariants []string `json:"all_variants"`
}

// TableResolution is the chosen physical table plus population filter.
type TableResolution struct {
	// SelectedTable is the physical table name, e.g. "ADAE".
	SelectedTable string `json:"selected_table"`

	// TableType is "ADaM" or "SDTM".
	TableType string `json:"table_type"`

	// Domain is the clinical domain that drove the choice.
	Domain Domain `json:"domain"`

	// Population is the study population scoping the query.
	Population Population `json:"population"`

	// PopulationName is the display name, e.g. "Safety Population".
	PopulationName string `json:"population_name"`

	// PopulationFilter is the SQL fragment, e.g. "SAFFL = 'Y'".
	// Empty for the all-enrolled population.
	PopulationFilter string `json:"population_filter"`

	// ColumnsResolved maps concept names to the chosen physical column,
	// e.g. "toxicity_grade" -> "ATOXGR".
	ColumnsResolved map[string]string `json:"columns_resolved"`

	// TableColumns is the full column list of the selected table.
	TableColumns []string `json:"table_columns"`

	// JoinTable names a sibling table planned into the query when the
	// selected table lacks required columns. Empty when no join is needed.
	JoinTable string `json:"join_table,omitempty"`

	// JoinKey is the column joining SelectedTable to JoinTable.
	JoinKey string `json:"join_key,omitempty"`

	// FallbackUsed is set when a later entry of the preference list served.
	FallbackUsed bool `json:"fallback_used"`

	// SelectionReason explains the decision for the methodology block.
	SelectionReason string `json:"selection_reason"`

	// Assumptions lists decisions the resolver made on the user's behalf.
	Assumptions []string `json:"assumptions,omitempty"`
}

// GradeColumn returns the resolved toxicity grade column, if any.
func (r *TableResolution) GradeColumn() string {
	return r.ColumnsResolved["toxicity_grade"]
}

// LLMContext is the assembled prompt package for SQL generation.
type LLMContext struct {
	// SystemPrompt carries the role, table, and hard clinical rules.
	SystemPrompt string `json:"system_prompt"`

	// SchemaContext describes the table and its key columns.
	SchemaContext string `json:"schema_context"`

	// EntityContext maps extracted entities to columns and variant lists.
	EntityContext string `json:"entity_context"`

	// ClinicalRules carries grade column, population filter and assumptions.
	ClinicalRules string `json:"clinical_rules"`

	// UserPrompt is the question prefixed with "Q:".
	UserPrompt string `json:"user_prompt"`

	// TokenEstimate approximates the total prompt size.
	TokenEstimate int `json:"token_estimate"`
}

// GeneratedSQL is one raw SQL emission from the language model.
type GeneratedSQL struct {
	// SQLText is the stripped SQL string.
	SQLText string `json:"sql_text"`

	// ModelID names the model that produced it.
	ModelID string `json:"model_id"`

	// LatencyMS is the round-trip time of the LLM call.
	LatencyMS int64 `json:"latency_ms"`

	// AttemptNumber is 1 for the first generation, incremented per
	// self-correction round.
	AttemptNumber int `json:"attempt_number"`
}

// ValidationResult is the verdict of the static SQL gate.
type ValidationResult struct {
	// IsValid reports whether the SQL may execute.
	IsValid bool `json:"is_valid"`

	// ValidatedSQL is the accepted SQL; it may differ from the input by an
	// appended LIMIT clause or by a LIMIT reduced to the configured maximum.
	ValidatedSQL string `json:"validated_sql"`

	// Errors lists the blocking findings.
	Errors []string `json:"errors,omitempty"`

	// Warnings lists non-blocking findings (join complexity, added LIMIT).
	Warnings []string `json:"warnings,omitempty"`

	// TablesVerified is the set of registry tables the SQL references.
	TablesVerified []string `json:"tables_verified,omitempty"`

	// ColumnsVerified is the set of known columns the SQL references.
	ColumnsVerified []string `json:"columns_verified,omitempty"`
}

// ConfidenceLevel buckets a confidence score.
type ConfidenceLevel string

// Confidence levels.
const (
	ConfidenceVeryLow ConfidenceLevel = "very_low"
	ConfidenceLow     ConfidenceLevel = "low"
	ConfidenceMedium  ConfidenceLevel = "medium"
	ConfidenceHigh    ConfidenceLevel = "high"
)

// ConfidenceScore is the 0-100 composite trustworthiness estimate.
type ConfidenceScore struct {
	// Score is the weighted sum of the components.
	Score float64 `json:"score"`

	// Level buckets the score: high >= 80, medium >= 60, low >= 40,
	// else very_low.
	Level ConfidenceLevel `json:"level"`

	// Components breaks the score down by weighted factor. The weights
	// recorded alongside each component sum to 1.
	Components map[string]ConfidenceComponent `json:"components"`
}

// ConfidenceComponent is one weighted factor of the confidence breakdown.
type ConfidenceComponent struct {
	// Value is the raw factor in [0, 1].
	Value float64 `json:"value"`

	// Weight is the factor's share of the total; all weights sum to 1.
	Weight float64 `json:"weight"`

	// Contribution is Value * Weight * 100.
	Contribution float64 `json:"contribution"`
}

// Methodology names the analytical choices behind an answer so a reviewer
// can judge trustworthiness.
type Methodology struct {
	TableUsed        string   `json:"table_used"`
	PopulationUsed   string   `json:"population_used"`
	PopulationFilter string   `json:"population_filter"`
	Assumptions      []string `json:"assumptions"`
}

// StageTiming records the outcome of one pipeline stage.
type StageTiming struct {
	Success bool   `json:"success"`
	TimeMS  int64  `json:"time_ms"`
	Error   string `json:"error,omitempty"`
}

// PipelineResult is the outward response for one question.
type PipelineResult struct {
	// Success reports whether an answer was produced.
	Success bool `json:"success"`

	// Query is the original question text.
	Query string `json:"query"`

	// Answer is the prose answer; it may contain markdown.
	Answer string `json:"answer"`

	// Intent is the classified intent of the question.
	Intent Intent `json:"intent"`

	// PipelineUsed is false for conversational short-circuits.
	PipelineUsed bool `json:"pipeline_used"`

	// CacheHit is set when the response was served from the cache.
	CacheHit bool `json:"cache_hit"`

	// SQL is the validated SQL that produced the answer. Empty for
	// conversational responses and failures before generation.
	SQL string `json:"sql,omitempty"`

	// Data is the tabular result. Nil for conversational responses.
	Data *warehouse.Result `json:"data,omitempty"`

	// RowCount is the number of returned rows.
	RowCount int `json:"row_count"`

	// Confidence is the composite trustworthiness estimate.
	Confidence ConfidenceScore `json:"confidence"`

	// Methodology names the table, population and assumptions. Nil for
	// conversational responses.
	Methodology *Methodology `json:"methodology,omitempty"`

	// Warnings carries validator and scorer warnings.
	Warnings []string `json:"warnings,omitempty"`

	// PipelineStages records per-stage timing and outcome.
	PipelineStages map[string]StageTiming `json:"pipeline_stages"`

	// Error is the taxonomy tag of the failure, empty on success.
	Error string `json:"error,omitempty"`

	// ErrorStage names the first stage that failed, empty on success.
	ErrorStage string `json:"error_stage,omitempty"`

	// TotalTimeMS is the wall-clock time for the whole pipeline.
	TotalTimeMS int64 `json:"total_time_ms"`
}

// Pipeline stage names as recorded in PipelineStages and ErrorStage.
const (
	StageSanitization   = "sanitization"
	StageIntent         = "intent_classification"
	StageEntities       = "entity_extraction"
	StageResolution     = "table_resolution"
	StageContext        = "context_build"
	StageGeneration     = "sql_generation"
	StageValidation     = "sql_validation"
	StageExecution      = "execution"
	StageScoring        = "scoring"
	StageFormatting     = "formatting"
	StageCancelledLabel = "cancelled"
)
