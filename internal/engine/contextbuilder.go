// Package engine implements the SAGE inference pipeline.
// This file assembles the token-budgeted prompt that constrains the model to
// produce valid DuckDB SQL against exactly the chosen table.
package engine

import (
	"fmt"
	"strings"
)

// columnDescriptions documents the domain-critical columns surfaced in the
// schema context. Everything else is listed by name only.
var columnDescriptions = map[string]string{
	"USUBJID": "unique subject identifier",
	"AEDECOD": "adverse event dictionary-derived term (MedDRA preferred term)",
	"AETERM":  "adverse event reported term",
	"ATOXGR":  "analysis toxicity grade",
	"AETOXGR": "collected toxicity grade",
	"AESEV":   "severity (MILD/MODERATE/SEVERE)",
	"AESER":   "serious event flag (Y/N)",
	"AEOUT":   "event outcome (RECOVERED/RECOVERING/NOT RECOVERED/FATAL)",
	"SAFFL":   "safety population flag (Y/N)",
	"ITTFL":   "intent-to-treat population flag (Y/N)",
	"EFFFL":   "efficacy population flag (Y/N)",
	"TRTEMFL": "treatment-emergent flag (Y/N)",
	"PARAMCD": "parameter code",
	"PARAM":   "parameter name",
	"AVAL":    "analysis value",
	"AGE":     "age at baseline",
	"SEX":     "sex (M/F)",
	"RACE":    "race",
	"TRT01A":  "actual treatment arm",
	"TRT01P":  "planned treatment arm",
}

// maxSchemaColumns bounds the columns listed in the schema context.
const maxSchemaColumns = 20

// ContextBuilder assembles the LLM prompt package.
type ContextBuilder struct {
	tokenBudget int
}

// ContextBuilderConfig holds configuration for the builder.
type ContextBuilderConfig struct {
	// TokenBudget bounds the assembled prompt. Default 1500.
	TokenBudget int
}

// NewContextBuilder creates a context builder.
func NewContextBuilder(cfg ContextBuilderConfig) *ContextBuilder {
	if cfg.TokenBudget == 0 {
		cfg.TokenBudget = 1500
	}
	return &ContextBuilder{tokenBudget: cfg.TokenBudget}
}

// Build assembles the prompt for one question. The result fits the token
// budget: on overflow the schema context is truncated first, then the entity
// context; the system prompt and user prompt are never cut.
func (b *ContextBuilder) Build(question string, resolution *TableResolution, entities []EntityMatch) (*LLMContext, error) {
	if resolution == nil || resolution.SelectedTable == "" {
		return nil, NewStageError(KindPromptBuild, StageContext, "no table resolution to build context from")
	}

	llmCtx := &LLMContext{
		SystemPrompt:  b.buildSystemPrompt(resolution),
		SchemaContext: b.buildSchemaContext(resolution),
		EntityContext: b.buildEntityContext(entities),
		ClinicalRules: b.buildClinicalRules(resolution),
		UserPrompt:    "Q: " + question,
	}

	llmCtx.TokenEstimate = estimateTokens(llmCtx)

	// Enforce the budget by trimming the schema context first, then the
	// entity context.
	if llmCtx.TokenEstimate > b.tokenBudget {
		llmCtx.SchemaContext = truncateToTokens(llmCtx.SchemaContext,
			b.tokenBudget-estimateTokensExcept(llmCtx, "schema"))
		llmCtx.TokenEstimate = estimateTokens(llmCtx)
	}
	if llmCtx.TokenEstimate > b.tokenBudget {
		llmCtx.EntityContext = truncateToTokens(llmCtx.EntityContext,
			b.tokenBudget-estimateTokensExcept(llmCtx, "entity"))
		llmCtx.TokenEstimate = estimateTokens(llmCtx)
	}

	return llmCtx, nil
}

// CorrectionPrompt builds the retry sub-prompt fed back to the model after a
// validator rejection or executor error.
func (b *ContextBuilder) CorrectionPrompt(question, previousSQL, errorText string) string {
	var sb strings.Builder
	sb.WriteString("Q: ")
	sb.WriteString(question)
	sb.WriteString("\n\nYour previous SQL failed:\n")
	sb.WriteString(previousSQL)
	sb.WriteString("\n\nError: ")
	sb.WriteString(errorText)
	sb.WriteString("\n\nEmit the corrected SELECT statement only.")
	return sb.String()
}

// buildSystemPrompt writes the role, the chosen table and the short hard rules.
func (b *ContextBuilder) buildSystemPrompt(resolution *TableResolution) string {
	var sb strings.Builder
	sb.WriteString("Generate one DuckDB-dialect SELECT statement against the table ")
	sb.WriteString(resolution.SelectedTable)
	sb.WriteString(". Output SQL only, no prose, no code fences.\n")

	if resolution.PopulationFilter != "" {
		fmt.Fprintf(&sb, "Always filter on %s (%s).\n",
			resolution.PopulationFilter, resolution.PopulationName)
	}
	if resolution.JoinTable != "" {
		fmt.Fprintf(&sb, "Join %s to %s on %s when subject-level columns are needed.\n",
			resolution.SelectedTable, resolution.JoinTable, resolution.JoinKey)
	}

	sb.WriteString("Rules: AEOUT is event outcome, AESEV is severity, AESER is seriousness; never confuse them. ")
	sb.WriteString("Fatal outcome means AEOUT = 'FATAL', not a subject death flag. ")
	sb.WriteString("Count distinct subjects with COUNT(DISTINCT USUBJID).")
	return sb.String()
}

// buildSchemaContext lists the table's key columns with brief descriptions,
// capped to bound tokens. Described columns come first.
func (b *ContextBuilder) buildSchemaContext(resolution *TableResolution) string {
	described := make([]string, 0, len(resolution.TableColumns))
	bare := make([]string, 0, len(resolution.TableColumns))
	for _, col := range resolution.TableColumns {
		if desc, ok := columnDescriptions[strings.ToUpper(col)]; ok {
			described = append(described, fmt.Sprintf("%s: %s", strings.ToUpper(col), desc))
		} else {
			bare = append(bare, strings.ToUpper(col))
		}
	}

	var lines []string
	lines = append(lines, "Table "+resolution.SelectedTable+" columns:")
	count := 0
	for _, line := range described {
		if count >= maxSchemaColumns {
			break
		}
		lines = append(lines, "- "+line)
		count++
	}
	if count < maxSchemaColumns && len(bare) > 0 {
		remaining := maxSchemaColumns - count
		if remaining > len(bare) {
			remaining = len(bare)
		}
		lines = append(lines, "- other: "+strings.Join(bare[:remaining], ", "))
	}
	return strings.Join(lines, "\n")
}

// buildEntityContext maps each extracted entity to its column and variant
// list so the model filters with the full IN (...) set.
func (b *ContextBuilder) buildEntityContext(entities []EntityMatch) string {
	if len(entities) == 0 {
		return ""
	}

	var lines []string
	for _, entity := range entities {
		quoted := make([]string, len(entity.AllVariants))
		for i, v := range entity.AllVariants {
			quoted[i] = "'" + strings.ReplaceAll(v, "'", "''") + "'"
		}
		lines = append(lines, fmt.Sprintf("USE: %s IN (%s) for \"%s\"",
			entity.Column, strings.Join(quoted, ","), entity.OriginalTerm))
	}
	return strings.Join(lines, "\n")
}

// buildClinicalRules writes the grade column, filter and recorded assumptions.
func (b *ContextBuilder) buildClinicalRules(resolution *TableResolution) string {
	var lines []string
	if grade := resolution.GradeColumn(); grade != "" {
		lines = append(lines, "Toxicity grade column: "+grade)
	}
	if resolution.PopulationFilter != "" {
		lines = append(lines, "Population filter: "+resolution.PopulationFilter)
	}
	for _, assumption := range resolution.Assumptions {
		lines = append(lines, "Note: "+assumption)
	}
	return strings.Join(lines, "\n")
}

// estimateTokens approximates tokens as ceil(chars / 4).
func estimateTokens(llmCtx *LLMContext) int {
	chars := len(llmCtx.SystemPrompt) + len(llmCtx.SchemaContext) +
		len(llmCtx.EntityContext) + len(llmCtx.ClinicalRules) + len(llmCtx.UserPrompt)
	return (chars + 3) / 4
}

// estimateTokensExcept estimates tokens of everything but one section.
func estimateTokensExcept(llmCtx *LLMContext, section string) int {
	chars := len(llmCtx.SystemPrompt) + len(llmCtx.ClinicalRules) + len(llmCtx.UserPrompt)
	switch section {
	case "schema":
		chars += len(llmCtx.EntityContext)
	case "entity":
		chars += len(llmCtx.SchemaContext)
	}
	return (chars + 3) / 4
}

// truncateToTokens cuts text to fit a token allowance, never below zero.
func truncateToTokens(text string, tokens int) string {
	if tokens <= 0 {
		return ""
	}
	maxChars := tokens * 4
	if len(text) <= maxChars {
		return text
	}
	return text[:maxChars]
}

// Prompt renders the full generation prompt: schema, entities and rules
// joined beneath the user question.
func (c *LLMContext) Prompt() string {
	sections := make([]string, 0, 4)
	if c.SchemaContext != "" {
		sections = append(sections, c.SchemaContext)
	}
	if c.EntityContext != "" {
		sections = append(sections, c.EntityContext)
	}
	if c.ClinicalRules != "" {
		sections = append(sections, c.ClinicalRules)
	}
	sections = append(sections, c.UserPrompt)
	return strings.Join(sections, "\n\n")
}
