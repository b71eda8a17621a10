// Package engine tests the prompt context builder.
package engine

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func adaeResolution() *TableResolution {
	return &TableResolution{
		SelectedTable:    "ADAE",
		TableType:        "ADaM",
		Domain:           DomainAdverseEvents,
		Population:       PopulationSafety,
		PopulationName:   "Safety Population",
		PopulationFilter: "SAFFL = 'Y'",
		ColumnsResolved:  map[string]string{"toxicity_grade": "ATOXGR", "event_term": "AEDECOD"},
		TableColumns:     []string{"USUBJID", "AEDECOD", "ATOXGR", "SAFFL", "AESER", "AEOUT", "AESEV", "TRTEMFL"},
		SelectionReason:  "Using ADAE (preferred)",
		Assumptions:      []string{"Defaulting to the Safety Population for adverse_events queries"},
	}
}

func anaemiaEntities() []EntityMatch {
	return []EntityMatch{
		{
			OriginalTerm:  "anaemia",
			CanonicalTerm: "ANAEMIA",
			MatchType:     MatchUKUSSpelling,
			Confidence:    95,
			Table:         "ADAE",
			Column:        "AEDECOD",
			AllVariants:   []string{"ANAEMIA", "ANEMIA"},
		},
	}
}

func TestContextBuilder_FitsTokenBudget(t *testing.T) {
	builder := NewContextBuilder(ContextBuilderConfig{})

	llmCtx, err := builder.Build("How many patients had anaemia?", adaeResolution(), anaemiaEntities())
	require.NoError(t, err)
	assert.Less(t, llmCtx.TokenEstimate, 1500)
}

func TestContextBuilder_SystemPromptNamesTable(t *testing.T) {
	builder := NewContextBuilder(ContextBuilderConfig{})

	llmCtx, err := builder.Build("How many patients?", adaeResolution(), nil)
	require.NoError(t, err)
	assert.Contains(t, llmCtx.SystemPrompt, "ADAE")
	assert.Contains(t, strings.ToLower(llmCtx.SystemPrompt), "select")
	assert.Contains(t, llmCtx.SystemPrompt, "SAFFL = 'Y'")
	assert.Contains(t, llmCtx.SystemPrompt, "AEOUT = 'FATAL'")
}

func TestContextBuilder_SchemaContextListsKeyColumns(t *testing.T) {
	builder := NewContextBuilder(ContextBuilderConfig{})

	llmCtx, err := builder.Build("How many patients?", adaeResolution(), nil)
	require.NoError(t, err)
	assert.Contains(t, llmCtx.SchemaContext, "USUBJID")
	assert.Contains(t, llmCtx.SchemaContext, "AEDECOD")
	assert.NotContains(t, llmCtx.SchemaContext, "| Column | Description |")
}

func TestContextBuilder_SchemaColumnCap(t *testing.T) {
	builder := NewContextBuilder(ContextBuilderConfig{})

	resolution := adaeResolution()
	for i := 0; i < 40; i++ {
		resolution.TableColumns = append(resolution.TableColumns, strings.Repeat("X", 4)+string(rune('A'+i%26)))
	}

	llmCtx, err := builder.Build("How many patients?", resolution, nil)
	require.NoError(t, err)

	lines := 0
	for _, line := range strings.Split(llmCtx.SchemaContext, "\n") {
		if strings.HasPrefix(line, "- ") {
			lines++
		}
	}
	assert.LessOrEqual(t, lines, maxSchemaColumns+1)
}

func TestContextBuilder_EntityContextCarriesAllVariants(t *testing.T) {
	builder := NewContextBuilder(ContextBuilderConfig{})

	llmCtx, err := builder.Build("Count cases of anaemia", adaeResolution(), anaemiaEntities())
	require.NoError(t, err)
	assert.Contains(t, llmCtx.EntityContext, "USE:")
	assert.Contains(t, llmCtx.EntityContext, "AEDECOD")
	assert.Contains(t, llmCtx.EntityContext, "'ANAEMIA'")
	assert.Contains(t, llmCtx.EntityContext, "'ANEMIA'")
}

func TestContextBuilder_EmptyEntitiesEmptyContext(t *testing.T) {
	builder := NewContextBuilder(ContextBuilderConfig{})

	llmCtx, err := builder.Build("How many patients?", adaeResolution(), nil)
	require.NoError(t, err)
	assert.Empty(t, llmCtx.EntityContext)
}

func TestContextBuilder_UserPromptFormat(t *testing.T) {
	builder := NewContextBuilder(ContextBuilderConfig{})

	llmCtx, err := builder.Build("How many patients had anaemia?", adaeResolution(), nil)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(llmCtx.UserPrompt, "Q:"))
}

func TestContextBuilder_ClinicalRulesCarryGradeAndAssumptions(t *testing.T) {
	builder := NewContextBuilder(ContextBuilderConfig{})

	llmCtx, err := builder.Build("Show grade 3 events", adaeResolution(), nil)
	require.NoError(t, err)
	assert.Contains(t, llmCtx.ClinicalRules, "ATOXGR")
	assert.Contains(t, llmCtx.ClinicalRules, "SAFFL = 'Y'")
	assert.Contains(t, llmCtx.ClinicalRules, "Note:")
}

func TestContextBuilder_BudgetTruncatesSchemaFirst(t *testing.T) {
	builder := NewContextBuilder(ContextBuilderConfig{TokenBudget: 120})

	unbounded, err := NewContextBuilder(ContextBuilderConfig{}).Build(
		"How many patients had anaemia?", adaeResolution(), anaemiaEntities())
	require.NoError(t, err)

	llmCtx, err := builder.Build("How many patients had anaemia?", adaeResolution(), anaemiaEntities())
	require.NoError(t, err)

	assert.Less(t, len(llmCtx.SchemaContext), len(unbounded.SchemaContext))
	assert.Less(t, llmCtx.TokenEstimate, unbounded.TokenEstimate)
	// User prompt and system prompt survive intact.
	assert.Equal(t, unbounded.UserPrompt, llmCtx.UserPrompt)
	assert.Equal(t, unbounded.SystemPrompt, llmCtx.SystemPrompt)
}

func TestContextBuilder_NilResolutionFails(t *testing.T) {
	builder := NewContextBuilder(ContextBuilderConfig{})

	_, err := builder.Build("How many?", nil, nil)
	require.Error(t, err)
}

func TestCorrectionPrompt_EmbedsSQLAndError(t *testing.T) {
	builder := NewContextBuilder(ContextBuilderConfig{})

	prompt := builder.CorrectionPrompt(
		"How many patients?",
		"SELECT COUNT(*) FROM ADAE WHERE BAD_COL = 1",
		"unknown column BAD_COL",
	)
	assert.Contains(t, prompt, "BAD_COL")
	assert.Contains(t, prompt, "unknown column")
	assert.Contains(t, prompt, "How many patients?")
}
