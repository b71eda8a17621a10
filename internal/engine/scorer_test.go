// Package engine tests the confidence scorer.
package engine

import (
	"testing"

	"github.com/rshinytools/sage/internal/warehouse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scoredInput() ScoreInput {
	return ScoreInput{
		Entities: []EntityMatch{
			{CanonicalTerm: "ANAEMIA", MatchType: MatchUKUSSpelling, Confidence: 95},
		},
		Validation: &ValidationResult{
			IsValid:         true,
			ColumnsVerified: []string{"USUBJID", "AEDECOD", "SAFFL"},
		},
		Execution: &warehouse.Result{
			Columns:  []string{"N"},
			Rows:     [][]any{{int64(42)}},
			RowCount: 1,
		},
		ExecutionSucceeded: true,
	}
}

func TestConfidenceScorer_WeightsSumToOne(t *testing.T) {
	scorer := NewConfidenceScorer(ConfidenceScorerConfig{})

	score := scorer.Score(scoredInput())
	totalWeight := 0.0
	for _, c := range score.Components {
		totalWeight += c.Weight
	}
	assert.InDelta(t, 1.0, totalWeight, 1e-9)
}

func TestConfidenceScorer_ScoreEqualsWeightedSum(t *testing.T) {
	scorer := NewConfidenceScorer(ConfidenceScorerConfig{})

	score := scorer.Score(scoredInput())
	sum := 0.0
	for _, c := range score.Components {
		assert.InDelta(t, c.Value*c.Weight*100, c.Contribution, 1e-9)
		sum += c.Contribution
	}
	assert.InDelta(t, sum, score.Score, 1e-9)
}

func TestConfidenceScorer_HighForCleanRun(t *testing.T) {
	scorer := NewConfidenceScorer(ConfidenceScorerConfig{})

	score := scorer.Score(scoredInput())
	assert.GreaterOrEqual(t, score.Score, 80.0)
	assert.Equal(t, ConfidenceHigh, score.Level)
}

func TestConfidenceScorer_ExecutionFailureZeroesComponent(t *testing.T) {
	scorer := NewConfidenceScorer(ConfidenceScorerConfig{})

	input := scoredInput()
	input.ExecutionSucceeded = false
	input.Execution = nil

	score := scorer.Score(input)
	assert.Equal(t, 0.0, score.Components[ComponentExecution].Value)
	assert.Equal(t, 0.0, score.Components[ComponentResultSanity].Value)
	assert.Less(t, score.Score, 80.0)
}

func TestConfidenceScorer_WarningsReduceExecution(t *testing.T) {
	scorer := NewConfidenceScorer(ConfidenceScorerConfig{})

	input := scoredInput()
	input.Validation.Warnings = []string{"No LIMIT clause; appended LIMIT 10000"}

	score := scorer.Score(input)
	assert.InDelta(t, 0.8, score.Components[ComponentExecution].Value, 1e-9)
}

func TestConfidenceScorer_EmptyResultReducesSanity(t *testing.T) {
	scorer := NewConfidenceScorer(ConfidenceScorerConfig{})

	input := scoredInput()
	input.Execution = &warehouse.Result{Columns: []string{"N"}, RowCount: 0}

	score := scorer.Score(input)
	assert.InDelta(t, 0.3, score.Components[ComponentResultSanity].Value, 1e-9)
}

func TestConfidenceScorer_FuzzyEntitiesScoreLower(t *testing.T) {
	scorer := NewConfidenceScorer(ConfidenceScorerConfig{})

	exact := scoredInput()
	fuzzy := scoredInput()
	fuzzy.Entities = []EntityMatch{
		{CanonicalTerm: "ANAEMIA", MatchType: MatchFuzzy, Confidence: 86},
	}

	assert.Greater(t, scorer.Score(exact).Score, scorer.Score(fuzzy).Score)
}

func TestConfidenceScorer_Levels(t *testing.T) {
	scorer := NewConfidenceScorer(ConfidenceScorerConfig{})

	tests := []struct {
		score float64
		level ConfidenceLevel
	}{
		{95, ConfidenceHigh},
		{80, ConfidenceHigh},
		{79.9, ConfidenceMedium},
		{60, ConfidenceMedium},
		{59, ConfidenceLow},
		{40, ConfidenceLow},
		{39, ConfidenceVeryLow},
		{0, ConfidenceVeryLow},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.level, scorer.level(tt.score), "score %.1f", tt.score)
	}
}

func TestZeroScore(t *testing.T) {
	score := ZeroScore()
	require.Equal(t, 0.0, score.Score)
	assert.Equal(t, ConfidenceVeryLow, score.Level)

	totalWeight := 0.0
	for _, c := range score.Components {
		totalWeight += c.Weight
	}
	assert.InDelta(t, 1.0, totalWeight, 1e-9)
}

func TestFullScore(t *testing.T) {
	score := FullScore()
	assert.InDelta(t, 100.0, score.Score, 1e-9)
	assert.Equal(t, ConfidenceHigh, score.Level)
}
