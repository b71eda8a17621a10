// Package engine implements the SAGE inference pipeline.
// This file implements the confidence scorer, a pure function over the
// pipeline artefacts. The four weighted components always sum to the final
// score and the weights sum to 1.
package engine

import "github.com/rshinytools/sage/internal/warehouse"

// Component weights. They must sum to 1.
const (
	weightEntityQuality    = 0.40
	weightMetadataCoverage = 0.30
	weightExecution        = 0.20
	weightResultSanity     = 0.10
)

// Component names as they appear in the confidence breakdown.
const (
	ComponentEntityQuality    = "entity_match_quality"
	ComponentMetadataCoverage = "metadata_coverage"
	ComponentExecution        = "execution_success"
	ComponentResultSanity     = "result_sanity"
)

// ConfidenceScorer produces the composite confidence score.
type ConfidenceScorer struct {
	highThreshold   float64
	mediumThreshold float64
	lowThreshold    float64
}

// ConfidenceScorerConfig holds the level thresholds.
type ConfidenceScorerConfig struct {
	// HighThreshold is the score at or above which the level is high.
	// Default 80.
	HighThreshold float64

	// MediumThreshold is the score at or above which the level is medium.
	// Default 60.
	MediumThreshold float64

	// LowThreshold is the score at or above which the level is low.
	// Default 40.
	LowThreshold float64
}

// ScoreInput carries the pipeline artefacts the scorer reads.
type ScoreInput struct {
	// Entities are the extracted entity matches.
	Entities []EntityMatch

	// Validation is the validator verdict for the executed SQL.
	Validation *ValidationResult

	// Execution is the tabular result, nil when execution failed.
	Execution *warehouse.Result

	// ExecutionSucceeded reports whether the executor returned rows.
	ExecutionSucceeded bool
}

// NewConfidenceScorer creates a scorer with the given thresholds.
func NewConfidenceScorer(cfg ConfidenceScorerConfig) *ConfidenceScorer {
	if cfg.HighThreshold == 0 {
		cfg.HighThreshold = 80
	}
	if cfg.MediumThreshold == 0 {
		cfg.MediumThreshold = 60
	}
	if cfg.LowThreshold == 0 {
		cfg.LowThreshold = 40
	}
	return &ConfidenceScorer{
		highThreshold:   cfg.HighThreshold,
		mediumThreshold: cfg.MediumThreshold,
		lowThreshold:    cfg.LowThreshold,
	}
}

// Score computes the weighted composite. The returned breakdown explains
// every point of the score.
func (s *ConfidenceScorer) Score(input ScoreInput) ConfidenceScore {
	components := map[string]ConfidenceComponent{
		ComponentEntityQuality:    component(entityQuality(input.Entities), weightEntityQuality),
		ComponentMetadataCoverage: component(metadataCoverage(input.Validation), weightMetadataCoverage),
		ComponentExecution:        component(executionFactor(input), weightExecution),
		ComponentResultSanity:     component(resultSanity(input), weightResultSanity),
	}

	total := 0.0
	for _, c := range components {
		total += c.Contribution
	}

	return ConfidenceScore{
		Score:      total,
		Level:      s.level(total),
		Components: components,
	}
}

// ZeroScore is the confidence attached to failed responses.
func ZeroScore() ConfidenceScore {
	return ConfidenceScore{
		Score: 0,
		Level: ConfidenceVeryLow,
		Components: map[string]ConfidenceComponent{
			ComponentEntityQuality:    component(0, weightEntityQuality),
			ComponentMetadataCoverage: component(0, weightMetadataCoverage),
			ComponentExecution:        component(0, weightExecution),
			ComponentResultSanity:     component(0, weightResultSanity),
		},
	}
}

// FullScore is the confidence attached to conversational responses.
func FullScore() ConfidenceScore {
	return ConfidenceScore{
		Score: 100,
		Level: ConfidenceHigh,
		Components: map[string]ConfidenceComponent{
			ComponentEntityQuality:    component(1, weightEntityQuality),
			ComponentMetadataCoverage: component(1, weightMetadataCoverage),
			ComponentExecution:        component(1, weightExecution),
			ComponentResultSanity:     component(1, weightResultSanity),
		},
	}
}

// level buckets a score.
func (s *ConfidenceScorer) level(score float64) ConfidenceLevel {
	switch {
	case score >= s.highThreshold:
		return ConfidenceHigh
	case score >= s.mediumThreshold:
		return ConfidenceMedium
	case score >= s.lowThreshold:
		return ConfidenceLow
	default:
		return ConfidenceVeryLow
	}
}

// component assembles one weighted factor.
func component(value, weight float64) ConfidenceComponent {
	return ConfidenceComponent{
		Value:        value,
		Weight:       weight,
		Contribution: value * weight * 100,
	}
}

// entityQuality averages the entity-match confidences. Questions that need
// no entity resolution (pure counts, demographics) score a neutral 0.75.
func entityQuality(entities []EntityMatch) float64 {
	if len(entities) == 0 {
		return 0.75
	}
	total := 0.0
	for _, e := range entities {
		total += e.Confidence
	}
	return clamp01(total / float64(len(entities)) / 100)
}

// metadataCoverage is the fraction of referenced columns that are documented
// in the schema descriptions.
func metadataCoverage(validation *ValidationResult) float64 {
	if validation == nil || len(validation.ColumnsVerified) == 0 {
		return 0.5
	}
	documented := 0
	for _, col := range validation.ColumnsVerified {
		if _, ok := columnDescriptions[col]; ok {
			documented++
		}
	}
	return clamp01(float64(documented) / float64(len(validation.ColumnsVerified)))
}

// executionFactor is zero on failure, full on clean success, reduced when
// the validator recorded warnings.
func executionFactor(input ScoreInput) float64 {
	if !input.ExecutionSucceeded {
		return 0
	}
	if input.Validation != nil && len(input.Validation.Warnings) > 0 {
		return 0.8
	}
	return 1
}

// resultSanity is a monotone function of the row count: empty results are
// suspicious, plausible counts score full, very large results are reduced.
func resultSanity(input ScoreInput) float64 {
	if !input.ExecutionSucceeded || input.Execution == nil {
		return 0
	}
	switch {
	case input.Execution.RowCount == 0:
		return 0.3
	case input.Execution.RowCount > 10000:
		return 0.7
	default:
		return 1
	}
}

// clamp01 bounds a factor to [0, 1].
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
