// Package engine tests entity extraction.
package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDictionary() []DictionaryEntry {
	return []DictionaryEntry{
		{Value: "HEADACHE", Table: "ADAE", Column: "AEDECOD"},
		{Value: "NAUSEA", Table: "ADAE", Column: "AEDECOD"},
		{Value: "ANAEMIA", Table: "ADAE", Column: "AEDECOD"},
		{Value: "PYREXIA", Table: "ADAE", Column: "AEDECOD"},
		{Value: "FATIGUE", Table: "ADAE", Column: "AEDECOD"},
		{Value: "DIZZINESS", Table: "ADAE", Column: "AEDECOD"},
	}
}

func newTestExtractor(t *testing.T) *EntityExtractor {
	t.Helper()
	return NewEntityExtractor(EntityExtractorConfig{
		Dictionary: testDictionary(),
	})
}

func TestEntityExtractor_ExactMatch(t *testing.T) {
	extractor := newTestExtractor(t)

	matches := extractor.Extract("How many patients had headache?")
	require.Len(t, matches, 1)
	assert.Equal(t, "HEADACHE", matches[0].CanonicalTerm)
	assert.Equal(t, MatchExact, matches[0].MatchType)
	assert.Equal(t, float64(100), matches[0].Confidence)
	assert.Equal(t, "ADAE", matches[0].Table)
	assert.Equal(t, "AEDECOD", matches[0].Column)
}

func TestEntityExtractor_ColloquialSynonym(t *testing.T) {
	extractor := newTestExtractor(t)

	matches := extractor.Extract("How many patients had fever?")
	require.NotEmpty(t, matches)
	assert.Equal(t, "PYREXIA", matches[0].CanonicalTerm)
	assert.Equal(t, MatchMedicalSynonym, matches[0].MatchType)
}

func TestEntityExtractor_ComplexPhrase(t *testing.T) {
	extractor := newTestExtractor(t)

	matches := extractor.Extract("Which subjects had a low blood cell count?")
	require.NotEmpty(t, matches)
	assert.Equal(t, "WHITE BLOOD CELL COUNT DECREASED", matches[0].CanonicalTerm)
	assert.Equal(t, MatchMedicalSynonym, matches[0].MatchType)
}

func TestEntityExtractor_SpellingVariantsPropagate(t *testing.T) {
	extractor := newTestExtractor(t)

	for _, q := range []string{"Count cases of anaemia", "Count cases of anemia"} {
		matches := extractor.Extract(q)
		require.NotEmpty(t, matches, "question %q", q)

		m := matches[0]
		assert.Contains(t, m.AllVariants, "ANAEMIA")
		assert.Contains(t, m.AllVariants, "ANEMIA")
	}
}

func TestEntityExtractor_FuzzyMatch(t *testing.T) {
	extractor := newTestExtractor(t)

	// Misspelled "headache" should still resolve above the threshold.
	matches := extractor.Extract("patients with headach")
	require.NotEmpty(t, matches)
	assert.Equal(t, "HEADACHE", matches[0].CanonicalTerm)
	assert.Equal(t, MatchFuzzy, matches[0].MatchType)
	assert.GreaterOrEqual(t, matches[0].Confidence, 85.0)
}

func TestEntityExtractor_SynonymBeatsFuzzy(t *testing.T) {
	extractor := newTestExtractor(t)

	// "fatigue" is in the dictionary; "tiredness" maps by synonym. The
	// synonym strategy owns the canonical concept.
	matches := extractor.Extract("patients reporting tiredness")
	require.NotEmpty(t, matches)
	assert.Equal(t, "FATIGUE", matches[0].CanonicalTerm)
	assert.Equal(t, MatchMedicalSynonym, matches[0].MatchType)
}

func TestEntityExtractor_NoMatches(t *testing.T) {
	extractor := newTestExtractor(t)

	matches := extractor.Extract("total number of enrolled subjects")
	assert.Empty(t, matches)
}

func TestEntityExtractor_DeduplicatesByCanonicalTerm(t *testing.T) {
	extractor := newTestExtractor(t)

	// "fever" (synonym) resolves to PYREXIA which is also an exact
	// dictionary value; only one match may survive.
	matches := extractor.Extract("patients with fever or pyrexia")
	count := 0
	for _, m := range matches {
		if m.CanonicalTerm == "PYREXIA" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}
