// Package engine implements the SAGE inference pipeline.
// This file implements entity extraction: resolving free-text clinical
// phrases in a question to the canonical column values used in the SQL.
package engine

import (
	"log/slog"
	"sort"
	"strings"

	"github.com/agext/levenshtein"
)

// DictionaryEntry is one indexed value from the study data, e.g. the
// AEDECOD value "ANAEMIA" on ADAE.
type DictionaryEntry struct {
	Value  string
	Table  string
	Column string
}

// EntityExtractor resolves clinical terms against the value dictionary.
//
// Strategies apply in priority order: complex multi-word phrases, colloquial
// medical synonyms, UK/US spelling equivalences, exact dictionary matches,
// then fuzzy matches. When several strategies hit the same canonical concept
// the higher-priority match wins; in particular a synonym match always beats
// a fuzzy one.
type EntityExtractor struct {
	dictionary     []DictionaryEntry
	byValue        map[string]DictionaryEntry
	fuzzyThreshold float64
	defaultTable   string
	defaultColumn  string
	logger         *slog.Logger
}

// EntityExtractorConfig holds configuration for the extractor.
type EntityExtractorConfig struct {
	// Dictionary is the indexed value dictionary scanned from the study data.
	Dictionary []DictionaryEntry

	// FuzzyThreshold is the minimum similarity for fuzzy matches (0-1).
	// Default 0.85.
	FuzzyThreshold float64

	// DefaultTable receives matches whose value is not in the dictionary.
	// Default "ADAE".
	DefaultTable string

	// DefaultColumn receives matches whose value is not in the dictionary.
	// Default "AEDECOD".
	DefaultColumn string

	Logger *slog.Logger
}

// NewEntityExtractor creates an entity extractor.
func NewEntityExtractor(cfg EntityExtractorConfig) *EntityExtractor {
	if cfg.FuzzyThreshold == 0 {
		cfg.FuzzyThreshold = 0.85
	}
	if cfg.DefaultTable == "" {
		cfg.DefaultTable = "ADAE"
	}
	if cfg.DefaultColumn == "" {
		cfg.DefaultColumn = "AEDECOD"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	byValue := make(map[string]DictionaryEntry, len(cfg.Dictionary))
	for _, entry := range cfg.Dictionary {
		byValue[strings.ToUpper(entry.Value)] = entry
	}

	return &EntityExtractor{
		dictionary:     cfg.Dictionary,
		byValue:        byValue,
		fuzzyThreshold: cfg.FuzzyThreshold,
		defaultTable:   cfg.DefaultTable,
		defaultColumn:  cfg.DefaultColumn,
		logger:         cfg.Logger.With(slog.String("component", "entity_extractor")),
	}
}

// Extract resolves every clinical term found in the question. The returned
// matches carry the complete variant set for each concept; when more than
// one spelling exists, all of them must surface in the generated SQL.
func (e *EntityExtractor) Extract(question string) []EntityMatch {
	lower := strings.ToLower(question)
	seen := make(map[string]bool)
	var matches []EntityMatch

	add := func(m EntityMatch) {
		if seen[m.CanonicalTerm] {
			return
		}
		seen[m.CanonicalTerm] = true
		matches = append(matches, m)
	}

	// 1. Complex multi-word phrases, longest first so a longer phrase
	// shadows its substrings.
	for _, phrase := range sortedPhrases(complexPhraseMappings) {
		if strings.Contains(lower, phrase) {
			mapping := complexPhraseMappings[phrase]
			add(e.buildMatch(phrase, mapping.CanonicalTerm, MatchMedicalSynonym, 95, mapping.AllVariants))
		}
	}

	// 2. Colloquial medical synonyms.
	for _, phrase := range sortedPhrases(colloquialMappings) {
		if containsPhrase(lower, phrase) {
			mapping := colloquialMappings[phrase]
			add(e.buildMatch(phrase, mapping.CanonicalTerm, MatchMedicalSynonym, 95, mapping.AllVariants))
		}
	}

	// 3. UK/US spelling equivalences.
	for _, token := range tokenizePhrases(lower) {
		if variants := SpellingVariants(token); variants != nil {
			add(e.buildMatch(token, variants[0], MatchUKUSSpelling, 95, variants))
		}
	}

	// 4. Exact dictionary matches.
	for _, entry := range e.dictionary {
		if containsPhrase(lower, strings.ToLower(entry.Value)) {
			variants := e.variantsFor(entry.Value)
			add(EntityMatch{
				OriginalTerm:  strings.ToLower(entry.Value),
				CanonicalTerm: strings.ToUpper(entry.Value),
				MatchType:     MatchExact,
				Confidence:    100,
				Table:         entry.Table,
				Column:        entry.Column,
				AllVariants:   variants,
			})
		}
	}

	// 5. Fuzzy matches against the dictionary, above the threshold only.
	for _, token := range tokenizePhrases(lower) {
		if len(token) < 4 {
			continue
		}
		if value, similarity, ok := e.bestFuzzy(token); ok {
			entry := e.byValue[strings.ToUpper(value)]
			add(EntityMatch{
				OriginalTerm:  token,
				CanonicalTerm: strings.ToUpper(value),
				MatchType:     MatchFuzzy,
				Confidence:    similarity * 100,
				Table:         entry.Table,
				Column:        entry.Column,
				AllVariants:   e.variantsFor(value),
			})
		}
	}

	e.logger.Debug("entities extracted", slog.Int("count", len(matches)))
	return matches
}

// buildMatch assembles an EntityMatch, resolving table and column from the
// dictionary when the canonical value is indexed there.
func (e *EntityExtractor) buildMatch(original, canonical string, matchType MatchType, confidence float64, variants []string) EntityMatch {
	table, column := e.defaultTable, e.defaultColumn
	for _, v := range variants {
		if entry, ok := e.byValue[strings.ToUpper(v)]; ok {
			table, column = entry.Table, entry.Column
			break
		}
	}
	return EntityMatch{
		OriginalTerm:  original,
		CanonicalTerm: canonical,
		MatchType:     matchType,
		Confidence:    confidence,
		Table:         table,
		Column:        column,
		AllVariants:   variants,
	}
}

// variantsFor returns the full spelling set for a value: its UK/US variant
// group when one exists, otherwise the value itself.
func (e *EntityExtractor) variantsFor(value string) []string {
	if variants := SpellingVariants(value); variants != nil {
		return variants
	}
	return []string{strings.ToUpper(value)}
}

// bestFuzzy finds the most similar dictionary value above the threshold.
func (e *EntityExtractor) bestFuzzy(token string) (string, float64, bool) {
	var bestValue string
	var bestScore float64

	for _, entry := range e.dictionary {
		score := levenshtein.Similarity(token, strings.ToLower(entry.Value), nil)
		if score > bestScore {
			bestScore = score
			bestValue = entry.Value
		}
	}

	if bestScore >= e.fuzzyThreshold {
		return bestValue, bestScore, true
	}
	return "", 0, false
}

// containsPhrase reports whether text contains phrase on word boundaries.
func containsPhrase(text, phrase string) bool {
	idx := 0
	for {
		pos := strings.Index(text[idx:], phrase)
		if pos < 0 {
			return false
		}
		start := idx + pos
		end := start + len(phrase)
		startOK := start == 0 || !isWordChar(text[start-1])
		endOK := end == len(text) || !isWordChar(text[end])
		if startOK && endOK {
			return true
		}
		idx = start + 1
	}
}

func isWordChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_'
}

// tokenizePhrases splits text into candidate words stripped of punctuation.
func tokenizePhrases(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9')
	})
	return fields
}

// sortedPhrases returns map keys sorted longest-first, then lexically, so
// matching order is deterministic.
func sortedPhrases(m map[string]SynonymMapping) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	return keys
}
