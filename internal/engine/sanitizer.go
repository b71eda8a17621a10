// Package engine implements the SAGE inference pipeline.
// This file implements the input security gate. Sanitization is pure and
// deterministic: the same question always yields the same verdict.
package engine

import (
	"regexp"
	"strings"
)

// Sanitizer decides whether a question is safe to process.
type Sanitizer struct {
	maxLength       int
	phiEnabled      bool
	sqlEnabled      bool
	promptEnabled   bool
	customBlocklist []string
}

// SanitizerConfig holds configuration for the sanitizer. Each pattern family
// can be disabled individually; the custom blocklist is applied last.
type SanitizerConfig struct {
	// MaxLength bounds accepted question text. Default 2000.
	MaxLength int

	// DisablePHI turns off the PHI/PII pattern family.
	DisablePHI bool

	// DisableSQLInjection turns off the SQL-injection pattern family.
	DisableSQLInjection bool

	// DisablePromptInjection turns off the prompt-injection pattern family.
	DisablePromptInjection bool

	// CustomBlocklist is an additional list of case-insensitive substrings
	// that block a question with reason "CUSTOM:blocklist".
	CustomBlocklist []string
}

// NewSanitizer creates a sanitizer with the given configuration.
func NewSanitizer(cfg SanitizerConfig) *Sanitizer {
	if cfg.MaxLength == 0 {
		cfg.MaxLength = 2000
	}
	return &Sanitizer{
		maxLength:       cfg.MaxLength,
		phiEnabled:      !cfg.DisablePHI,
		sqlEnabled:      !cfg.DisableSQLInjection,
		promptEnabled:   !cfg.DisablePromptInjection,
		customBlocklist: cfg.CustomBlocklist,
	}
}

// phiPattern pairs a detection tag with its compiled pattern.
type phiPattern struct {
	tag string
	re  *regexp.Regexp
}

var phiPatterns = []phiPattern{
	{"PHI:ssn", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b|\b\d{9}\b`)},
	{"PHI:email", regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`)},
	{"PHI:phone", regexp.MustCompile(`\b(?:\+?1[-.\s]?)?\(?\d{3}\)?[-.\s]\d{3}[-.\s]\d{4}\b`)},
	{"PHI:credit_card", regexp.MustCompile(`\b(?:\d[ \-]?){13,16}\b`)},
	{"PHI:mrn", regexp.MustCompile(`(?i)\bMRN[:\s#]*\d{6,10}\b`)},
}

var sqlPatterns = []phiPattern{
	{"SQL:union_select", regexp.MustCompile(`(?i)\bUNION\s+(?:ALL\s+)?SELECT\b`)},
	{"SQL:drop_table", regexp.MustCompile(`(?i)\bDROP\s+TABLE\b`)},
	{"SQL:delete_from", regexp.MustCompile(`(?i)\bDELETE\s+FROM\b`)},
	{"SQL:insert_into", regexp.MustCompile(`(?i)\bINSERT\s+INTO\b`)},
	{"SQL:update_set", regexp.MustCompile(`(?i)\bUPDATE\s+\w+\s+SET\b`)},
	{"SQL:comment", regexp.MustCompile(`--`)},
	{"SQL:exec_command", regexp.MustCompile(`(?i)\bEXEC(?:UTE)?\b`)},
	{"SQL:stacked_statement", regexp.MustCompile(`(?i);\s*(?:SELECT|INSERT|UPDATE|DELETE|DROP|CREATE|ALTER|EXEC)\b`)},
}

var promptPatterns = []phiPattern{
	{"PROMPT:ignore_instructions", regexp.MustCompile(`(?i)ignore\s+(?:all\s+)?(?:previous|prior|above)\s+instructions`)},
	{"PROMPT:new_instructions", regexp.MustCompile(`(?i)\bnew\s+instructions\b`)},
	{"PROMPT:jailbreak", regexp.MustCompile(`(?i)\bjail\s?break\b`)},
	{"PROMPT:pretend", regexp.MustCompile(`(?i)\bpretend\s+(?:you\s+are|to\s+be)\b`)},
	{"PROMPT:reveal_system_prompt", regexp.MustCompile(`(?i)reveal\s+(?:your\s+)?system\s+prompt`)},
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// Sanitize applies the security gate to a question and returns the verdict.
// Rejection is terminal; the pipeline never retries a blocked question.
func (s *Sanitizer) Sanitize(text string) SanitizationResult {
	normalized := normalizeQuestion(text)

	if normalized == "" {
		return SanitizationResult{
			IsSafe:        false,
			BlockedReason: "Empty query",
		}
	}

	if len(normalized) > s.maxLength {
		return SanitizationResult{
			IsSafe:        false,
			BlockedReason: "Query exceeds maximum length",
		}
	}

	var detections []string

	if s.phiEnabled {
		detections = append(detections, matchPatterns(normalized, phiPatterns)...)
	}
	if s.sqlEnabled {
		detections = append(detections, matchPatterns(normalized, sqlPatterns)...)
	}
	if s.promptEnabled {
		detections = append(detections, matchPatterns(normalized, promptPatterns)...)
	}

	lower := strings.ToLower(normalized)
	for _, blocked := range s.customBlocklist {
		if blocked != "" && strings.Contains(lower, strings.ToLower(blocked)) {
			detections = append(detections, "CUSTOM:blocklist")
			break
		}
	}

	if len(detections) > 0 {
		return SanitizationResult{
			IsSafe:        false,
			BlockedReason: detections[0],
			Detections:    detections,
		}
	}

	return SanitizationResult{
		IsSafe:        true,
		SanitizedText: normalized,
	}
}

// matchPatterns returns the tags of every pattern that fires on text.
func matchPatterns(text string, patterns []phiPattern) []string {
	var tags []string
	for _, p := range patterns {
		if p.re.MatchString(text) {
			tags = append(tags, p.tag)
		}
	}
	return tags
}

// normalizeQuestion trims, collapses whitespace runs and strips NUL bytes.
func normalizeQuestion(text string) string {
	text = strings.ReplaceAll(text, "\x00", "")
	text = whitespaceRun.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}
