// Package engine implements the SAGE inference pipeline.
// This file implements the static SQL gate. The validator is the single
// SQL-aware component: only SELECT statements against registered tables pass,
// and every accepted statement carries a LIMIT clause.
package engine

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// SQLValidator accepts only SELECT queries with safe shape against known tables.
type SQLValidator struct {
	registry   map[string][]string
	blockedOps map[string]bool
	maxJoins   int
	rowLimit   int
}

// SQLValidatorConfig holds configuration for the validator.
type SQLValidatorConfig struct {
	// Registry maps each known table (upper-case) to its column list.
	Registry map[string][]string

	// DisabledChecks names blocked operations to skip, e.g. "CREATE" for
	// deployments that allow CTE-free temp views. Rarely used.
	DisabledChecks []string

	// MaxJoins is the join count above which a warning is recorded.
	// Default 3.
	MaxJoins int

	// RowLimit is appended as LIMIT when the statement has none.
	// Default 10000.
	RowLimit int
}

// blockedOperations are rejected anywhere in the statement.
var blockedOperations = []string{
	"DELETE", "UPDATE", "DROP", "INSERT", "TRUNCATE", "ALTER", "CREATE", "EXEC", "EXECUTE",
}

var (
	fromJoinRe    = regexp.MustCompile(`(?i)\b(?:FROM|JOIN)\s+([A-Za-z_][A-Za-z0-9_.]*)`)
	joinRe        = regexp.MustCompile(`(?i)\bJOIN\b`)
	limitRe       = regexp.MustCompile(`(?i)\bLIMIT\s+(\d+)`)
	hexLiteralRe  = regexp.MustCompile(`(?i)\b0x[0-9a-f]+\b`)
	charEncodeRe  = regexp.MustCompile(`(?i)\bCHAR\s*\(`)
	infoSchemaRe  = regexp.MustCompile(`(?i)\b(?:information_schema|pg_catalog|duckdb_tables|sqlite_master)\b`)
	identifierRe  = regexp.MustCompile(`\b[A-Z][A-Z0-9_]{2,}\b`)
	stackedStmtRe = regexp.MustCompile(`;\s*\S`)
)

// NewSQLValidator creates a validator over the given table registry.
func NewSQLValidator(cfg SQLValidatorConfig) *SQLValidator {
	if cfg.MaxJoins == 0 {
		cfg.MaxJoins = 3
	}
	if cfg.RowLimit == 0 {
		cfg.RowLimit = 10000
	}

	disabled := make(map[string]bool, len(cfg.DisabledChecks))
	for _, op := range cfg.DisabledChecks {
		disabled[strings.ToUpper(op)] = true
	}

	blocked := make(map[string]bool, len(blockedOperations))
	for _, op := range blockedOperations {
		if !disabled[op] {
			blocked[op] = true
		}
	}

	registry := make(map[string][]string, len(cfg.Registry))
	for name, cols := range cfg.Registry {
		registry[strings.ToUpper(name)] = cols
	}

	return &SQLValidator{
		registry:   registry,
		blockedOps: blocked,
		maxJoins:   cfg.MaxJoins,
		rowLimit:   cfg.RowLimit,
	}
}

// Validate applies the static checks and returns the (possibly modified)
// SQL together with the referenced tables and columns.
func (v *SQLValidator) Validate(sql string) *ValidationResult {
	result := &ValidationResult{}
	trimmed := strings.TrimSpace(sql)

	if trimmed == "" {
		result.Errors = append(result.Errors, "Empty SQL query")
		return result
	}

	upper := strings.ToUpper(trimmed)
	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		result.Errors = append(result.Errors, "Only SELECT queries are allowed")
		return result
	}

	for _, op := range sortedOps(v.blockedOps) {
		re := regexp.MustCompile(`\b` + op + `\b`)
		if re.MatchString(upper) {
			result.Errors = append(result.Errors,
				fmt.Sprintf("Blocked operation %s detected", op))
			return result
		}
	}

	if infoSchemaRe.MatchString(trimmed) {
		result.Errors = append(result.Errors, "INFO_SCHEMA access is not allowed")
		return result
	}

	if strings.Contains(trimmed, "--") {
		result.Errors = append(result.Errors, "Inline comment detected")
		return result
	}
	if stackedStmtRe.MatchString(trimmed) {
		result.Errors = append(result.Errors, "Multiple statements are not allowed")
		return result
	}
	if hexLiteralRe.MatchString(trimmed) {
		result.Errors = append(result.Errors, "Hex-encoded literal detected")
		return result
	}
	if charEncodeRe.MatchString(trimmed) {
		result.Errors = append(result.Errors, "CHAR() encoding detected")
		return result
	}

	// Every table behind FROM/JOIN (UNION branches included) must be
	// registered.
	tables := referencedTables(trimmed)
	for _, table := range tables {
		if _, ok := v.registry[table]; !ok {
			result.Errors = append(result.Errors,
				fmt.Sprintf("Table not found in registry: %s", table))
			return result
		}
		result.TablesVerified = append(result.TablesVerified, table)
	}

	result.ColumnsVerified = v.referencedColumns(trimmed, result.TablesVerified)

	if joins := len(joinRe.FindAllString(upper, -1)); joins > v.maxJoins {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("Query uses %d joins (max recommended %d)", joins, v.maxJoins))
	}

	validated := trimmed
	if m := limitRe.FindStringSubmatch(upper); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > v.rowLimit {
			validated = limitRe.ReplaceAllString(validated, fmt.Sprintf("LIMIT %d", v.rowLimit))
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("LIMIT reduced to the configured maximum of %d", v.rowLimit))
		}
	} else {
		validated = validated + fmt.Sprintf(" LIMIT %d", v.rowLimit)
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("No LIMIT clause; appended LIMIT %d", v.rowLimit))
	}

	result.IsValid = true
	result.ValidatedSQL = validated
	return result
}

// referencedTables extracts the upper-cased table names behind FROM and JOIN.
func referencedTables(sql string) []string {
	seen := make(map[string]bool)
	var tables []string
	for _, m := range fromJoinRe.FindAllStringSubmatch(sql, -1) {
		name := strings.ToUpper(m[1])
		// Skip derived tables: "FROM (SELECT" captures nothing, but a
		// schema-qualified name keeps only its last segment.
		if idx := strings.LastIndex(name, "."); idx >= 0 {
			name = name[idx+1:]
		}
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		tables = append(tables, name)
	}
	return tables
}

// referencedColumns reports which registered columns of the referenced
// tables appear in the SQL.
func (v *SQLValidator) referencedColumns(sql string, tables []string) []string {
	known := make(map[string]bool)
	for _, table := range tables {
		for _, col := range v.registry[table] {
			known[strings.ToUpper(col)] = true
		}
	}

	seen := make(map[string]bool)
	var columns []string
	for _, ident := range identifierRe.FindAllString(strings.ToUpper(sql), -1) {
		if known[ident] && !seen[ident] {
			seen[ident] = true
			columns = append(columns, ident)
		}
	}
	return columns
}

// sortedOps returns the blocked operations in deterministic order.
func sortedOps(ops map[string]bool) []string {
	out := make([]string, 0, len(ops))
	for op := range ops {
		out = append(out, op)
	}
	sort.Strings(out)
	return out
}
