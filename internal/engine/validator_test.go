// Package engine tests the static SQL gate.
package engine

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestValidator(t *testing.T) *SQLValidator {
	t.Helper()
	return NewSQLValidator(SQLValidatorConfig{
		Registry: map[string][]string{
			"ADAE": {"USUBJID", "AEDECOD", "ATOXGR", "SAFFL", "AESER"},
			"ADSL": {"USUBJID", "AGE", "SEX", "SAFFL", "ITTFL"},
			"ADLB": {"USUBJID", "PARAMCD", "AVAL", "SAFFL"},
		},
	})
}

func TestSQLValidator_ValidSelect(t *testing.T) {
	v := newTestValidator(t)

	result := v.Validate("SELECT COUNT(DISTINCT USUBJID) FROM ADAE WHERE SAFFL = 'Y'")
	assert.True(t, result.IsValid)
	assert.Contains(t, result.TablesVerified, "ADAE")
	assert.Contains(t, result.ColumnsVerified, "USUBJID")
	assert.Contains(t, result.ColumnsVerified, "SAFFL")
}

func TestSQLValidator_EmptyQuery(t *testing.T) {
	v := newTestValidator(t)

	result := v.Validate("")
	require.False(t, result.IsValid)
	assert.Contains(t, result.Errors[0], "Empty SQL query")

	result = v.Validate("   \n  ")
	assert.False(t, result.IsValid)
}

func TestSQLValidator_NonSelectBlocked(t *testing.T) {
	v := newTestValidator(t)

	result := v.Validate("SHOW TABLES")
	require.False(t, result.IsValid)
	assert.Contains(t, result.Errors[0], "Only SELECT queries are allowed")
}

func TestSQLValidator_BlockedOperations(t *testing.T) {
	v := newTestValidator(t)

	tests := []struct {
		name string
		sql  string
		op   string
	}{
		{"delete", "SELECT * FROM ADAE WHERE 1=1; DELETE FROM ADAE", "DELETE"},
		{"update", "SELECT 1 UNION ALL SELECT 1 WHERE EXISTS (UPDATE ADSL SET AGE = 1)", "UPDATE"},
		{"drop", "SELECT * FROM ADAE; DROP TABLE ADAE", "DROP"},
		{"insert", "SELECT 1 WHERE EXISTS (INSERT INTO ADAE VALUES (1))", "INSERT"},
		{"truncate", "SELECT 1; TRUNCATE ADAE", "TRUNCATE"},
		{"alter", "SELECT 1; ALTER TABLE ADAE ADD COLUMN X INT", "ALTER"},
		{"create", "SELECT 1; CREATE TABLE X (Y INT)", "CREATE"},
		{"exec", "SELECT 1; EXEC sp_who", "EXEC"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := v.Validate(tt.sql)
			require.False(t, result.IsValid)
			assert.Contains(t, strings.ToUpper(result.Errors[0]), tt.op)
		})
	}
}

func TestSQLValidator_InfoSchemaBlocked(t *testing.T) {
	v := newTestValidator(t)

	result := v.Validate("SELECT * FROM information_schema.tables")
	require.False(t, result.IsValid)
	assert.Contains(t, strings.ToUpper(result.Errors[0]), "INFO_SCHEMA")
}

func TestSQLValidator_InjectionMarkers(t *testing.T) {
	v := newTestValidator(t)

	tests := []struct {
		name string
		sql  string
	}{
		{"comment", "SELECT * FROM ADAE -- drop everything"},
		{"stacked statement", "SELECT * FROM ADAE; SELECT * FROM ADSL"},
		{"hex literal", "SELECT * FROM ADAE WHERE AEDECOD = 0x44524f50"},
		{"char encoding", "SELECT * FROM ADAE WHERE AEDECOD = CHAR(68)"},
		{"union unknown table", "SELECT USUBJID FROM ADAE UNION SELECT USUBJID FROM SECRETS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := v.Validate(tt.sql)
			assert.False(t, result.IsValid)
			assert.NotEmpty(t, result.Errors)
		})
	}
}

func TestSQLValidator_UnknownTable(t *testing.T) {
	v := newTestValidator(t)

	result := v.Validate("SELECT * FROM PATIENTS")
	require.False(t, result.IsValid)
	assert.Contains(t, result.Errors[0], "Table not found")
}

func TestSQLValidator_TableCaseInsensitive(t *testing.T) {
	v := newTestValidator(t)

	result := v.Validate("SELECT COUNT(*) FROM adae LIMIT 10")
	assert.True(t, result.IsValid)
	assert.Contains(t, result.TablesVerified, "ADAE")
}

func TestSQLValidator_JoinTablesVerified(t *testing.T) {
	v := newTestValidator(t)

	result := v.Validate("SELECT a.USUBJID FROM ADAE a JOIN ADSL s ON a.USUBJID = s.USUBJID LIMIT 100")
	require.True(t, result.IsValid)
	assert.Contains(t, result.TablesVerified, "ADAE")
	assert.Contains(t, result.TablesVerified, "ADSL")
}

func TestSQLValidator_JoinComplexityWarns(t *testing.T) {
	v := NewSQLValidator(SQLValidatorConfig{
		Registry: map[string][]string{
			"ADAE": {"USUBJID"}, "ADSL": {"USUBJID"}, "ADLB": {"USUBJID"}, "ADVS": {"USUBJID"}, "ADCM": {"USUBJID"},
		},
		MaxJoins: 2,
	})

	result := v.Validate(`SELECT a.USUBJID FROM ADAE a
		JOIN ADSL s ON a.USUBJID = s.USUBJID
		JOIN ADLB l ON a.USUBJID = l.USUBJID
		JOIN ADVS vs ON a.USUBJID = vs.USUBJID LIMIT 10`)
	require.True(t, result.IsValid, "join complexity is a warning, not an error")
	assert.NotEmpty(t, result.Warnings)
}

func TestSQLValidator_LimitAppended(t *testing.T) {
	v := newTestValidator(t)

	result := v.Validate("SELECT AEDECOD FROM ADAE")
	require.True(t, result.IsValid)
	assert.Contains(t, result.ValidatedSQL, "LIMIT 10000")
	assert.NotEmpty(t, result.Warnings)
}

func TestSQLValidator_ExistingLimitPreserved(t *testing.T) {
	v := newTestValidator(t)

	result := v.Validate("SELECT AEDECOD FROM ADAE LIMIT 50")
	require.True(t, result.IsValid)
	assert.Contains(t, result.ValidatedSQL, "LIMIT 50")
	assert.Empty(t, result.Warnings)
}

func TestSQLValidator_OversizedLimitReduced(t *testing.T) {
	v := newTestValidator(t)

	result := v.Validate("SELECT AEDECOD FROM ADAE LIMIT 5000000")
	require.True(t, result.IsValid)
	assert.Contains(t, result.ValidatedSQL, "LIMIT 10000")
	assert.NotEmpty(t, result.Warnings)
}

func TestSQLValidator_EveryValidatedSQLHasLimit(t *testing.T) {
	v := newTestValidator(t)

	queries := []string{
		"SELECT * FROM ADAE",
		"SELECT COUNT(*) FROM ADSL WHERE SAFFL = 'Y'",
		"SELECT AEDECOD FROM ADAE LIMIT 7",
	}
	for _, q := range queries {
		result := v.Validate(q)
		require.True(t, result.IsValid, q)
		assert.True(t, strings.HasPrefix(strings.ToUpper(result.ValidatedSQL), "SELECT"))
		assert.Regexp(t, `(?i)\bLIMIT\s+\d+`, result.ValidatedSQL)
	}
}
