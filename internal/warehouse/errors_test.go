// Package warehouse tests execution error classification.
package warehouse

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		kind      ErrorKind
		retryable bool
	}{
		{"parser error", errors.New(`Parser Error: syntax error at or near "FORM"`), KindSyntax, true},
		{"syntax error", errors.New("syntax error at end of input"), KindSyntax, true},
		{"missing table", errors.New(`Catalog Error: Table with name PATIENTS does not exist`), KindUnknownIdentifier, true},
		{"missing column", errors.New(`Binder Error: Referenced column "BAD_COL" not found`), KindUnknownIdentifier, true},
		{"oom", errors.New("Out of Memory Error: could not allocate block"), KindOutOfMemory, false},
		{"memory limit", errors.New("failed: memory limit of 4GB exceeded"), KindOutOfMemory, false},
		{"deadline", context.DeadlineExceeded, KindTimeout, false},
		{"unknown", errors.New("something odd happened"), KindInternal, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			execErr := classify(tt.err)
			assert.Equal(t, tt.kind, execErr.Kind)
			assert.Equal(t, tt.retryable, execErr.Retryable())
		})
	}
}

func TestKindOf_UnwrapsChain(t *testing.T) {
	wrapped := &ExecError{Kind: KindSyntax, Message: "bad sql"}
	assert.Equal(t, KindSyntax, KindOf(wrapped))
	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
}

func TestResult_ValueByName(t *testing.T) {
	result := &Result{
		Columns:  []string{"AEDECOD", "N"},
		Rows:     [][]any{{"ANAEMIA", int64(12)}, {"HEADACHE", int64(30)}},
		RowCount: 2,
	}

	value, err := result.Value(0, "AEDECOD")
	assert.NoError(t, err)
	assert.Equal(t, "ANAEMIA", value)

	_, err = result.Value(0, "MISSING")
	assert.Error(t, err)

	_, err = result.Value(5, "AEDECOD")
	assert.Error(t, err)

	assert.Equal(t, 1, result.ColumnIndex("N"))
	assert.Equal(t, -1, result.ColumnIndex("X"))
}
