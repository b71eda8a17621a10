// Package engine tests the error humanizer.
package engine

import (
	"strings"
	"testing"

	"github.com/rshinytools/sage/internal/warehouse"
	"github.com/stretchr/testify/assert"
)

func TestHumanizer_PHIMentionsPersonalData(t *testing.T) {
	h := NewErrorHumanizer()

	msg := h.Humanize(NewStageError(KindSanitization, StageSanitization, "PHI:ssn"))
	assert.Contains(t, strings.ToLower(msg.Message), "personal data")
	assert.NotContains(t, msg.Message, "PHI:ssn")
}

func TestHumanizer_SQLInjectionWording(t *testing.T) {
	h := NewErrorHumanizer()

	msg := h.Humanize(NewStageError(KindSanitization, StageSanitization, "SQL:drop_table"))
	assert.Contains(t, strings.ToLower(msg.Message), "database commands")
}

func TestHumanizer_ExecutionTimeout(t *testing.T) {
	h := NewErrorHumanizer()

	execErr := &warehouse.ExecError{Kind: warehouse.KindTimeout, Message: "canceling statement"}
	stageErr := &StageError{Kind: KindSQLExecution, Stage: StageExecution, Message: execErr.Message, Err: execErr}

	msg := h.Humanize(stageErr)
	assert.Contains(t, strings.ToLower(msg.Message), "too long")
	assert.NotEmpty(t, msg.Suggestions)
}

func TestHumanizer_NeverEchoesRawErrors(t *testing.T) {
	h := NewErrorHumanizer()

	raw := `Binder Error: Referenced column "XXSECRETXX" not found in FROM clause`
	execErr := &warehouse.ExecError{Kind: warehouse.KindUnknownIdentifier, Message: raw}
	stageErr := &StageError{Kind: KindSQLExecution, Stage: StageExecution, Message: raw, Err: execErr}

	msg := h.Humanize(stageErr)
	assert.NotContains(t, msg.Message, "XXSECRETXX")
	assert.NotContains(t, msg.Message, "Binder Error")
	for _, s := range msg.Suggestions {
		assert.NotContains(t, s, "XXSECRETXX")
	}
}

func TestHumanizer_EveryKindHasMessage(t *testing.T) {
	h := NewErrorHumanizer()

	kinds := []ErrorKind{
		KindSanitization, KindClassification, KindEntities, KindResolution,
		KindPromptBuild, KindLLMTimeout, KindLLMConnection, KindLLMModel,
		KindSQLValidation, KindSQLExecution, KindCancellation, KindInternal,
	}
	for _, kind := range kinds {
		msg := h.Humanize(NewStageError(kind, "stage", "raw detail"))
		assert.NotEmpty(t, msg.Message, "kind %s", kind)
	}
}
