// Package engine implements the SAGE inference pipeline.
// This file maps raw pipeline failures to user-facing messages. Humanised
// errors never echo raw SQL, executor or model error strings.
package engine

import (
	"strings"

	"github.com/rshinytools/sage/internal/warehouse"
)

// HumanizedError is a user-facing rendering of a pipeline failure.
type HumanizedError struct {
	// Message is the prose shown to the user.
	Message string `json:"message"`

	// Suggestions offer concrete next steps.
	Suggestions []string `json:"suggestions,omitempty"`
}

// ErrorHumanizer renders failures for users.
type ErrorHumanizer struct{}

// NewErrorHumanizer creates an error humanizer.
func NewErrorHumanizer() *ErrorHumanizer {
	return &ErrorHumanizer{}
}

// Humanize maps a stage error to a user-facing message.
func (h *ErrorHumanizer) Humanize(err *StageError) HumanizedError {
	switch err.Kind {
	case KindSanitization:
		return h.humanizeSanitization(err)

	case KindClassification:
		return HumanizedError{
			Message: "I couldn't work out what kind of question this is. Please try rephrasing it.",
			Suggestions: []string{
				"Ask about study data, e.g. \"How many patients had headaches?\"",
			},
		}

	case KindEntities:
		return HumanizedError{
			Message: "I couldn't match the clinical terms in your question to the study data.",
			Suggestions: []string{
				"Try the medical term (e.g. \"pyrexia\" instead of \"fever\")",
				"Check the spelling of the condition you're asking about",
			},
		}

	case KindResolution:
		return HumanizedError{
			Message: "I couldn't find a study dataset that answers this question.",
			Suggestions: []string{
				"Check which datasets are loaded for this study",
				"Ask about adverse events, demographics, labs, vitals or medications",
			},
		}

	case KindPromptBuild, KindInternal:
		return HumanizedError{
			Message: "Something went wrong while processing your question. Please try again.",
		}

	case KindLLMTimeout:
		return HumanizedError{
			Message: "The analysis took too long to prepare. Please try again.",
			Suggestions: []string{
				"Try a simpler or more specific question",
			},
		}

	case KindLLMConnection:
		return HumanizedError{
			Message: "The analysis service is temporarily unavailable. Please try again in a moment.",
		}

	case KindLLMModel, KindSQLValidation:
		return HumanizedError{
			Message: "I couldn't produce a safe query for this question.",
			Suggestions: []string{
				"Rephrase the question with a clear subject, e.g. \"Count patients with serious adverse events\"",
			},
		}

	case KindSQLExecution:
		return h.humanizeExecution(err)

	case KindCancellation:
		return HumanizedError{
			Message: "The request was cancelled before an answer was ready.",
		}

	default:
		return HumanizedError{
			Message: "Something went wrong while processing your question. Please try again.",
		}
	}
}

// humanizeSanitization picks wording by the blocked category without echoing
// the detected content.
func (h *ErrorHumanizer) humanizeSanitization(err *StageError) HumanizedError {
	switch {
	case strings.HasPrefix(err.Message, "PHI:"):
		return HumanizedError{
			Message: "Your question appeared to contain personal data (such as an SSN, email or phone number). Please remove it and ask again.",
			Suggestions: []string{
				"Ask about aggregate study data rather than individual people",
			},
		}
	case strings.HasPrefix(err.Message, "SQL:"):
		return HumanizedError{
			Message: "Your question contained database commands, which aren't allowed. Please ask in plain language.",
		}
	case strings.HasPrefix(err.Message, "PROMPT:"):
		return HumanizedError{
			Message: "Your question contained instructions I can't follow. Please ask a plain question about the study data.",
		}
	case strings.Contains(err.Message, "Empty"):
		return HumanizedError{
			Message: "Please enter a question about the study data.",
		}
	case strings.Contains(err.Message, "maximum length"):
		return HumanizedError{
			Message:     "Your question is too long. Please shorten it.",
			Suggestions: []string{"Split the question into smaller parts"},
		}
	default:
		return HumanizedError{
			Message: "Your question couldn't be accepted. Please rephrase it.",
		}
	}
}

// humanizeExecution picks wording by the classified executor failure.
func (h *ErrorHumanizer) humanizeExecution(err *StageError) HumanizedError {
	switch warehouse.KindOf(err.Err) {
	case warehouse.KindTimeout:
		return HumanizedError{
			Message: "The query took too long to run and was stopped.",
			Suggestions: []string{
				"Narrow the question to a specific population or time range",
				"Ask for a count or summary rather than a full listing",
			},
		}
	case warehouse.KindOutOfMemory:
		return HumanizedError{
			Message: "The query needed more memory than is available.",
			Suggestions: []string{
				"Narrow the question to fewer rows or columns",
			},
		}
	case warehouse.KindUnknownIdentifier:
		return HumanizedError{
			Message: "The question referenced data that isn't in this study.",
			Suggestions: []string{
				"Check which datasets and variables are loaded",
			},
		}
	default:
		return HumanizedError{
			Message: "The query couldn't be run against the study data. Please try rephrasing.",
		}
	}
}
