// Package engine implements the SAGE inference pipeline.
// This file implements intent classification and the conversational
// short-circuit for non-clinical questions.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rshinytools/sage/internal/cache"
	"github.com/rshinytools/sage/internal/llm"
)

// IntentClassifier decides whether a question needs the SQL pipeline or a
// conversational response.
type IntentClassifier struct {
	client llm.Completer
	logger *slog.Logger
}

// IntentClassifierConfig holds configuration for the classifier.
type IntentClassifierConfig struct {
	Client llm.Completer
	Logger *slog.Logger
}

// NewIntentClassifier creates an intent classifier.
func NewIntentClassifier(cfg IntentClassifierConfig) *IntentClassifier {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &IntentClassifier{
		client: cfg.Client,
		logger: cfg.Logger.With(slog.String("component", "intent_classifier")),
	}
}

// validIntents is the accepted one-word response set.
var validIntents = map[Intent]bool{
	IntentClinicalData: true,
	IntentGreeting:     true,
	IntentHelp:         true,
	IntentIdentity:     true,
	IntentFarewell:     true,
	IntentStatus:       true,
	IntentGeneral:      true,
}

// Classify determines the intent of a question. Trivially recognisable
// greetings and farewells short-circuit without an LLM round-trip; everything
// else goes through the classification prompt. Any response outside the
// accepted set is treated as CLINICAL_DATA so ambiguous questions fail safe
// toward the full pipeline.
func (c *IntentClassifier) Classify(ctx context.Context, question string) (Intent, error) {
	if intent, ok := instantResponses[cache.Normalize(question)]; ok {
		c.logger.Debug("instant intent match", slog.String("intent", string(intent)))
		return intent, nil
	}

	resp, err := c.client.Complete(ctx, llm.Request{
		System:      IntentClassificationPrompt,
		Prompt:      question,
		Temperature: 0,
		MaxTokens:   8,
	})
	if err != nil {
		return "", fmt.Errorf("intent classification call failed: %w", err)
	}

	word := Intent(strings.ToUpper(strings.TrimSpace(resp.Text)))
	if !validIntents[word] {
		c.logger.Debug("unrecognised intent response, defaulting to clinical",
			slog.String("response", string(word)),
		)
		return IntentClinicalData, nil
	}

	c.logger.Debug("intent classified", slog.String("intent", string(word)))
	return word, nil
}

// ConversationalReply produces the answer for a non-clinical intent. Intents
// with a canned reply answer immediately; the rest get one LLM call with the
// fixed product context.
func (c *IntentClassifier) ConversationalReply(ctx context.Context, question string, intent Intent) (string, error) {
	if canned, ok := cannedReplies[intent]; ok {
		return canned, nil
	}

	resp, err := c.client.Complete(ctx, llm.Request{
		System:      SystemContext,
		Prompt:      question,
		Temperature: 0.7,
		MaxTokens:   256,
	})
	if err != nil {
		return "", fmt.Errorf("conversational reply call failed: %w", err)
	}

	answer := strings.TrimSpace(resp.Text)
	if answer == "" {
		return "", fmt.Errorf("conversational reply was empty")
	}
	return answer, nil
}
