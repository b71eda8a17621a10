// Package engine implements the SAGE inference pipeline.
// This file implements the SQL generator: one LLM call per attempt, with the
// raw response stripped down to a single SQL string. Transport failures get
// one in-stage retry with a short back-off; everything else is routed by the
// pipeline's self-correction loop.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/rshinytools/sage/internal/llm"
)

// SQLGenerator produces one SQL string per call.
type SQLGenerator struct {
	client           llm.Completer
	transportBackoff time.Duration
	logger           *slog.Logger
}

// SQLGeneratorConfig holds configuration for the generator.
type SQLGeneratorConfig struct {
	Client llm.Completer

	// TransportBackoff is the wait before the single transport retry.
	// Default 500ms.
	TransportBackoff time.Duration

	Logger *slog.Logger
}

// NewSQLGenerator creates a SQL generator.
func NewSQLGenerator(cfg SQLGeneratorConfig) *SQLGenerator {
	if cfg.TransportBackoff == 0 {
		cfg.TransportBackoff = 500 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &SQLGenerator{
		client:           cfg.Client,
		transportBackoff: cfg.TransportBackoff,
		logger:           cfg.Logger.With(slog.String("component", "sql_generator")),
	}
}

// Generate asks the model for SQL. attempt is 1 for the first generation and
// increments per self-correction round; it is recorded on the result.
func (g *SQLGenerator) Generate(ctx context.Context, system, prompt string, attempt int) (*GeneratedSQL, error) {
	resp, err := g.complete(ctx, system, prompt)
	if err != nil {
		return nil, g.classify(err)
	}

	sql := StripSQLResponse(resp.Text)
	if sql == "" {
		// Unparseable output is treated like a validation failure so the
		// correction loop can re-prompt.
		return nil, &StageError{
			Kind:      KindLLMModel,
			Stage:     StageGeneration,
			Message:   "model response contained no SQL statement",
			Retryable: true,
		}
	}

	g.logger.Debug("SQL generated",
		slog.String("sql", sql),
		slog.Int("attempt", attempt),
		slog.Int64("latency_ms", resp.LatencyMS),
	)

	return &GeneratedSQL{
		SQLText:       sql,
		ModelID:       g.client.Model(),
		LatencyMS:     resp.LatencyMS,
		AttemptNumber: attempt,
	}, nil
}

// complete performs the LLM call with one retry on transport failure.
func (g *SQLGenerator) complete(ctx context.Context, system, prompt string) (*llm.Response, error) {
	resp, err := g.client.Complete(ctx, llm.Request{
		System:      system,
		Prompt:      prompt,
		Temperature: 0,
	})
	if err == nil {
		return resp, nil
	}

	kind := llm.KindOf(err)
	if kind != llm.KindTimeout && kind != llm.KindConnection {
		return nil, err
	}

	g.logger.Warn("transport failure, retrying once",
		slog.String("kind", string(kind)),
		slog.Any("error", err),
	)

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(g.transportBackoff):
	}

	return g.client.Complete(ctx, llm.Request{
		System:      system,
		Prompt:      prompt,
		Temperature: 0,
	})
}

// classify maps llm and context errors onto stage errors.
func (g *SQLGenerator) classify(err error) error {
	if errors.Is(err, context.Canceled) {
		return &StageError{Kind: KindCancellation, Stage: StageGeneration, Message: "request cancelled", Err: err}
	}

	switch llm.KindOf(err) {
	case llm.KindTimeout:
		return &StageError{Kind: KindLLMTimeout, Stage: StageGeneration, Message: "language model timed out", Err: err}
	case llm.KindModel:
		return &StageError{Kind: KindLLMModel, Stage: StageGeneration, Message: "language model returned unusable output", Retryable: true, Err: err}
	default:
		return &StageError{Kind: KindLLMConnection, Stage: StageGeneration, Message: "language model unreachable", Err: err}
	}
}

var (
	codeFenceRe = regexp.MustCompile("(?s)```(?:sql)?\\s*(.*?)```")
	selectRe    = regexp.MustCompile(`(?is)\b(SELECT|WITH)\b`)
)

// StripSQLResponse extracts the SQL statement from a model response,
// removing code fences and any surrounding prose.
func StripSQLResponse(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}

	if m := codeFenceRe.FindStringSubmatch(text); m != nil {
		text = strings.TrimSpace(m[1])
	}

	loc := selectRe.FindStringIndex(text)
	if loc == nil {
		return ""
	}
	text = text[loc[0]:]

	// Keep a single statement.
	if idx := strings.Index(text, ";"); idx >= 0 {
		text = text[:idx]
	}

	return strings.TrimSpace(text)
}
