// Package engine implements the SAGE inference pipeline.
//
// This file orchestrates the nine-stage request path. A cache lookup sits
// between sanitization and intent classification; a cache store sits between
// scoring and formatting. The self-correction loop wraps generate -> validate
// -> execute: on a retryable failure the next attempt re-enters generation
// with the failure text folded into a correction prompt, bounded by the
// configured attempt budget.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/rshinytools/sage/internal/cache"
	"github.com/rshinytools/sage/internal/llm"
	"github.com/rshinytools/sage/internal/warehouse"
)

// Executor runs validated SQL against the column store.
type Executor interface {
	Execute(ctx context.Context, sql string) (*warehouse.Result, error)
}

// QueryArtifacts carries the intermediate products of one clinical query for
// the audit trail.
type QueryArtifacts struct {
	SanitizedQuestion string
	Intent            Intent
	Entities          []EntityMatch
	Prompt            string
	GeneratedSQL      string
	ModelID           string
	TablesAccessed    []string
	ColumnsUsed       []string
}

// QueryAuditor receives one event per terminal outcome of a clinical query.
type QueryAuditor interface {
	QueryCompleted(ctx context.Context, question Question, result *PipelineResult, artifacts QueryArtifacts)
}

// EventSink receives query lifecycle notifications. Publishing failures
// never fail the request.
type EventSink interface {
	QueryStarted(ctx context.Context, question Question)
	QueryCompleted(ctx context.Context, question Question, result *PipelineResult)
}

// Pipeline is the nine-stage inference path. All dependencies are explicit
// values constructed at startup and threaded in here; the pipeline itself
// keeps no per-request state between calls.
type Pipeline struct {
	sanitizer  *Sanitizer
	classifier *IntentClassifier
	extractor  *EntityExtractor
	resolver   *TableResolver
	builder    *ContextBuilder
	generator  *SQLGenerator
	validator  *SQLValidator
	executor   Executor
	scorer     *ConfidenceScorer
	formatter  *ResponseFormatter
	humanizer  *ErrorHumanizer

	cache          *cache.QueryCache
	cacheTTL       time.Duration
	auditor        QueryAuditor
	events         EventSink
	maxCorrections int
	logger         *slog.Logger
}

// PipelineConfig wires the pipeline's dependencies.
type PipelineConfig struct {
	Sanitizer  *Sanitizer
	Classifier *IntentClassifier
	Extractor  *EntityExtractor
	Resolver   *TableResolver
	Builder    *ContextBuilder
	Generator  *SQLGenerator
	Validator  *SQLValidator
	Executor   Executor
	Scorer     *ConfidenceScorer

	// Cache is optional; nil disables response caching.
	Cache *cache.QueryCache

	// CacheTTL overrides the cache default when > 0.
	CacheTTL time.Duration

	// Auditor is optional; nil disables query auditing.
	Auditor QueryAuditor

	// Events is optional; nil disables lifecycle events.
	Events EventSink

	// MaxCorrections bounds the self-correction loop. Default 2.
	MaxCorrections int

	Logger *slog.Logger
}

// NewPipeline creates a pipeline from its dependencies.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	if cfg.MaxCorrections == 0 {
		cfg.MaxCorrections = 2
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Pipeline{
		sanitizer:      cfg.Sanitizer,
		classifier:     cfg.Classifier,
		extractor:      cfg.Extractor,
		resolver:       cfg.Resolver,
		builder:        cfg.Builder,
		generator:      cfg.Generator,
		validator:      cfg.Validator,
		executor:       cfg.Executor,
		scorer:         cfg.Scorer,
		formatter:      NewResponseFormatter(),
		humanizer:      NewErrorHumanizer(),
		cache:          cfg.Cache,
		cacheTTL:       cfg.CacheTTL,
		auditor:        cfg.Auditor,
		events:         cfg.Events,
		maxCorrections: cfg.MaxCorrections,
		logger:         cfg.Logger.With(slog.String("component", "pipeline")),
	}
}

// run tracks one request through the pipeline.
type run struct {
	question  Question
	start     time.Time
	stages    map[string]StageTiming
	artifacts QueryArtifacts
}

// Ask answers one question. It never returns an error: every failure is
// shaped into a PipelineResult with a humanised message, the taxonomy tag
// and the first failing stage.
func (p *Pipeline) Ask(ctx context.Context, question Question) *PipelineResult {
	r := &run{
		question: question,
		start:    time.Now(),
		stages:   make(map[string]StageTiming),
	}

	if p.events != nil {
		p.events.QueryStarted(ctx, question)
	}

	result := p.ask(ctx, r)
	result.TotalTimeMS = time.Since(r.start).Milliseconds()
	result.PipelineStages = r.stages

	if p.events != nil {
		p.events.QueryCompleted(ctx, question, result)
	}

	return result
}

// ask runs the stage sequence. Separated from Ask so every return path gets
// uniform timing and event treatment.
func (p *Pipeline) ask(ctx context.Context, r *run) *PipelineResult {
	// Stage 1: sanitize. Rejection is terminal; nothing downstream runs.
	var sanitized SanitizationResult
	p.timeStage(r, StageSanitization, func() error {
		sanitized = p.sanitizer.Sanitize(r.question.Text)
		if !sanitized.IsSafe {
			return NewStageError(KindSanitization, StageSanitization, sanitized.BlockedReason)
		}
		return nil
	})
	if !sanitized.IsSafe {
		return p.fail(ctx, r, NewStageError(KindSanitization, StageSanitization, sanitized.BlockedReason))
	}
	r.artifacts.SanitizedQuestion = sanitized.SanitizedText

	// Cache lookup sits between sanitize and classify.
	if p.cache != nil {
		if entry, ok := p.cache.Get(sanitized.SanitizedText, r.question.SessionID); ok {
			var cached PipelineResult
			if err := json.Unmarshal(entry.Value, &cached); err == nil {
				cached.CacheHit = true
				p.logger.Info("cache hit",
					slog.String("session_id", r.question.SessionID),
				)
				return &cached
			}
		}
	}

	if err := p.cancelled(ctx); err != nil {
		return p.fail(ctx, r, err)
	}

	// Stage 2: classify intent.
	var intent Intent
	stageErr := p.timeStage(r, StageIntent, func() error {
		var err error
		intent, err = p.classifier.Classify(ctx, sanitized.SanitizedText)
		if err != nil {
			return p.mapLLMError(err, StageIntent, KindClassification)
		}
		return nil
	})
	if stageErr != nil {
		return p.fail(ctx, r, stageErr)
	}
	r.artifacts.Intent = intent

	// Non-clinical intent short-circuits into a conversational response and
	// never touches the SQL stages or the cache.
	if !intent.IsClinical() {
		return p.conversational(ctx, r, sanitized.SanitizedText, intent)
	}

	// Stage 3: extract entities.
	var entities []EntityMatch
	p.timeStage(r, StageEntities, func() error {
		entities = p.extractor.Extract(sanitized.SanitizedText)
		return nil
	})
	r.artifacts.Entities = entities

	// Stage 4: resolve table and population.
	var resolution *TableResolution
	stageErr = p.timeStage(r, StageResolution, func() error {
		var err error
		resolution, err = p.resolver.Resolve(ResolveRequest{
			Question: sanitized.SanitizedText,
			Entities: entities,
		})
		return err
	})
	if stageErr != nil {
		return p.fail(ctx, r, stageErr)
	}
	r.artifacts.TablesAccessed = []string{resolution.SelectedTable}

	// Stage 5: build the prompt.
	var llmCtx *LLMContext
	stageErr = p.timeStage(r, StageContext, func() error {
		var err error
		llmCtx, err = p.builder.Build(sanitized.SanitizedText, resolution, entities)
		return err
	})
	if stageErr != nil {
		return p.fail(ctx, r, stageErr)
	}
	r.artifacts.Prompt = llmCtx.Prompt()

	// Stages 6-8: generate -> validate -> execute, wrapped by the
	// self-correction loop.
	generated, validation, execution, stageErr := p.generateAndExecute(ctx, r, sanitized.SanitizedText, llmCtx)
	if stageErr != nil {
		return p.fail(ctx, r, stageErr)
	}

	// Stage 9: score.
	var score ConfidenceScore
	p.timeStage(r, StageScoring, func() error {
		score = p.scorer.Score(ScoreInput{
			Entities:           entities,
			Validation:         validation,
			Execution:          execution,
			ExecutionSucceeded: true,
		})
		return nil
	})

	// Stage 10: format.
	var result *PipelineResult
	p.timeStage(r, StageFormatting, func() error {
		result = &PipelineResult{
			Success:      true,
			Query:        r.question.Text,
			Answer:       p.formatter.Answer(sanitized.SanitizedText, resolution, execution),
			Intent:       intent,
			PipelineUsed: true,
			SQL:          validation.ValidatedSQL,
			Data:         execution,
			RowCount:     execution.RowCount,
			Confidence:   score,
			Methodology:  p.formatter.Methodology(resolution),
			Warnings:     validation.Warnings,
		}
		return nil
	})

	r.artifacts.GeneratedSQL = validation.ValidatedSQL
	r.artifacts.ModelID = generated.ModelID
	r.artifacts.ColumnsUsed = validation.ColumnsVerified

	// Cache store sits between score and format output: only successful
	// clinical responses above very_low confidence are memoised.
	if p.cache != nil && score.Level != ConfidenceVeryLow {
		if payload, err := json.Marshal(result); err == nil {
			p.cache.Set(sanitized.SanitizedText, payload, r.question.SessionID, p.cacheTTL)
		}
	}

	p.audit(ctx, r, result)
	return result
}

// generateAndExecute runs the self-correction loop. Each attempt checks
// cancellation first; retryable validator and executor failures feed their
// error text into the next correction prompt until the budget is spent.
func (p *Pipeline) generateAndExecute(ctx context.Context, r *run, question string, llmCtx *LLMContext) (*GeneratedSQL, *ValidationResult, *warehouse.Result, *StageError) {
	var lastSQL, lastErrText string

	maxAttempts := p.maxCorrections + 1
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := p.cancelled(ctx); err != nil {
			return nil, nil, nil, err
		}

		prompt := llmCtx.Prompt()
		if attempt > 1 {
			prompt = p.builder.CorrectionPrompt(question, lastSQL, lastErrText)
		}

		// Stage 6: generate.
		var generated *GeneratedSQL
		genErr := p.timeStage(r, StageGeneration, func() error {
			var err error
			generated, err = p.generator.Generate(ctx, llmCtx.SystemPrompt, prompt, attempt)
			return err
		})
		if genErr != nil {
			if genErr.Retryable && attempt < maxAttempts {
				lastErrText = genErr.Message
				p.logger.Warn("generation failed, correcting",
					slog.Int("attempt", attempt),
					slog.String("error", genErr.Message),
				)
				continue
			}
			return nil, nil, nil, genErr
		}
		lastSQL = generated.SQLText

		// Stage 7: validate.
		var validation *ValidationResult
		valErr := p.timeStage(r, StageValidation, func() error {
			validation = p.validator.Validate(generated.SQLText)
			if !validation.IsValid {
				return &StageError{
					Kind:      KindSQLValidation,
					Stage:     StageValidation,
					Message:   joinErrors(validation.Errors),
					Retryable: true,
				}
			}
			return nil
		})
		if valErr != nil {
			if attempt < maxAttempts {
				lastErrText = valErr.Message
				p.logger.Warn("validation rejected SQL, correcting",
					slog.Int("attempt", attempt),
					slog.String("error", valErr.Message),
				)
				continue
			}
			return nil, nil, nil, valErr
		}

		// Stage 8: execute.
		var execution *warehouse.Result
		execErr := p.timeStage(r, StageExecution, func() error {
			var err error
			execution, err = p.executor.Execute(ctx, validation.ValidatedSQL)
			if err != nil {
				var we *warehouse.ExecError
				retryable := errors.As(err, &we) && we.Retryable()
				return &StageError{
					Kind:      KindSQLExecution,
					Stage:     StageExecution,
					Message:   err.Error(),
					Retryable: retryable,
					Err:       err,
				}
			}
			return nil
		})
		if execErr != nil {
			if cerr := p.cancelled(ctx); cerr != nil {
				return nil, nil, nil, cerr
			}
			if execErr.Retryable && attempt < maxAttempts {
				lastErrText = execErr.Message
				p.logger.Warn("execution failed, correcting",
					slog.Int("attempt", attempt),
					slog.String("error", execErr.Message),
				)
				continue
			}
			return nil, nil, nil, execErr
		}

		return generated, validation, execution, nil
	}

	return nil, nil, nil, NewStageError(KindSQLValidation, StageValidation, "correction budget exhausted")
}

// conversational answers a non-clinical intent. The response bypasses the
// SQL stages, is never cached, and carries full confidence.
func (p *Pipeline) conversational(ctx context.Context, r *run, question string, intent Intent) *PipelineResult {
	var answer string
	stageErr := p.timeStage(r, StageFormatting, func() error {
		var err error
		answer, err = p.classifier.ConversationalReply(ctx, question, intent)
		if err != nil {
			return p.mapLLMError(err, StageFormatting, KindClassification)
		}
		return nil
	})
	if stageErr != nil {
		return p.fail(ctx, r, stageErr)
	}

	return &PipelineResult{
		Success:      true,
		Query:        r.question.Text,
		Answer:       answer,
		Intent:       intent,
		PipelineUsed: false,
		Confidence:   FullScore(),
	}
}

// fail shapes a terminal failure: humanised prose, taxonomy tag, first
// failing stage and zeroed confidence.
func (p *Pipeline) fail(ctx context.Context, r *run, stageErr *StageError) *PipelineResult {
	humanized := p.humanizer.Humanize(stageErr)

	answer := humanized.Message
	for _, s := range humanized.Suggestions {
		answer += "\n- " + s
	}

	errorStage := stageErr.Stage
	if stageErr.Kind == KindCancellation {
		errorStage = StageCancelledLabel
	}

	result := &PipelineResult{
		Success:      false,
		Query:        r.question.Text,
		Answer:       answer,
		Intent:       r.artifacts.Intent,
		PipelineUsed: true,
		Confidence:   ZeroScore(),
		Error:        string(stageErr.Kind),
		ErrorStage:   errorStage,
	}

	p.logger.Warn("pipeline failed",
		slog.String("kind", string(stageErr.Kind)),
		slog.String("stage", errorStage),
		slog.String("session_id", r.question.SessionID),
	)

	p.audit(ctx, r, result)
	return result
}

// audit forwards the terminal outcome to the audit service.
func (p *Pipeline) audit(ctx context.Context, r *run, result *PipelineResult) {
	if p.auditor == nil {
		return
	}
	p.auditor.QueryCompleted(ctx, r.question, result, r.artifacts)
}

// timeStage runs one stage and records its timing and outcome. The returned
// error, if any, is the stage's StageError.
func (p *Pipeline) timeStage(r *run, name string, fn func() error) *StageError {
	start := time.Now()
	err := fn()
	timing := StageTiming{
		Success: err == nil,
		TimeMS:  time.Since(start).Milliseconds(),
	}

	var stageErr *StageError
	if err != nil {
		stageErr = AsStageError(err, name)
		timing.Error = string(stageErr.Kind)
	}

	// Correction attempts overwrite the stage entry; the recorded timing is
	// the most recent attempt's.
	r.stages[name] = timing
	return stageErr
}

// cancelled converts context cancellation into the pipeline's typed error.
func (p *Pipeline) cancelled(ctx context.Context) *StageError {
	if err := ctx.Err(); err != nil {
		return &StageError{
			Kind:    KindCancellation,
			Stage:   StageCancelledLabel,
			Message: "request cancelled",
			Err:     err,
		}
	}
	return nil
}

// mapLLMError lifts llm transport errors into stage errors, using fallback
// for non-transport failures.
func (p *Pipeline) mapLLMError(err error, stage string, fallback ErrorKind) *StageError {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &StageError{Kind: KindCancellation, Stage: stage, Message: "request cancelled", Err: err}
	}

	var le *llm.Error
	if errors.As(err, &le) {
		switch le.Kind {
		case llm.KindTimeout:
			return &StageError{Kind: KindLLMTimeout, Stage: stage, Message: "language model timed out", Err: err}
		case llm.KindConnection:
			return &StageError{Kind: KindLLMConnection, Stage: stage, Message: "language model unreachable", Err: err}
		case llm.KindModel:
			return &StageError{Kind: KindLLMModel, Stage: stage, Message: "language model returned unusable output", Err: err}
		}
	}

	return &StageError{Kind: fallback, Stage: stage, Message: err.Error(), Err: err}
}

// joinErrors joins validator findings for the correction prompt.
func joinErrors(errs []string) string {
	if len(errs) == 0 {
		return "validation failed"
	}
	out := errs[0]
	for _, e := range errs[1:] {
		out += "; " + e
	}
	return out
}
