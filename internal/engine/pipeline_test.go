// Package engine tests the full pipeline with a scripted language model and
// a fake executor.
package engine

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rshinytools/sage/internal/cache"
	"github.com/rshinytools/sage/internal/llm"
	"github.com/rshinytools/sage/internal/warehouse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedLLM answers intent classification from a fixed map and SQL
// generation from a queue of scripted responses.
type scriptedLLM struct {
	mu          sync.Mutex
	intent      string
	sqlQueue    []string
	sqlErrQueue []error
	calls       int
}

func (s *scriptedLLM) Model() string { return "test-model" }

func (s *scriptedLLM) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++

	if strings.Contains(req.System, "Respond with ONLY one word") {
		return &llm.Response{Text: s.intent}, nil
	}
	if req.System == SystemContext {
		return &llm.Response{Text: "Hello! How can I help with the study data?"}, nil
	}

	if len(s.sqlErrQueue) > 0 {
		err := s.sqlErrQueue[0]
		s.sqlErrQueue = s.sqlErrQueue[1:]
		if err != nil {
			return nil, err
		}
	}
	if len(s.sqlQueue) == 0 {
		return &llm.Response{Text: "SELECT COUNT(DISTINCT USUBJID) FROM ADAE WHERE SAFFL = 'Y' LIMIT 100"}, nil
	}
	sql := s.sqlQueue[0]
	s.sqlQueue = s.sqlQueue[1:]
	return &llm.Response{Text: sql}, nil
}

// fakeExecutor returns scripted results or errors per call.
type fakeExecutor struct {
	mu       sync.Mutex
	results  []*warehouse.Result
	errs     []error
	executed []string
	delay    time.Duration
}

func (f *fakeExecutor) Execute(ctx context.Context, sql string) (*warehouse.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executed = append(f.executed, sql)

	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, &warehouse.ExecError{Kind: warehouse.KindTimeout, Message: "cancelled"}
		case <-time.After(f.delay):
		}
	}

	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}

	if len(f.results) > 0 {
		result := f.results[0]
		f.results = f.results[1:]
		return result, nil
	}
	return &warehouse.Result{
		Columns:  []string{"N"},
		Rows:     [][]any{{int64(42)}},
		RowCount: 1,
	}, nil
}

// recordingAuditor captures audit events.
type recordingAuditor struct {
	mu     sync.Mutex
	events []*PipelineResult
}

func (r *recordingAuditor) QueryCompleted(_ context.Context, _ Question, result *PipelineResult, _ QueryArtifacts) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, result)
}

func (r *recordingAuditor) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

type pipelineFixture struct {
	pipeline *Pipeline
	model    *scriptedLLM
	executor *fakeExecutor
	cache    *cache.QueryCache
	auditor  *recordingAuditor
}

func newPipelineFixture(t *testing.T, model *scriptedLLM, executor *fakeExecutor) *pipelineFixture {
	t.Helper()

	if model == nil {
		model = &scriptedLLM{intent: "CLINICAL_DATA"}
	}
	if executor == nil {
		executor = &fakeExecutor{}
	}

	tables := testTables()
	qc := cache.NewQueryCache(cache.Config{MaxSize: 100, DefaultTTL: time.Minute})
	auditor := &recordingAuditor{}

	pipeline := NewPipeline(PipelineConfig{
		Sanitizer:  NewSanitizer(SanitizerConfig{}),
		Classifier: NewIntentClassifier(IntentClassifierConfig{Client: model}),
		Extractor:  NewEntityExtractor(EntityExtractorConfig{Dictionary: testDictionary()}),
		Resolver:   NewTableResolver(TableResolverConfig{AvailableTables: tables}),
		Builder:    NewContextBuilder(ContextBuilderConfig{}),
		Generator:  NewSQLGenerator(SQLGeneratorConfig{Client: model, TransportBackoff: time.Millisecond}),
		Validator:  NewSQLValidator(SQLValidatorConfig{Registry: tables}),
		Executor:   executor,
		Scorer:     NewConfidenceScorer(ConfidenceScorerConfig{}),
		Cache:      qc,
		Auditor:    auditor,
	})

	return &pipelineFixture{
		pipeline: pipeline,
		model:    model,
		executor: executor,
		cache:    qc,
		auditor:  auditor,
	}
}

func ask(f *pipelineFixture, text, sessionID string) *PipelineResult {
	return f.pipeline.Ask(context.Background(), Question{
		Text:      text,
		SessionID: sessionID,
		UserID:    "u-1",
		Username:  "tester",
		Timestamp: time.Now(),
	})
}

func TestPipeline_GreetingShortCircuits(t *testing.T) {
	f := newPipelineFixture(t, &scriptedLLM{intent: "GREETING"}, nil)

	result := ask(f, "Hi", "")
	require.True(t, result.Success)
	assert.False(t, result.PipelineUsed)
	assert.Empty(t, result.SQL)
	assert.Nil(t, result.Data)
	assert.InDelta(t, 100.0, result.Confidence.Score, 1e-9)
	assert.Equal(t, ConfidenceHigh, result.Confidence.Level)

	// No clinical query audit event and no cache entry.
	assert.Equal(t, 0, f.auditor.count())
	assert.Equal(t, 0, f.cache.Len())
	// The SQL stages never ran.
	assert.NotContains(t, result.PipelineStages, StageGeneration)
	assert.NotContains(t, result.PipelineStages, StageExecution)
}

func TestPipeline_ClinicalQuestionEndToEnd(t *testing.T) {
	f := newPipelineFixture(t, nil, nil)

	result := ask(f, "How many patients had headaches?", "")
	require.True(t, result.Success, "error: %s at %s", result.Error, result.ErrorStage)
	assert.True(t, result.PipelineUsed)
	assert.Contains(t, result.SQL, "SELECT")
	assert.Regexp(t, `(?i)\bLIMIT\s+\d+`, result.SQL)
	assert.GreaterOrEqual(t, result.RowCount, 0)
	require.NotNil(t, result.Methodology)
	assert.Contains(t, []string{"ADAE", "AE"}, result.Methodology.TableUsed)
	assert.Equal(t, "SAFFL = 'Y'", result.Methodology.PopulationFilter)
	assert.Equal(t, 1, f.auditor.count())

	for _, stage := range []string{
		StageSanitization, StageIntent, StageEntities, StageResolution,
		StageContext, StageGeneration, StageValidation, StageExecution,
		StageScoring, StageFormatting,
	} {
		timing, ok := result.PipelineStages[stage]
		require.True(t, ok, "missing stage %s", stage)
		assert.True(t, timing.Success, "stage %s", stage)
	}
}

func TestPipeline_PHIBlockedAtSanitization(t *testing.T) {
	f := newPipelineFixture(t, nil, nil)

	result := ask(f, "Show patient with SSN 123-45-6789", "")
	require.False(t, result.Success)
	assert.Equal(t, StageSanitization, result.ErrorStage)
	assert.Equal(t, string(KindSanitization), result.Error)
	assert.Contains(t, strings.ToLower(result.Answer), "personal data")
	assert.Equal(t, 0.0, result.Confidence.Score)
	assert.Equal(t, ConfidenceVeryLow, result.Confidence.Level)

	// No downstream stage ran.
	assert.Len(t, result.PipelineStages, 1)
	assert.Contains(t, result.PipelineStages, StageSanitization)
	// The model was never called.
	assert.Equal(t, 0, f.model.calls)
}

func TestPipeline_SQLInjectionBlockedAtSanitization(t *testing.T) {
	f := newPipelineFixture(t, nil, nil)

	result := ask(f, "Show data; DROP TABLE patients", "")
	require.False(t, result.Success)
	assert.Equal(t, StageSanitization, result.ErrorStage)
}

func TestPipeline_CacheHitOnRepeat(t *testing.T) {
	f := newPipelineFixture(t, nil, nil)

	first := ask(f, "How many had anemia?", "sess-1")
	require.True(t, first.Success)
	assert.False(t, first.CacheHit)

	start := time.Now()
	second := ask(f, "How many had anemia?", "sess-1")
	elapsed := time.Since(start)

	require.True(t, second.Success)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.SQL, second.SQL)
	assert.Less(t, elapsed, 500*time.Millisecond)

	// Case, whitespace and trailing punctuation do not defeat the cache.
	third := ask(f, "  how many had ANEMIA  ", "sess-1")
	assert.True(t, third.CacheHit)
}

func TestPipeline_CacheIsSessionScoped(t *testing.T) {
	f := newPipelineFixture(t, nil, nil)

	first := ask(f, "How many had anemia?", "sess-1")
	require.True(t, first.Success)

	second := ask(f, "How many had anemia?", "sess-2")
	assert.False(t, second.CacheHit, "different session must be a cache miss")
}

func TestPipeline_SpellingVariantsReachSQL(t *testing.T) {
	model := &scriptedLLM{
		intent: "CLINICAL_DATA",
		sqlQueue: []string{
			"SELECT COUNT(DISTINCT USUBJID) FROM ADAE WHERE AEDECOD IN ('ANAEMIA','ANEMIA') AND SAFFL = 'Y' LIMIT 100",
		},
	}
	f := newPipelineFixture(t, model, nil)

	result := ask(f, "Count cases of anaemia", "")
	require.True(t, result.Success)
	assert.Contains(t, result.SQL, "'ANAEMIA'")
	assert.Contains(t, result.SQL, "'ANEMIA'")
}

func TestPipeline_SelfCorrectionOnValidationFailure(t *testing.T) {
	model := &scriptedLLM{
		intent: "CLINICAL_DATA",
		sqlQueue: []string{
			"SELECT * FROM UNKNOWN_TABLE",
			"SELECT COUNT(*) FROM ADAE LIMIT 10",
		},
	}
	f := newPipelineFixture(t, model, nil)

	result := ask(f, "How many adverse events?", "")
	require.True(t, result.Success)
	assert.Contains(t, result.SQL, "ADAE")
}

func TestPipeline_SelfCorrectionOnExecutorError(t *testing.T) {
	executor := &fakeExecutor{
		errs: []error{
			&warehouse.ExecError{Kind: warehouse.KindUnknownIdentifier, Message: `Referenced column "BAD" not found`},
			nil,
		},
	}
	f := newPipelineFixture(t, nil, executor)

	result := ask(f, "How many adverse events?", "")
	require.True(t, result.Success)
	assert.Len(t, f.executor.executed, 2, "failed execution plus corrected retry")
}

func TestPipeline_TerminalExecutorErrorNotRetried(t *testing.T) {
	executor := &fakeExecutor{
		errs: []error{
			&warehouse.ExecError{Kind: warehouse.KindTimeout, Message: "query exceeded the execution time limit"},
		},
	}
	f := newPipelineFixture(t, nil, executor)

	result := ask(f, "How many adverse events?", "")
	require.False(t, result.Success)
	assert.Equal(t, StageExecution, result.ErrorStage)
	assert.Equal(t, string(KindSQLExecution), result.Error)
	assert.Len(t, f.executor.executed, 1, "timeouts are terminal")
	assert.NotContains(t, result.Answer, "exceeded the execution time limit")
}

func TestPipeline_CorrectionBudgetExhausted(t *testing.T) {
	model := &scriptedLLM{
		intent: "CLINICAL_DATA",
		sqlQueue: []string{
			"SELECT * FROM NOPE1",
			"SELECT * FROM NOPE2",
			"SELECT * FROM NOPE3",
		},
	}
	f := newPipelineFixture(t, model, nil)

	result := ask(f, "How many adverse events?", "")
	require.False(t, result.Success)
	assert.Equal(t, string(KindSQLValidation), result.Error)
	assert.Equal(t, StageValidation, result.ErrorStage)
}

func TestPipeline_FailedResponsesNotCached(t *testing.T) {
	executor := &fakeExecutor{
		errs: []error{
			&warehouse.ExecError{Kind: warehouse.KindTimeout, Message: "too slow"},
		},
	}
	f := newPipelineFixture(t, nil, executor)

	result := ask(f, "How many adverse events?", "")
	require.False(t, result.Success)
	assert.Equal(t, 0, f.cache.Len())
}

func TestPipeline_LLMTimeoutIsTerminal(t *testing.T) {
	model := &scriptedLLM{
		intent: "CLINICAL_DATA",
		sqlErrQueue: []error{
			&llm.Error{Kind: llm.KindTimeout, Message: "deadline exceeded"},
			&llm.Error{Kind: llm.KindTimeout, Message: "deadline exceeded"},
		},
	}
	f := newPipelineFixture(t, model, nil)

	result := ask(f, "How many adverse events?", "")
	require.False(t, result.Success)
	assert.Equal(t, string(KindLLMTimeout), result.Error)
}

func TestPipeline_CancellationSurfacesAsCancelled(t *testing.T) {
	f := newPipelineFixture(t, nil, &fakeExecutor{delay: 200 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	result := f.pipeline.Ask(ctx, Question{Text: "How many adverse events?", UserID: "u-1"})
	require.False(t, result.Success)
	assert.Equal(t, string(KindCancellation), result.Error)
	assert.Equal(t, StageCancelledLabel, result.ErrorStage)
}

func TestPipeline_FailureAlwaysNamesStage(t *testing.T) {
	cases := []*pipelineFixture{
		newPipelineFixture(t, nil, &fakeExecutor{errs: []error{
			&warehouse.ExecError{Kind: warehouse.KindOutOfMemory, Message: "oom"},
		}}),
	}
	questions := []string{"How many adverse events?"}

	for i, f := range cases {
		result := ask(f, questions[i], "")
		if !result.Success {
			assert.NotEmpty(t, result.ErrorStage)
			assert.NotEmpty(t, result.Error)
		}
	}
}

func TestPipeline_AuditEventPerTerminalOutcome(t *testing.T) {
	f := newPipelineFixture(t, nil, nil)

	ask(f, "How many adverse events?", "")
	ask(f, "Show patient with SSN 123-45-6789", "")

	assert.Equal(t, 2, f.auditor.count())
}
