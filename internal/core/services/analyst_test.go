package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stevenmcsorley/sec-filing-intelligence/internal/adapters/driven/metrics"
	"github.com/stevenmcsorley/sec-filing-intelligence/internal/adapters/driven/storage/memory"
	"github.com/stevenmcsorley/sec-filing-intelligence/internal/core/domain"
	"github.com/stevenmcsorley/sec-filing-intelligence/internal/core/ports/driven"
)

const entityJSON = `{"entities": [
	{"type": "executive_change", "entity": "CFO resignation", "confidence": 0.9,
	 "evidence": "announced the resignation of its chief financial officer"}
]}`

type analystFixture struct {
	chunks *memory.Queue
	store  *mockFilingStore
	llm    *mockCompletion
	ledger *memory.Ledger
	sink   *metrics.MemSink
	a      *Analyst

	filingID  int64
	sectionID int64
}

func newAnalystFixture(t *testing.T, allotments map[string]int, opts domain.AnalysisOptions) *analystFixture {
	t.Helper()
	f := &analystFixture{
		chunks: memory.NewQueue(50 * time.Millisecond),
		store:  newMockFilingStore(),
		llm:    &mockCompletion{},
		ledger: memory.NewLedger(allotments),
		sink:   metrics.NewMemSink(),
	}
	handlers := []AnalysisHandler{
		NewSummaryHandler(opts),
		NewEntityHandler(f.store, opts),
	}
	budget := domain.BudgetOptions{Cooldown: 5 * time.Millisecond, PromptOverheadTokens: 300}
	f.a = NewAnalyst(f.chunks, f.store, f.llm, f.ledger, f.sink, handlers, budget, 1, 10*time.Millisecond)

	ctx := context.Background()
	filing, err := f.store.UpsertFiling(ctx, domain.Filing{
		CIK:             testCIK,
		AccessionNumber: testAccession,
		Status:          domain.FilingStatusParsed,
	})
	require.NoError(t, err)
	f.filingID = filing.ID

	sections, err := f.store.ReplaceSections(ctx, filing.ID, []domain.Section{
		{Ordinal: 0, Title: "Item 5.02", Content: "The CFO resigned.", Generation: 1},
	})
	require.NoError(t, err)
	f.sectionID = sections[0].ID
	return f
}

func testChunkJob() domain.ChunkJob {
	return domain.ChunkJob{
		JobID:           "job-1",
		AccessionNumber: testAccession,
		SectionOrdinal:  0,
		SectionTitle:    "Item 5.02",
		ChunkIndex:      0,
		Content:         "The company announced the resignation of its chief financial officer.",
		EstimatedTokens: 100,
	}
}

func (f *analystFixture) deliver(t *testing.T, job domain.ChunkJob) *driven.QueueMessage {
	t.Helper()
	ctx := context.Background()
	payload, err := job.Encode()
	require.NoError(t, err)
	_, err = f.chunks.Enqueue(ctx, payload, job.DedupKey())
	require.NoError(t, err)
	msg, err := f.chunks.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, msg)
	return msg
}

func defaultAnalysisOptions() domain.AnalysisOptions {
	return domain.AnalysisOptions{
		Workers:         1,
		Model:           "test-model",
		MaxOutputTokens: 200,
		MaxRetries:      2,
		BackoffBase:     time.Millisecond,
	}
}

func TestAnalystRunsBothHandlers(t *testing.T) {
	f := newAnalystFixture(t, nil, defaultAnalysisOptions())
	f.llm.results = []*driven.CompletionResult{
		{Content: "The CFO resigned effective immediately.", Model: "test-model", PromptTokens: 120, CompletionTokens: 40, TotalTokens: 160},
		{Content: entityJSON, Model: "test-model", PromptTokens: 130, CompletionTokens: 60, TotalTokens: 190},
	}
	ctx := context.Background()

	msg := f.deliver(t, testChunkJob())
	f.a.handle(ctx, msg)

	assert.Equal(t, 2, f.llm.callCount())
	assert.Equal(t, 2, f.store.analysisCount())
	require.Len(t, f.llm.reqs, 2)
	assert.Equal(t, "test-model", f.llm.reqs[0].Model)
	assert.Equal(t, "test-model", f.llm.reqs[1].Model)

	summaries, err := f.store.ListAnalyses(ctx, f.filingID, domain.AnalysisKindSummary)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, "The CFO resigned effective immediately.", summaries[0].Content)
	assert.Equal(t, f.sectionID, summaries[0].SectionID)
	assert.Equal(t, 160, summaries[0].TotalTokens)

	extractions, err := f.store.ListAnalyses(ctx, f.filingID, domain.AnalysisKindEntities)
	require.NoError(t, err)
	require.Len(t, extractions, 1)
	entities := f.store.entities[extractions[0].ID]
	require.Len(t, entities, 1)
	assert.Equal(t, domain.EntityExecutiveChange, entities[0].Type)
	assert.Equal(t, "CFO resignation", entities[0].Entity)
	assert.InDelta(t, 0.9, entities[0].Confidence, 0.001)

	// Reconciled to actual usage.
	summaryUsage, err := f.ledger.Usage(ctx, string(domain.AnalysisKindSummary))
	require.NoError(t, err)
	assert.Equal(t, 160, summaryUsage.Consumed)
	entityUsage, err := f.ledger.Usage(ctx, string(domain.AnalysisKindEntities))
	require.NoError(t, err)
	assert.Equal(t, 190, entityUsage.Consumed)

	// Acked: nothing redelivered.
	_, err = f.chunks.SweepExpired(ctx, 100)
	require.NoError(t, err)
	depth, err := f.chunks.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, depth)
}

func TestAnalystBudgetDeferral(t *testing.T) {
	// Estimate is 100 + 300 overhead + 200 max output = 600 per call.
	allotments := map[string]int{string(domain.AnalysisKindSummary): 500}
	f := newAnalystFixture(t, allotments, defaultAnalysisOptions())
	ctx := context.Background()

	msg := f.deliver(t, testChunkJob())
	f.a.handle(ctx, msg)

	// No provider call was made and the job stays queued for later.
	assert.Equal(t, 0, f.llm.callCount())
	assert.Equal(t, 1.0, f.sink.Counter("budget.deferrals", "kind:"+string(domain.AnalysisKindSummary)))

	// Unacked: once the visibility timeout lapses the sweep redelivers.
	require.Eventually(t, func() bool {
		swept, err := f.chunks.SweepExpired(ctx, 100)
		return err == nil && swept == 1
	}, time.Second, 5*time.Millisecond)

	usage, err := f.ledger.Usage(ctx, string(domain.AnalysisKindSummary))
	require.NoError(t, err)
	assert.Equal(t, 0, usage.Consumed)
}

func TestAnalystRetryableFailureReleasesBudget(t *testing.T) {
	f := newAnalystFixture(t, nil, defaultAnalysisOptions())
	retryable := fmt.Errorf("%w: 503", domain.ErrRetryable)
	f.llm.errs = []error{retryable, retryable, retryable}
	ctx := context.Background()

	msg := f.deliver(t, testChunkJob())
	f.a.handle(ctx, msg)

	// MaxRetries 2 means three attempts for the first handler, then stop.
	assert.Equal(t, 3, f.llm.callCount())
	assert.Equal(t, 0, f.store.analysisCount())

	usage, err := f.ledger.Usage(ctx, string(domain.AnalysisKindSummary))
	require.NoError(t, err)
	assert.Equal(t, 0, usage.Consumed)

	// Unacked: the sweep redelivers it after the visibility timeout.
	require.Eventually(t, func() bool {
		swept, err := f.chunks.SweepExpired(ctx, 100)
		return err == nil && swept == 1
	}, time.Second, 5*time.Millisecond)
}

func TestAnalystFatalFailureStillRunsOtherHandlers(t *testing.T) {
	f := newAnalystFixture(t, nil, defaultAnalysisOptions())
	f.llm.errs = []error{fmt.Errorf("%w: 400 bad request", domain.ErrFatal), nil}
	f.llm.results = []*driven.CompletionResult{nil, {
		Content: entityJSON, Model: "test-model", TotalTokens: 150,
	}}
	ctx := context.Background()

	msg := f.deliver(t, testChunkJob())
	f.a.handle(ctx, msg)

	assert.Equal(t, 2, f.llm.callCount())
	assert.Equal(t, 1, f.store.analysisCount())
	assert.Equal(t, 1.0, f.sink.Counter("analysis.failures", "kind:"+string(domain.AnalysisKindSummary)))

	// Both handlers reached a terminal outcome, so the job is acked.
	_, err := f.chunks.SweepExpired(ctx, 100)
	require.NoError(t, err)
	depth, err := f.chunks.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, depth)
}

func TestAnalystRedeliveryIsIdempotent(t *testing.T) {
	f := newAnalystFixture(t, nil, defaultAnalysisOptions())
	ctx := context.Background()

	msg := f.deliver(t, testChunkJob())
	f.a.handle(ctx, msg)
	require.Equal(t, 2, f.store.analysisCount())

	msg2 := f.deliver(t, testChunkJob())
	f.a.handle(ctx, msg2)

	// Both handlers were skipped: no fresh provider calls, no fresh
	// ledger charges, record count stable.
	assert.Equal(t, 2, f.store.analysisCount())
	assert.Equal(t, 2, f.llm.callCount())
	usage, err := f.ledger.Usage(ctx, string(domain.AnalysisKindSummary))
	require.NoError(t, err)
	assert.Equal(t, 150, usage.Consumed)
}

func TestAnalystRedeliverySkipsCompletedHandler(t *testing.T) {
	f := newAnalystFixture(t, nil, defaultAnalysisOptions())
	retryable := fmt.Errorf("%w: 503", domain.ErrRetryable)
	f.llm.results = []*driven.CompletionResult{
		{Content: "summary text", Model: "test-model", TotalTokens: 160},
	}
	f.llm.errs = []error{nil, retryable, retryable, retryable}
	ctx := context.Background()

	msg := f.deliver(t, testChunkJob())
	f.a.handle(ctx, msg)

	// The summary landed; entity extraction spent its retries and left
	// the job for redelivery.
	require.Equal(t, 4, f.llm.callCount())
	require.Equal(t, 1, f.store.analysisCount())
	require.Eventually(t, func() bool {
		swept, err := f.chunks.SweepExpired(ctx, 100)
		return err == nil && swept == 1
	}, time.Second, 5*time.Millisecond)

	msg2, err := f.chunks.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, msg2)
	f.a.handle(ctx, msg2)

	// Only the entity handler went back to the provider; the summary was
	// neither re-sent nor re-charged.
	assert.Equal(t, 5, f.llm.callCount())
	assert.Equal(t, 2, f.store.analysisCount())
	usage, err := f.ledger.Usage(ctx, string(domain.AnalysisKindSummary))
	require.NoError(t, err)
	assert.Equal(t, 160, usage.Consumed)

	// Every handler is terminal now, so the job is acked.
	_, err = f.chunks.SweepExpired(ctx, 100)
	require.NoError(t, err)
	depth, err := f.chunks.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, depth)
}

func TestAnalystStaleSectionDropsJob(t *testing.T) {
	f := newAnalystFixture(t, nil, defaultAnalysisOptions())
	ctx := context.Background()

	job := testChunkJob()
	job.SectionOrdinal = 7
	msg := f.deliver(t, job)
	f.a.handle(ctx, msg)

	assert.Equal(t, 0, f.llm.callCount())
	_, err := f.chunks.SweepExpired(ctx, 100)
	require.NoError(t, err)
	depth, err := f.chunks.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, depth)
}

func TestAnalystEndToEnd(t *testing.T) {
	f := newAnalystFixture(t, nil, defaultAnalysisOptions())
	f.llm.results = []*driven.CompletionResult{
		{Content: "summary", Model: "test-model", TotalTokens: 100},
		{Content: `{"entities": []}`, Model: "test-model", TotalTokens: 100},
	}
	ctx := context.Background()

	job := testChunkJob()
	payload, err := job.Encode()
	require.NoError(t, err)
	_, err = f.chunks.Enqueue(ctx, payload, job.DedupKey())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- f.a.Start(ctx)
	}()

	require.Eventually(t, func() bool {
		return f.store.analysisCount() == 2
	}, 2*time.Second, 10*time.Millisecond)

	f.a.Stop()
	require.NoError(t, <-done)
	assert.Equal(t, 2.0, f.sink.Counter("analysis.completed", "kind:"+string(domain.AnalysisKindSummary))+
		f.sink.Counter("analysis.completed", "kind:"+string(domain.AnalysisKindEntities)))
}

func TestHandlersCarryTheirOwnModel(t *testing.T) {
	summary := NewSummaryHandler(domain.AnalysisOptions{Model: "llama-3.3-70b-versatile"})
	entities := NewEntityHandler(newMockFilingStore(), domain.AnalysisOptions{Model: "llama-3.1-8b-instant"})

	job := testChunkJob()
	assert.Equal(t, "llama-3.3-70b-versatile", summary.BuildRequest(job).Model)
	assert.Equal(t, "llama-3.1-8b-instant", entities.BuildRequest(job).Model)
}

func TestParseEntityResponse(t *testing.T) {
	entities, ok := parseEntityResponse(entityJSON)
	require.True(t, ok)
	require.Len(t, entities, 1)
	assert.Equal(t, "executive_change", entities[0].Type)

	fenced := "```json\n" + entityJSON + "\n```"
	entities, ok = parseEntityResponse(fenced)
	require.True(t, ok)
	assert.Len(t, entities, 1)

	bare := `[{"type": "litigation", "entity": "Shareholder suit", "confidence": 0.7, "evidence": "..."}]`
	entities, ok = parseEntityResponse(bare)
	require.True(t, ok)
	require.Len(t, entities, 1)
	assert.Equal(t, "litigation", entities[0].Type)

	_, ok = parseEntityResponse("The filing describes an executive change.")
	assert.False(t, ok)

	entities, ok = parseEntityResponse(`{"entities": []}`)
	require.True(t, ok)
	assert.Empty(t, entities)
}

func TestEntityHandlerClampsAndClassifies(t *testing.T) {
	store := newMockFilingStore()
	handler := NewEntityHandler(store, defaultAnalysisOptions())
	ctx := context.Background()

	analysis := &domain.Analysis{ID: 42, JobID: "job-9", FilingID: 7, Kind: domain.AnalysisKindEntities}
	result := &driven.CompletionResult{Content: `{"entities": [
		{"type": "unheard_of_type", "entity": "Something", "confidence": 1.7, "evidence": "e1"},
		{"type": "litigation", "entity": "Suit", "confidence": -0.2, "evidence": "e2"}
	]}`}
	require.NoError(t, handler.HandleResult(ctx, analysis, result))

	entities := store.entities[int64(42)]
	require.Len(t, entities, 2)
	assert.Equal(t, domain.EntityOther, entities[0].Type)
	assert.Equal(t, 1.0, entities[0].Confidence)
	assert.Equal(t, domain.EntityLitigation, entities[1].Type)
	assert.Equal(t, 0.0, entities[1].Confidence)

	// Unparseable output is logged and skipped, not an error.
	require.NoError(t, handler.HandleResult(ctx, analysis, &driven.CompletionResult{Content: "plain prose"}))
}
