package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/stevenmcsorley/sec-filing-intelligence/internal/core/domain"
	"github.com/stevenmcsorley/sec-filing-intelligence/internal/core/ports/driven"
	"github.com/stevenmcsorley/sec-filing-intelligence/internal/logger"
)

// AnalysisHandler is one analysis kind run against every chunk job. The
// analyst owns budgeting, the provider call and persisting the analysis
// record; the handler shapes the prompt and post-processes the result.
type AnalysisHandler interface {
	// Kind identifies the handler and keys its budget ledger service.
	Kind() domain.AnalysisKind

	// Options returns the handler's model and retry configuration.
	Options() domain.AnalysisOptions

	// BuildRequest shapes the completion request for a chunk.
	BuildRequest(job domain.ChunkJob) driven.CompletionRequest

	// HandleResult post-processes a persisted analysis, e.g. extracting
	// structured rows from the model output.
	HandleResult(ctx context.Context, analysis *domain.Analysis, result *driven.CompletionResult) error
}

// Analyst consumes chunk jobs and runs every registered handler against each
// one. Each provider call is provisionally charged to the handler's daily
// token ledger before dispatch and reconciled to actual usage afterwards.
//
// Outcomes per handler: success and fatal failure are terminal; a budget
// deferral sleeps the worker for the cooldown and leaves the job
// unacknowledged; a retryable failure (after in-process retries) also leaves
// the job unacknowledged. The job is acknowledged only when every handler
// reached a terminal outcome. A redelivered job skips any handler whose
// result is already stored under its job id and kind, so one logical call
// never charges the ledger twice.
type Analyst struct {
	chunks   driven.DurableQueue
	store    driven.FilingStore
	llm      driven.CompletionService
	ledger   driven.BudgetLedger
	metrics  driven.MetricsSink
	handlers []AnalysisHandler
	budget   domain.BudgetOptions
	workers  int
	wait     time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewAnalyst creates an analysis worker pool over the given handlers.
func NewAnalyst(
	chunks driven.DurableQueue,
	store driven.FilingStore,
	llm driven.CompletionService,
	ledger driven.BudgetLedger,
	metrics driven.MetricsSink,
	handlers []AnalysisHandler,
	budget domain.BudgetOptions,
	workers int,
	dequeueWait time.Duration,
) *Analyst {
	if workers <= 0 {
		workers = 1
	}
	if dequeueWait <= 0 {
		dequeueWait = time.Second
	}
	if budget.Cooldown <= 0 {
		budget.Cooldown = time.Minute
	}
	return &Analyst{
		chunks:   chunks,
		store:    store,
		llm:      llm,
		ledger:   ledger,
		metrics:  metrics,
		handlers: handlers,
		budget:   budget,
		workers:  workers,
		wait:     dequeueWait,
	}
}

// Start runs the analysis workers until the context is cancelled or Stop is
// called.
func (a *Analyst) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("analyst already running")
	}
	a.running = true
	a.stopCh = make(chan struct{})
	a.mu.Unlock()

	logger.Info("analyst started with %d workers, %d handlers", a.workers, len(a.handlers))
	for i := 0; i < a.workers; i++ {
		a.wg.Add(1)
		go a.worker(ctx)
	}
	a.wg.Wait()

	a.mu.Lock()
	a.running = false
	a.mu.Unlock()
	return nil
}

// Stop signals the workers to exit and waits for them.
func (a *Analyst) Stop() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	close(a.stopCh)
	a.mu.Unlock()
	a.wg.Wait()
}

func (a *Analyst) worker(ctx context.Context) {
	defer a.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.stopCh:
			return
		default:
		}

		msg, err := a.chunks.Dequeue(ctx, a.wait)
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn("dequeueing chunk job: %v", err)
			}
			continue
		}
		if msg == nil {
			continue
		}
		a.handle(ctx, msg)
	}
}

func (a *Analyst) handle(ctx context.Context, msg *driven.QueueMessage) {
	job, err := domain.DecodeChunkJob(msg.Payload)
	if err != nil {
		logger.Error("undecodable chunk job %s: %v", msg.DedupKey, err)
		a.ack(ctx, msg)
		return
	}

	filing, err := a.store.GetFiling(ctx, job.AccessionNumber)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		// A chunk whose filing vanished can never complete.
		logger.Error("chunk %s references unknown filing %s: %v", job.JobID, job.AccessionNumber, err)
		a.ack(ctx, msg)
		return
	}
	section, err := a.store.GetSection(ctx, filing.ID, job.SectionOrdinal)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		// The section generation moved on; a fresh plan covers this text.
		logger.Warn("chunk %s: section %d gone for %s, dropping", job.JobID, job.SectionOrdinal, job.AccessionNumber)
		a.ack(ctx, msg)
		return
	}

	for _, handler := range a.handlers {
		switch a.runHandler(ctx, handler, job, filing.ID, section.ID) {
		case outcomeDone, outcomeFatal:
			// Terminal either way; move on to the next handler.
		case outcomeDeferred:
			a.cooldown(ctx)
			return
		case outcomeRetry:
			// A transient failure likely hits the next call too. Leave
			// the whole job for redelivery; handlers that already
			// persisted a result are skipped on the next pass.
			return
		}
	}
	a.ack(ctx, msg)
}

type handlerOutcome int

const (
	outcomeDone handlerOutcome = iota
	outcomeFatal
	outcomeRetry
	outcomeDeferred
)

// runHandler runs one analysis kind for one chunk: reserve budget, call the
// provider with retries, reconcile the charge, persist the result.
func (a *Analyst) runHandler(
	ctx context.Context,
	handler AnalysisHandler,
	job domain.ChunkJob,
	filingID, sectionID int64,
) handlerOutcome {
	kind := string(handler.Kind())
	opts := handler.Options()

	if existing, err := a.store.GetAnalysis(ctx, job.JobID, handler.Kind()); err == nil {
		// A previous delivery already paid for and persisted this result.
		// Re-run only the post-processing, which replaces its rows in
		// place, and never touch the ledger again.
		if err := handler.HandleResult(ctx, existing, resultFromAnalysis(existing)); err != nil {
			logger.Warn("post-processing %s for chunk %s: %v", kind, job.JobID, err)
			return outcomeRetry
		}
		return outcomeDone
	}

	estimate := job.EstimatedTokens + a.budget.PromptOverheadTokens + opts.MaxOutputTokens
	if err := a.ledger.Reserve(ctx, kind, estimate); err != nil {
		if domain.IsBudgetExceeded(err) {
			a.metrics.Count("budget.deferrals", 1, "kind:"+kind)
			logger.Info("budget exhausted for %s, deferring chunk %s", kind, job.JobID)
			return outcomeDeferred
		}
		logger.Warn("reserving budget for %s: %v", job.JobID, err)
		return outcomeRetry
	}

	started := time.Now()
	result, err := a.completeWithRetry(ctx, handler.BuildRequest(job), opts)
	if err != nil {
		a.release(ctx, kind, estimate)
		if domain.IsFatal(err) {
			a.metrics.Count("analysis.failures", 1, "kind:"+kind)
			logger.Warn("analysis %s for chunk %s failed permanently: %v", kind, job.JobID, err)
			return outcomeFatal
		}
		if ctx.Err() == nil {
			a.metrics.Count("analysis.errors", 1, "kind:"+kind)
			logger.Warn("analysis %s for chunk %s: %v", kind, job.JobID, err)
		}
		return outcomeRetry
	}

	if err := a.ledger.Commit(ctx, kind, estimate, result.TotalTokens); err != nil {
		logger.Warn("committing budget for %s: %v", job.JobID, err)
	}
	if usage, err := a.ledger.Usage(ctx, kind); err == nil {
		a.metrics.Gauge("budget.consumed", float64(usage.Consumed), "kind:"+kind)
		if usage.Allotment > 0 {
			a.metrics.Gauge("budget.remaining", float64(usage.Allotment-usage.Consumed), "kind:"+kind)
		}
	}

	analysis := domain.Analysis{
		JobID:            job.JobID,
		FilingID:         filingID,
		SectionID:        sectionID,
		Kind:             handler.Kind(),
		ChunkIndex:       job.ChunkIndex,
		Content:          result.Content,
		Model:            result.Model,
		PromptTokens:     result.PromptTokens,
		CompletionTokens: result.CompletionTokens,
		TotalTokens:      result.TotalTokens,
	}
	saved, err := a.store.SaveAnalysis(ctx, analysis)
	if err != nil {
		logger.Warn("saving analysis for chunk %s: %v", job.JobID, err)
		return outcomeRetry
	}
	if err := handler.HandleResult(ctx, saved, result); err != nil {
		logger.Warn("post-processing %s for chunk %s: %v", kind, job.JobID, err)
		return outcomeRetry
	}

	a.metrics.Observe("analysis.seconds", time.Since(started).Seconds(), "kind:"+kind)
	a.metrics.Count("analysis.tokens", float64(result.TotalTokens), "kind:"+kind)
	a.metrics.Count("analysis.completed", 1, "kind:"+kind)
	return outcomeDone
}

// resultFromAnalysis rebuilds the completion result a stored analysis was
// made from, for re-running a handler's post-processing on redelivery.
func resultFromAnalysis(analysis *domain.Analysis) *driven.CompletionResult {
	return &driven.CompletionResult{
		Content:          analysis.Content,
		Model:            analysis.Model,
		PromptTokens:     analysis.PromptTokens,
		CompletionTokens: analysis.CompletionTokens,
		TotalTokens:      analysis.TotalTokens,
	}
}

func (a *Analyst) completeWithRetry(
	ctx context.Context,
	req driven.CompletionRequest,
	opts domain.AnalysisOptions,
) (*driven.CompletionResult, error) {
	var lastErr error
	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := opts.BackoffBase * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
		result, err := a.llm.Complete(ctx, req)
		if err == nil {
			return result, nil
		}
		if !domain.IsRetryable(err) || ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("retries exhausted: %w", lastErr)
}

// cooldown sleeps after a budget deferral so the worker does not spin on a
// ledger that will stay exhausted until the daily reset.
func (a *Analyst) cooldown(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-a.stopCh:
	case <-time.After(a.budget.Cooldown):
	}
}

func (a *Analyst) release(ctx context.Context, service string, reserved int) {
	if err := a.ledger.Release(ctx, service, reserved); err != nil {
		logger.Warn("releasing %d tokens for %s: %v", reserved, service, err)
	}
}

func (a *Analyst) ack(ctx context.Context, msg *driven.QueueMessage) {
	if err := a.chunks.Ack(ctx, msg); err != nil {
		logger.Warn("acking chunk job %s: %v", msg.DedupKey, err)
	}
}
