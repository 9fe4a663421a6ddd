package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/stevenmcsorley/sec-filing-intelligence/internal/core/domain"
	"github.com/stevenmcsorley/sec-filing-intelligence/internal/core/ports/driven"
	"github.com/stevenmcsorley/sec-filing-intelligence/internal/logger"
	"github.com/stevenmcsorley/sec-filing-intelligence/internal/sectionizer"
)

// Normaliser converts a raw filing document into plain text.
type Normaliser interface {
	Normalise(raw []byte) (string, error)
}

// Parser consumes parse tasks: it loads the raw blob, normalises it to text,
// sectionizes the text, persists a fresh section generation and enqueues one
// chunk job per planned chunk. Chunk enqueues pass through the backpressure
// gate, so a drowning analysis stage stalls parsing instead of growing the
// chunk queue without bound.
type Parser struct {
	parses     driven.DurableQueue
	chunks     driven.DurableQueue
	store      driven.FilingStore
	blobs      driven.ObjectStore
	normaliser Normaliser
	planner    *Planner
	gate       *Gate
	metrics    driven.MetricsSink
	workers    int
	wait       time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewParser creates a parse worker pool.
func NewParser(
	parses, chunks driven.DurableQueue,
	store driven.FilingStore,
	blobs driven.ObjectStore,
	normaliser Normaliser,
	planner *Planner,
	gate *Gate,
	metrics driven.MetricsSink,
	workers int,
	dequeueWait time.Duration,
) *Parser {
	if workers <= 0 {
		workers = 1
	}
	if dequeueWait <= 0 {
		dequeueWait = time.Second
	}
	return &Parser{
		parses:     parses,
		chunks:     chunks,
		store:      store,
		blobs:      blobs,
		normaliser: normaliser,
		planner:    planner,
		gate:       gate,
		metrics:    metrics,
		workers:    workers,
		wait:       dequeueWait,
	}
}

// Start runs the parse workers until the context is cancelled or Stop is called.
func (p *Parser) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("parser already running")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.mu.Unlock()

	logger.Info("parser started with %d workers", p.workers)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	p.wg.Wait()

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()
	return nil
}

// Stop signals the workers to exit and waits for them.
func (p *Parser) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	close(p.stopCh)
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Parser) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		default:
		}

		msg, err := p.parses.Dequeue(ctx, p.wait)
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn("dequeueing parse task: %v", err)
			}
			continue
		}
		if msg == nil {
			continue
		}
		p.handle(ctx, msg)
	}
}

func (p *Parser) handle(ctx context.Context, msg *driven.QueueMessage) {
	task, err := domain.DecodeParseTask(msg.Payload)
	if err != nil {
		logger.Error("undecodable parse task %s: %v", msg.DedupKey, err)
		p.ack(ctx, msg)
		return
	}

	started := time.Now()
	err = p.process(ctx, task)
	switch {
	case err == nil:
		p.metrics.Observe("parse.seconds", time.Since(started).Seconds())
		p.metrics.Count("parse.completed", 1)
		p.ack(ctx, msg)
	case domain.IsFatal(err):
		p.metrics.Count("parse.errors", 1)
		logger.Warn("parsing %s: %v", task.AccessionNumber, err)
		p.markFailed(ctx, task.AccessionNumber)
		p.ack(ctx, msg)
	default:
		// Transient: leave the task for the visibility sweep.
		if ctx.Err() == nil {
			p.metrics.Count("parse.errors", 1)
			logger.Warn("parsing %s: %v", task.AccessionNumber, err)
		}
	}
}

func (p *Parser) process(ctx context.Context, task domain.ParseTask) error {
	filing, err := p.store.GetFiling(ctx, task.AccessionNumber)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		return fmt.Errorf("%w: loading filing %s: %w", domain.ErrFatal, task.AccessionNumber, err)
	}

	blob, err := p.store.GetBlob(ctx, filing.ID, domain.BlobKindRaw)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		return fmt.Errorf("%w: raw blob for %s: %w", domain.ErrFatal, task.AccessionNumber, err)
	}
	raw, err := p.blobs.Get(ctx, blob.Location)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		return fmt.Errorf("%w: reading blob %s: %w", domain.ErrFatal, blob.Location, err)
	}

	text, err := p.normaliser.Normalise(raw)
	if err != nil {
		return fmt.Errorf("%w: normalising %s: %w", domain.ErrFatal, task.AccessionNumber, err)
	}

	sections := sectionizer.Split(text)
	if len(sections) == 0 {
		// Nothing to analyse; the filing is still considered parsed.
		logger.Info("filing %s produced no sections", task.AccessionNumber)
		return p.store.SetFilingStatus(ctx, task.AccessionNumber, domain.FilingStatusParsed)
	}

	saved, err := p.store.ReplaceSections(ctx, filing.ID, sections)
	if err != nil {
		return fmt.Errorf("persisting sections for %s: %w", task.AccessionNumber, err)
	}
	p.metrics.Count("parse.sections", float64(len(saved)))

	enqueued := 0
	for _, section := range saved {
		for _, job := range p.planner.Plan(task.AccessionNumber, section) {
			if err := p.gate.Wait(ctx); err != nil {
				return err
			}
			payload, err := job.Encode()
			if err != nil {
				return err
			}
			if _, err := p.chunks.Enqueue(ctx, payload, job.DedupKey()); err != nil {
				return fmt.Errorf("enqueueing chunk for %s: %w", task.AccessionNumber, err)
			}
			enqueued++
		}
	}
	p.metrics.Count("parse.chunks", float64(enqueued))
	logger.Debug("filing %s: %d sections, %d chunk jobs", task.AccessionNumber, len(saved), enqueued)

	return p.store.SetFilingStatus(ctx, task.AccessionNumber, domain.FilingStatusParsed)
}

func (p *Parser) markFailed(ctx context.Context, accessionNumber string) {
	if err := p.store.SetFilingStatus(ctx, accessionNumber, domain.FilingStatusFailed); err != nil {
		logger.Error("marking %s failed: %v", accessionNumber, err)
	}
}

func (p *Parser) ack(ctx context.Context, msg *driven.QueueMessage) {
	if err := p.parses.Ack(ctx, msg); err != nil {
		logger.Warn("acking parse task %s: %v", msg.DedupKey, err)
	}
}
