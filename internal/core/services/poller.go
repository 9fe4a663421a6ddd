package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/stevenmcsorley/sec-filing-intelligence/internal/core/domain"
	"github.com/stevenmcsorley/sec-filing-intelligence/internal/core/ports/driven"
	"github.com/stevenmcsorley/sec-filing-intelligence/internal/logger"
)

// Poller discovers new filings from EDGAR Atom feeds. One loop watches the
// global recent-filings feed; an optional second loop cycles through the
// configured company CIKs. Both share the seen-set, so an accession number
// surfacing in two feeds is admitted once.
type Poller struct {
	feed      driven.FeedClient
	seen      driven.SeenSet
	store     driven.FilingStore
	downloads driven.DurableQueue
	metrics   driven.MetricsSink
	opts      domain.PollerOptions

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewPoller creates a discovery poller.
func NewPoller(
	feed driven.FeedClient,
	seen driven.SeenSet,
	store driven.FilingStore,
	downloads driven.DurableQueue,
	metrics driven.MetricsSink,
	opts domain.PollerOptions,
) *Poller {
	return &Poller{
		feed:      feed,
		seen:      seen,
		store:     store,
		downloads: downloads,
		metrics:   metrics,
		opts:      opts,
	}
}

// Start runs the poll loops until the context is cancelled or Stop is called.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("poller already running")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.mu.Unlock()

	logger.Info("poller started (global every %s, %d company feeds every %s)",
		p.opts.GlobalInterval, len(p.opts.CompanyCIKs), p.opts.CompanyInterval)

	p.wg.Add(1)
	go p.runGlobal(ctx)
	if len(p.opts.CompanyCIKs) > 0 {
		p.wg.Add(1)
		go p.runCompanies(ctx)
	}
	p.wg.Wait()

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()
	return nil
}

// Stop signals the poll loops to exit and waits for them.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	close(p.stopCh)
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Poller) runGlobal(ctx context.Context) {
	defer p.wg.Done()

	// Poll immediately on startup rather than waiting a full interval.
	p.pollOnce(ctx, p.opts.GlobalFeedURL, "global")

	ticker := time.NewTicker(p.opts.GlobalInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.pollOnce(ctx, p.opts.GlobalFeedURL, "global")
		}
	}
}

func (p *Poller) runCompanies(ctx context.Context) {
	defer p.wg.Done()

	p.pollCompanies(ctx)

	ticker := time.NewTicker(p.opts.CompanyInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.pollCompanies(ctx)
		}
	}
}

func (p *Poller) pollCompanies(ctx context.Context) {
	for _, cik := range p.opts.CompanyCIKs {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		default:
		}
		p.pollOnce(ctx, p.opts.CompanyFeedBaseURL+cik, "company")
	}
}

// PollOnce fetches one feed and admits its unseen entries. Exposed for the
// one-shot CLI poll command; the loops call it on their tickers.
func (p *Poller) PollOnce(ctx context.Context, url string) (int, error) {
	return p.admitFeed(ctx, url, "manual")
}

func (p *Poller) pollOnce(ctx context.Context, url, feedTag string) {
	if _, err := p.admitFeed(ctx, url, feedTag); err != nil && ctx.Err() == nil {
		p.metrics.Count("poller.errors", 1, "feed:"+feedTag)
		logger.Warn("polling %s feed: %v", feedTag, err)
	}
}

// admitFeed runs one discovery pass: fetch, dedup against the seen-set,
// persist company and filing metadata, enqueue a download task. Marking an
// entry seen before enqueueing means a crash between the two can drop the
// entry; the company pollers re-surface it on a later cycle.
func (p *Poller) admitFeed(ctx context.Context, url, feedTag string) (int, error) {
	started := time.Now()
	entries, err := p.feed.Fetch(ctx, url)
	if err != nil {
		return 0, fmt.Errorf("fetching feed: %w", err)
	}
	p.metrics.Observe("poller.fetch_seconds", time.Since(started).Seconds(), "feed:"+feedTag)

	admitted := 0
	for _, entry := range entries {
		fresh, err := p.seen.MarkSeen(ctx, entry.AccessionNumber)
		if err != nil {
			return admitted, fmt.Errorf("marking %s seen: %w", entry.AccessionNumber, err)
		}
		if !fresh {
			continue
		}
		if err := p.admitEntry(ctx, entry); err != nil {
			return admitted, err
		}
		admitted++
	}
	if admitted > 0 {
		p.metrics.Count("poller.new_filings", float64(admitted), "feed:"+feedTag)
		logger.Info("admitted %d new filings from %s feed", admitted, feedTag)
	}
	return admitted, nil
}

func (p *Poller) admitEntry(ctx context.Context, entry domain.FeedEntry) error {
	company, err := p.store.UpsertCompany(ctx, domain.Company{
		CIK:  entry.CIK,
		Name: companyNameFromTitle(entry.Title),
	})
	if err != nil {
		return fmt.Errorf("upserting company %s: %w", entry.CIK, err)
	}

	filing := domain.Filing{
		CompanyID:       company.ID,
		CIK:             entry.CIK,
		AccessionNumber: entry.AccessionNumber,
		FormType:        entry.FormType,
		FiledAt:         entry.FiledAt,
		SourceURLs:      []string{entry.FilingHref},
		Status:          domain.FilingStatusPending,
	}
	if _, err := p.store.UpsertFiling(ctx, filing); err != nil {
		return fmt.Errorf("upserting filing %s: %w", entry.AccessionNumber, err)
	}

	task := domain.DownloadTask{
		AccessionNumber: entry.AccessionNumber,
		CIK:             entry.CIK,
		FormType:        entry.FormType,
		FilingHref:      entry.FilingHref,
		FiledAt:         entry.FiledAt,
	}
	payload, err := task.Encode()
	if err != nil {
		return err
	}
	if _, err := p.downloads.Enqueue(ctx, payload, task.DedupKey()); err != nil {
		return fmt.Errorf("enqueueing download for %s: %w", entry.AccessionNumber, err)
	}
	return nil
}

// companyNameFromTitle extracts the registrant name from an EDGAR entry
// title such as "8-K - APPLE INC (0000320193) (Issuer)". An empty result is
// fine; the store substitutes a placeholder until a name is known.
func companyNameFromTitle(title string) string {
	name := title
	if i := strings.Index(name, " - "); i >= 0 {
		name = name[i+3:]
	}
	if i := strings.Index(name, "("); i >= 0 {
		name = name[:i]
	}
	return strings.TrimSpace(name)
}
