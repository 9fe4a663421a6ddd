package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/stevenmcsorley/sec-filing-intelligence/internal/core/domain"
	"github.com/stevenmcsorley/sec-filing-intelligence/internal/core/ports/driven"
	"github.com/stevenmcsorley/sec-filing-intelligence/internal/logger"
)

// primaryDocPattern finds archive document links on an EDGAR filing index
// page. The first non-index .htm link is the primary document.
var primaryDocPattern = regexp.MustCompile(`href="(/Archives/[^"]+\.html?)"`)

// Downloader consumes download tasks, fetches filing documents, stores them
// as blobs and hands the filing to the parse stage. Transient fetch failures
// retry in-process with exponential backoff; exhausting the retries is
// terminal, like any fatal failure: the filing is marked failed and the task
// acknowledged, so a permanently broken document never cycles through the
// queue. Permanent failure is surfaced through the filing status, not
// through endless redelivery.
type Downloader struct {
	downloads driven.DurableQueue
	parses    driven.DurableQueue
	fetcher   driven.Fetcher
	blobs     driven.ObjectStore
	store     driven.FilingStore
	metrics   driven.MetricsSink
	opts      domain.DownloadOptions
	wait      time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewDownloader creates a download worker pool.
func NewDownloader(
	downloads, parses driven.DurableQueue,
	fetcher driven.Fetcher,
	blobs driven.ObjectStore,
	store driven.FilingStore,
	metrics driven.MetricsSink,
	opts domain.DownloadOptions,
	dequeueWait time.Duration,
) *Downloader {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if dequeueWait <= 0 {
		dequeueWait = time.Second
	}
	return &Downloader{
		downloads: downloads,
		parses:    parses,
		fetcher:   fetcher,
		blobs:     blobs,
		store:     store,
		metrics:   metrics,
		opts:      opts,
		wait:      dequeueWait,
	}
}

// Start runs the worker pool until the context is cancelled or Stop is called.
func (d *Downloader) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("downloader already running")
	}
	d.running = true
	d.stopCh = make(chan struct{})
	d.mu.Unlock()

	logger.Info("downloader started with %d workers", d.opts.Workers)
	for i := 0; i < d.opts.Workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx)
	}
	d.wg.Wait()

	d.mu.Lock()
	d.running = false
	d.mu.Unlock()
	return nil
}

// Stop signals the workers to exit and waits for them.
func (d *Downloader) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	close(d.stopCh)
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Downloader) worker(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		default:
		}

		msg, err := d.downloads.Dequeue(ctx, d.wait)
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn("dequeueing download task: %v", err)
			}
			continue
		}
		if msg == nil {
			continue
		}
		d.handle(ctx, msg)
	}
}

func (d *Downloader) handle(ctx context.Context, msg *driven.QueueMessage) {
	task, err := domain.DecodeDownloadTask(msg.Payload)
	if err != nil {
		// A payload that cannot decode will never succeed; drop it.
		logger.Error("undecodable download task %s: %v", msg.DedupKey, err)
		d.ack(ctx, msg)
		return
	}

	started := time.Now()
	err = d.process(ctx, task)
	switch {
	case err == nil:
		d.metrics.Observe("download.seconds", time.Since(started).Seconds())
		d.metrics.Count("download.completed", 1)
		d.ack(ctx, msg)
	case domain.IsFatal(err):
		// Unfetchable documents and exhausted retries are both terminal.
		d.metrics.Count("download.errors", 1)
		logger.Warn("downloading %s: %v", task.AccessionNumber, err)
		d.markFailed(ctx, task.AccessionNumber)
		d.ack(ctx, msg)
	default:
		// Transient store trouble; the visibility sweep redelivers.
		if ctx.Err() == nil {
			d.metrics.Count("download.errors", 1)
			logger.Warn("downloading %s: %v", task.AccessionNumber, err)
		}
	}
}

func (d *Downloader) process(ctx context.Context, task domain.DownloadTask) error {
	filing, err := d.store.GetFiling(ctx, task.AccessionNumber)
	if err != nil {
		if domain.IsRetryable(err) || ctx.Err() != nil {
			return err
		}
		return fmt.Errorf("%w: loading filing %s: %w", domain.ErrFatal, task.AccessionNumber, err)
	}

	body, contentType, err := d.fetchWithRetry(ctx, task.FilingHref)
	if err != nil {
		return err
	}
	d.metrics.Count("download.bytes", float64(len(body)))

	raw := body
	rawType := contentType
	if isIndexPage(task.FilingHref) {
		if err := d.saveArtifact(ctx, filing.ID, domain.BlobKindIndex, task, "index.html", body, contentType); err != nil {
			return err
		}
		if docURL := primaryDocumentURL(body); docURL != "" {
			raw, rawType, err = d.fetchWithRetry(ctx, docURL)
			if err != nil {
				return err
			}
			d.metrics.Count("download.bytes", float64(len(raw)))
		}
	}

	if err := d.saveArtifact(ctx, filing.ID, domain.BlobKindRaw, task, "raw.html", raw, rawType); err != nil {
		return err
	}
	if err := d.store.SetFilingStatus(ctx, task.AccessionNumber, domain.FilingStatusDownloaded); err != nil {
		return fmt.Errorf("marking %s downloaded: %w", task.AccessionNumber, err)
	}

	parse := domain.ParseTask{AccessionNumber: task.AccessionNumber}
	payload, err := parse.Encode()
	if err != nil {
		return err
	}
	if _, err := d.parses.Enqueue(ctx, payload, parse.DedupKey()); err != nil {
		return fmt.Errorf("enqueueing parse for %s: %w", task.AccessionNumber, err)
	}
	return nil
}

// fetchWithRetry fetches the URL, retrying retryable failures with
// exponential backoff up to MaxRetries additional attempts. Exhaustion is
// reclassified as fatal: the caller marks the filing failed instead of
// requeueing a URL that keeps refusing.
func (d *Downloader) fetchWithRetry(ctx context.Context, url string) ([]byte, string, error) {
	var lastErr error
	for attempt := 0; attempt <= d.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			d.metrics.Count("download.retries", 1)
			backoff := d.opts.BackoffBase * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return nil, "", ctx.Err()
			case <-time.After(backoff):
			}
		}

		body, contentType, err := d.fetchOnce(ctx, url)
		if err == nil {
			return body, contentType, nil
		}
		if !domain.IsRetryable(err) || ctx.Err() != nil {
			return nil, "", err
		}
		lastErr = err
	}
	return nil, "", fmt.Errorf("%w: retries exhausted for %s: %v", domain.ErrFatal, url, lastErr)
}

func (d *Downloader) fetchOnce(ctx context.Context, url string) ([]byte, string, error) {
	if d.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.opts.RequestTimeout)
		defer cancel()
	}
	return d.fetcher.Fetch(ctx, url)
}

func (d *Downloader) saveArtifact(
	ctx context.Context,
	filingID int64,
	kind domain.BlobKind,
	task domain.DownloadTask,
	filename string,
	data []byte,
	contentType string,
) error {
	key := fmt.Sprintf("%s/%s/%s", task.CIK, task.AccessionNumber, filename)
	location, err := d.blobs.Put(ctx, key, data, contentType)
	if err != nil {
		return fmt.Errorf("storing %s blob for %s: %w", kind, task.AccessionNumber, err)
	}
	sum := sha256.Sum256(data)
	blob := domain.FilingBlob{
		FilingID:    filingID,
		Kind:        kind,
		Location:    location,
		Checksum:    hex.EncodeToString(sum[:]),
		ContentType: contentType,
	}
	if err := d.store.SaveBlob(ctx, blob); err != nil {
		return fmt.Errorf("recording %s blob for %s: %w", kind, task.AccessionNumber, err)
	}
	return nil
}

func (d *Downloader) markFailed(ctx context.Context, accessionNumber string) {
	if err := d.store.SetFilingStatus(ctx, accessionNumber, domain.FilingStatusFailed); err != nil {
		logger.Error("marking %s failed: %v", accessionNumber, err)
	}
}

func (d *Downloader) ack(ctx context.Context, msg *driven.QueueMessage) {
	if err := d.downloads.Ack(ctx, msg); err != nil {
		logger.Warn("acking download task %s: %v", msg.DedupKey, err)
	}
}

func isIndexPage(url string) bool {
	return strings.HasSuffix(strings.ToLower(url), "-index.htm") ||
		strings.HasSuffix(strings.ToLower(url), "-index.html")
}

// primaryDocumentURL picks the first archive document link on an index page
// that is not itself an index, or empty when none is found.
func primaryDocumentURL(indexBody []byte) string {
	for _, m := range primaryDocPattern.FindAllSubmatch(indexBody, -1) {
		href := string(m[1])
		if strings.Contains(href, "-index.") {
			continue
		}
		return "https://www.sec.gov" + href
	}
	return ""
}
