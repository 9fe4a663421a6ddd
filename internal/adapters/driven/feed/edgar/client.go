// Package edgar provides feed and document fetching against SEC EDGAR.
package edgar

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/stevenmcsorley/sec-filing-intelligence/internal/core/domain"
	"github.com/stevenmcsorley/sec-filing-intelligence/internal/core/ports/driven"
)

// Ensure Client implements the interface.
var _ driven.FeedClient = (*Client)(nil)

// Default configuration values. EDGAR's fair-access policy caps automated
// traffic at 10 requests per second; we stay well under it.
const (
	DefaultRequestsPerSecond = 5.0
	DefaultTimeout           = 30 * time.Second
)

// Config holds configuration for the EDGAR client.
type Config struct {
	// UserAgent identifies the requester to the SEC (required). EDGAR
	// rejects anonymous automated traffic.
	UserAgent string

	// RequestsPerSecond is the proactive throttle rate (default: 5).
	RequestsPerSecond float64

	// Timeout is the per-request timeout (default: 30s).
	Timeout time.Duration
}

// Client fetches EDGAR Atom feeds and filing documents. All requests share
// one token bucket, so feed polls and downloads jointly respect the rate cap.
type Client struct {
	client    *http.Client
	userAgent string
	limiter   *rate.Limiter
}

// NewClient creates a new EDGAR client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("edgar: user agent is required")
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = DefaultRequestsPerSecond
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &Client{
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		userAgent: cfg.UserAgent,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
	}, nil
}

// atomFeed is the subset of the EDGAR Atom schema we consume.
type atomFeed struct {
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	ID       string `xml:"id"`
	Title    string `xml:"title"`
	Updated  string `xml:"updated"`
	Summary  string `xml:"summary"`
	Category struct {
		Term string `xml:"term,attr"`
	} `xml:"category"`
	Link struct {
		Href string `xml:"href,attr"`
	} `xml:"link"`
}

// accessionPattern extracts the accession number from an entry ID of the form
// "urn:tag:sec.gov,2008:accession-number=0000320193-26-000042".
var accessionPattern = regexp.MustCompile(`accession-number=(\d{10}-\d{2}-\d{6})`)

// cikPattern extracts the zero-padded CIK EDGAR puts in parentheses in entry
// titles, e.g. "8-K - APPLE INC (0000320193) (Issuer)".
var cikPattern = regexp.MustCompile(`\((\d{10})\)`)

// Fetch retrieves the Atom feed at url and returns its entries in feed order.
func (c *Client) Fetch(ctx context.Context, url string) ([]domain.FeedEntry, error) {
	body, _, err := c.get(ctx, url)
	if err != nil {
		return nil, err
	}

	var feed atomFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("parsing feed: %w", err)
	}

	entries := make([]domain.FeedEntry, 0, len(feed.Entries))
	for _, raw := range feed.Entries {
		entry := domain.FeedEntry{
			FormType:   raw.Category.Term,
			FilingHref: raw.Link.Href,
			Title:      raw.Title,
			Summary:    strings.TrimSpace(raw.Summary),
		}

		if m := accessionPattern.FindStringSubmatch(raw.ID); m != nil {
			entry.AccessionNumber = m[1]
		}
		if m := cikPattern.FindStringSubmatch(raw.Title); m != nil {
			entry.CIK = m[1]
		}
		if ts, err := time.Parse(time.RFC3339, raw.Updated); err == nil {
			entry.FiledAt = ts
		}

		// Entries without an accession number cannot be deduplicated
		// downstream, so they are dropped here.
		if entry.AccessionNumber == "" {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Fetcher returns a document fetcher sharing this client's rate limit.
func (c *Client) Fetcher() *Fetcher {
	return &Fetcher{client: c}
}

func (c *Client) get(ctx context.Context, url string) ([]byte, string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		return nil, "", fmt.Errorf("send request: %w: %w", domain.ErrRetryable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", classifyStatus(resp.StatusCode, url)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read response: %w: %w", domain.ErrRetryable, err)
	}
	return body, resp.Header.Get("Content-Type"), nil
}

// classifyStatus maps an HTTP error status onto the domain error taxonomy.
func classifyStatus(status int, url string) error {
	switch {
	case status == http.StatusTooManyRequests,
		status == http.StatusRequestTimeout,
		status >= 500:
		return fmt.Errorf("edgar: %s returned status %d: %w", url, status, domain.ErrRetryable)
	default:
		return fmt.Errorf("edgar: %s returned status %d: %w", url, status, domain.ErrFatal)
	}
}

// Ensure Fetcher implements the interface.
var _ driven.Fetcher = (*Fetcher)(nil)

// Fetcher downloads raw filing documents.
type Fetcher struct {
	client *Client
}

// Fetch downloads the url and returns the body and content type.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	return f.client.get(ctx, url)
}
