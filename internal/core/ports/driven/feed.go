package driven

import (
	"context"

	"github.com/stevenmcsorley/sec-filing-intelligence/internal/core/domain"
)

// FeedClient fetches and normalises EDGAR Atom feeds.
type FeedClient interface {
	// Fetch retrieves the feed at url and returns its entries in the
	// order the feed listed them.
	Fetch(ctx context.Context, url string) ([]domain.FeedEntry, error)
}

// Fetcher retrieves raw document bytes over HTTP.
type Fetcher interface {
	// Fetch downloads the url and returns the body and content type.
	Fetch(ctx context.Context, url string) ([]byte, string, error)
}
