// Package extract turns submission URLs into raw content. Each source type
// has one extraction strategy behind the Extractor interface; the Registry
// dispatches on the type tag assigned at ingestion.
package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/calder/tutorpipe/internal/source"
)

const (
	defaultMaxFetchSize = 5 << 20 // 5MB
	defaultUserAgent    = "tutorpipe/1.0"
)

// Content is the ephemeral result of one extraction attempt. RawText is
// always non-empty on success.
type Content struct {
	Title       string
	RawText     string
	Author      string
	PublishedAt time.Time
	Metadata    map[string]string
}

// ExtractionError marks a failed extraction: unreachable source, non-success
// transport status, or no extractable text.
type ExtractionError struct {
	URL    string
	Reason string
	Err    error
}

func (e *ExtractionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extracting %s: %s: %v", e.URL, e.Reason, e.Err)
	}
	return fmt.Sprintf("extracting %s: %s", e.URL, e.Reason)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

func extractionErr(url, reason string, err error) *ExtractionError {
	return &ExtractionError{URL: url, Reason: reason, Err: err}
}

// Extractor is the capability interface implemented once per source type.
type Extractor interface {
	Extract(ctx context.Context, url string) (*Content, error)
}

// Fetcher performs outbound HTTP fetches shared by all strategies. It caps
// response sizes and treats non-2xx statuses as extraction failures.
type Fetcher struct {
	client    *http.Client
	maxSize   int64
	userAgent string
}

// NewFetcher wraps an HTTP client; pass nil for a default with a 20s timeout.
func NewFetcher(client *http.Client) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &Fetcher{client: client, maxSize: defaultMaxFetchSize, userAgent: defaultUserAgent}
}

// Get fetches url and returns the response body, capped at the fetch limit.
func (f *Fetcher) Get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, extractionErr(url, "invalid url", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, extractionErr(url, "unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, extractionErr(url, fmt.Sprintf("status %d", resp.StatusCode), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxSize))
	if err != nil {
		return nil, extractionErr(url, "reading response", err)
	}
	return body, nil
}

// Document fetches url and parses the body as an HTML document.
func (f *Fetcher) Document(ctx context.Context, url string) (*goquery.Document, error) {
	body, err := f.Get(ctx, url)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, extractionErr(url, "parsing html", err)
	}
	return doc, nil
}

// Registry maps source types to their extraction strategies. Adding a new
// source type means registering one more strategy; callers stay untouched.
type Registry struct {
	strategies map[source.Type]Extractor
}

// NewRegistry builds a registry with the default strategy per source type,
// all sharing the given fetcher.
func NewRegistry(f *Fetcher) *Registry {
	r := &Registry{strategies: make(map[source.Type]Extractor)}
	r.Register(source.TypeArticle, NewArticleExtractor(f))
	r.Register(source.TypeTweet, NewTweetExtractor(f))
	r.Register(source.TypeYouTube, NewYouTubeExtractor(f))
	r.Register(source.TypeTikTok, NewTikTokExtractor(f))
	r.Register(source.TypeLinkedIn, NewLinkedInExtractor(f))
	r.Register(source.TypePDF, NewPDFExtractor(f))
	return r
}

// Register installs (or replaces) the strategy for a source type.
func (r *Registry) Register(t source.Type, e Extractor) {
	r.strategies[t] = e
}

// Extract dispatches to the strategy registered for the submission's source type.
func (r *Registry) Extract(ctx context.Context, url string, t source.Type) (*Content, error) {
	strategy, ok := r.strategies[t]
	if !ok {
		return nil, extractionErr(url, fmt.Sprintf("unsupported source type %q", t), nil)
	}
	content, err := strategy.Extract(ctx, url)
	if err != nil {
		return nil, err
	}
	if content.RawText == "" {
		return nil, extractionErr(url, "no extractable text", nil)
	}
	return content, nil
}
