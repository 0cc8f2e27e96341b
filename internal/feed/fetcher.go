package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"
	"golang.org/x/sync/errgroup"
)

const (
	userAgent          = "paperfeed/1.0 (+https://github.com/kalambet/paperfeed)"
	arxivExportURL     = "http://export.arxiv.org/api/query"
	defaultMaxResults  = 50
	defaultConcurrency = 4
	fetchAttempts      = 3
	retryBackoff       = 2 * time.Second
)

// ErrAllSourcesFailed is returned when not a single configured source could
// be fetched. The run must terminate without mutating state.
var ErrAllSourcesFailed = errors.New("all sources failed")

// Clock abstracts time for testability.
type Clock func() time.Time

// Fetcher retrieves and normalizes entries from every configured source.
// Sources are fetched concurrently; one source failing never aborts the rest.
type Fetcher struct {
	client      *http.Client
	concurrency int
	attempts    int
	backoff     time.Duration
	clock       Clock
	logger      *slog.Logger
}

// NewFetcher creates a Fetcher with the given per-request timeout.
// If concurrency is <= 0, it defaults to 4.
func NewFetcher(timeout time.Duration, concurrency int) *Fetcher {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Fetcher{
		client:      &http.Client{Timeout: timeout},
		concurrency: concurrency,
		attempts:    fetchAttempts,
		backoff:     retryBackoff,
		clock:       time.Now,
		logger:      slog.Default().With("component", "fetcher"),
	}
}

// WithClock overrides the time source (used by tests).
func (f *Fetcher) WithClock(clock Clock) *Fetcher {
	f.clock = clock
	return f
}

// FetchAll fetches every source and returns the combined multiset of
// Candidates. Per-source failures are logged and skipped; if every source
// fails, ErrAllSourcesFailed is returned and the caller must not advance
// any state. Duplicate identifiers across sources are allowed here and
// resolved by the deduplicator.
func (f *Fetcher) FetchAll(ctx context.Context, sources []Source) ([]Candidate, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("%w: no sources configured", ErrAllSourcesFailed)
	}

	var (
		mu     sync.Mutex
		all    []Candidate
		failed int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.concurrency)
	for _, src := range sources {
		src := src
		g.Go(func() error {
			cands, err := f.fetchSource(gctx, src)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				f.logger.Warn("source fetch failed", "source", src.Name, "kind", src.Kind, "error", err)
				return nil
			}
			f.logger.Debug("source fetched", "source", src.Name, "entries", len(cands))
			all = append(all, cands...)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if failed == len(sources) {
		return nil, fmt.Errorf("%w: %d sources attempted", ErrAllSourcesFailed, len(sources))
	}
	return all, nil
}

func (f *Fetcher) fetchSource(ctx context.Context, src Source) ([]Candidate, error) {
	feedURL, err := sourceURL(src)
	if err != nil {
		return nil, err
	}

	parsed, err := f.fetchFeed(ctx, feedURL)
	if err != nil {
		return nil, err
	}

	now := f.clock().UTC()
	cands := make([]Candidate, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		c, ok := normalizeItem(item, src, parsed.Title, now)
		if !ok {
			continue
		}
		cands = append(cands, c)
	}
	return cands, nil
}

// fetchFeed retrieves and parses a feed URL, retrying transient failures a
// fixed number of times with backoff.
func (f *Fetcher) fetchFeed(ctx context.Context, feedURL string) (*gofeed.Feed, error) {
	var lastErr error
	for attempt := 1; attempt <= f.attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(f.backoff * time.Duration(attempt-1)):
			}
		}

		parsed, err := f.fetchOnce(ctx, feedURL)
		if err == nil {
			return parsed, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, lastErr
		}
	}
	return nil, fmt.Errorf("after %d attempts: %w", f.attempts, lastErr)
}

func (f *Fetcher) fetchOnce(ctx context.Context, feedURL string) (*gofeed.Feed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching feed: unexpected status %d", resp.StatusCode)
	}

	parsed, err := gofeed.NewParser().Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parsing feed: %w", err)
	}
	return parsed, nil
}

// sourceURL resolves the URL to fetch for a source. RSS sources use their
// configured URL directly; arXiv sources build an export API query from the
// configured categories.
func sourceURL(src Source) (string, error) {
	switch src.Kind {
	case KindRSS:
		if src.URL == "" {
			return "", fmt.Errorf("source %q: missing url", src.Name)
		}
		return src.URL, nil
	case KindArxiv:
		return arxivQueryURL(src)
	default:
		return "", fmt.Errorf("source %q: unknown kind %q", src.Name, src.Kind)
	}
}

func arxivQueryURL(src Source) (string, error) {
	if len(src.Categories) == 0 {
		return "", fmt.Errorf("source %q: no arxiv categories", src.Name)
	}
	terms := make([]string, len(src.Categories))
	for i, cat := range src.Categories {
		terms[i] = "cat:" + cat
	}
	maxResults := src.MaxResults
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}

	base := src.URL
	if base == "" {
		base = arxivExportURL
	}
	q := url.Values{}
	q.Set("search_query", strings.Join(terms, " OR "))
	q.Set("sortBy", "submittedDate")
	q.Set("sortOrder", "descending")
	q.Set("max_results", strconv.Itoa(maxResults))
	return base + "?" + q.Encode(), nil
}
