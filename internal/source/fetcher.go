package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/Rodons/CitationMap/internal/cache"
	"github.com/Rodons/CitationMap/internal/model"
	"github.com/Rodons/CitationMap/internal/worker"
)

// fetchSleepFunc waits between retries (injectable for tests)
var fetchSleepFunc = sleepContext

// notFoundMarker is cached for identifiers a source does not know
var notFoundMarker = []byte("\x00citationmap:not-found")

const maxErrorBody = 512

// Fetcher performs cached, rate-limited, retrying requests on behalf of source clients
type Fetcher struct {
	client     *http.Client
	limiter    *worker.Limiter
	cache      cache.Cache
	ttl        time.Duration
	userAgent  string
	maxBytes   int64
	maxRetries int
}

// FetcherOption configures a Fetcher
type FetcherOption func(*Fetcher)

// WithCache stores responses in c. A nil cache disables caching.
func WithCache(c cache.Cache, ttl time.Duration) FetcherOption {
	return func(f *Fetcher) {
		f.cache = c
		f.ttl = ttl
	}
}

// WithLimiter shares a per-host limiter across clients
func WithLimiter(l *worker.Limiter) FetcherOption {
	return func(f *Fetcher) {
		f.limiter = l
	}
}

// NewFetcher creates a fetcher using client for transport
func NewFetcher(client *http.Client, cfg model.HTTPConfig, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		client:     client,
		userAgent:  cfg.UserAgent,
		maxBytes:   cfg.MaxBodyBytes,
		maxRetries: cfg.MaxRetries,
	}
	if f.maxBytes <= 0 {
		f.maxBytes = 10_000_000
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Limiter returns the shared limiter, which may be nil
func (f *Fetcher) Limiter() *worker.Limiter {
	return f.limiter
}

// Request describes one source call. Query distinguishes pages and variants
// of the same identifier in the cache.
type Request struct {
	Source     model.SourceName
	Identifier string
	Query      string
	Method     string // Defaults to GET
	URL        string
	Body       []byte
	Header     http.Header
}

func (r Request) cacheKey() string {
	return cache.Key(string(r.Source), r.Identifier, r.Query)
}

// Fetch returns the response body for req, from cache when possible
func (f *Fetcher) Fetch(ctx context.Context, req Request) ([]byte, error) {
	logger := log.WithFields(log.Fields{"source": req.Source, "id": req.Identifier})

	key := req.cacheKey()
	if f.cache != nil {
		if data, ok := f.cache.Get(key); ok {
			logger.WithField("query", req.Query).Debug("cache hit")
			if bytes.Equal(data, notFoundMarker) {
				return nil, ErrNotFound
			}
			return data, nil
		}
	}

	body, err := f.fetchWithRetry(ctx, req)
	if err != nil {
		if IsNotFound(err) {
			f.store(key, notFoundMarker, logger)
			return nil, fmt.Errorf("%s %s: %w", req.Source, req.Identifier, ErrNotFound)
		}
		return nil, err
	}

	f.store(key, body, logger)
	return body, nil
}

// FetchJSON fetches req and decodes the body into out
func (f *Fetcher) FetchJSON(ctx context.Context, req Request, out interface{}) error {
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}

	body, err := f.Fetch(ctx, req)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		// Never keep a body we cannot read
		if f.cache != nil {
			_ = f.cache.Delete(req.cacheKey())
		}
		return fmt.Errorf("%s: decode response: %w: %v", req.Source, ErrInvalidResponse, err)
	}
	return nil
}

func (f *Fetcher) store(key string, value []byte, logger *log.Entry) {
	if f.cache == nil {
		return
	}
	if err := f.cache.Set(key, value, f.ttl); err != nil {
		logger.WithError(err).Warn("cache write failed")
	}
}

// fetchWithRetry retries transient failures with exponential backoff
func (f *Fetcher) fetchWithRetry(ctx context.Context, req Request) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= f.maxRetries; attempt++ {
		body, err := f.do(ctx, req)
		if err == nil {
			return body, nil
		}
		lastErr = err

		if !isRetryable(err) || attempt == f.maxRetries {
			break
		}

		backoff := time.Duration(1<<uint(attempt)) * time.Second
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.RetryAfter > backoff {
			backoff = apiErr.RetryAfter
		}
		log.WithFields(log.Fields{
			"source":  req.Source,
			"id":      req.Identifier,
			"attempt": attempt + 1,
			"backoff": backoff,
		}).WithError(err).Debug("retrying request")

		if err := fetchSleepFunc(ctx, backoff); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

func (f *Fetcher) do(ctx context.Context, req Request) ([]byte, error) {
	if f.limiter != nil && !f.limiter.Allow(req.URL) {
		log.WithFields(log.Fields{"source": req.Source, "id": req.Identifier}).Debug("rate limited, waiting")
		if err := f.limiter.Wait(ctx, req.URL); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	var bodyReader io.Reader
	if req.Body != nil {
		bodyReader = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if f.userAgent != "" {
		httpReq.Header.Set("User-Agent", f.userAgent)
	}
	if req.Body != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s: fetch: %w", req.Source, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &APIError{
			Source:     req.Source,
			StatusCode: resp.StatusCode,
			URL:        req.URL,
			Message:    strings.TrimSpace(string(snippet)),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("%s: read body: %w", req.Source, err)
	}
	return body, nil
}

// isRetryable is true for 5xx, 429 and transient network failures.
// Context cancellation is never retried.
func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if IsServerError(err) || IsRateLimited(err) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	s := strings.ToLower(err.Error())
	return strings.Contains(s, "connection refused") ||
		strings.Contains(s, "connection reset") ||
		strings.Contains(s, "eof")
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
