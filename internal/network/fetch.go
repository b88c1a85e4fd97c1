// Package network fetches tile payloads over HTTP and resolves terrain endpoints.
package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"
)

// ErrNotFound is returned for a 404 response.
var ErrNotFound = errors.New("not found")

// ErrBodyTooLarge is returned when a response exceeds the fetcher's size cap.
var ErrBodyTooLarge = errors.New("response body too large")

// StatusError is returned for any other non-2xx response.
type StatusError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: %s", e.URL, e.Status)
}

// Fetcher retrieves the body at a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string, header http.Header) ([]byte, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, url string, header http.Header) ([]byte, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, url string, header http.Header) ([]byte, error) {
	return f(ctx, url, header)
}

// HTTPFetcher is a Fetcher backed by a pooled HTTP client.
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
	maxBody   int64
	log       *zap.Logger
}

// FetcherOption configures an HTTPFetcher.
type FetcherOption func(*HTTPFetcher)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) FetcherOption {
	return func(f *HTTPFetcher) { f.client.Timeout = d }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) FetcherOption {
	return func(f *HTTPFetcher) { f.userAgent = ua }
}

// WithHTTPClient replaces the underlying client.
func WithHTTPClient(c *http.Client) FetcherOption {
	return func(f *HTTPFetcher) { f.client = c }
}

// WithMaxBody caps the number of bytes read from a response.
func WithMaxBody(n int64) FetcherOption {
	return func(f *HTTPFetcher) { f.maxBody = n }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) FetcherOption {
	return func(f *HTTPFetcher) { f.log = l }
}

// NewHTTPFetcher creates a fetcher with a pooled client and a 30 second timeout.
func NewHTTPFetcher(opts ...FetcherOption) *HTTPFetcher {
	client := cleanhttp.DefaultPooledClient()
	client.Timeout = 30 * time.Second

	f := &HTTPFetcher{
		client:    client,
		userAgent: "tilestream/1.0",
		maxBody:   32 << 20,
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch performs a GET and returns the body. Gzip-encoded bodies are inflated.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string, header http.Header) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("User-Agent", f.userAgent)
	// Setting Accept-Encoding ourselves turns off the transport's transparent gzip,
	// so Content-Encoding is handled below.
	req.Header.Set("Accept-Encoding", "gzip")

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("GET %s: %w", url, ErrNotFound)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &StatusError{URL: url, StatusCode: resp.StatusCode, Status: resp.Status}
	}

	var body io.Reader = resp.Body
	if resp.Header.Get("Content-Encoding") == "gzip" {
		zr, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("GET %s: opening gzip body: %w", url, err)
		}
		defer zr.Close()
		body = zr
	}

	data, err := io.ReadAll(io.LimitReader(body, f.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("GET %s: reading body: %w", url, err)
	}
	if int64(len(data)) > f.maxBody {
		return nil, fmt.Errorf("GET %s: %w", url, ErrBodyTooLarge)
	}

	f.log.Debug("fetched",
		zap.String("url", url),
		zap.Int("bytes", len(data)),
		zap.Duration("elapsed", time.Since(start)))
	return data, nil
}
