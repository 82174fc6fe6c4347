package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/chanfm/cachefront/internal/cache"
)

// httpDoer is the minimal client surface the fetcher needs, kept as an
// interface so tests can substitute failures.
type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// maxCaptureBytes bounds how much of an upstream body is snapshotted into a
// cache entry.
const maxCaptureBytes = 10 << 20

// ErrBodyTooLarge marks a response whose body exceeds the capture limit.
// Such responses must never be cached: a truncated snapshot would disagree
// with its own content-length on every later hit.
var ErrBodyTooLarge = errors.New("runtime: response body exceeds capture limit")

// Fetcher executes GET requests against an origin and captures the response
// into a cache entry. It is responsible purely for HTTP execution and
// response capture; strategy and storage decisions belong to the callers.
type Fetcher struct {
	client httpDoer
}

// NewFetcher wraps the provided HTTP client. A nil client falls back to
// http.DefaultClient.
func NewFetcher(client httpDoer) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &Fetcher{client: client}
}

// Fetch retrieves the URL and captures status, headers, and a bounded body
// snapshot. Transport failures return an error; HTTP error statuses do not.
func (f *Fetcher) Fetch(ctx context.Context, url string) (cache.Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return cache.Entry{}, fmt.Errorf("runtime: build fetch request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return cache.Entry{}, fmt.Errorf("runtime: fetch %s: %w", url, err)
	}
	// Read one byte past the limit so truncation is detectable rather than
	// silent.
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCaptureBytes+1))
	closeErr := resp.Body.Close()
	if err != nil {
		return cache.Entry{}, fmt.Errorf("runtime: fetch read %s: %w", url, err)
	}
	if closeErr != nil {
		return cache.Entry{}, fmt.Errorf("runtime: fetch close %s: %w", url, closeErr)
	}
	if len(body) > maxCaptureBytes {
		return cache.Entry{}, fmt.Errorf("runtime: fetch %s: %w", url, ErrBodyTooLarge)
	}
	return cache.Entry{
		Status:  resp.StatusCode,
		Headers: captureResponseHeaders(resp.Header),
		Body:    body,
	}, nil
}

// captureResponseHeaders converts http.Header to a map[string]string,
// taking only the first value of each header and lowercasing header names.
func captureResponseHeaders(header http.Header) map[string]string {
	headers := make(map[string]string)
	for name, values := range header {
		if len(values) == 0 {
			continue
		}
		headers[strings.ToLower(name)] = values[0]
	}
	return headers
}

// storable reports whether a captured status may be written to the cache.
// Only successful (2xx) responses are ever stored.
func storable(status int) bool {
	return status >= 200 && status <= 299
}
