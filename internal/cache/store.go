package cache

import (
	"context"
	"net/http"
	"time"
)

// Entry is a captured upstream response: status, lowercased single-valued
// headers, and a body snapshot. Capture time is not stored separately; it is
// derived from the response's own date header, so entries without one cannot
// be aged out.
type Entry struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    []byte            `json:"body,omitempty"`
}

// CapturedAt derives the capture time from the entry's date header. The
// second return is false when the header is missing or unparseable.
func (e Entry) CapturedAt() (time.Time, bool) {
	raw, ok := e.Headers["date"]
	if !ok {
		return time.Time{}, false
	}
	captured, err := http.ParseTime(raw)
	if err != nil {
		return time.Time{}, false
	}
	return captured, true
}

// Store is a generation-scoped response cache. All operations are
// individually atomic; there is no cross-key transaction guarantee and Put
// silently overwrites. Concurrent access is safe; last Put wins.
type Store interface {
	Get(ctx context.Context, generation, key string) (Entry, bool, error)
	Put(ctx context.Context, generation, key string, entry Entry) error
	Delete(ctx context.Context, generation, key string) error
	Keys(ctx context.Context, generation string) ([]string, error)
	ListGenerations(ctx context.Context) ([]string, error)
	DeleteGeneration(ctx context.Context, name string) error
	// BytesUsed reports the summed body sizes of every entry in the generation.
	BytesUsed(ctx context.Context, generation string) (int64, error)
	Close(ctx context.Context) error
}
