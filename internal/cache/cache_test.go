package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func testEntry(date string, body []byte) Entry {
	headers := map[string]string{"content-type": "text/css"}
	if date != "" {
		headers["date"] = date
	}
	return Entry{Status: 200, Headers: headers, Body: body}
}

// exerciseStore runs the Store contract shared by every backend.
func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := store.Get(ctx, "v1", "GET https://chanfm.example/styles.css")
	require.NoError(t, err)
	require.False(t, ok)

	entry := testEntry(time.Now().UTC().Format(time.RFC1123), []byte("body { margin: 0 }"))
	require.NoError(t, store.Put(ctx, "v1", "GET https://chanfm.example/styles.css", entry))

	got, ok, err := store.Get(ctx, "v1", "GET https://chanfm.example/styles.css")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 200, got.Status)
	require.Equal(t, entry.Body, got.Body)
	require.Equal(t, "text/css", got.Headers["content-type"])

	// Put overwrites silently.
	replacement := testEntry("", []byte("body { margin: 1px }"))
	require.NoError(t, store.Put(ctx, "v1", "GET https://chanfm.example/styles.css", replacement))
	got, ok, err = store.Get(ctx, "v1", "GET https://chanfm.example/styles.css")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, replacement.Body, got.Body)

	require.NoError(t, store.Put(ctx, "v1", "GET https://chanfm.example/", testEntry("", []byte("<html>"))))
	require.NoError(t, store.Put(ctx, "v2", "GET https://chanfm.example/", testEntry("", []byte("<html2>"))))

	keys, err := store.Keys(ctx, "v1")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{
		"GET https://chanfm.example/styles.css",
		"GET https://chanfm.example/",
	}, keys)

	generations, err := store.ListGenerations(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"v1", "v2"}, generations)

	used, err := store.BytesUsed(ctx, "v1")
	require.NoError(t, err)
	require.Equal(t, int64(len(replacement.Body)+len("<html>")), used)

	require.NoError(t, store.Delete(ctx, "v1", "GET https://chanfm.example/"))
	_, ok, err = store.Get(ctx, "v1", "GET https://chanfm.example/")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.DeleteGeneration(ctx, "v1"))
	generations, err = store.ListGenerations(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"v2"}, generations)

	used, err = store.BytesUsed(ctx, "v1")
	require.NoError(t, err)
	require.Zero(t, used)

	require.NoError(t, store.Close(ctx))
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemory())
}

func TestMemoryStoreClonesEntries(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	body := []byte("original")
	require.NoError(t, store.Put(ctx, "v1", "k", Entry{Status: 200, Body: body}))
	body[0] = 'X'

	got, ok, err := store.Get(ctx, "v1", "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("original"), got.Body)

	got.Body[0] = 'Y'
	again, _, err := store.Get(ctx, "v1", "k")
	require.NoError(t, err)
	require.Equal(t, []byte("original"), again.Body)
}

func TestRedisStore(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	defer server.Close()

	store, err := NewRedis(RedisConfig{Address: server.Addr()})
	require.NoError(t, err)
	exerciseStore(t, store)
}

func TestSQLiteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cachefront.db")
	store, err := NewSQLite(path)
	require.NoError(t, err)
	exerciseStore(t, store)
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cachefront.db")
	ctx := context.Background()

	store, err := NewSQLite(path)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, "v1", "GET https://chanfm.example/", testEntry("", []byte("<html>"))))
	require.NoError(t, store.Close(ctx))

	reopened, err := NewSQLite(path)
	require.NoError(t, err)
	defer reopened.Close(ctx)

	_, ok, err := reopened.Get(ctx, "v1", "GET https://chanfm.example/")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestEntryCapturedAt(t *testing.T) {
	when := time.Date(2026, time.August, 20, 12, 0, 0, 0, time.UTC)
	entry := testEntry(when.Format(http1123), nil)
	captured, ok := entry.CapturedAt()
	require.True(t, ok)
	require.True(t, captured.Equal(when))

	_, ok = testEntry("", nil).CapturedAt()
	require.False(t, ok)

	_, ok = testEntry("not a date", nil).CapturedAt()
	require.False(t, ok)
}

const http1123 = "Mon, 02 Jan 2006 15:04:05 GMT"
