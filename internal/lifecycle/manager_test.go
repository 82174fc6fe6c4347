package lifecycle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"testing"
	"time"

	"github.com/chanfm/cachefront/internal/cache"
	"github.com/chanfm/cachefront/internal/config"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	entries map[string]cache.Entry
	fail    map[string]error
	calls   []string
}

func (f *fakeFetcher) Fetch(_ context.Context, target string) (cache.Entry, error) {
	f.calls = append(f.calls, target)
	if err, ok := f.fail[target]; ok {
		return cache.Entry{}, err
	}
	if entry, ok := f.entries[target]; ok {
		return entry, nil
	}
	return cache.Entry{Status: 200, Headers: map[string]string{"content-type": "text/html"}, Body: []byte("ok")}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testUpstream(t *testing.T) *url.URL {
	t.Helper()
	u, err := url.Parse("https://chanfm.example")
	require.NoError(t, err)
	return u
}

func newManager(t *testing.T, store cache.Store, fetcher Fetcher, skipWaiting bool) *Manager {
	t.Helper()
	m, err := NewManager(testLogger(), Options{
		Store:       store,
		Fetcher:     fetcher,
		Upstream:    testUpstream(t),
		SkipWaiting: skipWaiting,
		MaxEntryAge: 7 * 24 * time.Hour,
	})
	require.NoError(t, err)
	return m
}

func manifest(version string, precache ...string) config.Manifest {
	return config.Manifest{Version: version, Precache: precache}
}

func TestInstallPrewarmsAndActivates(t *testing.T) {
	store := cache.NewMemory()
	fetcher := &fakeFetcher{}
	m := newManager(t, store, fetcher, true)
	ctx := context.Background()

	require.NoError(t, m.Install(ctx, manifest("chanfm-v1.0.0", "/", "/styles.css")))

	state, generation := m.Status()
	require.Equal(t, string(StateActive), state)
	require.Equal(t, "chanfm-v1.0.0", generation)

	_, ok, err := store.Get(ctx, "chanfm-v1.0.0", "GET https://chanfm.example/")
	require.NoError(t, err)
	require.True(t, ok)
	_, ok, err = store.Get(ctx, "chanfm-v1.0.0", "GET https://chanfm.example/styles.css")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestInstallIsAllOrNothing(t *testing.T) {
	store := cache.NewMemory()
	fetcher := &fakeFetcher{fail: map[string]error{
		"https://chanfm.example/styles.css": errors.New("connection refused"),
	}}
	m := newManager(t, store, fetcher, true)
	ctx := context.Background()

	err := m.Install(ctx, manifest("chanfm-v1.0.0", "/", "/styles.css"))
	require.Error(t, err)

	generations, err := store.ListGenerations(ctx)
	require.NoError(t, err)
	require.Empty(t, generations, "no entries from the failed attempt persist")
	require.Empty(t, m.CurrentGeneration())
}

func TestInstallNon2xxPrecacheFails(t *testing.T) {
	store := cache.NewMemory()
	fetcher := &fakeFetcher{entries: map[string]cache.Entry{
		"https://chanfm.example/missing.css": {Status: 404, Body: []byte("nope")},
	}}
	m := newManager(t, store, fetcher, true)

	err := m.Install(context.Background(), manifest("v1", "/missing.css"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "status 404")
}

func TestInstallFailureKeepsPreviousGenerationServing(t *testing.T) {
	store := cache.NewMemory()
	fetcher := &fakeFetcher{}
	m := newManager(t, store, fetcher, true)
	ctx := context.Background()

	require.NoError(t, m.Install(ctx, manifest("v1", "/")))
	require.Equal(t, "v1", m.CurrentGeneration())

	fetcher.fail = map[string]error{"https://chanfm.example/new.css": errors.New("boom")}
	err := m.Install(ctx, manifest("v2", "/", "/new.css"))
	require.Error(t, err)

	require.Equal(t, "v1", m.CurrentGeneration(), "old generation keeps serving")
	state, _ := m.Status()
	require.Equal(t, string(StateActive), state)
	generations, err := store.ListGenerations(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"v1"}, generations)
}

func TestInstallFailureRetainsPreexistingGeneration(t *testing.T) {
	store := cache.NewMemory()
	ctx := context.Background()
	// Simulate a restart where v1 already holds entries from an earlier boot.
	require.NoError(t, store.Put(ctx, "v1", "GET https://chanfm.example/old.css", cache.Entry{Status: 200}))

	fetcher := &fakeFetcher{fail: map[string]error{"https://chanfm.example/": errors.New("boom")}}
	m := newManager(t, store, fetcher, true)

	require.Error(t, m.Install(ctx, manifest("v1", "/")))

	_, ok, err := store.Get(ctx, "v1", "GET https://chanfm.example/old.css")
	require.NoError(t, err)
	require.True(t, ok, "a generation this install did not create must survive its failure")
}

func TestActivationLeavesExactlyOneGeneration(t *testing.T) {
	store := cache.NewMemory()
	ctx := context.Background()
	for _, stale := range []string{"v0", "v1", "v2"} {
		require.NoError(t, store.Put(ctx, stale, "GET https://chanfm.example/", cache.Entry{Status: 200}))
	}

	m := newManager(t, store, &fakeFetcher{}, true)
	require.NoError(t, m.Install(ctx, manifest("v3", "/")))

	generations, err := store.ListGenerations(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"v3"}, generations)
}

func TestWaitingUntilSkipWaiting(t *testing.T) {
	store := cache.NewMemory()
	m := newManager(t, store, &fakeFetcher{}, false)
	ctx := context.Background()

	require.NoError(t, m.Install(ctx, manifest("v1", "/")))
	state, generation := m.Status()
	require.Equal(t, string(StateWaiting), state)
	require.Empty(t, generation, "not authoritative until activated")

	require.NoError(t, m.SkipWaiting(ctx))
	state, generation = m.Status()
	require.Equal(t, string(StateActive), state)
	require.Equal(t, "v1", generation)
}

func TestSkipWaitingWithoutPendingIsNoop(t *testing.T) {
	m := newManager(t, cache.NewMemory(), &fakeFetcher{}, true)
	require.NoError(t, m.SkipWaiting(context.Background()))
	require.Empty(t, m.CurrentGeneration())
}

func TestSnapshotCarriesManifestPolicy(t *testing.T) {
	m := newManager(t, cache.NewMemory(), &fakeFetcher{}, true)
	ctx := context.Background()

	mf := manifest("v1", "/")
	mf.AllowedOrigins = []string{"fonts.gstatic.com"}
	mf.FallbackPage = "/404.html"
	require.NoError(t, m.Install(ctx, mf))

	snap := m.Snapshot()
	require.Equal(t, "v1", snap.Generation)
	require.Equal(t, "/404.html", snap.FallbackPage)
	fonts, err := url.Parse("https://fonts.gstatic.com/s/font.woff2")
	require.NoError(t, err)
	require.True(t, snap.Policy.Cacheable(fonts))
}

func TestCleanupEvictsByResponseDate(t *testing.T) {
	store := cache.NewMemory()
	m := newManager(t, store, &fakeFetcher{}, true)
	ctx := context.Background()
	require.NoError(t, m.Install(ctx, manifest("v1", "/")))

	now := time.Date(2026, time.August, 30, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	httpDate := func(t time.Time) string { return t.Format("Mon, 02 Jan 2006 15:04:05 GMT") }
	put := func(key, date string) {
		headers := map[string]string{}
		if date != "" {
			headers["date"] = date
		}
		require.NoError(t, store.Put(ctx, "v1", key, cache.Entry{Status: 200, Headers: headers}))
	}
	put("GET https://chanfm.example/old.css", httpDate(now.Add(-8*24*time.Hour)))
	put("GET https://chanfm.example/fresh.css", httpDate(now.Add(-6*24*time.Hour)))
	put("GET https://chanfm.example/dateless.css", "")

	evicted, err := m.CleanupPass(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, evicted)

	_, ok, err := store.Get(ctx, "v1", "GET https://chanfm.example/old.css")
	require.NoError(t, err)
	require.False(t, ok, "8-day-old entry evicted")
	_, ok, err = store.Get(ctx, "v1", "GET https://chanfm.example/fresh.css")
	require.NoError(t, err)
	require.True(t, ok, "6-day-old entry retained")
	_, ok, err = store.Get(ctx, "v1", "GET https://chanfm.example/dateless.css")
	require.NoError(t, err)
	require.True(t, ok, "entries without a date cannot be aged")
}

func TestCleanupWithoutGenerationIsNoop(t *testing.T) {
	m := newManager(t, cache.NewMemory(), &fakeFetcher{}, true)
	evicted, err := m.CleanupPass(context.Background())
	require.NoError(t, err)
	require.Zero(t, evicted)
}
