package runtime

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/chanfm/cachefront/internal/cache"
	"github.com/chanfm/cachefront/internal/lifecycle"
	"github.com/chanfm/cachefront/internal/metrics"
	"github.com/chanfm/cachefront/internal/strategy"
	"github.com/chanfm/cachefront/internal/templates"
)

const (
	defaultNotFoundBody    = "404 page not found\n"
	defaultUnavailableBody = "503 service unavailable\n"

	// backgroundTimeout bounds detached revalidation and persist tasks,
	// which outlive the request that spawned them.
	backgroundTimeout = 30 * time.Second
)

// SnapshotSource exposes the serving view published by the lifecycle manager.
type SnapshotSource interface {
	Snapshot() lifecycle.Snapshot
}

// HandlerOptions wires the collaborators of the request handler.
type HandlerOptions struct {
	Store       cache.Store
	Fetcher     *Fetcher
	Selector    *strategy.Selector
	Snapshots   SnapshotSource
	Upstream    *url.URL
	Client      *http.Client
	Metrics     *metrics.Recorder
	NotFound    *templates.Template
	Unavailable *templates.Template
}

// Handler intercepts GET traffic for cache-eligible origins and orchestrates
// cache-first and network-first handling. Everything else passes through to
// its origin untouched. Every interception path terminates in a written
// response; the fallback branch is the terminal error boundary.
type Handler struct {
	store       cache.Store
	fetcher     *Fetcher
	selector    *strategy.Selector
	snapshots   SnapshotSource
	upstream    *url.URL
	client      *http.Client
	logger      *slog.Logger
	metrics     *metrics.Recorder
	notFound    *templates.Template
	unavailable *templates.Template

	// test seams observing the completion of detached background tasks
	afterRevalidate func(key string, err error)
	afterPersist    func(key string, err error)
}

// NewHandler builds the request handler.
func NewHandler(logger *slog.Logger, opts HandlerOptions) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	client := opts.Client
	if client == nil {
		client = http.DefaultClient
	}
	fetcher := opts.Fetcher
	if fetcher == nil {
		fetcher = NewFetcher(client)
	}
	return &Handler{
		store:       opts.Store,
		fetcher:     fetcher,
		selector:    opts.Selector,
		snapshots:   opts.Snapshots,
		upstream:    opts.Upstream,
		client:      client,
		logger:      logger.With(slog.String("agent", "request_handler")),
		metrics:     opts.Metrics,
		notFound:    opts.NotFound,
		unavailable: opts.Unavailable,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	target := h.resolveTarget(r)
	snap := h.snapshots.Snapshot()

	// Only read-only GETs are intercepted; everything else keeps default
	// proxy behavior, as do origins outside the allow-list.
	if r.Method != http.MethodGet || !snap.Policy.Cacheable(target) {
		h.passThrough(w, r, target)
		return
	}

	// No generation means no install has ever succeeded. Serve network-only
	// until one does; writing under an empty generation name would create a
	// phantom generation the lifecycle never manages.
	if snap.Generation == "" {
		h.passThrough(w, r, target)
		return
	}

	req := strategy.Request{
		Method:      r.Method,
		Path:        target.Path,
		Origin:      target.Hostname(),
		Accept:      r.Header.Get("Accept"),
		CrossOrigin: snap.Policy.CrossOrigin(target),
	}
	key := cache.Key(target)
	start := time.Now()

	switch h.selector.Classify(req) {
	case strategy.CacheFirst:
		h.serveCacheFirst(w, r, snap, key, target, start)
	default:
		h.serveNetworkFirst(w, r, snap, key, target, start)
	}
}

// resolveTarget maps the inbound request onto an absolute origin URL.
// Path-form requests resolve against the configured upstream; absolute-form
// (forward-proxy style) requests carry their own origin.
func (h *Handler) resolveTarget(r *http.Request) *url.URL {
	if r.URL.IsAbs() {
		clone := *r.URL
		return &clone
	}
	return h.upstream.ResolveReference(&url.URL{Path: r.URL.Path, RawQuery: r.URL.RawQuery})
}

func (h *Handler) serveCacheFirst(w http.ResponseWriter, r *http.Request, snap lifecycle.Snapshot, key string, target *url.URL, start time.Time) {
	entry, ok, err := h.store.Get(r.Context(), snap.Generation, key)
	switch {
	case err != nil:
		h.metrics.ObserveCacheLookup(metrics.CacheLookupError)
		h.logger.Warn("cache lookup failed", slog.String("key", key), slog.Any("error", err))
	case ok:
		h.metrics.ObserveCacheLookup(metrics.CacheLookupHit)
	default:
		h.metrics.ObserveCacheLookup(metrics.CacheLookupMiss)
	}

	if ok {
		// Serve stale immediately; refresh out of band.
		h.revalidate(snap.Generation, key, target)
		writeEntry(w, entry, "HIT")
		h.metrics.ObserveFetch(string(strategy.CacheFirst), "cache", true, time.Since(start))
		return
	}

	fetched, err := h.fetcher.Fetch(r.Context(), target.String())
	if errors.Is(err, ErrBodyTooLarge) {
		// Too big to snapshot; stream it through uncached instead.
		h.passThrough(w, r, target)
		h.metrics.ObserveFetch(string(strategy.CacheFirst), "network", false, time.Since(start))
		return
	}
	if err != nil {
		h.logger.Warn("cache-first network fetch failed",
			slog.String("url", target.String()), slog.Any("error", err))
		h.fallback(w, r, snap, string(strategy.CacheFirst), start)
		return
	}
	if storable(fetched.Status) {
		if err := h.store.Put(r.Context(), snap.Generation, key, fetched); err != nil {
			h.metrics.ObserveCacheStore(metrics.CacheStoreError)
			h.logger.Warn("cache store failed", slog.String("key", key), slog.Any("error", err))
		} else {
			h.metrics.ObserveCacheStore(metrics.CacheStoreStored)
		}
	}
	writeEntry(w, fetched, "MISS")
	h.metrics.ObserveFetch(string(strategy.CacheFirst), "network", false, time.Since(start))
}

func (h *Handler) serveNetworkFirst(w http.ResponseWriter, r *http.Request, snap lifecycle.Snapshot, key string, target *url.URL, start time.Time) {
	fetched, err := h.fetcher.Fetch(r.Context(), target.String())
	if errors.Is(err, ErrBodyTooLarge) {
		h.passThrough(w, r, target)
		h.metrics.ObserveFetch(string(strategy.NetworkFirst), "network", false, time.Since(start))
		return
	}
	if err == nil {
		if storable(fetched.Status) {
			h.persist(snap.Generation, key, fetched)
		}
		writeEntry(w, fetched, "MISS")
		h.metrics.ObserveFetch(string(strategy.NetworkFirst), "network", false, time.Since(start))
		return
	}
	h.logger.Warn("network-first fetch failed, trying cache",
		slog.String("url", target.String()), slog.Any("error", err))

	entry, ok, lookupErr := h.store.Get(r.Context(), snap.Generation, key)
	switch {
	case lookupErr != nil:
		h.metrics.ObserveCacheLookup(metrics.CacheLookupError)
		h.logger.Warn("cache lookup failed", slog.String("key", key), slog.Any("error", lookupErr))
	case ok:
		h.metrics.ObserveCacheLookup(metrics.CacheLookupHit)
	default:
		h.metrics.ObserveCacheLookup(metrics.CacheLookupMiss)
	}
	if ok {
		writeEntry(w, entry, "HIT")
		h.metrics.ObserveFetch(string(strategy.NetworkFirst), "cache", true, time.Since(start))
		return
	}
	h.fallback(w, r, snap, string(strategy.NetworkFirst), start)
}

// fallback is the terminal error boundary: it always writes a response and
// never propagates a failure.
func (h *Handler) fallback(w http.ResponseWriter, r *http.Request, snap lifecycle.Snapshot, strategyLabel string, start time.Time) {
	wantsHTML := strategy.Request{Accept: r.Header.Get("Accept")}.WantsHTML()

	if wantsHTML {
		if snap.FallbackPage != "" {
			pageURL := h.upstream.ResolveReference(&url.URL{Path: snap.FallbackPage})
			entry, ok, err := h.store.Get(r.Context(), snap.Generation, cache.Key(pageURL))
			if err != nil {
				h.logger.Warn("fallback page lookup failed", slog.Any("error", err))
			}
			if ok {
				writeEntry(w, entry, "HIT")
				h.metrics.ObserveFetch(strategyLabel, "fallback_page", true, time.Since(start))
				return
			}
		}
		h.writeSynthesized(w, r, h.notFound, http.StatusNotFound, defaultNotFoundBody)
		h.metrics.ObserveFetch(strategyLabel, "fallback_404", false, time.Since(start))
		return
	}

	h.writeSynthesized(w, r, h.unavailable, http.StatusServiceUnavailable, defaultUnavailableBody)
	h.metrics.ObserveFetch(strategyLabel, "fallback_503", false, time.Since(start))
}

func (h *Handler) writeSynthesized(w http.ResponseWriter, r *http.Request, tmpl *templates.Template, status int, fallbackBody string) {
	body := fallbackBody
	if tmpl != nil {
		rendered, err := tmpl.Render(templates.FallbackData{Path: r.URL.Path, Status: status})
		if err != nil {
			h.logger.Warn("fallback template render failed",
				slog.String("template", tmpl.Name()), slog.Any("error", err))
		} else {
			body = rendered
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

// revalidate refreshes a served-from-cache entry out of band. The caller
// never waits on it; failures are logged and counted only.
func (h *Handler) revalidate(generation, key string, target *url.URL) {
	targetURL := target.String()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
		defer cancel()

		entry, err := h.fetcher.Fetch(ctx, targetURL)
		switch {
		case errors.Is(err, ErrBodyTooLarge):
			h.metrics.ObserveRevalidation(metrics.RevalidationSkipped)
		case err != nil:
			h.metrics.ObserveRevalidation(metrics.RevalidationError)
			h.logger.Debug("revalidation fetch failed", slog.String("url", targetURL), slog.Any("error", err))
		case !storable(entry.Status):
			h.metrics.ObserveRevalidation(metrics.RevalidationSkipped)
		default:
			if putErr := h.store.Put(ctx, generation, key, entry); putErr != nil {
				err = putErr
				h.metrics.ObserveRevalidation(metrics.RevalidationError)
				h.logger.Debug("revalidation store failed", slog.String("key", key), slog.Any("error", putErr))
			} else {
				h.metrics.ObserveRevalidation(metrics.RevalidationRefreshed)
			}
		}
		if h.afterRevalidate != nil {
			h.afterRevalidate(key, err)
		}
	}()
}

// persist stores a network-first response without blocking the live reply.
func (h *Handler) persist(generation, key string, entry cache.Entry) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
		defer cancel()

		err := h.store.Put(ctx, generation, key, entry)
		if err != nil {
			h.metrics.ObserveCacheStore(metrics.CacheStoreError)
			h.logger.Warn("async cache store failed", slog.String("key", key), slog.Any("error", err))
		} else {
			h.metrics.ObserveCacheStore(metrics.CacheStoreStored)
		}
		if h.afterPersist != nil {
			h.afterPersist(key, err)
		}
	}()
}

// passThrough forwards the request to its origin without touching the cache,
// preserving default proxy behavior for non-GET methods and origins outside
// the allow-list.
func (h *Handler) passThrough(w http.ResponseWriter, r *http.Request, target *url.URL) {
	outbound := r.Clone(r.Context())
	outbound.URL = target
	outbound.RequestURI = ""
	outbound.Host = ""
	removeHopByHopHeaders(outbound.Header)

	resp, err := h.client.Do(outbound)
	if err != nil {
		h.logger.Warn("pass-through failed", slog.String("url", target.String()), slog.Any("error", err))
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	header := w.Header()
	for name, values := range resp.Header {
		for _, value := range values {
			header.Add(name, value)
		}
	}
	removeHopByHopHeaders(header)
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		h.logger.Debug("pass-through body copy interrupted", slog.Any("error", err))
	}
}

// hopByHopHeaders are connection-scoped and must not be forwarded (RFC 9110).
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

func removeHopByHopHeaders(header http.Header) {
	for _, name := range hopByHopHeaders {
		header.Del(name)
	}
}

func writeEntry(w http.ResponseWriter, entry cache.Entry, verdict string) {
	header := w.Header()
	for name, value := range entry.Headers {
		canonical := http.CanonicalHeaderKey(name)
		skip := false
		for _, hop := range hopByHopHeaders {
			if canonical == hop {
				skip = true
				break
			}
		}
		if skip {
			continue
		}
		header.Set(canonical, value)
	}
	header.Set("X-Cache", verdict)
	status := entry.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(entry.Body)
}
