// Package lifecycle governs cache generations: install-time pre-warming,
// activation cutover, and the periodic age-based cleanup sweep.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chanfm/cachefront/internal/cache"
	"github.com/chanfm/cachefront/internal/config"
	"github.com/chanfm/cachefront/internal/metrics"
	"github.com/chanfm/cachefront/internal/policy"
)

// State names the lifecycle phase of the manager.
type State string

const (
	// StateIdle means no generation has been installed yet.
	StateIdle State = "idle"
	// StateInstalling means a generation pre-warm is in progress.
	StateInstalling State = "installing"
	// StateWaiting means an installed generation awaits activation.
	StateWaiting State = "waiting"
	// StateActivating means stale generations are being evicted.
	StateActivating State = "activating"
	// StateActive means exactly one generation is serving traffic.
	StateActive State = "active"
)

// Fetcher retrieves an origin URL into a cache entry. Implemented by the
// runtime fetcher; narrowed here so the manager stays decoupled from it.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (cache.Entry, error)
}

// Snapshot is the serving view published at activation: the authoritative
// generation, the origin policy derived from the manifest, and the cached
// page served when an HTML fetch has no other fallback.
type Snapshot struct {
	Generation   string
	Policy       *policy.Origin
	FallbackPage string
}

// Options configures a Manager.
type Options struct {
	Store           cache.Store
	Fetcher         Fetcher
	Upstream        *url.URL
	SkipWaiting     bool
	CleanupInterval time.Duration
	MaxEntryAge     time.Duration
	Metrics         *metrics.Recorder
}

// Manager owns generation lifecycle. Install and activate are serialized by
// an internal mutex; the published snapshot is read lock-free by the request
// handler.
type Manager struct {
	store           cache.Store
	fetcher         Fetcher
	upstream        *url.URL
	skipWaiting     bool
	cleanupInterval time.Duration
	maxEntryAge     time.Duration
	logger          *slog.Logger
	metrics         *metrics.Recorder

	// now is swapped in tests to pin the cleanup clock.
	now func() time.Time

	mu      sync.Mutex
	state   State
	pending *config.Manifest

	snapshot atomic.Pointer[Snapshot]
}

// NewManager builds a manager publishing an empty snapshot: same-origin
// traffic is already classified correctly before the first activation, it
// just never hits the cache.
func NewManager(logger *slog.Logger, opts Options) (*Manager, error) {
	if opts.Store == nil {
		return nil, errors.New("lifecycle: store required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("lifecycle: fetcher required")
	}
	if opts.Upstream == nil {
		return nil, errors.New("lifecycle: upstream origin required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		store:           opts.Store,
		fetcher:         opts.Fetcher,
		upstream:        opts.Upstream,
		skipWaiting:     opts.SkipWaiting,
		cleanupInterval: opts.CleanupInterval,
		maxEntryAge:     opts.MaxEntryAge,
		logger:          logger.With(slog.String("agent", "lifecycle")),
		metrics:         opts.Metrics,
		now:             time.Now,
		state:           StateIdle,
	}
	m.snapshot.Store(&Snapshot{Policy: policy.NewOrigin(opts.Upstream.Hostname(), nil)})
	return m, nil
}

// Snapshot returns the current serving view.
func (m *Manager) Snapshot() Snapshot {
	return *m.snapshot.Load()
}

// CurrentGeneration reports the authoritative generation, empty before the
// first activation.
func (m *Manager) CurrentGeneration() string {
	return m.snapshot.Load().Generation
}

// Status reports the lifecycle state and current generation for health checks.
func (m *Manager) Status() (string, string) {
	m.mu.Lock()
	state := m.state
	m.mu.Unlock()
	return string(state), m.CurrentGeneration()
}

// Install pre-warms the manifest's generation with every precache resource.
// The install is all-or-nothing: any fetch failure or non-2xx status discards
// the attempt, deleting the generation only if this install created it. The
// previously active generation keeps serving throughout. On success the
// manager activates immediately when skipWaiting is set, otherwise it parks
// in the waiting state until SkipWaiting arrives.
func (m *Manager) Install(ctx context.Context, manifest config.Manifest) error {
	if err := manifest.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	prevState := m.state
	m.state = StateInstalling
	m.mu.Unlock()

	fail := func(err error) error {
		m.metrics.ObserveInstall(false)
		m.mu.Lock()
		m.state = prevState
		m.mu.Unlock()
		return err
	}

	existing, err := m.store.ListGenerations(ctx)
	if err != nil {
		return fail(fmt.Errorf("lifecycle: list generations: %w", err))
	}
	existedBefore := false
	for _, name := range existing {
		if name == manifest.Version {
			existedBefore = true
			break
		}
	}

	m.logger.Info("installing cache generation",
		slog.String("generation", manifest.Version),
		slog.Int("resources", len(manifest.Precache)))

	for _, path := range manifest.Precache {
		target := m.upstream.ResolveReference(&url.URL{Path: path})
		entry, err := m.fetcher.Fetch(ctx, target.String())
		if err == nil && (entry.Status < 200 || entry.Status > 299) {
			err = fmt.Errorf("lifecycle: precache %s: unexpected status %d", path, entry.Status)
		}
		if err == nil {
			err = m.store.Put(ctx, manifest.Version, cache.Key(target), entry)
		}
		if err != nil {
			m.logger.Error("install failed, discarding attempt",
				slog.String("generation", manifest.Version),
				slog.String("resource", path),
				slog.Any("error", err))
			if !existedBefore {
				if delErr := m.store.DeleteGeneration(ctx, manifest.Version); delErr != nil {
					m.logger.Error("failed to discard partial generation",
						slog.String("generation", manifest.Version),
						slog.Any("error", delErr))
				}
			}
			return fail(err)
		}
	}

	m.metrics.ObserveInstall(true)

	if m.skipWaiting {
		return m.activate(ctx, manifest)
	}

	m.mu.Lock()
	m.state = StateWaiting
	pending := manifest
	m.pending = &pending
	m.mu.Unlock()
	m.logger.Info("generation installed, waiting for activation",
		slog.String("generation", manifest.Version))
	return nil
}

// SkipWaiting forces activation of a parked install. It is a no-op when
// nothing is waiting.
func (m *Manager) SkipWaiting(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateWaiting || m.pending == nil {
		m.mu.Unlock()
		return nil
	}
	manifest := *m.pending
	m.mu.Unlock()
	return m.activate(ctx, manifest)
}

// activate publishes the new snapshot first, so already-open connections and
// new requests cut over immediately, then sweeps every other generation.
// After a successful activation exactly one generation remains.
func (m *Manager) activate(ctx context.Context, manifest config.Manifest) error {
	m.mu.Lock()
	m.state = StateActivating
	m.mu.Unlock()

	m.snapshot.Store(&Snapshot{
		Generation:   manifest.Version,
		Policy:       policy.NewOrigin(m.upstream.Hostname(), manifest.AllowedOrigins),
		FallbackPage: manifest.FallbackPage,
	})

	generations, err := m.store.ListGenerations(ctx)
	if err != nil {
		return fmt.Errorf("lifecycle: list generations: %w", err)
	}
	var errs []error
	for _, name := range generations {
		if name == manifest.Version {
			continue
		}
		if err := m.store.DeleteGeneration(ctx, name); err != nil {
			m.logger.Error("failed to delete stale generation",
				slog.String("generation", name), slog.Any("error", err))
			errs = append(errs, err)
		} else {
			m.logger.Info("deleted stale generation", slog.String("generation", name))
		}
	}

	m.mu.Lock()
	m.state = StateActive
	m.pending = nil
	m.mu.Unlock()

	m.logger.Info("generation activated", slog.String("generation", manifest.Version))
	return errors.Join(errs...)
}

// Run drives the periodic cleanup sweep until the context is cancelled.
func (m *Manager) Run(ctx context.Context) {
	if m.cleanupInterval <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			evicted, err := m.CleanupPass(ctx)
			if err != nil {
				m.logger.Error("cleanup pass failed", slog.Any("error", err))
				continue
			}
			m.logger.Info("cleanup pass complete", slog.Int("evicted", evicted))
		}
	}
}

// CleanupPass removes entries older than the configured threshold from the
// current generation, judging age by each entry's own date header. Entries
// without one cannot be aged and are retained. Per-entry errors are logged
// and skipped; the pass keeps going.
func (m *Manager) CleanupPass(ctx context.Context) (int, error) {
	snap := m.Snapshot()
	if snap.Generation == "" {
		return 0, nil
	}
	keys, err := m.store.Keys(ctx, snap.Generation)
	if err != nil {
		return 0, fmt.Errorf("lifecycle: cleanup keys: %w", err)
	}
	now := m.now()
	evicted := 0
	for _, key := range keys {
		entry, ok, err := m.store.Get(ctx, snap.Generation, key)
		if err != nil {
			m.logger.Warn("cleanup: entry read failed", slog.String("key", key), slog.Any("error", err))
			continue
		}
		if !ok {
			continue
		}
		captured, ok := entry.CapturedAt()
		if !ok {
			m.logger.Debug("cleanup: entry has no usable date, retained", slog.String("key", key))
			continue
		}
		if now.Sub(captured) <= m.maxEntryAge {
			continue
		}
		if err := m.store.Delete(ctx, snap.Generation, key); err != nil {
			m.logger.Warn("cleanup: entry delete failed", slog.String("key", key), slog.Any("error", err))
			continue
		}
		m.metrics.ObserveCleanupEviction()
		evicted++
	}
	return evicted, nil
}
