package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CacheOperation identifies the store method being instrumented.
type CacheOperation string

const (
	// CacheOperationLookup records store lookup calls.
	CacheOperationLookup CacheOperation = "lookup"
	// CacheOperationStore records store write attempts.
	CacheOperationStore CacheOperation = "store"
)

// CacheLookupOutcome captures the result of a store lookup.
type CacheLookupOutcome string

const (
	// CacheLookupHit indicates the lookup found a cached response.
	CacheLookupHit CacheLookupOutcome = "hit"
	// CacheLookupMiss indicates no cached response was present.
	CacheLookupMiss CacheLookupOutcome = "miss"
	// CacheLookupError indicates the lookup failed due to an error.
	CacheLookupError CacheLookupOutcome = "error"
)

// CacheStoreOutcome captures the result of a store write attempt.
type CacheStoreOutcome string

const (
	// CacheStoreStored indicates the entry was persisted.
	CacheStoreStored CacheStoreOutcome = "stored"
	// CacheStoreError indicates the write failed.
	CacheStoreError CacheStoreOutcome = "error"
)

// RevalidationOutcome captures the result of a background revalidation.
type RevalidationOutcome string

const (
	// RevalidationRefreshed indicates the entry was overwritten with a fresh copy.
	RevalidationRefreshed RevalidationOutcome = "refreshed"
	// RevalidationSkipped indicates the network copy was not storable (non-2xx).
	RevalidationSkipped RevalidationOutcome = "skipped"
	// RevalidationError indicates the background fetch or store failed.
	RevalidationError RevalidationOutcome = "error"
)

// Recorder publishes Prometheus metrics for gateway activity.
type Recorder struct {
	gatherer prometheus.Gatherer
	handler  http.Handler

	fetchRequests *prometheus.CounterVec
	fetchLatency  *prometheus.HistogramVec

	cacheOperations *prometheus.CounterVec
	revalidations   *prometheus.CounterVec

	installs         *prometheus.CounterVec
	cleanupEvictions prometheus.Counter
}

// NewRecorder constructs a Prometheus-backed Recorder. When reg is nil a dedicated
// registry is created so multiple recorders can coexist without conflicting with
// the global default registerer.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	fetchRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cachefront",
		Subsystem: "fetch",
		Name:      "requests_total",
		Help:      "Intercepted fetches handled by the gateway.",
	}, []string{"strategy", "outcome", "from_cache"})

	fetchLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "cachefront",
		Subsystem: "fetch",
		Name:      "request_duration_seconds",
		Help:      "Latency distribution for completed fetches.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"strategy", "outcome"})

	cacheOperations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cachefront",
		Subsystem: "cache",
		Name:      "operations_total",
		Help:      "Cache store operations executed by the request handler.",
	}, []string{"operation", "result"})

	revalidations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cachefront",
		Subsystem: "cache",
		Name:      "revalidations_total",
		Help:      "Background revalidations triggered by cache-first hits.",
	}, []string{"result"})

	installs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cachefront",
		Subsystem: "lifecycle",
		Name:      "installs_total",
		Help:      "Cache generation installs attempted by the lifecycle manager.",
	}, []string{"result"})

	cleanupEvictions := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "cachefront",
		Subsystem: "lifecycle",
		Name:      "cleanup_evictions_total",
		Help:      "Entries evicted by the periodic age-based cleanup.",
	})

	reg.MustRegister(fetchRequests, fetchLatency, cacheOperations, revalidations, installs, cleanupEvictions)

	handler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	return &Recorder{
		gatherer:         reg,
		handler:          handler,
		fetchRequests:    fetchRequests,
		fetchLatency:     fetchLatency,
		cacheOperations:  cacheOperations,
		revalidations:    revalidations,
		installs:         installs,
		cleanupEvictions: cleanupEvictions,
	}
}

// Handler exposes the Prometheus HTTP handler for the recorder's registry.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics unavailable", http.StatusServiceUnavailable)
		})
	}
	return r.handler
}

// Gatherer returns the underlying Prometheus gatherer for tests and advanced
// integrations.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.gatherer
}

// ObserveFetch records the outcome and latency for a completed fetch.
func (r *Recorder) ObserveFetch(strategy, outcome string, fromCache bool, duration time.Duration) {
	if r == nil {
		return
	}
	strategyLabel := normalizeLabel(strategy)
	outcomeLabel := normalizeLabel(outcome)
	cacheLabel := "false"
	if fromCache {
		cacheLabel = "true"
	}
	r.fetchRequests.WithLabelValues(strategyLabel, outcomeLabel, cacheLabel).Inc()
	r.fetchLatency.WithLabelValues(strategyLabel, outcomeLabel).Observe(duration.Seconds())
}

// ObserveCacheLookup records the result of a store lookup.
func (r *Recorder) ObserveCacheLookup(result CacheLookupOutcome) {
	if r == nil {
		return
	}
	resultLabel := string(result)
	if resultLabel == "" {
		resultLabel = string(CacheLookupMiss)
	}
	r.cacheOperations.WithLabelValues(string(CacheOperationLookup), resultLabel).Inc()
}

// ObserveCacheStore records the result of a store write attempt.
func (r *Recorder) ObserveCacheStore(result CacheStoreOutcome) {
	if r == nil {
		return
	}
	resultLabel := string(result)
	if resultLabel == "" {
		resultLabel = string(CacheStoreError)
	}
	r.cacheOperations.WithLabelValues(string(CacheOperationStore), resultLabel).Inc()
}

// ObserveRevalidation records the terminal state of a background revalidation.
func (r *Recorder) ObserveRevalidation(result RevalidationOutcome) {
	if r == nil {
		return
	}
	resultLabel := string(result)
	if resultLabel == "" {
		resultLabel = string(RevalidationError)
	}
	r.revalidations.WithLabelValues(resultLabel).Inc()
}

// ObserveInstall records an install attempt.
func (r *Recorder) ObserveInstall(success bool) {
	if r == nil {
		return
	}
	result := "failure"
	if success {
		result = "success"
	}
	r.installs.WithLabelValues(result).Inc()
}

// ObserveCleanupEviction counts one entry removed by the cleanup sweep.
func (r *Recorder) ObserveCleanupEviction() {
	if r == nil {
		return
	}
	r.cleanupEvictions.Inc()
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
