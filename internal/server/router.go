package server

import (
	"encoding/json"
	"net/http"
	"strings"
)

// LifecycleStatus is the slice of the lifecycle manager the health route
// reports on.
type LifecycleStatus interface {
	Status() (state, generation string)
}

// Routes gathers the handlers the router dispatches to. Gateway receives
// everything that is not a reserved path; Control and Metrics are optional
// and respond 404 when absent.
type Routes struct {
	Gateway   http.Handler
	Control   http.Handler
	Metrics   http.Handler
	Lifecycle LifecycleStatus
}

// NewRouter wires the HTTP routing facade so the listener owns URL dispatch
// without embedding routing logic into the gateway itself. Reserved paths
// (/-/control, /healthz, /metrics) shadow same-named site resources.
func NewRouter(routes Routes) http.Handler {
	if routes.Gateway == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "gateway unavailable", http.StatusServiceUnavailable)
		})
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch normalizeRoute(r.URL.Path) {
		case "control":
			dispatch(w, r, routes.Control)
		case "healthz":
			serveHealth(w, routes.Lifecycle)
		case "metrics":
			dispatch(w, r, routes.Metrics)
		default:
			routes.Gateway.ServeHTTP(w, r)
		}
	})
}

func dispatch(w http.ResponseWriter, r *http.Request, handler http.Handler) {
	if handler == nil {
		http.NotFound(w, r)
		return
	}
	handler.ServeHTTP(w, r)
}

func serveHealth(w http.ResponseWriter, lifecycle LifecycleStatus) {
	state, generation := "unknown", ""
	if lifecycle != nil {
		state, generation = lifecycle.Status()
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":     "ok",
		"state":      state,
		"generation": generation,
	})
}

func normalizeRoute(path string) string {
	trimmed := strings.Trim(path, "/")
	switch strings.ToLower(trimmed) {
	case "-/control":
		return "control"
	case "health", "healthz":
		return "healthz"
	case "metrics":
		return "metrics"
	}
	return ""
}
