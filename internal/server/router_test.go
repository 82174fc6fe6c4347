package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

type stubStatus struct {
	state      string
	generation string
}

func (s stubStatus) Status() (string, string) { return s.state, s.generation }

func markingHandler(name string, hits map[string]int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits[name]++
		w.WriteHeader(http.StatusOK)
	})
}

func TestRouterDispatchesReservedPaths(t *testing.T) {
	hits := map[string]int{}
	router := NewRouter(Routes{
		Gateway:   markingHandler("gateway", hits),
		Control:   markingHandler("control", hits),
		Metrics:   markingHandler("metrics", hits),
		Lifecycle: stubStatus{state: "active", generation: "v1"},
	})

	cases := []struct {
		path string
		want string
	}{
		{"/-/control", "control"},
		{"/metrics", "metrics"},
		{"/", "gateway"},
		{"/index.html", "gateway"},
		{"/assets/app.js", "gateway"},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tc.path, nil))
		if hits[tc.want] == 0 {
			t.Fatalf("path %s did not reach %s handler", tc.path, tc.want)
		}
		for name := range hits {
			hits[name] = 0
		}
	}
}

func TestRouterHealthReportsLifecycleState(t *testing.T) {
	router := NewRouter(Routes{
		Gateway:   http.NotFoundHandler(),
		Lifecycle: stubStatus{state: "active", generation: "v2"},
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var payload map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("unexpected body: %v", err)
	}
	if payload["state"] != "active" || payload["generation"] != "v2" {
		t.Fatalf("unexpected health payload: %v", payload)
	}
}

func TestRouterMissingControlRespondsNotFound(t *testing.T) {
	router := NewRouter(Routes{Gateway: http.NotFoundHandler()})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/-/control", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestRouterWithoutGatewayRespondsUnavailable(t *testing.T) {
	router := NewRouter(Routes{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}
