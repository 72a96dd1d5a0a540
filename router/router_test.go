// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package router

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/danielhkuo/agora/admission"
	"github.com/danielhkuo/agora/cliparse"
	"github.com/danielhkuo/agora/gate"
	"github.com/danielhkuo/agora/quality"
	"github.com/danielhkuo/agora/storage"
	"github.com/danielhkuo/agora/tally"
	"github.com/danielhkuo/agora/testutil"
)

func newTestRouter(t *testing.T, cfg cliparse.Config) *http.ServeMux {
	t.Helper()
	store := storage.NewMemoryStore(0)
	g := gate.New(store, testutil.FixedChallenger{}, gate.Config{Secret: cfg.IdentitySecret})
	registry := tally.NewRegistry(tally.NewCoordinator(testutil.TestTopic("t1"), store, g, nil, tally.Config{}))

	scorer, err := quality.NewHeuristicScorer(quality.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	pipeline := admission.New(g, scorer, registry, admission.Config{Budget: cfg.VoteBudget})

	return NewRouter(Deps{Registry: registry, Pipeline: pipeline, Store: store}, cfg)
}

func TestHealthEndpoint(t *testing.T) {
	mux := newTestRouter(t, testutil.GetTestConfig())

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	if w.Body.String() != "OK" {
		t.Errorf("Expected body 'OK', got '%s'", w.Body.String())
	}
}

func TestRootEndpoint(t *testing.T) {
	mux := newTestRouter(t, testutil.GetTestConfig())

	req := httptest.NewRequest("GET", "/", nil)
	w := httptest.NewRecorder()

	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	expected := "agora API v1"
	if w.Body.String() != expected {
		t.Errorf("Expected body '%s', got '%s'", expected, w.Body.String())
	}
}

func TestRouteExistence(t *testing.T) {
	mux := newTestRouter(t, testutil.GetTestConfig())

	// Handlers may legitimately answer 4xx for empty requests; the route
	// only has to exist
	testCases := []struct {
		method string
		path   string
	}{
		{"GET", "/health"},
		{"GET", "/"},
		{"GET", "/topics"},
		{"GET", "/topics/t1/status"},
		{"POST", "/topics/t1/credentials"},
		{"POST", "/topics/t1/votes"},
		{"GET", "/topics/t1/stream"},
	}

	for _, tc := range testCases {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.path, strings.NewReader(""))
			w := httptest.NewRecorder()

			mux.ServeHTTP(w, req)

			if w.Code == http.StatusMethodNotAllowed {
				t.Errorf("Route %s %s returned 405, expected route handler to exist", tc.method, tc.path)
			}
			if w.Code == http.StatusNotFound && tc.path != "/" {
				t.Errorf("Route %s %s returned 404", tc.method, tc.path)
			}
		})
	}
}

func TestMethodNotAllowed(t *testing.T) {
	mux := newTestRouter(t, testutil.GetTestConfig())

	testCases := []struct {
		method string
		path   string
	}{
		{"POST", "/health"},
		{"DELETE", "/topics/t1/status"},
		{"GET", "/topics/t1/votes"},
		{"PUT", "/topics/t1/credentials"},
	}

	for _, tc := range testCases {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.path, nil)
			w := httptest.NewRecorder()

			mux.ServeHTTP(w, req)

			if w.Code != http.StatusMethodNotAllowed {
				t.Errorf("Expected 405 for %s %s, got %d", tc.method, tc.path, w.Code)
			}
		})
	}
}

func TestUnknownTopic(t *testing.T) {
	mux := newTestRouter(t, testutil.GetTestConfig())

	req := httptest.NewRequest("GET", "/topics/nope/status", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown topic, got %d", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	cfg := testutil.GetTestConfig()

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	newTestRouter(t, cfg).ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected /metrics to be absent when disabled, got %d", w.Code)
	}

	cfg.MetricsEnabled = true
	w = httptest.NewRecorder()
	newTestRouter(t, cfg).ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 from /metrics, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "go_goroutines") {
		t.Error("Expected default Go collectors in /metrics output")
	}
}
