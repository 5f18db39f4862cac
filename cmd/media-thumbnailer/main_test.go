package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"media-thumbnailer/internal/handlers"
	"media-thumbnailer/internal/startup"
)

func TestSetupRouter_Routes(t *testing.T) {
	router := setupRouter(handlers.New(nil, nil))

	routes, err := startup.GetRoutes(router)
	if err != nil {
		t.Fatalf("GetRoutes() error = %v", err)
	}

	got := make(map[string]bool)
	for _, r := range routes {
		got[r.Method+" "+r.Path] = true
	}

	want := []string{
		"GET /health",
		"GET /healthz",
		"GET /livez",
		"HEAD /livez",
		"GET /readyz",
		"GET /version",
		"POST /api/channel/{method}",
	}
	for _, w := range want {
		if !got[w] {
			t.Errorf("route %q not registered", w)
		}
	}
}

func TestSetupRouter_ChannelRequiresPost(t *testing.T) {
	router := setupRouter(handlers.New(nil, nil))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/channel/generateThumbnail", http.NoBody))
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /api/channel/generateThumbnail = %d, want 405", w.Code)
	}
}

func TestSetupMetricsRouter(t *testing.T) {
	router := setupMetricsRouter(handlers.New(nil, nil))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
	if w.Code != http.StatusOK {
		t.Fatalf("GET /metrics = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "media_thumbnailer_") {
		t.Error("metrics output has no media_thumbnailer_ series")
	}
}

func TestVolumes(t *testing.T) {
	got := volumes([]string{"/media/movies", "/srv/clips/", "/"})
	want := map[string]string{
		"movies": "/media/movies",
		"clips":  "/srv/clips/",
		"root":   "/",
	}

	if len(got) != len(want) {
		t.Fatalf("volumes() = %v, want %v", got, want)
	}
	for name, root := range want {
		if got[name] != root {
			t.Errorf("volumes()[%q] = %q, want %q", name, got[name], root)
		}
	}
}
