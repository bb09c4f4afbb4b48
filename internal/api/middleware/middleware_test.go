package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

func newTestRouter(logger *slog.Logger, seen *string) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(RequestLogger(logger))
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req)
			*seen = routePattern(req)
		})
	})
	r.Use(Metrics)
	r.Get("/api/v1/items/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("hello"))
	})
	r.Get("/boom", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return r
}

func TestRequestLogger_LevelByStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	var pattern string
	router := newTestRouter(logger, &pattern)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/items/42", nil)
	req.Header.Set(chimw.RequestIDHeader, "req-42")
	router.ServeHTTP(rec, req)

	out := buf.String()
	if !strings.Contains(out, "route=/api/v1/items/{id}") {
		t.Errorf("в логе нет шаблона маршрута: %s", out)
	}
	if !strings.Contains(out, "request_id=req-42") {
		t.Errorf("в логе нет request_id: %s", out)
	}
	if !strings.Contains(out, "level=WARN") {
		t.Errorf("4xx должен логироваться как WARN: %s", out)
	}
	if !strings.Contains(out, "status=418") || !strings.Contains(out, "bytes=5") {
		t.Errorf("в логе нет статуса или размера: %s", out)
	}

	buf.Reset()
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/boom", nil))
	if !strings.Contains(buf.String(), "level=ERROR") {
		t.Errorf("5xx должен логироваться как ERROR: %s", buf.String())
	}

	buf.Reset()
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if !strings.Contains(buf.String(), "level=DEBUG") {
		t.Errorf("успешная проба должна логироваться как DEBUG: %s", buf.String())
	}
}

func TestRequestLevel(t *testing.T) {
	tests := []struct {
		path   string
		status int
		want   slog.Level
	}{
		{"/api/v1/stats", http.StatusOK, slog.LevelInfo},
		{"/health/ready", http.StatusOK, slog.LevelDebug},
		{"/metrics", http.StatusOK, slog.LevelDebug},
		{"/health/ready", http.StatusServiceUnavailable, slog.LevelError},
		{"/api/v1/operations", http.StatusBadRequest, slog.LevelWarn},
	}
	for _, tt := range tests {
		if got := requestLevel(tt.path, tt.status); got != tt.want {
			t.Errorf("requestLevel(%s, %d): хотели %s, получили %s", tt.path, tt.status, tt.want, got)
		}
	}
}

func TestMetrics_RoutePattern(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	var pattern string
	router := newTestRouter(logger, &pattern)

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/items/42", nil))
	if pattern != "/api/v1/items/{id}" {
		t.Errorf("шаблон: хотели /api/v1/items/{id}, получили %s", pattern)
	}

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nope", nil))
	if pattern != "unmatched" {
		t.Errorf("неизвестный путь: хотели unmatched, получили %s", pattern)
	}
}

func TestRoutePattern_NoRouter(t *testing.T) {
	if got := routePattern(httptest.NewRequest(http.MethodGet, "/x", nil)); got != "unmatched" {
		t.Errorf("без роутера: хотели unmatched, получили %s", got)
	}
}
