package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/sakif/ecohacks/internal/metrics"
)

// =========================================================================
// LOGGER
// =========================================================================

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	h := Logger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("nope"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/hacks/slug/x/view", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	h.ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	for _, want := range []string{"level=WARN", "status=404", "bytes=4", "path=/api/hacks/slug/x/view"} {
		if !strings.Contains(out, want) {
			t.Errorf("log %q missing %q", out, want)
		}
	}
	if strings.Contains(out, "secret-token") {
		t.Error("log leaks the bearer token")
	}
}

// =========================================================================
// METRICS
// =========================================================================

func TestMetrics_UsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Metrics)
	r.Get("/api/hacks/slug/{slug}/view", func(w http.ResponseWriter, r *http.Request) {})

	counter := metrics.HTTPRequests.WithLabelValues("/api/hacks/slug/{slug}/view", http.MethodGet, "200")
	before := testutil.ToFloat64(counter)

	for _, slug := range []string{"a", "b", "c"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/hacks/slug/"+slug+"/view", nil))
	}

	if got := testutil.ToFloat64(counter) - before; got != 3 {
		t.Errorf("counter increased by %v, want 3", got)
	}
}

// =========================================================================
// RATE LIMIT
// =========================================================================

func TestRateLimiter_PerIP(t *testing.T) {
	l := NewRateLimiter(1, 2)
	now := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return now }

	if !l.Allow("1.1.1.1") || !l.Allow("1.1.1.1") {
		t.Fatal("burst of 2 should be allowed")
	}
	if l.Allow("1.1.1.1") {
		t.Error("third request in the same instant should be refused")
	}
	if !l.Allow("2.2.2.2") {
		t.Error("another client has its own bucket")
	}

	now = now.Add(time.Second)
	if !l.Allow("1.1.1.1") {
		t.Error("one token should have refilled after a second")
	}
}

func TestRateLimiter_SweepsIdleClients(t *testing.T) {
	l := NewRateLimiter(1, 1)
	now := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return now }

	l.Allow("1.1.1.1")
	now = now.Add(time.Hour)
	l.Allow("2.2.2.2")

	if _, ok := l.clients["1.1.1.1"]; ok {
		t.Error("idle client was not swept")
	}
}

func TestRateLimiter_Middleware(t *testing.T) {
	l := NewRateLimiter(0.001, 1)
	h := l.Middleware("register")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/users/register", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	if rec := send(); rec.Code != http.StatusCreated {
		t.Fatalf("first status = %d, want 201", rec.Code)
	}
	rec := send()
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second status = %d, want 429", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Too many requests") {
		t.Errorf("body = %q", rec.Body.String())
	}
}
