package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/ecohacks/internal/metrics"
)

// Metrics records a request counter and a latency histogram per route.
//
// The route label is chi's pattern ("/api/hacks/slug/{slug}/view"), not the
// raw path, so every slug lands in the same series. The pattern is only
// known after routing, which is why it is read after next returns.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := wrap(w)

		next.ServeHTTP(wrapped, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}

		metrics.HTTPRequests.WithLabelValues(route, r.Method, strconv.Itoa(wrapped.statusCode)).Inc()
		metrics.HTTPLatency.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}
