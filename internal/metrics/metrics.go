// Package metrics holds the Prometheus collectors for the service. They are
// registered with the default registry at init and served on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ecohacks_http_requests_total", Help: "Count of HTTP requests"},
		[]string{"route", "method", "status"},
	)
	HTTPLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ecohacks_http_request_duration_seconds",
			Help:    "Latency of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"},
	)

	// UsersRegistered counts new accounts by how they were created
	// ("password" or "google").
	UsersRegistered = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ecohacks_users_registered_total", Help: "New accounts"},
		[]string{"method"},
	)
	HacksCreated = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "ecohacks_hacks_created_total", Help: "Hacks posted"},
	)
	// Reactions counts like/dislike button presses.
	Reactions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ecohacks_reactions_total", Help: "Like and dislike presses"},
		[]string{"action"},
	)
	// ReactionRetries counts reaction writes that lost a race and were retried.
	ReactionRetries = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "ecohacks_reaction_retries_total", Help: "Reaction writes retried after a concurrent change"},
	)
	// CacheLookups counts listing cache lookups by result: hit, miss or error.
	CacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ecohacks_cache_lookups_total", Help: "Listing cache lookups"},
		[]string{"result"},
	)
	RateLimited = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ecohacks_rate_limited_total", Help: "Requests rejected by the rate limiter"},
		[]string{"route"},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequests,
		HTTPLatency,
		UsersRegistered,
		HacksCreated,
		Reactions,
		ReactionRetries,
		CacheLookups,
		RateLimited,
	)
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
