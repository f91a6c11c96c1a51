package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rewards_api_build_info",
			Help: "Build information of the rewards API",
		},
		[]string{"version", "commit", "date"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rewards_api_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rewards_api_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rewards_api_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// IPFS gateway metrics
	IPFSUpstreamRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rewards_api_ipfs_upstream_requests_total",
			Help: "Total number of requests proxied to the IPFS gateway",
		},
		[]string{"status"}, // upstream status code, or "error" on transport failure
	)

	IPFSUpstreamDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rewards_api_ipfs_upstream_duration_seconds",
			Help:    "Duration of IPFS gateway requests in seconds, including retries",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~41s
		},
	)

	ClaimRelaysTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rewards_api_claim_relays_total",
			Help: "Total number of relayed claim requests by outcome",
		},
		[]string{"status"},
	)
)

// Middleware returns a chi middleware that records HTTP metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		HTTPRequestsInFlight.Inc()
		defer HTTPRequestsInFlight.Dec()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		// Use the route pattern if available so path parameters don't explode cardinality
		path := ""
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			path = rctx.RoutePattern()
		}
		if path == "" {
			path = r.URL.Path
		}

		status := strconv.Itoa(ww.Status())
		duration := time.Since(start).Seconds()

		HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// RecordIPFSUpstream records one proxied gateway request. status is 0 when
// the gateway could not be reached.
func RecordIPFSUpstream(status int, duration time.Duration) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	IPFSUpstreamRequestsTotal.WithLabelValues(label).Inc()
	IPFSUpstreamDuration.Observe(duration.Seconds())
}

// RecordClaimRelay records the outcome of a relayed claim.
func RecordClaimRelay(err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	ClaimRelaysTotal.WithLabelValues(status).Inc()
}
