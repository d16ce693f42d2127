// Package metrics exposes Prometheus collectors for the crawl service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	crawlsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fbcrawler_crawls_total",
			Help: "Total number of crawl requests, labeled by kind and status.",
		},
		[]string{"kind", "status"},
	)

	batchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fbcrawler_batches_total",
			Help: "Total number of batches dispatched, labeled by terminal state.",
		},
		[]string{"state"},
	)

	keyRotationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fbcrawler_key_rotations_total",
			Help: "Total number of times a batch moved on to the next API key.",
		},
	)

	backendAttemptDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fbcrawler_backend_attempt_duration_seconds",
			Help:    "Histogram of scraping backend attempt latencies, labeled by result.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"result"},
	)

	submitDelaySeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fbcrawler_submit_rate_limit_delay_seconds",
			Help:    "Histogram of time spent waiting for the per-key submit rate limiter.",
			Buckets: prometheus.DefBuckets,
		},
	)

	itemsScrapedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fbcrawler_items_scraped_total",
			Help: "Total number of items returned by the scraping backend, labeled by kind.",
		},
		[]string{"kind"},
	)

	activeBatches = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fbcrawler_active_batches",
			Help: "Number of batches currently running against the backend.",
		},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 5, 30, 120, 600},
		},
		[]string{"method", "route"},
	)
)

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCrawl increments the crawl counter for the given kind and status.
func ObserveCrawl(kind, status string) {
	crawlsTotal.WithLabelValues(kind, status).Inc()
}

// ObserveBatch records the terminal state of one batch.
func ObserveBatch(state string) {
	batchesTotal.WithLabelValues(state).Inc()
}

// ObserveKeyRotation counts a switch to the next API key.
func ObserveKeyRotation() {
	keyRotationsTotal.Inc()
}

// ObserveBackendAttempt records the latency of one backend attempt.
func ObserveBackendAttempt(result string, duration time.Duration) {
	backendAttemptDurationSeconds.WithLabelValues(result).Observe(duration.Seconds())
}

// ObserveSubmitDelay records time spent waiting on the submit rate limiter.
func ObserveSubmitDelay(duration time.Duration) {
	submitDelaySeconds.Observe(duration.Seconds())
}

// ObserveItems adds scraped items for a kind.
func ObserveItems(kind string, n int) {
	if n > 0 {
		itemsScrapedTotal.WithLabelValues(kind).Add(float64(n))
	}
}

// IncActiveBatches increments the active batches gauge.
func IncActiveBatches() {
	activeBatches.Inc()
}

// DecActiveBatches decrements the active batches gauge.
func DecActiveBatches() {
	activeBatches.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
