// Package metrics exposes process-wide Prometheus collectors for the crawler.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	apiRequestsTotal           *prometheus.CounterVec
	apiRequestDurationSeconds  *prometheus.HistogramVec
	savesInFlight              prometheus.Gauge
	paginationClicksTotal      *prometheus.CounterVec
	listingPathsTotal          *prometheus.CounterVec
	detailPagesTotal           *prometheus.CounterVec
	notificationsTotal         *prometheus.CounterVec
	snapshotsTotal             *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		apiRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobcrawler_api_requests_total",
				Help: "Job API calls, labeled by endpoint and status code (0 for transport errors).",
			},
			[]string{"endpoint", "code"},
		)

		apiRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "jobcrawler_api_request_duration_seconds",
				Help:    "Job API call latency, labeled by endpoint.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"endpoint"},
		)

		savesInFlight = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "jobcrawler_saves_in_flight",
				Help: "Saves admitted to the persistence pipeline and not yet settled.",
			},
		)

		paginationClicksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobcrawler_pagination_clicks_total",
				Help: "Pagination control clicks, labeled by site.",
			},
			[]string{"site"},
		)

		listingPathsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobcrawler_listing_paths_total",
				Help: "Listing paths crawled, labeled by site and terminal pagination state.",
			},
			[]string{"site", "state"},
		)

		detailPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobcrawler_detail_pages_total",
				Help: "Detail pages visited, labeled by site and result.",
			},
			[]string{"site", "result"},
		)

		notificationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobcrawler_notifications_total",
				Help: "Saved-job notifications, labeled by result.",
			},
			[]string{"result"},
		)

		snapshotsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobcrawler_snapshots_total",
				Help: "Detail page snapshots written, labeled by result.",
			},
			[]string{"result"},
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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveAPICall records one job API call. Its signature matches jobapi.Observer.
func ObserveAPICall(endpoint string, status int, elapsed time.Duration) {
	apiRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
	apiRequestDurationSeconds.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

// SetSavesInFlight sets the in-flight saves gauge.
func SetSavesInFlight(n int64) {
	savesInFlight.Set(float64(n))
}

// ObserveListingPath records a finished listing path.
func ObserveListingPath(site, state string, clicks int) {
	listingPathsTotal.WithLabelValues(site, state).Inc()
	if clicks > 0 {
		paginationClicksTotal.WithLabelValues(site).Add(float64(clicks))
	}
}

// ObserveDetail records a detail page result such as "record", "incomplete" or "navigation".
func ObserveDetail(site, result string) {
	detailPagesTotal.WithLabelValues(site, result).Inc()
}

// ObserveNotification records a publish attempt.
func ObserveNotification(err error) {
	notificationsTotal.WithLabelValues(resultLabel(err)).Inc()
}

// ObserveSnapshot records a snapshot write.
func ObserveSnapshot(err error) {
	snapshotsTotal.WithLabelValues(resultLabel(err)).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
