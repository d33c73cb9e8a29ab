// Package metrics exposes Prometheus collectors for the watcher service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	mirrorAttemptsTotal        *prometheus.CounterVec
	racesTotal                 *prometheus.CounterVec
	entriesDiscoveredTotal     prometheus.Counter
	snapshotLoadsTotal         *prometheus.CounterVec
	activationsTotal           *prometheus.CounterVec
	cycleDurationSeconds       prometheus.Histogram
	pacingDelaySeconds         *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		mirrorAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "freegames_mirror_attempts_total",
				Help: "Fetch attempts against mirrors, labeled by status.",
			},
			[]string{"status"},
		)

		racesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "freegames_races_total",
				Help: "Mirror races, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		entriesDiscoveredTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "freegames_entries_discovered_total",
				Help: "Entries returned by winning races.",
			},
		)

		snapshotLoadsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "freegames_snapshot_loads_total",
				Help: "Dedup snapshot loads, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		activationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "freegames_activations_total",
				Help: "Activation attempts, labeled by result.",
			},
			[]string{"result"},
		)

		cycleDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "freegames_cycle_duration_seconds",
				Help:    "Wall time of one collection cycle.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			},
		)

		pacingDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "freegames_pacing_delay_seconds",
				Help:    "Time spent waiting on per-host pacing.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
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

// SanitizeHost extracts a lowercase hostname from a URL.
// It returns "unknown" if the URL is invalid.
func SanitizeHost(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveMirrorAttempt counts one fetch attempt.
func ObserveMirrorAttempt(status string) {
	Init()
	mirrorAttemptsTotal.WithLabelValues(status).Inc()
}

// ObserveRace counts one race and the entries it produced.
func ObserveRace(outcome string, entries int) {
	Init()
	racesTotal.WithLabelValues(outcome).Inc()
	if entries > 0 {
		entriesDiscoveredTotal.Add(float64(entries))
	}
}

// ObserveSnapshotLoad counts one snapshot load by outcome.
func ObserveSnapshotLoad(outcome string) {
	Init()
	snapshotLoadsTotal.WithLabelValues(outcome).Inc()
}

// ObserveActivation counts one activation by result.
func ObserveActivation(result string) {
	Init()
	activationsTotal.WithLabelValues(result).Inc()
}

// ObserveCycle records the duration of one collection cycle.
func ObserveCycle(duration time.Duration) {
	Init()
	cycleDurationSeconds.Observe(duration.Seconds())
}

// ObservePacingDelay records time spent waiting for a host's pacing token.
func ObservePacingDelay(host string, delay time.Duration) {
	Init()
	pacingDelaySeconds.WithLabelValues(SanitizeHost(host)).Observe(delay.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
