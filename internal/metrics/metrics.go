package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestCount counts HTTP requests
	RequestCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	// RequestDuration measures HTTP request duration
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// ScanCount counts scans reaching a terminal state
	ScanCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scans_total",
			Help: "Total number of scans by terminal status",
		},
		[]string{"status"},
	)

	// ScanDuration measures wall clock time of finished scans
	ScanDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scan_duration_seconds",
			Help:    "Scan duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
		},
	)

	PairsCompared = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pairs_compared_total",
			Help: "Total number of file pairs scored",
		},
	)

	FilesExcluded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "files_excluded_total",
			Help: "Files dropped from a scan because they could not be read",
		},
	)

	AlertsRecorded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alerts_recorded_total",
			Help: "Alerts written to the alert store",
		},
		[]string{"service", "error_code"},
	)

	AlertsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "alerts_dropped_total",
			Help: "Alerts that could not be persisted",
		},
	)
)

var registerOnce sync.Once

// InitPrometheus registers all collectors with the default registry
func InitPrometheus() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			RequestCount,
			RequestDuration,
			ScanCount,
			ScanDuration,
			PairsCompared,
			FilesExcluded,
			AlertsRecorded,
			AlertsDropped,
		)
	})
}

// Handler returns the Prometheus scrape handler
func Handler() http.Handler {
	return promhttp.Handler()
}
