// Package metrics provides Prometheus metrics collection for the presensi service
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "presensi"

// HTTP metrics
var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"service", "method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"service", "method", "path"},
	)

	httpRequestsInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_flight",
			Help:      "Number of HTTP requests currently being processed",
		},
		[]string{"service"},
	)
)

// Attendance verdict metrics
var (
	verdictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verdicts_total",
			Help:      "Total number of recorded attendance risk verdicts",
		},
		[]string{"attendance_type", "risk_level", "action"}, // action: none, flagged, warning, blocked
	)

	riskScoreHistogram = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "risk_score",
			Help:      "Risk score distribution for attendance attempts",
			Buckets:   []float64{0, 10, 30, 50, 60, 85, 100}, // 0-100 scale, aligned with default thresholds
		},
	)

	zoneLookupDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "zone_lookup_duration_seconds",
			Help:      "Time spent fetching the work zone for an attempt",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5},
		},
		[]string{"outcome"}, // outcome: found, not_found, timeout, error
	)

	travelInconclusiveTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "travel_inconclusive_total",
			Help:      "Travel checks skipped because of non-monotonic capture timestamps",
		},
	)

	duplicateSubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicate_submissions_total",
			Help:      "Attendance submissions rejected as same-day duplicates",
		},
		[]string{"attendance_type"},
	)

	sinkFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verdict_sink_failures_total",
			Help:      "Best-effort verdict sinks (search index, journal) that failed",
		},
		[]string{"sink"},
	)
)

// Database and cache metrics
var (
	dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"operation", "table"}, // operation: select, insert, update
	)

	cacheOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_operations_total",
			Help:      "Total number of cache operations",
		},
		[]string{"cache", "operation", "outcome"}, // operation: get, set, delete; outcome: hit, miss, error
	)
)

// Middleware returns a Gin middleware that records HTTP metrics.
// serviceName is used as the "service" label on all metrics.
func Middleware(serviceName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.FullPath()
		if path == "" {
			path = "unknown"
		}

		if path == "/metrics" {
			c.Next()
			return
		}

		httpRequestsInFlight.WithLabelValues(serviceName).Inc()
		start := time.Now()

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		httpRequestsTotal.WithLabelValues(serviceName, c.Request.Method, path, status).Inc()
		httpRequestDuration.WithLabelValues(serviceName, c.Request.Method, path).Observe(time.Since(start).Seconds())
		httpRequestsInFlight.WithLabelValues(serviceName).Dec()
	}
}

// Handler returns a gin.HandlerFunc that serves Prometheus metrics.
// Register this on the "/metrics" route.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordVerdict records a persisted verdict and its score
func RecordVerdict(attendanceType, riskLevel, action string, score float64) {
	verdictsTotal.WithLabelValues(attendanceType, riskLevel, action).Inc()
	riskScoreHistogram.Observe(score)
}

// RecordZoneLookup records how long a zone fetch took and how it ended
func RecordZoneLookup(outcome string, duration time.Duration) {
	zoneLookupDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// IncTravelInconclusive counts a travel check replaced by a neutral evaluation
func IncTravelInconclusive() {
	travelInconclusiveTotal.Inc()
}

// IncDuplicateSubmission counts a rejected same-day duplicate
func IncDuplicateSubmission(attendanceType string) {
	duplicateSubmissionsTotal.WithLabelValues(attendanceType).Inc()
}

// IncSinkFailure counts a failed best-effort verdict sink
func IncSinkFailure(sink string) {
	sinkFailuresTotal.WithLabelValues(sink).Inc()
}

// RecordDBQuery records a database query duration
func RecordDBQuery(operation, table string, duration time.Duration) {
	dbQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// RecordCacheOperation records a cache operation
func RecordCacheOperation(cache, operation, outcome string) {
	cacheOperationsTotal.WithLabelValues(cache, operation, outcome).Inc()
}
