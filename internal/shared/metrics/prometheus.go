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
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	httpRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// Business metrics
	alertsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alerts_created_total",
			Help: "Total number of alerts created",
		},
		[]string{"severity"},
	)

	admissionDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admission_decisions_total",
			Help: "Total number of temporal policy admission decisions",
		},
		[]string{"decision"},
	)

	readingsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "readings_rejected_total",
			Help: "Total number of metric readings rejected at ingestion",
		},
		[]string{"metric"},
	)

	lifecycleTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alert_transitions_total",
			Help: "Total number of alert lifecycle transitions",
		},
		[]string{"action", "to_status"},
	)

	auditEntriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_entries_total",
			Help: "Total number of audit entries created",
		},
	)

	notificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_sent_total",
			Help: "Total number of notifications dispatched",
		},
		[]string{"channel", "status"},
	)

	baselinesImported = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "baselines_imported_total",
			Help: "Total number of patient baselines imported from the EHR feed",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware creates HTTP metrics middleware
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		httpRequestsInFlight.Inc()
		defer httpRequestsInFlight.Dec()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := normalizePath(r.URL.Path)

		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// normalizePath normalizes URL paths for metrics to avoid cardinality explosion
func normalizePath(path string) string {
	if len(path) > 100 {
		return "/api/..."
	}
	return path
}

// --- Business metric helpers ---

// RecordAlertCreated records an alert creation
func RecordAlertCreated(severity string) {
	alertsCreated.WithLabelValues(severity).Inc()
}

// RecordAdmissionDecision records a temporal policy decision
func RecordAdmissionDecision(decision string) {
	admissionDecisions.WithLabelValues(decision).Inc()
}

// RecordReadingRejected records a reading dropped at ingestion
func RecordReadingRejected(metric string) {
	readingsRejected.WithLabelValues(metric).Inc()
}

// RecordTransition records an alert lifecycle transition
func RecordTransition(action, toStatus string) {
	lifecycleTransitions.WithLabelValues(action, toStatus).Inc()
}

// RecordAuditEntry records an audit entry creation
func RecordAuditEntry() {
	auditEntriesTotal.Inc()
}

// RecordNotification records a notification dispatch attempt
func RecordNotification(channel, status string) {
	notificationsSent.WithLabelValues(channel, status).Inc()
}

// RecordBaselineImported records a baseline imported from the EHR feed
func RecordBaselineImported() {
	baselinesImported.Inc()
}
