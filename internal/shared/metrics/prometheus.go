package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
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
	stockAdjustments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bloodnet_stock_adjustments_total",
			Help: "Total number of inventory adjustments",
		},
		[]string{"direction", "blood_type"},
	)

	stockUnits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bloodnet_stock_units_total",
			Help: "Total units added to or deducted from inventory",
		},
		[]string{"direction", "blood_type"},
	)

	alertsRaised = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bloodnet_alerts_raised_total",
			Help: "Total number of alerts raised",
		},
		[]string{"source", "blood_type"},
	)

	alertsResolved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bloodnet_alerts_resolved_total",
			Help: "Total number of alerts resolved",
		},
	)

	alertsEscalated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bloodnet_alerts_escalated_total",
			Help: "Total number of alert escalations",
		},
		[]string{"level"},
	)

	transfersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bloodnet_transfers_total",
			Help: "Total number of transfer state changes",
		},
		[]string{"type", "status"},
	)

	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bloodnet_hospital_requests_total",
			Help: "Total number of hospital requests by resulting status",
		},
		[]string{"urgency", "status"},
	)

	donationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bloodnet_donations_total",
			Help: "Total number of donation request state changes",
		},
		[]string{"status"},
	)

	notificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bloodnet_notifications_total",
			Help: "Total number of notification deliveries",
		},
		[]string{"provider", "result"},
	)

	schedulerRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bloodnet_escalation_runs_total",
			Help: "Total number of escalation scheduler runs",
		},
		[]string{"result"},
	)

	schedulerDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bloodnet_escalation_run_duration_seconds",
			Help:    "Escalation scheduler run duration in seconds",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	// Database metrics
	dbConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_connections_active",
			Help: "Number of active database connections",
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
		path := routePattern(r)

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

// routePattern labels requests by the matched chi route so that IDs in the
// path do not blow up label cardinality.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

// --- Business metric helpers ---

// RecordStockAdjustment records an inventory add ("in") or deduct ("out")
func RecordStockAdjustment(direction, bloodType string, units int) {
	stockAdjustments.WithLabelValues(direction, bloodType).Inc()
	stockUnits.WithLabelValues(direction, bloodType).Add(float64(units))
}

// RecordAlertRaised records a new alert; source is "threshold" or "request"
func RecordAlertRaised(source, bloodType string) {
	alertsRaised.WithLabelValues(source, bloodType).Inc()
}

// RecordAlertResolved records an alert resolution
func RecordAlertResolved() {
	alertsResolved.Inc()
}

// RecordAlertEscalated records an escalation to level
func RecordAlertEscalated(level string) {
	alertsEscalated.WithLabelValues(level).Inc()
}

// RecordTransfer records a transfer dispatch or delivery
func RecordTransfer(transferType, status string) {
	transfersTotal.WithLabelValues(transferType, status).Inc()
}

// RecordHospitalRequest records a hospital request reaching status
func RecordHospitalRequest(urgency, status string) {
	requestsTotal.WithLabelValues(urgency, status).Inc()
}

// RecordDonation records a donation request reaching status
func RecordDonation(status string) {
	donationsTotal.WithLabelValues(status).Inc()
}

// RecordNotification records a notification delivery attempt outcome
func RecordNotification(provider string, delivered bool) {
	result := "failed"
	if delivered {
		result = "delivered"
	}
	notificationsTotal.WithLabelValues(provider, result).Inc()
}

// RecordSchedulerRun records one escalation scheduler run
func RecordSchedulerRun(result string, duration time.Duration) {
	schedulerRuns.WithLabelValues(result).Inc()
	schedulerDuration.Observe(duration.Seconds())
}

// RecordDBConnections records active database connections
func RecordDBConnections(count int) {
	dbConnectionsActive.Set(float64(count))
}
