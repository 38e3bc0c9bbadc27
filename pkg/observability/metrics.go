package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Pipeline step metrics
	stepExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vacaplan_step_executions_total",
			Help: "Total number of pipeline step executions",
		},
		[]string{"step", "status"},
	)

	stepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vacaplan_step_duration_seconds",
			Help:    "Pipeline step duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"step"},
	)

	// Tool invocation metrics
	toolCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vacaplan_tool_calls_total",
			Help: "Total number of external capability calls",
		},
		[]string{"capability", "status"},
	)

	toolCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vacaplan_tool_call_duration_seconds",
			Help:    "External capability call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"capability"},
	)

	// Session metrics
	sessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vacaplan_sessions_total",
			Help: "Planning session status transitions, including awaiting_confirmation",
		},
		[]string{"status"},
	)

	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vacaplan_active_sessions",
			Help: "Number of sessions currently planning or awaiting confirmation",
		},
	)

	// Booking metrics
	bookingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vacaplan_bookings_total",
			Help: "Total number of booking transactions by outcome",
		},
		[]string{"status"},
	)

	compensationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vacaplan_compensations_total",
			Help: "Total number of compensation (cancellation) calls by outcome",
		},
		[]string{"status"},
	)

	confirmationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vacaplan_confirmations_total",
			Help: "Total number of confirmation token verifications by outcome",
		},
		[]string{"outcome"},
	)

	initOnce sync.Once
)

// InitMetrics registers all Prometheus metrics.
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			stepExecutionsTotal,
			stepDuration,
			toolCallsTotal,
			toolCallDuration,
			sessionsTotal,
			activeSessions,
			bookingsTotal,
			compensationsTotal,
			confirmationsTotal,
		)
	})
}

// MetricsHandler returns an HTTP handler for Prometheus metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordStep records a pipeline step execution.
func RecordStep(step, status string, duration time.Duration) {
	stepExecutionsTotal.WithLabelValues(step, status).Inc()
	stepDuration.WithLabelValues(step).Observe(duration.Seconds())
}

// RecordToolCall records an external capability call.
func RecordToolCall(capability, status string, duration time.Duration) {
	toolCallsTotal.WithLabelValues(capability, status).Inc()
	toolCallDuration.WithLabelValues(capability).Observe(duration.Seconds())
}

// RecordSession records a session status transition. Both the suspension at
// the confirmation gate and the terminal statuses are counted.
func RecordSession(status string) {
	sessionsTotal.WithLabelValues(status).Inc()
}

// SessionStarted increments the active-session gauge.
func SessionStarted() { activeSessions.Inc() }

// SessionEnded decrements the active-session gauge.
func SessionEnded() { activeSessions.Dec() }

// RecordBooking records a booking transaction outcome.
func RecordBooking(status string) {
	bookingsTotal.WithLabelValues(status).Inc()
}

// RecordCompensation records a compensation call outcome.
func RecordCompensation(status string) {
	compensationsTotal.WithLabelValues(status).Inc()
}

// RecordConfirmation records a confirmation verification outcome.
func RecordConfirmation(outcome string) {
	confirmationsTotal.WithLabelValues(outcome).Inc()
}
