package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	DocumentsEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "documents_enqueued_total",
			Help: "Total number of documents enqueued for processing",
		},
		[]string{"queue"},
	)
	DocumentsProcessing = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "documents_processing",
			Help: "Number of documents currently processing",
		},
		[]string{"queue"},
	)
	DocumentsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "documents_completed_total",
			Help: "Total number of documents completed by decision",
		},
		[]string{"type", "decision"},
	)
	DocumentsFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "documents_failed_total",
			Help: "Total number of documents terminally failed",
		},
		[]string{"type"},
	)
	ProcessingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "document_processing_duration_seconds",
			Help:    "End-to-end processing duration per document",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"type", "engine"},
	)
	ScoreHistogram = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "verification_score",
			Help:    "Distribution of AI verification scores [0,100]",
			Buckets: []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		},
		[]string{"type"},
	)
	ReaperRecoveriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reaper_recoveries_total",
			Help: "Total number of stuck documents re-enqueued by the reaper",
		},
	)
	ForwarderBreakerState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "review_forwarder_breaker_state",
			Help: "Circuit breaker state of the review forwarder (0 closed, 1 half-open, 2 open)",
		},
	)
	ForwarderRetryQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "review_forwarder_retry_queue_depth",
			Help: "Number of escalation envelopes waiting in the retry queue",
		},
	)
	CallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "review_callbacks_total",
			Help: "Inbound reviewer callbacks by outcome",
		},
		[]string{"outcome"},
	)
)

// InitMetrics registers all collectors with the default registry. Call once
// per process.
func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(DocumentsEnqueuedTotal)
	prometheus.MustRegister(DocumentsProcessing)
	prometheus.MustRegister(DocumentsCompletedTotal)
	prometheus.MustRegister(DocumentsFailedTotal)
	prometheus.MustRegister(ProcessingDuration)
	prometheus.MustRegister(ScoreHistogram)
	prometheus.MustRegister(ReaperRecoveriesTotal)
	prometheus.MustRegister(ForwarderBreakerState)
	prometheus.MustRegister(ForwarderRetryQueueDepth)
	prometheus.MustRegister(CallbacksTotal)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		HTTPRequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(ww.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(route, r.Method).Observe(dur)
	})
}
