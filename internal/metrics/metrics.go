// Package metrics provides Prometheus instrumentation for the orchestration engine.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "intent_orchestrator",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "intent_orchestrator",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// CasesTotal counts cases by terminal outcome.
	CasesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "intent_orchestrator",
			Name:      "cases_total",
			Help:      "Total cases by terminal state.",
		},
		[]string{"state"},
	)

	// CaseRiskLevels counts aggregated cases by risk level.
	CaseRiskLevels = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "intent_orchestrator",
			Name:      "case_risk_levels_total",
			Help:      "Aggregated cases by derived risk level.",
		},
		[]string{"level"},
	)

	// IntentClassifications counts classified intents by category.
	IntentClassifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "intent_orchestrator",
			Name:      "intent_classifications_total",
			Help:      "Intent classifications by resulting category.",
		},
		[]string{"category"},
	)

	// ProviderCallsTotal counts gateway calls by provider and outcome.
	ProviderCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "intent_orchestrator",
			Name:      "provider_calls_total",
			Help:      "Signal provider calls by provider and terminal status.",
		},
		[]string{"provider", "status"},
	)

	// ProviderCallDuration observes provider call latency.
	ProviderCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "intent_orchestrator",
			Name:      "provider_call_duration_seconds",
			Help:      "Signal provider call duration in seconds.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2, 5, 10},
		},
		[]string{"provider"},
	)

	// DispatchDuration observes the full dispatch window per case.
	DispatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "intent_orchestrator",
			Name:      "dispatch_duration_seconds",
			Help:      "Time from dispatch to aggregation per case.",
			Buckets:   []float64{.1, .25, .5, 1, 2, 5, 10},
		},
	)

	// LateSignalsTotal counts provider results arriving after aggregation.
	LateSignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "intent_orchestrator",
			Name:      "late_signals_total",
			Help:      "Provider results recorded after the case was aggregated.",
		},
		[]string{"provider"},
	)

	// ActiveStreamClients tracks connected event-stream WebSocket clients.
	ActiveStreamClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "intent_orchestrator",
			Name:      "active_stream_clients",
			Help:      "Number of currently connected event-stream clients.",
		},
	)

	// AdmissionWaiting tracks provider calls queued at the admission limit.
	AdmissionWaiting = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "intent_orchestrator",
			Name:      "admission_waiting_calls",
			Help:      "Provider calls currently waiting for an admission slot.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		CasesTotal,
		CaseRiskLevels,
		IntentClassifications,
		ProviderCallsTotal,
		ProviderCallDuration,
		DispatchDuration,
		LateSignalsTotal,
		ActiveStreamClients,
		AdmissionWaiting,
	)
}

// Handler returns the Prometheus metrics endpoint handler.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// Middleware instruments HTTP requests with counters and latency histograms.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}
