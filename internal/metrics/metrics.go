package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	queriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcp_monitor_queries_total",
			Help: "Total number of processed queries",
		},
		[]string{"status"},
	)

	queryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mcp_monitor_query_duration_seconds",
			Help:    "Query processing duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	riskAssessmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcp_monitor_risk_assessments_total",
			Help: "Total number of risk assessments by level and decision",
		},
		[]string{"risk_level", "decision"},
	)

	riskScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mcp_monitor_risk_score",
			Help:    "Distribution of fused risk scores",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		},
	)

	confirmationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcp_monitor_confirmations_total",
			Help: "Total number of confirmation decisions",
		},
		[]string{"decision"},
	)

	serviceCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcp_monitor_service_calls_total",
			Help: "Total number of tool executions by service and status",
		},
		[]string{"service", "status"},
	)

	serviceCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mcp_monitor_service_call_duration_seconds",
			Help:    "Tool execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service"},
	)

	breakerStateChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcp_monitor_breaker_state_changes_total",
			Help: "Total circuit breaker state changes",
		},
		[]string{"service", "to_state"},
	)
)

// Handler serves the default prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func RecordQuery(status string, duration time.Duration) {
	queriesTotal.WithLabelValues(status).Inc()
	queryDuration.Observe(duration.Seconds())
}

func RecordRiskAssessment(riskLevel, decision string, score float64) {
	riskAssessmentsTotal.WithLabelValues(riskLevel, decision).Inc()
	riskScore.Observe(score)
}

func RecordConfirmation(decision string) {
	confirmationsTotal.WithLabelValues(decision).Inc()
}

func RecordServiceCall(service, status string, duration time.Duration) {
	serviceCallsTotal.WithLabelValues(service, status).Inc()
	serviceCallDuration.WithLabelValues(service).Observe(duration.Seconds())
}

func RecordBreakerChange(service, toState string) {
	breakerStateChanges.WithLabelValues(service, toState).Inc()
}
