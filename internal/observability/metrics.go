package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector holds all Prometheus metrics for Ngao.
// Uses a custom registry, no global state.
type MetricsCollector struct {
	Registry *prometheus.Registry

	// LLM metrics.
	LLMRequestsTotal   *prometheus.CounterVec
	LLMRequestDuration *prometheus.HistogramVec
	LLMTokensUsed      *prometheus.CounterVec

	// Tool invocation metrics.
	ToolInvocationsTotal   *prometheus.CounterVec
	ToolInvocationDuration *prometheus.HistogramVec

	// Sandbox metrics.
	SandboxExecutionsTotal   *prometheus.CounterVec
	SandboxExecutionDuration prometheus.Histogram

	// Security metrics.
	SecurityChecksTotal *prometheus.CounterVec
	AuditEventsTotal    *prometheus.CounterVec

	// Rate limit metrics.
	RateLimitDecisionsTotal *prometheus.CounterVec

	// HTTP gateway metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// System metrics.
	ActiveRequests         prometheus.Gauge
	AuditStreamSubscribers prometheus.Gauge
}

// NewMetricsCollector creates a MetricsCollector with all metrics registered
// on a custom prometheus.Registry.
func NewMetricsCollector() *MetricsCollector {
	reg := prometheus.NewRegistry()

	m := &MetricsCollector{
		Registry: reg,

		LLMRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ngao",
			Subsystem: "llm",
			Name:      "requests_total",
			Help:      "Total LLM API requests.",
		}, []string{"provider", "model", "status"}),

		LLMRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ngao",
			Subsystem: "llm",
			Name:      "request_duration_seconds",
			Help:      "LLM API request duration in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"provider", "model"}),

		LLMTokensUsed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ngao",
			Subsystem: "llm",
			Name:      "tokens_used_total",
			Help:      "Total LLM tokens consumed.",
		}, []string{"provider", "model", "direction"}),

		ToolInvocationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ngao",
			Subsystem: "tool",
			Name:      "invocations_total",
			Help:      "Total tool invocations.",
		}, []string{"tool", "status"}),

		ToolInvocationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ngao",
			Subsystem: "tool",
			Name:      "invocation_duration_seconds",
			Help:      "Tool invocation duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),

		SandboxExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ngao",
			Subsystem: "sandbox",
			Name:      "executions_total",
			Help:      "Total sandboxed code executions.",
		}, []string{"status"}),

		SandboxExecutionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ngao",
			Subsystem: "sandbox",
			Name:      "execution_duration_seconds",
			Help:      "Sandboxed code execution duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}),

		SecurityChecksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ngao",
			Subsystem: "security",
			Name:      "checks_total",
			Help:      "Total security gate checks performed.",
		}, []string{"check_type", "result"}),

		AuditEventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ngao",
			Subsystem: "security",
			Name:      "audit_events_total",
			Help:      "Total audit events recorded.",
		}, []string{"event_type"}),

		RateLimitDecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ngao",
			Subsystem: "ratelimit",
			Name:      "decisions_total",
			Help:      "Total rate limit decisions.",
		}, []string{"result"}),

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ngao",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		}, []string{"method", "path", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ngao",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ngao",
			Name:      "active_requests",
			Help:      "Number of currently active HTTP requests.",
		}),

		AuditStreamSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ngao",
			Name:      "audit_stream_subscribers",
			Help:      "Number of connected audit event stream subscribers.",
		}),
	}

	// Register all collectors.
	reg.MustRegister(
		m.LLMRequestsTotal,
		m.LLMRequestDuration,
		m.LLMTokensUsed,
		m.ToolInvocationsTotal,
		m.ToolInvocationDuration,
		m.SandboxExecutionsTotal,
		m.SandboxExecutionDuration,
		m.SecurityChecksTotal,
		m.AuditEventsTotal,
		m.RateLimitDecisionsTotal,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ActiveRequests,
		m.AuditStreamSubscribers,
	)

	return m
}
