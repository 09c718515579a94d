// Package metrics exposes Prometheus instruments for outreach operations.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Router decisions
	BackendDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outreach_backend_decisions_total",
			Help: "Backend selections by backend and reason",
		},
		[]string{"backend", "reason"},
	)

	// Dispatch
	CallsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outreach_calls_total",
			Help: "Calls dispatched by backend and normalized status",
		},
		[]string{"backend", "status"},
	)

	CallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "outreach_call_duration_seconds",
			Help:    "Connected call duration in seconds",
			Buckets: []float64{5, 15, 30, 60, 120, 180, 300},
		},
		[]string{"backend"},
	)

	DispatchWindows = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "outreach_dispatch_windows",
			Help:    "Number of concurrency windows per dispatched batch",
			Buckets: []float64{1, 2, 3, 5, 10, 20},
		},
	)

	DispatchFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outreach_dispatch_failures_total",
			Help: "Calls that were never placed, by backend",
		},
		[]string{"backend"},
	)

	// Enrichment
	EnrichmentLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outreach_enrichment_lookups_total",
			Help: "Provider detail lookups by outcome",
		},
		[]string{"outcome"},
	)

	// Cache
	CacheOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outreach_cache_operations_total",
			Help: "Result cache operations by op and outcome",
		},
		[]string{"op", "outcome"},
	)

	// Recommendation
	Recommendations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outreach_recommendations_total",
			Help: "Recommendation sets by method",
		},
		[]string{"method"},
	)

	// Requests
	RequestTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outreach_request_transitions_total",
			Help: "Outreach request state transitions by target state",
		},
		[]string{"status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "outreach_request_duration_seconds",
			Help:    "End-to-end outreach request duration",
			Buckets: []float64{30, 60, 120, 300, 600, 1200},
		},
		[]string{"status"},
	)

	// Webhooks
	WebhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outreach_webhook_events_total",
			Help: "Voice webhook events by type",
		},
		[]string{"type"},
	)

	// Health snapshot, refreshed by the monitoring checker.
	RequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "outreach_requests_in_flight",
			Help: "Non-terminal outreach requests in the lookback window",
		},
	)
	RequestsStuck = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "outreach_requests_stuck",
			Help: "In-flight requests with no progress past the stuck threshold",
		},
	)
	RequestFailRate = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "outreach_request_fail_rate",
			Help: "Failed share of finished requests in the lookback window",
		},
	)
	CallErrorRate = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "outreach_call_error_rate",
			Help: "Share of calls in the lookback window that were never placed",
		},
	)
	DLQDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "outreach_dlq_depth",
			Help: "Failed requests held in the dead letter queue",
		},
	)
)
