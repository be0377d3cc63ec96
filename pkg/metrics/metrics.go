package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	SweepRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sweep_runs_total",
			Help: "Total number of deadline sweep runs (count)",
		},
		[]string{"status"},
	)

	SweepFiringsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sweep_firings_total",
			Help: "Total number of rule firings by trigger type (count)",
		},
		[]string{"trigger"},
	)

	SweepUnitErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sweep_unit_errors_total",
			Help: "Total number of per-unit errors collected during sweeps (count)",
		},
	)

	SweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sweep_duration_ms",
			Help:    "Duration of a full deadline sweep in milliseconds",
			Buckets: []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		},
	)

	BroadcastChannelsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcast_channels_total",
			Help: "Per-channel broadcast delivery outcomes (count)",
		},
		[]string{"status"},
	)

	BroadcastDispatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcast_dispatches_total",
			Help: "Total number of broadcast dispatch requests (count)",
		},
		[]string{"status"},
	)

	PushRecipientsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "push_recipients_total",
			Help: "Total number of push notification recipients batched to the gateway (count)",
		},
	)

	PushGatewayDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "push_gateway_duration_ms",
			Help:    "Push gateway call duration in milliseconds",
			Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"status"},
	)

	RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_attempts_total",
			Help: "Total number of retry attempts (count)",
		},
		[]string{"component"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker (count)",
		},
		[]string{"name", "state"},
	)

	RateLimitedRequestsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rate_limited_requests_total",
			Help: "Total number of HTTP requests rejected by rate limiting (count)",
		},
	)
)

func RegisterAutomationMetrics() {
	prometheus.MustRegister(
		SweepRunsTotal,
		SweepFiringsTotal,
		SweepUnitErrorsTotal,
		SweepDuration,
	)
}

func RegisterBroadcastMetrics() {
	prometheus.MustRegister(
		BroadcastChannelsTotal,
		BroadcastDispatchesTotal,
		PushRecipientsTotal,
		PushGatewayDuration,
		RetryAttemptsTotal,
		RateLimitedRequestsTotal,
	)
}

func RegisterCircuitBreakerMetrics() {
	prometheus.MustRegister(
		CircuitBreakerState,
		CircuitBreakerRequests,
	)
}

func ObserveSweepDuration(d time.Duration) {
	SweepDuration.Observe(float64(d.Milliseconds()))
}

func ObservePushGatewayDuration(d time.Duration, status string) {
	PushGatewayDuration.WithLabelValues(status).Observe(float64(d.Milliseconds()))
}
