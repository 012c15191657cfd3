// Herald - Real-time job progress event distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/herald

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Processing outcomes used as label values.
const (
	OutcomeApplied   = "applied"
	OutcomeStale     = "stale"
	OutcomeDuplicate = "duplicate"
	OutcomeMalformed = "malformed"
	OutcomeFailed    = "failed"
)

var (
	// Stream Metrics
	StreamEntriesRead = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "herald_stream_entries_read_total",
			Help: "Total number of log entries read by consumer loops",
		},
		[]string{"domain"},
	)

	StreamEntriesAcked = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "herald_stream_entries_acked_total",
			Help: "Total number of log entries acknowledged",
		},
		[]string{"domain"},
	)

	StreamReadErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "herald_stream_read_errors_total",
			Help: "Total number of failed consumer-group reads",
		},
		[]string{"domain"},
	)

	StreamEntriesAppended = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "herald_stream_entries_appended_total",
			Help: "Total number of log entries appended by the producer",
		},
		[]string{"domain"},
	)

	StreamPending = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "herald_stream_pending_entries",
			Help: "Claimed but unacknowledged entries per stream, sampled by the reclaimer",
		},
		[]string{"stream"},
	)

	// Processor Metrics
	ProcessorEntries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "herald_processor_entries_total",
			Help: "Total number of entries processed by outcome",
		},
		[]string{"domain", "outcome"}, // outcome: applied, stale, duplicate, malformed, failed
	)

	ProcessorDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "herald_processor_duration_seconds",
			Help:    "Duration of the atomic projection step in seconds",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"domain"},
	)

	// Reclaimer Metrics
	ReclaimedEntries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "herald_reclaimed_entries_total",
			Help: "Total number of idle pending entries claimed by the reclaimer",
		},
		[]string{"domain"},
	)

	ReclaimErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "herald_reclaim_errors_total",
			Help: "Total number of failed reclaim passes per shard",
		},
		[]string{"domain"},
	)

	ReclaimPassDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "herald_reclaim_pass_duration_seconds",
			Help:    "Duration of one reclaim pass over a domain",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Fan-out Metrics
	FanoutPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "herald_fanout_published_total",
			Help: "Total number of envelopes published to the fan-out channel",
		},
		[]string{"result"}, // result: success, failure
	)

	FanoutReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "herald_fanout_received_total",
			Help: "Total number of envelopes received from the fan-out channel",
		},
	)

	FanoutDecodeErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "herald_fanout_decode_errors_total",
			Help: "Total number of fan-out payloads that could not be decoded",
		},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // result: "success", "failure", "rejected"
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// Broadcast Metrics
	BroadcastSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "herald_broadcast_subscribers",
			Help: "Current number of open subscriber connections",
		},
	)

	BroadcastJobSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "herald_broadcast_job_subscriptions",
			Help: "Current number of jobs with an active fan-out subscription",
		},
	)

	QueuePuts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "herald_queue_puts_total",
			Help: "Total number of subscriber queue puts by result",
		},
		[]string{"result"}, // result: accepted, duplicate, full
	)

	QueueEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "herald_queue_evictions_total",
			Help: "Total number of non-terminal envelopes evicted from full subscriber queues",
		},
	)

	SubscribersReaped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "herald_subscribers_reaped_total",
			Help: "Total number of idle subscribers disconnected by the reaper",
		},
	)

	CatchUpTokens = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "herald_catchup_tokens_total",
			Help: "Total number of buffered tokens replayed to reconnecting clients",
		},
	)

	// API Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120, 600},
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "api_active_requests",
			Help: "Number of API requests currently being processed",
		},
	)

	SSEEventsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "herald_sse_events_written_total",
			Help: "Total number of SSE events written to clients",
		},
		[]string{"event"},
	)

	SSEConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "herald_sse_connections",
			Help: "Number of open SSE connections",
		},
	)

	// System Metrics
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_info",
			Help: "Application version and build information",
		},
		[]string{"version", "go_version"},
	)
)

// RecordProcessed records the outcome and duration of one processed entry.
func RecordProcessed(domain, outcome string, duration time.Duration) {
	ProcessorEntries.WithLabelValues(domain, outcome).Inc()
	if outcome != OutcomeMalformed {
		ProcessorDuration.WithLabelValues(domain).Observe(duration.Seconds())
	}
}

// RecordPublish records a fan-out publish attempt.
func RecordPublish(err error) {
	if err != nil {
		FanoutPublished.WithLabelValues("failure").Inc()
		return
	}
	FanoutPublished.WithLabelValues("success").Inc()
}

// RecordAPIRequest records an API request metric
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest tracks active API requests
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}

// RecordBreakerTransition records a circuit breaker state change. State values
// follow gobreaker: 0=closed, 1=half-open, 2=open.
func RecordBreakerTransition(name, from, to string, state int) {
	CircuitBreakerState.WithLabelValues(name).Set(float64(state))
	CircuitBreakerTransitions.WithLabelValues(name, from, to).Inc()
}
