// Herald - Real-time job progress event distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/herald

/*
Package metrics provides Prometheus metrics collection and export for observability.

Collectors are package-level promauto values registered on the default
registry and exposed at /metrics:

	curl http://localhost:8080/metrics

# Available Metrics

Stream:
  - herald_stream_entries_read_total{domain}
  - herald_stream_entries_acked_total{domain}
  - herald_stream_read_errors_total{domain}
  - herald_stream_entries_appended_total{domain}
  - herald_stream_pending_entries{stream}

Processor:
  - herald_processor_entries_total{domain, outcome}
    Outcomes: applied, stale, duplicate, malformed, failed
  - herald_processor_duration_seconds{domain}

Reclaimer:
  - herald_reclaimed_entries_total{domain}
  - herald_reclaim_errors_total{domain}
  - herald_reclaim_pass_duration_seconds

Fan-out:
  - herald_fanout_published_total{result}
  - herald_fanout_received_total
  - herald_fanout_decode_errors_total
  - circuit_breaker_state{name}: 0=closed, 1=half-open, 2=open
  - circuit_breaker_requests_total{name, result}
  - circuit_breaker_state_transitions_total{name, from_state, to_state}

Broadcast:
  - herald_broadcast_subscribers
  - herald_broadcast_job_subscriptions
  - herald_queue_puts_total{result}: accepted, duplicate, full
  - herald_queue_evictions_total
  - herald_subscribers_reaped_total
  - herald_catchup_tokens_total

HTTP:
  - api_requests_total{method, endpoint, status}
  - api_request_duration_seconds{method, endpoint}
  - api_active_requests
  - herald_sse_events_written_total{event}

# Usage

	start := time.Now()
	outcome, err := store.Project(ctx, entry)
	metrics.RecordProcessed(entry.Domain, outcome.String(), time.Since(start))

# Thread Safety

All collectors are safe for concurrent use.
*/
package metrics
