// Herald - Real-time job progress event distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/herald

/*
Package api exposes job event streams over HTTP.

Clients open GET /{service}/{jobID}/events with an EventSource. Each frame is
named after the event kind (stage, token, token_recovery, needs_input, error,
done, keepalive) and carries the JSON envelope as data. Token frames carry
their sequence number as the frame id, so a reconnecting browser resumes via
Last-Event-ID; clients that manage the cursor themselves pass
?last_token_seq=N instead.

Health endpoints follow the Kubernetes probe split: /health/live always
answers 200, /health/ready answers 503 while any registered component fails,
and /health returns per-component detail.

Routing uses chi. The events route is rate limited per client IP with
httprate, and CORS for cross-origin EventSource clients is handled by
go-chi/cors when origins are configured.
*/
package api
