// Herald - Real-time job progress event distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/herald

/*
Package broadcast multiplexes per-job fan-out subscriptions to SSE connections.

Manager keeps one job subscription per job with at least one connected
Subscriber. The first Subscribe for a job opens the fan-out subscription and
starts a dispatch goroutine; the last Unsubscribe closes it.

Each Subscriber owns a bounded Queue. Queue.Put enforces:

  - per (stage, status) timestamps must strictly increase, except for
    terminal envelopes (done, error)
  - on overflow the oldest non-terminal envelope is evicted
  - terminal envelopes are never evicted; a queue full of them rejects

New subscribers receive the latest job snapshot and the buffered tokens
after their cursor before live events; live events that arrive meanwhile
are held until catch-up is queued. A terminal snapshot is queued after the
tokens. Catch-up envelopes go through the same Put path, so a live copy of a
replayed event is dropped as a duplicate.

Subscriber lifecycle:

	Connecting -> Streaming -> Disconnected | Closed

Manager implements suture.Service: Serve reaps idle subscribers and shuts
the manager down when its context ends.
*/
package broadcast
