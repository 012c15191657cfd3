// Herald - Real-time job progress event distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/herald

/*
Package fanout carries processed envelopes from the replica that processed
them to every replica holding SSE subscribers for the job.

Fan-out is best effort. A subscriber that misses a message converges on the
next envelope or on the snapshot it reads when it (re)connects, so none of
the transports here persist or redeliver.

Transports:

  - RedisChannel: Redis Pub/Sub, channel "<prefix>jobs:<job id>"
  - WatermillChannel over NATS core subjects (watermill-nats, JetStream disabled)
  - WatermillChannel over Watermill's GoChannel for single-process runs and tests

BreakerChannel wraps any of them with a gobreaker circuit breaker so a dead
transport does not stall the processor on every entry.

EmbeddedNATS starts an in-process NATS server for single-node deployments.
*/
package fanout
