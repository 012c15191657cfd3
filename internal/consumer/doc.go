// Herald - Real-time job progress event distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/herald

/*
Package consumer drives log entries from the sharded stream into the processor.

A Consumer owns the read loop of one (domain, shard) pair. It reads batches
of new entries under the consumer group, hands each to the processor in
order and acknowledges the ones the processor durably projected. Entries
whose processing failed stay in the group's pending list.

A Reclaimer runs per domain. On every interval it auto-claims entries that
have been pending longer than MinIdle on each shard, which transfers the
claim from a dead consumer to this one, and reprocesses them. Entries that
were deleted from the stream while pending are acknowledged away.

Both loops implement suture.Service and expose a heartbeat used by the
readiness probe. Pool builds the full set for a stream.Layout.
*/
package consumer
